package txcore

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// PartialValidity is the six-valued answer of a possibly incomplete
// validity query.
type PartialValidity int

const (
	// PartialMustBeTrue means the query is provably valid.
	PartialMustBeTrue = PartialValidity(1)

	// PartialMustBeFalse means the negated query is provably valid.
	PartialMustBeFalse = PartialValidity(-1)

	// PartialMayBeTrue means a true assignment is known to exist.
	PartialMayBeTrue = PartialValidity(2)

	// PartialMayBeFalse means a false assignment is known to exist.
	PartialMayBeFalse = PartialValidity(-2)

	// PartialTrueOrFalse means both kinds of assignment are known to exist.
	PartialTrueOrFalse = PartialValidity(0)

	// PartialNone means the validity of the query is unknown.
	PartialNone = PartialValidity(3)
)

// String returns the string representation of the partial validity.
func (pv PartialValidity) String() string {
	switch pv {
	case PartialMustBeTrue:
		return "MustBeTrue"
	case PartialMustBeFalse:
		return "MustBeFalse"
	case PartialMayBeTrue:
		return "MayBeTrue"
	case PartialMayBeFalse:
		return "MayBeFalse"
	case PartialTrueOrFalse:
		return "TrueOrFalse"
	case PartialNone:
		return "None"
	default:
		return fmt.Sprintf("PartialValidity<%d>", int(pv))
	}
}

// NegatePartialValidity returns the partial validity of the negated
// query: the Must and May answers swap signs, TrueOrFalse and None are
// fixed points.
func NegatePartialValidity(pv PartialValidity) PartialValidity {
	if pv == PartialNone {
		return PartialNone
	}
	return -pv
}

// Validity is the three-valued answer of a complete validity query.
type Validity int

const (
	Valid           = Validity(1)
	Invalid         = Validity(-1)
	ValidityUnknown = Validity(0)
)

// String returns the string representation of the validity.
func (v Validity) String() string {
	switch v {
	case Valid:
		return "Valid"
	case Invalid:
		return "Invalid"
	case ValidityUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("Validity<%d>", int(v))
	}
}

// SolverRunStatus describes the outcome of the last secondary-solver run.
type SolverRunStatus int

const (
	SolverRunStatusSuccess = SolverRunStatus(iota)
	SolverRunStatusTimeout
	SolverRunStatusFailure
	SolverRunStatusUnknown
)

// Query pairs a constraint set with a boolean expression to decide.
type Query struct {
	Constraints []Expr
	Expr        Expr
}

// NewQuery returns a query over the given constraints.
func NewQuery(constraints []Expr, expr Expr) Query {
	return Query{Constraints: constraints, Expr: expr}
}

// Negated returns the query with its expression negated.
func (q Query) Negated(c *Context) Query {
	return Query{Constraints: q.Constraints, Expr: c.Not(q.Expr)}
}

// String returns the string representation of the query.
func (q Query) String() string {
	return fmt.Sprintf("(query %d %s)", len(q.Constraints), q.Expr)
}

// IncompleteSolver is a decision procedure that may quickly compute an
// answer but cannot always compute the correct answer. Every decisive
// answer must logically entail the matching answer of a complete
// solver; staged with one through StagedSolver it forms an optimized
// complete solver.
type IncompleteSolver interface {
	// ComputeTruth determines whether the query expression is provably
	// true given the constraints. The expression must be boolean and
	// non-constant. Returns PartialMustBeTrue on proof of validity,
	// PartialMayBeFalse on proof of a counterexample, PartialNone
	// otherwise.
	ComputeTruth(q Query) (PartialValidity, error)

	// ComputeValidity computes the full partial-validity lattice value
	// for the query.
	ComputeValidity(q Query) (PartialValidity, error)

	// ComputeValue attempts to compute an expression for q consistent
	// with the constraints. ok is false when no answer was found.
	ComputeValue(q Query) (result Expr, ok bool, err error)

	// ComputeInitialValues attempts to compute constant initial values
	// for the given arrays. ok is false when the solver could not
	// decide; values must then be nil so the caller's output is left
	// untouched.
	ComputeInitialValues(q Query, arrays []*Array) (values [][]byte, hasSolution, ok bool, err error)
}

// Solver is a complete decision procedure.
type Solver interface {
	// ComputeTruth reports whether constraints entail the expression.
	ComputeTruth(q Query) (bool, error)

	// ComputeValidity decides the query's validity.
	ComputeValidity(q Query) (Validity, error)

	// ComputeValue returns a constant expression for q consistent with
	// the constraints.
	ComputeValue(q Query) (Expr, error)

	// ComputeInitialValues computes constant initial values for the
	// given arrays, or hasSolution false when constraints are
	// unsatisfiable.
	ComputeInitialValues(q Query, arrays []*Array) (values [][]byte, hasSolution bool, err error)

	// ConstraintLog renders the query in the solver's input language.
	ConstraintLog(q Query) (string, error)

	// SetCoreSolverTimeout bounds each solver call, in seconds.
	SetCoreSolverTimeout(seconds float64)

	// OperationStatusCode reports the outcome of the last run.
	OperationStatusCode() SolverRunStatus
}

// DerivePartialValidity computes the full lattice value for q from an
// incomplete solver's ComputeTruth on the query and its negation.
func DerivePartialValidity(c *Context, s IncompleteSolver, q Query) (PartialValidity, error) {
	t, err := s.ComputeTruth(q)
	if err != nil {
		return PartialNone, err
	}
	if t == PartialMustBeTrue {
		return PartialMustBeTrue, nil
	}

	f, err := s.ComputeTruth(q.Negated(c))
	if err != nil {
		return PartialNone, err
	}
	if f == PartialMustBeTrue {
		return PartialMustBeFalse, nil
	}

	// MayBeFalse on the negation is a known true assignment.
	switch {
	case t == PartialMayBeFalse && f == PartialMayBeFalse:
		return PartialTrueOrFalse, nil
	case t == PartialMayBeFalse:
		return PartialMayBeFalse, nil
	case f == PartialMayBeFalse:
		return PartialMayBeTrue, nil
	}
	return PartialNone, nil
}

// Ensure staged solver implements the complete interface.
var _ Solver = (*StagedSolver)(nil)

// StagedSolver composes an incomplete primary solver with a complete
// secondary one. Decisive primary answers short-circuit; everything
// else falls through, so the composition decides exactly what the
// secondary alone would.
type StagedSolver struct {
	ctx       *Context
	primary   IncompleteSolver
	secondary Solver

	// Logger receives debug records of short-circuits and
	// fall-throughs. Nil disables logging.
	Logger *logrus.Logger

	stats StagedStats
}

// StagedStats counts primary short-circuits and secondary fall-throughs.
type StagedStats struct {
	PrimaryN   int
	SecondaryN int
}

// NewStagedSolver returns a staged composition of primary and secondary.
func NewStagedSolver(ctx *Context, primary IncompleteSolver, secondary Solver) *StagedSolver {
	return &StagedSolver{ctx: ctx, primary: primary, secondary: secondary}
}

// Stats returns the staging counters.
func (s *StagedSolver) Stats() StagedStats { return s.stats }

func (s *StagedSolver) debug(q Query, op string, result interface{}, primary bool) {
	if s.Logger == nil {
		return
	}
	s.Logger.WithFields(logrus.Fields{
		"op":      op,
		"query":   q.String(),
		"result":  fmt.Sprint(result),
		"primary": primary,
	}).Debug("staged solver answer")
}

// ComputeTruth asks the primary first; a proof of validity or of a
// counterexample decides immediately, anything else falls through.
func (s *StagedSolver) ComputeTruth(q Query) (bool, error) {
	switch pv, err := s.primary.ComputeTruth(q); {
	case err != nil:
		return false, errors.Wrap(err, "primary solver")
	case pv == PartialMustBeTrue:
		s.stats.PrimaryN++
		s.debug(q, "computeTruth", true, true)
		return true, nil
	case pv == PartialMayBeFalse:
		s.stats.PrimaryN++
		s.debug(q, "computeTruth", false, true)
		return false, nil
	}

	s.stats.SecondaryN++
	isValid, err := s.secondary.ComputeTruth(q)
	if err != nil {
		return false, errors.Wrap(err, "secondary solver")
	}
	s.debug(q, "computeTruth", isValid, false)
	return isValid, nil
}

// ComputeValidity maps the primary's Must answers to the full validity;
// the May answers carry no proof of validity either way, so they fall
// through with everything else.
func (s *StagedSolver) ComputeValidity(q Query) (Validity, error) {
	switch pv, err := s.primary.ComputeValidity(q); {
	case err != nil:
		return ValidityUnknown, errors.Wrap(err, "primary solver")
	case pv == PartialMustBeTrue:
		s.stats.PrimaryN++
		s.debug(q, "computeValidity", Valid, true)
		return Valid, nil
	case pv == PartialMustBeFalse:
		s.stats.PrimaryN++
		s.debug(q, "computeValidity", Invalid, true)
		return Invalid, nil
	}

	s.stats.SecondaryN++
	v, err := s.secondary.ComputeValidity(q)
	if err != nil {
		return ValidityUnknown, errors.Wrap(err, "secondary solver")
	}
	s.debug(q, "computeValidity", v, false)
	return v, nil
}

// ComputeValue asks the primary first and falls back to the secondary.
func (s *StagedSolver) ComputeValue(q Query) (Expr, error) {
	result, ok, err := s.primary.ComputeValue(q)
	if err != nil {
		return nil, errors.Wrap(err, "primary solver")
	} else if ok {
		s.stats.PrimaryN++
		s.debug(q, "computeValue", result, true)
		return result, nil
	}

	s.stats.SecondaryN++
	result, err = s.secondary.ComputeValue(q)
	if err != nil {
		return nil, errors.Wrap(err, "secondary solver")
	}
	s.debug(q, "computeValue", result, false)
	return result, nil
}

// ComputeInitialValues asks the primary first and falls back to the
// secondary. A primary that cannot decide contributes nothing: its
// partial output is never returned.
func (s *StagedSolver) ComputeInitialValues(q Query, arrays []*Array) ([][]byte, bool, error) {
	values, hasSolution, ok, err := s.primary.ComputeInitialValues(q, arrays)
	if err != nil {
		return nil, false, errors.Wrap(err, "primary solver")
	} else if ok {
		s.stats.PrimaryN++
		s.debug(q, "computeInitialValues", hasSolution, true)
		return values, hasSolution, nil
	}

	s.stats.SecondaryN++
	values, hasSolution, err = s.secondary.ComputeInitialValues(q, arrays)
	if err != nil {
		return nil, false, errors.Wrap(err, "secondary solver")
	}
	s.debug(q, "computeInitialValues", hasSolution, false)
	return values, hasSolution, nil
}

// ConstraintLog delegates to the secondary, the only authoritative source.
func (s *StagedSolver) ConstraintLog(q Query) (string, error) {
	return s.secondary.ConstraintLog(q)
}

// SetCoreSolverTimeout delegates to the secondary.
func (s *StagedSolver) SetCoreSolverTimeout(seconds float64) {
	s.secondary.SetCoreSolverTimeout(seconds)
}

// OperationStatusCode delegates to the secondary.
func (s *StagedSolver) OperationStatusCode() SolverRunStatus {
	return s.secondary.OperationStatusCode()
}
