// Package sat implements an incomplete validity oracle over the boolean
// skeleton of a query. Each maximal non-propositional subterm becomes an
// opaque SAT atom; propositional entailment of the skeleton entails
// entailment in the bit-vector theory, so every decisive answer here is
// sound with respect to a complete solver.
package sat

import (
	"github.com/go-air/gini"
	"github.com/go-air/gini/logic"
	"github.com/go-air/gini/z"
	"github.com/pkg/errors"

	"github.com/tracerx/txcore"
)

const (
	satisfiable   = 1
	unsatisfiable = -1
)

// Ensure solver implements the incomplete contract.
var _ txcore.IncompleteSolver = (*Solver)(nil)

// Solver is the propositional incomplete solver.
type Solver struct {
	ctx *txcore.Context

	stats Stats
}

// Stats counts skeleton decisions.
type Stats struct {
	SolveN int
	ValidN int
}

// New returns a skeleton solver building in ctx.
func New(ctx *txcore.Context) *Solver {
	return &Solver{ctx: ctx}
}

// Stats returns the decision counters.
func (s *Solver) Stats() Stats { return s.stats }

// ComputeTruth reports PartialMustBeTrue when the boolean skeleton of
// the constraints propositionally entails the skeleton of the query.
// A satisfiable skeleton proves nothing about the theory, so every
// other outcome is PartialNone.
func (s *Solver) ComputeTruth(q txcore.Query) (txcore.PartialValidity, error) {
	if q.Expr == nil || !txcore.IsBoolExpr(q.Expr) {
		return txcore.PartialNone, errors.New("sat: query expression must be boolean")
	}
	s.stats.SolveN++

	sk := newSkeleton()
	g := gini.New()

	assumptions := make([]z.Lit, 0, len(q.Constraints)+1)
	for _, constraint := range q.Constraints {
		assumptions = append(assumptions, sk.lit(constraint))
	}
	assumptions = append(assumptions, sk.lit(q.Expr).Not())

	sk.c.ToCnf(g)
	g.Assume(assumptions...)
	if g.Solve() == unsatisfiable {
		s.stats.ValidN++
		return txcore.PartialMustBeTrue, nil
	}
	return txcore.PartialNone, nil
}

// ComputeValidity derives the lattice value from ComputeTruth on the
// query and its negation.
func (s *Solver) ComputeValidity(q txcore.Query) (txcore.PartialValidity, error) {
	return txcore.DerivePartialValidity(s.ctx, s, q)
}

// ComputeValue answers only queries the algebra already decided.
func (s *Solver) ComputeValue(q txcore.Query) (txcore.Expr, bool, error) {
	if result, ok := q.Expr.(*txcore.ConstantExpr); ok {
		return result, true, nil
	}
	return nil, false, nil
}

// ComputeInitialValues never decides: a propositional model assigns
// atoms, not array bytes, so the output is left untouched for the
// secondary solver.
func (s *Solver) ComputeInitialValues(q txcore.Query, arrays []*txcore.Array) ([][]byte, bool, bool, error) {
	return nil, false, false, nil
}

// skeleton maps the propositional structure of expressions onto a
// gini circuit, one atom per distinct opaque subterm.
type skeleton struct {
	c     *logic.C
	atoms map[txcore.Expr]z.Lit
}

func newSkeleton() *skeleton {
	return &skeleton{
		c:     logic.NewC(),
		atoms: make(map[txcore.Expr]z.Lit),
	}
}

// lit translates a boolean expression to a circuit literal. Expressions
// are hash-consed by their context, so pointer identity dedupes atoms.
func (sk *skeleton) lit(e txcore.Expr) z.Lit {
	switch expr := e.(type) {
	case *txcore.ConstantExpr:
		if expr.IsTrue() {
			return sk.c.T
		} else if expr.IsFalse() {
			return sk.c.F
		}
	case *txcore.NotExpr:
		if txcore.IsBoolExpr(expr.Expr) {
			return sk.lit(expr.Expr).Not()
		}
	case *txcore.BinaryExpr:
		if !txcore.IsBoolExpr(expr.LHS) {
			break
		}
		switch expr.Op {
		case txcore.AND:
			return sk.c.Ands(sk.lit(expr.LHS), sk.lit(expr.RHS))
		case txcore.OR:
			return sk.c.Or(sk.lit(expr.LHS), sk.lit(expr.RHS))
		case txcore.XOR:
			return sk.c.Xor(sk.lit(expr.LHS), sk.lit(expr.RHS))
		case txcore.EQ:
			return sk.c.Xor(sk.lit(expr.LHS), sk.lit(expr.RHS)).Not()
		}
	}
	return sk.atom(e)
}

// atom returns the literal standing for an opaque subterm.
func (sk *skeleton) atom(e txcore.Expr) z.Lit {
	if m, ok := sk.atoms[e]; ok {
		return m
	}
	m := sk.c.Lit()
	sk.atoms[e] = m
	return m
}
