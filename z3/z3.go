// Package z3 implements the complete secondary solver on an embedded Z3
// context. It is the only authoritative oracle: the staged solver
// delegates constraint logs, timeouts, and run status here.
package z3

import (
	"fmt"
	"strings"
	"time"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/tracerx/txcore"
)

/*
#cgo LDFLAGS: -lz3
#include <z3.h>
#include <stdlib.h>
*/
import "C"

// Ensure solver implements the complete interface.
var _ txcore.Solver = (*Solver)(nil)

// Solver decides queries with an embedded Z3 solver.
type Solver struct {
	ec  *txcore.Context
	ctx *Context

	timeoutMS uint
	status    txcore.SolverRunStatus
	stats     Stats
}

// Stats holds run counters for the solver.
type Stats struct {
	CheckN    int
	CheckTime time.Duration
}

// NewSolver returns a solver deciding expressions built in ec.
func NewSolver(ec *txcore.Context) *Solver {
	return &Solver{ec: ec, ctx: NewContext()}
}

// Close deletes the underlying Z3 context.
func (s *Solver) Close() error {
	return s.ctx.Close()
}

// Stats returns statistics for the solver.
func (s *Solver) Stats() Stats { return s.stats }

// SetCoreSolverTimeout bounds each check, in seconds. Zero removes the bound.
func (s *Solver) SetCoreSolverTimeout(seconds float64) {
	s.timeoutMS = uint(seconds * 1000)
}

// OperationStatusCode reports the outcome of the last run.
func (s *Solver) OperationStatusCode() txcore.SolverRunStatus { return s.status }

// ComputeTruth reports whether the constraints entail the query
// expression, by checking that constraints plus the negated expression
// are unsatisfiable.
func (s *Solver) ComputeTruth(q txcore.Query) (bool, error) {
	sat, _, err := s.check(q.Constraints, s.ec.Not(q.Expr), nil)
	if err != nil {
		return false, err
	}
	return !sat, nil
}

// ComputeValidity decides the query's validity: Valid when the
// expression is entailed, Invalid when its negation is, Unknown when
// models exist on both sides.
func (s *Solver) ComputeValidity(q txcore.Query) (txcore.Validity, error) {
	if isValid, err := s.ComputeTruth(q); err != nil {
		return txcore.ValidityUnknown, err
	} else if isValid {
		return txcore.Valid, nil
	}

	if isContradiction, err := s.ComputeTruth(q.Negated(s.ec)); err != nil {
		return txcore.ValidityUnknown, err
	} else if isContradiction {
		return txcore.Invalid, nil
	}
	return txcore.ValidityUnknown, nil
}

// ComputeValue returns a constant for the query expression under some
// model of the constraints.
func (s *Solver) ComputeValue(q txcore.Query) (txcore.Expr, error) {
	var result txcore.Expr
	sat, _, err := s.check(q.Constraints, nil, func(model C.Z3_model) error {
		value, err := s.ctx.evalExpr(model, q.Expr)
		if err != nil {
			return err
		}
		result = s.ec.Constant(value, txcore.ExprWidth(q.Expr))
		return nil
	})
	if err != nil {
		return nil, err
	} else if !sat {
		return nil, errors.New("z3: constraints unsatisfiable")
	}
	return result, nil
}

// ComputeInitialValues computes initial bytes for the given arrays
// under a model of the constraints with the query expression negated.
// hasSolution is false when no model exists; values is then nil.
func (s *Solver) ComputeInitialValues(q txcore.Query, arrays []*txcore.Array) ([][]byte, bool, error) {
	var negated txcore.Expr
	if q.Expr != nil {
		negated = s.ec.Not(q.Expr)
	}

	var values [][]byte
	sat, _, err := s.check(q.Constraints, negated, func(model C.Z3_model) error {
		for _, array := range arrays {
			value, err := s.ctx.evalArray(model, array)
			if err != nil {
				return err
			}
			values = append(values, value)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	} else if !sat {
		return nil, false, nil
	}
	return values, true, nil
}

// ConstraintLog renders the query as SMT-LIB.
func (s *Solver) ConstraintLog(q txcore.Query) (string, error) {
	solver, err := s.newZ3Solver()
	if err != nil {
		return "", err
	}
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	exprs := q.Constraints
	if q.Expr != nil {
		exprs = append(append([]txcore.Expr{}, exprs...), s.ec.Not(q.Expr))
	}
	for _, expr := range exprs {
		if err := s.assert(solver, expr); err != nil {
			return "", err
		}
	}
	log := C.GoString(C.Z3_solver_to_string(s.ctx.raw, solver))
	return log, s.ctx.err("Z3_solver_to_string")
}

// newZ3Solver returns a referenced solver with the timeout applied.
func (s *Solver) newZ3Solver() (C.Z3_solver, error) {
	solver := C.Z3_mk_solver(s.ctx.raw)
	if err := s.ctx.err("Z3_mk_solver"); err != nil {
		return nil, err
	}
	C.Z3_solver_inc_ref(s.ctx.raw, solver)

	if s.timeoutMS > 0 {
		params := C.Z3_mk_params(s.ctx.raw)
		C.Z3_params_inc_ref(s.ctx.raw, params)
		cname := C.CString("timeout")
		sym := C.Z3_mk_string_symbol(s.ctx.raw, cname)
		C.free(unsafe.Pointer(cname))
		C.Z3_params_set_uint(s.ctx.raw, params, sym, C.uint(s.timeoutMS))
		C.Z3_solver_set_params(s.ctx.raw, solver, params)
		C.Z3_params_dec_ref(s.ctx.raw, params)
		if err := s.ctx.err("Z3_solver_set_params"); err != nil {
			C.Z3_solver_dec_ref(s.ctx.raw, solver)
			return nil, err
		}
	}
	return solver, nil
}

func (s *Solver) assert(solver C.Z3_solver, expr txcore.Expr) error {
	ast, err := s.ctx.lower(expr)
	if err != nil {
		return err
	}
	C.Z3_solver_assert(s.ctx.raw, solver, ast)
	return s.ctx.err("Z3_solver_assert")
}

// check decides satisfiability of the constraints plus an optional
// extra assertion, invoking eval on the model when satisfiable.
func (s *Solver) check(constraints []txcore.Expr, extra txcore.Expr, eval func(C.Z3_model) error) (sat bool, status txcore.SolverRunStatus, err error) {
	t := time.Now()
	defer func() {
		s.stats.CheckN++
		s.stats.CheckTime += time.Since(t)
		s.status = status
	}()

	solver, err := s.newZ3Solver()
	if err != nil {
		return false, txcore.SolverRunStatusFailure, err
	}
	defer C.Z3_solver_dec_ref(s.ctx.raw, solver)

	for _, constraint := range constraints {
		if err := s.assert(solver, constraint); err != nil {
			return false, txcore.SolverRunStatusFailure, err
		}
	}
	if extra != nil {
		if err := s.assert(solver, extra); err != nil {
			return false, txcore.SolverRunStatusFailure, err
		}
	}

	switch ret := C.Z3_solver_check(s.ctx.raw, solver); ret {
	case C.Z3_L_FALSE:
		return false, txcore.SolverRunStatusSuccess, nil
	case C.Z3_L_UNDEF:
		reason := C.GoString(C.Z3_solver_get_reason_unknown(s.ctx.raw, solver))
		switch {
		case strings.Contains(reason, "timeout"), strings.Contains(reason, "canceled"):
			return false, txcore.SolverRunStatusTimeout, txcore.ErrSolverTimeout
		case strings.Contains(reason, "resource limits reached"):
			return false, txcore.SolverRunStatusFailure, txcore.ErrSolverResourceLimit
		default:
			return false, txcore.SolverRunStatusUnknown, errors.Wrap(txcore.ErrSolverUnknown, reason)
		}
	}

	if eval != nil {
		model := C.Z3_solver_get_model(s.ctx.raw, solver)
		if err := s.ctx.err("Z3_solver_get_model"); err != nil {
			return true, txcore.SolverRunStatusFailure, err
		}
		C.Z3_model_inc_ref(s.ctx.raw, model)
		defer C.Z3_model_dec_ref(s.ctx.raw, model)
		if err := eval(model); err != nil {
			return true, txcore.SolverRunStatusFailure, err
		}
	}
	return true, txcore.SolverRunStatusSuccess, nil
}

// Context wraps a Z3 context used for constructing Z3 terms.
type Context struct {
	raw C.Z3_context
}

// NewContext returns a new instance of Context.
func NewContext() *Context {
	config := C.Z3_mk_config()
	defer C.Z3_del_config(config)

	raw := C.Z3_mk_context(config)
	C.Z3_set_error_handler(raw, nil)
	C.Z3_set_ast_print_mode(raw, C.Z3_PRINT_SMTLIB2_COMPLIANT)
	return &Context{raw: raw}
}

// Close deletes the underlying Z3 context.
func (ctx *Context) Close() error {
	C.Z3_del_context(ctx.raw)
	return ctx.err("Z3_del_context")
}

// err returns the error for the last API call, or nil on success.
func (ctx *Context) err(op string) error {
	if code := C.Z3_get_error_code(ctx.raw); code != C.Z3_OK {
		return &Error{Code: int(code), Op: op, Message: C.GoString(C.Z3_get_error_msg(ctx.raw, code))}
	}
	return nil
}

// lower translates an expression to a Z3 term. Width-one expressions
// lower to the bool sort, everything else to bit vectors.
func (ctx *Context) lower(expr txcore.Expr) (C.Z3_ast, error) {
	switch expr := expr.(type) {
	case *txcore.ConstantExpr:
		return ctx.lowerConstant(expr)
	case *txcore.SelectExpr:
		return ctx.lowerSelect(expr)
	case *txcore.ConcatExpr:
		return ctx.lowerPair(expr.MSB, expr.LSB, func(a, b C.Z3_ast) C.Z3_ast {
			return C.Z3_mk_concat(ctx.raw, a, b)
		}, "Z3_mk_concat")
	case *txcore.ExtractExpr:
		return ctx.lowerExtract(expr)
	case *txcore.CastExpr:
		return ctx.lowerCast(expr)
	case *txcore.NotExpr:
		return ctx.lowerNot(expr)
	case *txcore.BinaryExpr:
		return ctx.lowerBinary(expr)
	default:
		return nil, fmt.Errorf("z3: invalid expression type: %T", expr)
	}
}

func (ctx *Context) lowerConstant(expr *txcore.ConstantExpr) (C.Z3_ast, error) {
	if expr.Width == txcore.WidthBool {
		if expr.IsTrue() {
			return C.Z3_mk_true(ctx.raw), ctx.err("Z3_mk_true")
		}
		return C.Z3_mk_false(ctx.raw), ctx.err("Z3_mk_false")
	} else if expr.Width <= txcore.Width64 {
		return ctx.makeUint64(expr.Width, expr.Value)
	}
	return nil, fmt.Errorf("z3: invalid constant width: %d", expr.Width)
}

func (ctx *Context) lowerSelect(expr *txcore.SelectExpr) (C.Z3_ast, error) {
	array, err := ctx.makeArrayConst(expr.Array)
	if err != nil {
		return nil, err
	}
	index, err := ctx.lower(expr.Index)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_select(ctx.raw, array, index), ctx.err("Z3_mk_select")
}

func (ctx *Context) lowerExtract(expr *txcore.ExtractExpr) (C.Z3_ast, error) {
	src, err := ctx.lower(expr.Expr)
	if err != nil {
		return nil, err
	}

	// A single extracted bit becomes a bool via comparison with one.
	if expr.Width == txcore.WidthBool {
		bit := C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset), C.uint(expr.Offset), src)
		if err := ctx.err("Z3_mk_extract"); err != nil {
			return nil, err
		}
		one, err := ctx.makeUint64(1, 1)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_eq(ctx.raw, bit, one), ctx.err("Z3_mk_eq")
	}

	return C.Z3_mk_extract(ctx.raw, C.uint(expr.Offset+expr.Width-1), C.uint(expr.Offset), src), ctx.err("Z3_mk_extract")
}

func (ctx *Context) lowerCast(expr *txcore.CastExpr) (C.Z3_ast, error) {
	src, err := ctx.lower(expr.Src)
	if err != nil {
		return nil, err
	}

	// A bool source widens through an if-then-else.
	if txcore.ExprWidth(expr.Src) == txcore.WidthBool {
		ones := uint64(0)
		if expr.Signed {
			ones = ^uint64(0)
		} else {
			ones = 1
		}
		whenTrue, err := ctx.makeUint64(expr.Width, ones)
		if err != nil {
			return nil, err
		}
		whenFalse, err := ctx.makeUint64(expr.Width, 0)
		if err != nil {
			return nil, err
		}
		return C.Z3_mk_ite(ctx.raw, src, whenTrue, whenFalse), ctx.err("Z3_mk_ite")
	}

	grow := C.uint(expr.Width - txcore.ExprWidth(expr.Src))
	if expr.Signed {
		return C.Z3_mk_sign_ext(ctx.raw, grow, src), ctx.err("Z3_mk_sign_ext")
	}
	return C.Z3_mk_zero_ext(ctx.raw, grow, src), ctx.err("Z3_mk_zero_ext")
}

func (ctx *Context) lowerNot(expr *txcore.NotExpr) (C.Z3_ast, error) {
	src, err := ctx.lower(expr.Expr)
	if err != nil {
		return nil, err
	}
	if txcore.IsBoolExpr(expr.Expr) {
		return C.Z3_mk_not(ctx.raw, src), ctx.err("Z3_mk_not")
	}
	return C.Z3_mk_bvnot(ctx.raw, src), ctx.err("Z3_mk_bvnot")
}

func (ctx *Context) lowerBinary(expr *txcore.BinaryExpr) (C.Z3_ast, error) {
	lhs, err := ctx.lower(expr.LHS)
	if err != nil {
		return nil, err
	}
	rhs, err := ctx.lower(expr.RHS)
	if err != nil {
		return nil, err
	}

	boolOperands := txcore.IsBoolExpr(expr.LHS)

	var ast C.Z3_ast
	op := "Z3_mk_bv" + expr.Op.String()
	switch expr.Op {
	case txcore.ADD:
		ast = C.Z3_mk_bvadd(ctx.raw, lhs, rhs)
	case txcore.SUB:
		ast = C.Z3_mk_bvsub(ctx.raw, lhs, rhs)
	case txcore.MUL:
		ast = C.Z3_mk_bvmul(ctx.raw, lhs, rhs)
	case txcore.UDIV:
		ast = C.Z3_mk_bvudiv(ctx.raw, lhs, rhs)
	case txcore.SDIV:
		ast = C.Z3_mk_bvsdiv(ctx.raw, lhs, rhs)
	case txcore.UREM:
		ast = C.Z3_mk_bvurem(ctx.raw, lhs, rhs)
	case txcore.SREM:
		ast = C.Z3_mk_bvsrem(ctx.raw, lhs, rhs)
	case txcore.AND:
		if boolOperands {
			args := [2]C.Z3_ast{lhs, rhs}
			ast, op = C.Z3_mk_and(ctx.raw, 2, &args[0]), "Z3_mk_and"
		} else {
			ast = C.Z3_mk_bvand(ctx.raw, lhs, rhs)
		}
	case txcore.OR:
		if boolOperands {
			args := [2]C.Z3_ast{lhs, rhs}
			ast, op = C.Z3_mk_or(ctx.raw, 2, &args[0]), "Z3_mk_or"
		} else {
			ast = C.Z3_mk_bvor(ctx.raw, lhs, rhs)
		}
	case txcore.XOR:
		if boolOperands {
			ast, op = C.Z3_mk_xor(ctx.raw, lhs, rhs), "Z3_mk_xor"
		} else {
			ast = C.Z3_mk_bvxor(ctx.raw, lhs, rhs)
		}
	case txcore.SHL:
		ast = C.Z3_mk_bvshl(ctx.raw, lhs, rhs)
	case txcore.LSHR:
		ast = C.Z3_mk_bvlshr(ctx.raw, lhs, rhs)
	case txcore.ASHR:
		ast = C.Z3_mk_bvashr(ctx.raw, lhs, rhs)
	case txcore.EQ:
		if boolOperands {
			ast, op = C.Z3_mk_iff(ctx.raw, lhs, rhs), "Z3_mk_iff"
		} else {
			ast, op = C.Z3_mk_eq(ctx.raw, lhs, rhs), "Z3_mk_eq"
		}
	case txcore.ULT:
		ast = C.Z3_mk_bvult(ctx.raw, lhs, rhs)
	case txcore.ULE:
		ast = C.Z3_mk_bvule(ctx.raw, lhs, rhs)
	case txcore.SLT:
		ast = C.Z3_mk_bvslt(ctx.raw, lhs, rhs)
	case txcore.SLE:
		ast = C.Z3_mk_bvsle(ctx.raw, lhs, rhs)
	default:
		return nil, fmt.Errorf("z3: unexpected operation: %s", expr.Op)
	}
	return ast, ctx.err(op)
}

func (ctx *Context) lowerPair(a, b txcore.Expr, mk func(a, b C.Z3_ast) C.Z3_ast, op string) (C.Z3_ast, error) {
	la, err := ctx.lower(a)
	if err != nil {
		return nil, err
	}
	lb, err := ctx.lower(b)
	if err != nil {
		return nil, err
	}
	return mk(la, lb), ctx.err(op)
}

func (ctx *Context) makeBVSort(width uint) (C.Z3_sort, error) {
	return C.Z3_mk_bv_sort(ctx.raw, C.uint(width)), ctx.err("Z3_mk_bv_sort")
}

func (ctx *Context) makeUint64(width uint, value uint64) (C.Z3_ast, error) {
	t, err := ctx.makeBVSort(width)
	if err != nil {
		return nil, err
	}
	return C.Z3_mk_unsigned_int64(ctx.raw, C.ulong(value), t), ctx.err("Z3_mk_unsigned_int64")
}

// makeArrayConst returns the uninterpreted constant for a symbolic array.
func (ctx *Context) makeArrayConst(array *txcore.Array) (C.Z3_ast, error) {
	domainSort, err := ctx.makeBVSort(txcore.Width64)
	if err != nil {
		return nil, err
	}
	rangeSort, err := ctx.makeBVSort(txcore.Width8)
	if err != nil {
		return nil, err
	}
	arraySort := C.Z3_mk_array_sort(ctx.raw, domainSort, rangeSort)
	if err := ctx.err("Z3_mk_array_sort"); err != nil {
		return nil, err
	}

	cname := C.CString(arrayName(array))
	defer C.free(unsafe.Pointer(cname))
	nameSymbol := C.Z3_mk_string_symbol(ctx.raw, cname)
	return C.Z3_mk_const(ctx.raw, nameSymbol, arraySort), ctx.err("Z3_mk_const")
}

// evalExpr evaluates an expression to a numeral under the model.
func (ctx *Context) evalExpr(model C.Z3_model, expr txcore.Expr) (uint64, error) {
	ast, err := ctx.lower(expr)
	if err != nil {
		return 0, err
	}

	var out C.Z3_ast
	C.Z3_model_eval(ctx.raw, model, ast, C.bool(true), &out)
	if err := ctx.err("Z3_model_eval"); err != nil {
		return 0, err
	}

	if txcore.IsBoolExpr(expr) {
		switch C.Z3_get_bool_value(ctx.raw, out) {
		case C.Z3_L_TRUE:
			return 1, nil
		case C.Z3_L_FALSE:
			return 0, nil
		default:
			return 0, errors.New("z3: model evaluation yielded no boolean")
		}
	}

	var value C.ulong
	C.Z3_get_numeral_uint64(ctx.raw, out, &value)
	if err := ctx.err("Z3_get_numeral_uint64"); err != nil {
		return 0, err
	}
	return uint64(value), nil
}

// evalArray evaluates a symbolic array into its initial bytes under the model.
func (ctx *Context) evalArray(model C.Z3_model, array *txcore.Array) ([]byte, error) {
	value := make([]byte, 0, array.Size)
	for offset := uint(0); offset < array.Size; offset++ {
		z3Array, err := ctx.makeArrayConst(array)
		if err != nil {
			return nil, err
		}
		z3Offset, err := ctx.makeUint64(txcore.Width64, uint64(offset))
		if err != nil {
			return nil, err
		}

		z3Select := C.Z3_mk_select(ctx.raw, z3Array, z3Offset)
		if err := ctx.err("Z3_mk_select"); err != nil {
			return nil, err
		}

		var out C.Z3_ast
		C.Z3_model_eval(ctx.raw, model, z3Select, C.bool(true), &out)
		if err := ctx.err("Z3_model_eval"); err != nil {
			return nil, err
		}

		var b C.int
		C.Z3_get_numeral_int(ctx.raw, out, &b)
		if err := ctx.err("Z3_get_numeral_int"); err != nil {
			return nil, err
		}
		value = append(value, byte(b))
	}
	return value, nil
}

func arrayName(array *txcore.Array) string {
	if array.Name != "" {
		return fmt.Sprintf("%s_%d", array.Name, array.ID)
	}
	return fmt.Sprintf("A%d", array.ID)
}

// Error represents an error from the Z3 API.
type Error struct {
	Code    int
	Op      string
	Message string
}

// Error returns the error as a string.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (%d)", e.Op, e.Message, e.Code)
}
