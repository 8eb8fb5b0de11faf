package txcore

import (
	"bytes"
	"fmt"
)

// UpdateRelation records the effect of one arithmetic or logical update
// on a memory cell: reading baseLoc and combining the read value with
// value under op. Relations are composed to materialise an interpolant
// expression for the cell.
type UpdateRelation struct {
	base     Expr
	baseLoc  Expr // load location
	value    Expr
	valueLoc Expr
	op       BinaryOp
}

// NewUpdateRelation returns an update relation for op over the value
// loaded at baseLoc.
func NewUpdateRelation(baseLoc, value Expr, op BinaryOp) *UpdateRelation {
	assert(op.IsArithmetic(), "update relation requires an arithmetic op: %s", op)
	return &UpdateRelation{baseLoc: baseLoc, value: value, op: op}
}

// SetBase records the expression the relation updates.
func (u *UpdateRelation) SetBase(base Expr) { u.base = base }

// SetValueLoc records the location the updated value was stored to.
func (u *UpdateRelation) SetValueLoc(valueLoc Expr) { u.valueLoc = valueLoc }

// BaseLoc returns the load location of the relation.
func (u *UpdateRelation) BaseLoc() Expr { return u.baseLoc }

// ValueLoc returns the store location of the relation.
func (u *UpdateRelation) ValueLoc() Expr { return u.valueLoc }

// Op returns the relation's operator.
func (u *UpdateRelation) Op() BinaryOp { return u.op }

// IsBase returns true if expr is the expression the relation updates.
func (u *UpdateRelation) IsBase(expr Expr) bool {
	return u.base != nil && CompareExpr(u.base, expr) == 0
}

// MakeExpr applies the relation to lhs when locToCompare matches the
// relation's load location; otherwise lhs is returned unchanged.
func (u *UpdateRelation) MakeExpr(c *Context, locToCompare, lhs Expr) Expr {
	if CompareExpr(u.baseLoc, locToCompare) != 0 {
		return lhs
	}
	return c.Binary(u.op, lhs, u.value)
}

// Dump returns a human-readable rendering of the relation under prefix.
func (u *UpdateRelation) Dump(prefix string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%supdate %s:\n", prefix, u.op)
	next := appendTab(prefix)
	fmt.Fprintf(&buf, "%sbase loc = %s\n", next, u.baseLoc)
	fmt.Fprintf(&buf, "%svalue = %s", next, u.value)
	if u.valueLoc != nil {
		fmt.Fprintf(&buf, "\n%svalue loc = %s", next, u.valueLoc)
	}
	return buf.String()
}

// BuildUpdateExpression composes the committed relations into a single
// expression: rhs is rewritten under every relation whose load location
// occurs as a subterm of lhs. The newest relation is applied outermost,
// and each relation applies at most once per distinct subterm match.
func BuildUpdateExpression(c *Context, relations []*UpdateRelation, lhs, rhs Expr) Expr {
	out := rhs
	for i := 0; i < len(relations); i++ {
		u := relations[i]
		if !ContainsSubterm(lhs, u.baseLoc) {
			continue
		}
		out = c.Binary(u.op, out, u.value)
	}
	return out
}

// BranchCondition summarises the branch that produced a node.
type BranchCondition struct {
	LHS     Expr
	RHS     Expr
	Compare BinaryOp
}

// Expr materialises the branch condition as a boolean expression.
func (b *BranchCondition) Expr(c *Context) Expr {
	assert(b.Compare.IsCompare(), "branch condition requires a comparison: %s", b.Compare)
	return c.Binary(b.Compare, b.LHS, b.RHS)
}

// String returns the string representation of the branch condition.
func (b *BranchCondition) String() string {
	return fmt.Sprintf("(branch %s %s %s)", b.Compare, b.LHS, b.RHS)
}
