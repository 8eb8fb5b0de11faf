package txcore_test

import (
	"strings"
	"testing"

	"github.com/tracerx/txcore"
)

func TestUpdateRelation_MakeExpr(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("a", 8)
	loc := ctx.Select(a, ctx.Constant64(0))
	other := ctx.Select(a, ctx.Constant64(1))

	u := txcore.NewUpdateRelation(loc, ctx.Constant(3, 8), txcore.ADD)
	lhs := ctx.Constant(5, 8)

	if e := u.MakeExpr(ctx, loc, lhs); e != ctx.Constant(8, 8) {
		t.Fatalf("unexpected expr: %s", e)
	}
	if e := u.MakeExpr(ctx, other, lhs); e != lhs {
		t.Fatalf("unexpected expr: %s", e)
	}
}

func TestUpdateRelation_IsBase(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("a", 8)
	loc := ctx.Select(a, ctx.Constant64(0))
	base := ctx.Binary(txcore.ADD, loc, ctx.Constant(1, 8))

	u := txcore.NewUpdateRelation(loc, ctx.Constant(1, 8), txcore.ADD)
	if u.IsBase(base) {
		t.Fatal("unexpected base before SetBase")
	}
	u.SetBase(base)
	if !u.IsBase(base) {
		t.Fatal("expected base")
	}
	if u.IsBase(loc) {
		t.Fatal("unexpected base")
	}
}

func TestBuildUpdateExpression(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("a", 8)
	loc := ctx.Select(a, ctx.Constant64(0))
	v := ctx.Select(a, ctx.Constant64(1))

	r1 := txcore.NewUpdateRelation(loc, v, txcore.ADD)
	r2 := txcore.NewUpdateRelation(loc, v, txcore.MUL)
	relations := []*txcore.UpdateRelation{r1, r2}

	rhs := ctx.Select(a, ctx.Constant64(2))
	lhs := ctx.Binary(txcore.ADD, loc, ctx.Constant(1, 8))

	t.Run("NewestOutermost", func(t *testing.T) {
		got := txcore.BuildUpdateExpression(ctx, relations, lhs, rhs)
		want := ctx.Binary(txcore.MUL, ctx.Binary(txcore.ADD, rhs, v), v)
		if got != want {
			t.Fatalf("unexpected expr: %s", got)
		}
	})

	t.Run("NoMatchLeavesRHS", func(t *testing.T) {
		elsewhere := ctx.Select(a, ctx.Constant64(7))
		if got := txcore.BuildUpdateExpression(ctx, relations, elsewhere, rhs); got != rhs {
			t.Fatalf("unexpected expr: %s", got)
		}
	})

	t.Run("DoubleApplicationLaw", func(t *testing.T) {
		// Composing twice equals composing over the doubled sequence.
		once := txcore.BuildUpdateExpression(ctx, relations, lhs, rhs)
		twice := txcore.BuildUpdateExpression(ctx, relations, lhs, once)
		doubled := txcore.BuildUpdateExpression(ctx, append(append([]*txcore.UpdateRelation{}, relations...), relations...), lhs, rhs)
		if twice != doubled {
			t.Fatalf("law violated: %s != %s", twice, doubled)
		}
	})
}

func TestBranchCondition(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("a", 1)
	x := ctx.Select(a, ctx.Constant64(0))

	b := &txcore.BranchCondition{LHS: x, RHS: ctx.Constant(0, 8), Compare: txcore.UGT}
	if e := b.Expr(ctx); e != ctx.Binary(txcore.UGT, x, ctx.Constant(0, 8)) {
		t.Fatalf("unexpected expr: %s", e)
	}
	if s := b.String(); !strings.Contains(s, "ugt") {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestUpdateRelation_Dump(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("a", 8)
	u := txcore.NewUpdateRelation(ctx.Select(a, ctx.Constant64(0)), ctx.Constant(3, 8), txcore.ADD)
	u.SetValueLoc(ctx.Select(a, ctx.Constant64(1)))

	dump := u.Dump("")
	for _, want := range []string{"update add", "base loc =", "value loc ="} {
		if !strings.Contains(dump, want) {
			t.Fatalf("dump missing %q:\n%s", want, dump)
		}
	}
}
