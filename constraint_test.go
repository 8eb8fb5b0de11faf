package txcore_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/tracerx/txcore"
)

func TestConstraintList(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("a", 1)
	x := ctx.Select(a, ctx.Constant64(0))

	p := ctx.Binary(txcore.UGT, x, ctx.Constant(0, 8))
	q := ctx.Binary(txcore.ULT, x, ctx.Constant(9, 8))

	base := txcore.NewConstraintList(p, nil)
	extended := txcore.NewConstraintList(q, base)

	if extended.Car() != q || extended.Cdr() != base {
		t.Fatal("unexpected cell layout")
	}
	if base.Len() != 1 || extended.Len() != 2 {
		t.Fatal("unexpected lengths")
	}

	// Oldest-first flattening.
	if diff := cmp.Diff([]txcore.Expr{p, q}, extended.Exprs()); diff != "" {
		t.Fatal(diff)
	}

	// Two extensions of one tail share it.
	other := txcore.NewConstraintList(ctx.Not(q), base)
	if other.Cdr() != extended.Cdr() {
		t.Fatal("expected shared tail")
	}
}

func TestConstraintList_Empty(t *testing.T) {
	var l *txcore.ConstraintList
	if l.Len() != 0 {
		t.Fatal("unexpected length")
	}
	if exprs := l.Exprs(); len(exprs) != 0 {
		t.Fatalf("unexpected exprs: %v", exprs)
	}
	if dump := l.Dump(""); dump != "constraints = []" {
		t.Fatalf("unexpected dump: %q", dump)
	}
}

func TestConstraintList_Dump(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("a", 1)
	p := ctx.IsZero(ctx.Select(a, ctx.Constant64(0)))

	l := txcore.NewConstraintList(p, nil)
	dump := l.Dump("\t")
	if !strings.Contains(dump, "constraints = [") || !strings.Contains(dump, p.String()) {
		t.Fatalf("unexpected dump: %q", dump)
	}
	if other := l.Dump("\t"); other != dump {
		t.Fatal("expected deterministic dump")
	}
}
