package txcore_test

import (
	"strings"
	"testing"

	"github.com/tracerx/txcore"
)

func TestStateAddress(t *testing.T) {
	ctx := txcore.NewContext()
	context := txcore.NewAllocationContext(3, []uint64{1})
	info := txcore.AllocationInfo{ID: 1, Size: 8}

	t.Run("ConstantAddress", func(t *testing.T) {
		addr := txcore.NewStateAddress(context, info, ctx.Constant64(4))
		if !addr.HasConstantAddress() {
			t.Fatal("expected constant address")
		}
	})

	t.Run("SymbolicAddress", func(t *testing.T) {
		a := ctx.NewArray("a", 8)
		addr := txcore.NewStateAddress(context, info, ctx.ZExt(ctx.Select(a, ctx.Constant64(0)), 64))
		if addr.HasConstantAddress() {
			t.Fatal("unexpected constant address")
		}
	})

	t.Run("AsVariable", func(t *testing.T) {
		x := txcore.NewStateAddress(context, info, ctx.Constant64(4)).AsVariable()
		y := txcore.NewStateAddress(context, info, ctx.Constant64(4)).AsVariable()
		if txcore.CompareVariable(x, y) != 0 {
			t.Fatal("expected equal variables")
		}
		z := txcore.NewStateAddress(context, info, ctx.Constant64(5)).AsVariable()
		if txcore.CompareVariable(x, z) == 0 {
			t.Fatal("expected distinct variables")
		}
	})
}

func TestCompareAllocationContext(t *testing.T) {
	a := txcore.NewAllocationContext(1, []uint64{2, 3})
	b := txcore.NewAllocationContext(1, []uint64{2, 3})
	c := txcore.NewAllocationContext(1, []uint64{2, 4})
	d := txcore.NewAllocationContext(2, nil)

	if txcore.CompareAllocationContext(a, b) != 0 {
		t.Fatal("expected equal contexts")
	}
	if txcore.CompareAllocationContext(a, c) == 0 {
		t.Fatal("expected distinct call histories")
	}
	if txcore.CompareAllocationContext(a, d) >= 0 {
		t.Fatal("expected site ordering")
	}
}

func TestStateValue(t *testing.T) {
	ctx := txcore.NewContext()

	t.Run("Core", func(t *testing.T) {
		v := txcore.NewStateValue(ctx.Constant(1, 8))
		if v.IsCore() {
			t.Fatal("unexpected core flag")
		}
		v.SetCore()
		if !v.IsCore() {
			t.Fatal("expected core flag")
		}
	})

	t.Run("LoadAddressesDistinct", func(t *testing.T) {
		v := txcore.NewStateValue(ctx.Constant(1, 8))
		a := txcore.NewStateValue(ctx.Constant64(0))
		b := txcore.NewStateValue(ctx.Constant64(8))
		v.AddLoadAddress(a)
		v.AddLoadAddress(a)
		v.AddLoadAddress(b)
		if n := len(v.LoadAddresses()); n != 2 {
			t.Fatalf("unexpected load address count: %d", n)
		}
	})

	t.Run("InterpolantValue", func(t *testing.T) {
		a := ctx.NewArray("a", 1)
		shadow := ctx.ShadowArray(a)
		v := txcore.NewStateValue(ctx.Select(a, ctx.Constant64(0)))

		iv := v.InterpolantValue(ctx, map[*txcore.Array]*txcore.Array{a: shadow})
		if arrays := txcore.FindArrays(iv.Expr); len(arrays) != 1 || arrays[0] != shadow {
			t.Fatalf("expected substituted value: %s", iv)
		}

		plain := v.InterpolantValue(ctx, nil)
		if arrays := txcore.FindArrays(plain.Expr); len(arrays) != 1 || arrays[0] != a {
			t.Fatalf("expected original value: %s", plain)
		}
	})
}

func TestStoreEntry_Dump(t *testing.T) {
	ctx := txcore.NewContext()
	context := txcore.NewAllocationContext(3, nil)
	info := txcore.AllocationInfo{ID: 1, Size: 8}
	loc := txcore.NewStateAddress(context, info, ctx.Constant64(0))

	entry := txcore.NewStoreEntry(loc, txcore.NewStateValue(ctx.Constant64(0)), txcore.NewStateValue(ctx.Constant(7, 8)), 2)
	dump := entry.Dump("")
	for _, want := range []string{"depth = 2", "address:", "content:"} {
		if !strings.Contains(dump, want) {
			t.Fatalf("dump missing %q:\n%s", want, dump)
		}
	}
}
