package txcore_test

import (
	"strings"
	"testing"

	"github.com/tracerx/txcore"
)

// treeState is a minimal interpreter state for tree tests.
type treeState struct {
	pp          uint64
	constraints []txcore.Expr
}

func (s *treeState) Constraints() []txcore.Expr { return s.constraints }
func (s *treeState) ProgramPoint() uint64       { return s.pp }

func TestITreeNode_Split(t *testing.T) {
	tree := newTestTree()
	ctx := tree.Context()

	a := ctx.NewArray("a", 1)
	p := ctx.IsZero(ctx.Select(a, ctx.Constant64(0)))
	tree.Root.AddConstraint(p)

	left, right := tree.Root.Split(&treeState{pp: 3}, &treeState{pp: 4})
	if left.Parent() != tree.Root || right.Parent() != tree.Root {
		t.Fatal("unexpected parents")
	}
	if left.Depth() != 1 || right.Depth() != 1 {
		t.Fatal("unexpected depths")
	}
	if left.ProgramPoint != 3 || right.ProgramPoint != 4 {
		t.Fatal("unexpected program points")
	}

	// Children share the parent's constraint list as their tail.
	q := ctx.Not(p)
	left.AddConstraint(q)
	if left.Constraints().Cdr() != tree.Root.Constraints() {
		t.Fatal("expected shared constraint tail")
	}
	if right.Constraints() != tree.Root.Constraints() {
		t.Fatal("expected untouched sibling constraints")
	}
}

func TestITreeNode_SetInterpolant(t *testing.T) {
	tree := newTestTree()
	ctx := tree.Context()

	a := ctx.NewArray("a", 1)
	interp := ctx.IsZero(ctx.Select(a, ctx.Constant64(0)))

	node, _ := tree.Root.Split(nil, nil)
	node.SetInterpolant(interp)
	if node.Interpolant() != interp {
		t.Fatalf("unexpected interpolant: %s", node.Interpolant())
	}
	if node.Status() != txcore.FullInterpolant {
		t.Fatalf("unexpected status: %s", node.Status())
	}
}

func TestITreeNode_InterpolantPropagation(t *testing.T) {
	tree := newTestTree()
	ctx := tree.Context()

	a := ctx.NewArray("a", 1)
	x := ctx.Select(a, ctx.Constant64(0))
	il := ctx.Binary(txcore.UGT, x, ctx.Constant(0, 8))
	ir := ctx.Binary(txcore.ULE, x, ctx.Constant(0, 8))

	left, right := tree.Root.Split(nil, nil)
	left.LatestBranch = &txcore.BranchCondition{LHS: x, RHS: ctx.Constant(0, 8), Compare: txcore.UGT}

	left.SetInterpolant(il)
	if tree.Root.Status() != txcore.HalfInterpolant {
		t.Fatalf("unexpected status after one child: %s", tree.Root.Status())
	}

	right.SetInterpolant(ir)
	if tree.Root.Status() != txcore.FullInterpolant {
		t.Fatalf("unexpected status after both children: %s", tree.Root.Status())
	}

	branch := left.LatestBranch.Expr(ctx)
	if want := ctx.Ite(branch, il, ir); tree.Root.Interpolant() != want {
		t.Fatalf("unexpected join: %s", tree.Root.Interpolant())
	}
}

func TestITreeNode_UpdateRelations(t *testing.T) {
	tree := newTestTree()
	ctx := tree.Context()
	node := tree.Root

	a := ctx.NewArray("a", 8)
	loc := ctx.Select(a, ctx.Constant64(0))

	u := txcore.NewUpdateRelation(loc, ctx.Constant(1, 8), txcore.ADD)
	node.AddNewUpdateRelation(u)

	// Staged relations drain exactly once.
	drained := node.AddStoredNewUpdateRelationsTo(nil)
	if len(drained) != 1 || drained[0] != u {
		t.Fatalf("unexpected drained relations: %v", drained)
	}
	if again := node.AddStoredNewUpdateRelationsTo(nil); len(again) != 0 {
		t.Fatalf("staged relations not drained: %v", again)
	}

	node.AddUpdateRelations(drained)
	rhs := ctx.Constant(5, 8)
	if e := node.BuildUpdateExpression(loc, rhs); e != ctx.Binary(txcore.ADD, rhs, ctx.Constant(1, 8)) {
		t.Fatalf("unexpected update expression: %s", e)
	}

	// Relations merge across nodes.
	other, _ := node.Split(nil, nil)
	other.AddUpdateRelationsFrom(node)
	if e := other.BuildUpdateExpression(loc, rhs); e != ctx.Binary(txcore.ADD, rhs, ctx.Constant(1, 8)) {
		t.Fatalf("unexpected update expression: %s", e)
	}
}

func TestITreeNode_GetInterpolantBaseLocation(t *testing.T) {
	tree := newTestTree()
	ctx := tree.Context()
	node := tree.Root

	a := ctx.NewArray("a", 8)
	loc := ctx.Select(a, ctx.Constant64(0))
	interp := ctx.Binary(txcore.ADD, loc, ctx.Constant(1, 8))

	u := txcore.NewUpdateRelation(loc, ctx.Constant(1, 8), txcore.ADD)
	u.SetBase(interp)
	node.AddUpdateRelations([]*txcore.UpdateRelation{u})

	if base := node.GetInterpolantBaseLocation(interp); base != loc {
		t.Fatalf("unexpected base: %s", base)
	}
	if base := node.GetInterpolantBaseLocation(loc); base != nil {
		t.Fatalf("unexpected base: %s", base)
	}
}

func TestITreeNode_CorrectNodeLocation(t *testing.T) {
	tree := newTestTree()
	node := tree.Root
	node.CorrectNodeLocation(99)
	if node.ProgramPoint != 99 {
		t.Fatalf("unexpected program point: %d", node.ProgramPoint)
	}
}

func TestITree_Subsumption(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("x", 1)
	x := ctx.Select(a, ctx.Constant64(0))
	one := ctx.Constant(1, 8)

	interp := ctx.Binary(txcore.UGT, ctx.Binary(txcore.ADD, x, one), one) // y > 1 for y = x+1

	// The oracle proves exactly the recorded interpolant.
	solver := &fakeSolver{validity: func(q txcore.Query) (txcore.Validity, error) {
		if txcore.CompareExpr(q.Expr, interp) == 0 {
			return txcore.Valid, nil
		}
		return txcore.ValidityUnknown, nil
	}}

	tree := txcore.NewITree(ctx, &treeState{pp: 10}, solver, txcore.DefaultConfig())

	// First path: x > 0 proves y > 1 (for y = x + 1) at point 10.
	tree.Root.AddConstraint(ctx.Binary(txcore.UGT, x, ctx.Constant(0, 8)))
	tree.Root.SetInterpolant(interp)
	tree.Store(txcore.NewSubsumptionTableEntry(tree.Root))

	// Second visit at the same point under x >= 5.
	left, right := tree.Root.Split(&treeState{pp: 10}, &treeState{pp: 11})
	left.AddConstraint(ctx.Binary(txcore.UGE, x, ctx.Constant(5, 8)))

	tree.SetCurrentINode(left)
	tree.CheckCurrentNodeSubsumption()
	if !tree.IsCurrentNodeSubsumed() {
		t.Fatal("expected subsumption")
	}

	// A different program point never matches.
	tree.SetCurrentINode(right)
	tree.CheckCurrentNodeSubsumption()
	if tree.IsCurrentNodeSubsumed() {
		t.Fatal("unexpected subsumption at other point")
	}
}

func TestITree_Subsumption_UnknownIsNotSubsumed(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("x", 1)
	p := ctx.IsZero(ctx.Select(a, ctx.Constant64(0)))

	for name, solver := range map[string]*fakeSolver{
		"Unknown": {validity: func(txcore.Query) (txcore.Validity, error) {
			return txcore.ValidityUnknown, nil
		}},
		"Timeout": {validity: func(txcore.Query) (txcore.Validity, error) {
			return txcore.ValidityUnknown, txcore.ErrSolverTimeout
		}},
	} {
		t.Run(name, func(t *testing.T) {
			tree := txcore.NewITree(ctx, &treeState{pp: 1}, solver, txcore.DefaultConfig())
			tree.Root.SetInterpolant(p)
			tree.Store(txcore.NewSubsumptionTableEntry(tree.Root))

			node, _ := tree.Root.Split(&treeState{pp: 1}, nil)
			tree.SetCurrentINode(node)
			tree.CheckCurrentNodeSubsumption()
			if tree.IsCurrentNodeSubsumed() {
				t.Fatal("unknown oracle answer must not subsume")
			}
		})
	}
}

func TestSubsumptionTableEntry_LocationCheck(t *testing.T) {
	ctx := txcore.NewContext()
	a := ctx.NewArray("x", 1)
	x := ctx.Select(a, ctx.Constant64(0))
	interp := ctx.Binary(txcore.UGT, x, ctx.Constant(0, 8))

	solver := &fakeSolver{
		validity: func(q txcore.Query) (txcore.Validity, error) {
			return txcore.Valid, nil
		},
		truth: func(q txcore.Query) (bool, error) {
			return true, nil
		},
	}

	tree := txcore.NewITree(ctx, &treeState{pp: 1}, solver, txcore.DefaultConfig())
	tree.Root.SetInterpolantAt(interp, txcore.InterpolantLocation{
		Base:   x,
		Offset: ctx.Constant64(0),
	}, txcore.FullInterpolant)
	tree.Store(txcore.NewSubsumptionTableEntry(tree.Root))

	node, _ := tree.Root.Split(&treeState{pp: 1}, nil)
	tree.SetCurrentINode(node)

	// Without the base stored anywhere, the location check fails.
	tree.CheckCurrentNodeSubsumption()
	if tree.IsCurrentNodeSubsumed() {
		t.Fatal("expected location check to fail")
	}

	// Storing the base at a matching offset satisfies the check.
	context := txcore.NewAllocationContext(7, nil)
	info := txcore.AllocationInfo{ID: 1, Size: 8}
	loc := txcore.NewStateAddress(context, info, ctx.Constant64(0))
	node.Store().UpdateStore(loc, txcore.NewStateValue(ctx.Constant64(0)), txcore.NewStateValue(x))

	tree.CheckCurrentNodeSubsumption()
	if !tree.IsCurrentNodeSubsumed() {
		t.Fatal("expected subsumption after storing the base")
	}
}

func TestITree_Store_AppendsDuplicates(t *testing.T) {
	tree := newTestTree()
	ctx := tree.Context()
	a := ctx.NewArray("x", 1)
	tree.Root.SetInterpolant(ctx.IsZero(ctx.Select(a, ctx.Constant64(0))))

	entry := txcore.NewSubsumptionTableEntry(tree.Root)
	tree.Store(entry)
	tree.Store(entry)
	if n := len(tree.TableEntries()); n != 2 {
		t.Fatalf("unexpected table size: %d", n)
	}
}

func TestITree_Retire(t *testing.T) {
	tree := newTestTree()
	left, right := tree.Root.Split(nil, nil)

	tree.SetCurrentINode(left)
	tree.Retire(left)
	if tree.Root.Left() != nil {
		t.Fatal("expected left child detached")
	}
	if tree.Root.Right() != right {
		t.Fatal("expected right child untouched")
	}
	if tree.CurrentINode() != nil {
		t.Fatal("expected frontier cleared")
	}
	if left.Parent() != nil {
		t.Fatal("expected parent link cleared")
	}
}

func TestITree_Dump(t *testing.T) {
	tree := newTestTree()
	ctx := tree.Context()
	a := ctx.NewArray("x", 1)
	p := ctx.IsZero(ctx.Select(a, ctx.Constant64(0)))

	tree.Root.AddConstraint(p)
	tree.Root.SetInterpolant(p)
	tree.Store(txcore.NewSubsumptionTableEntry(tree.Root))
	tree.Root.Split(nil, nil)

	dump := tree.Dump()
	for _, want := range []string{"ITREE", "interpolant =", "subsumption table", "left:", "right:"} {
		if !strings.Contains(dump, want) {
			t.Fatalf("dump missing %q:\n%s", want, dump)
		}
	}
	if other := tree.Dump(); other != dump {
		t.Fatal("expected deterministic dump")
	}
}
