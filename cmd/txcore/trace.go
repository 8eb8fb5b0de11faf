package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tracerx/txcore"
	"github.com/tracerx/txcore/sat"
	"github.com/tracerx/txcore/z3"
)

// pathState is a minimal interpreter state for the canned trace.
type pathState struct {
	pp          uint64
	constraints []txcore.Expr
}

func (s *pathState) Constraints() []txcore.Expr { return s.constraints }
func (s *pathState) ProgramPoint() uint64       { return s.pp }

func newTraceCmd(logger *logrus.Logger) *cobra.Command {
	var (
		noExistential bool
		timeout       float64
	)

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Run a canned interpolation trace and dump every entity",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(cmd, logger, txcore.Config{
				NoExistential:     noExistential,
				CoreSolverTimeout: timeout,
			})
		},
	}
	cmd.Flags().BoolVar(&noExistential, "no-existential", false, "emit interpolants over the original arrays")
	cmd.Flags().Float64Var(&timeout, "solver-timeout", 10, "secondary solver timeout, in seconds")
	return cmd
}

// runTrace replays the classic one-store subsumption scenario: a path
// with x > 0 stores y := x + 1 and proves y > 1 at a program point; a
// second visit with x >= 5 and the same store is then subsumed.
func runTrace(cmd *cobra.Command, logger *logrus.Logger, cfg txcore.Config) error {
	ctx := txcore.NewContext()

	secondary := z3.NewSolver(ctx)
	defer secondary.Close()

	staged := txcore.NewStagedSolver(ctx, sat.New(ctx), secondary)
	staged.Logger = logger
	staged.SetCoreSolverTimeout(cfg.CoreSolverTimeout)

	x := ctx.NewArray("x", 1)
	xv := ctx.Select(x, ctx.Constant64(0))
	one := ctx.Constant(1, txcore.Width8)

	root := &pathState{pp: 1}
	tree := txcore.NewITree(ctx, root, staged, cfg)
	tree.Logger = logger

	// First visit: 0 < x < 100, y := x + 1 stored at allocation A0.
	// The upper bound keeps the increment from wrapping at the width.
	node := tree.Root
	node.AddConstraint(ctx.Binary(txcore.UGT, xv, ctx.Constant(0, txcore.Width8)))
	node.AddConstraint(ctx.Binary(txcore.ULT, xv, ctx.Constant(100, txcore.Width8)))

	context := txcore.NewAllocationContext(100, nil)
	info := txcore.AllocationInfo{ID: 1, Size: 1}
	loc := txcore.NewStateAddress(context, info, ctx.Constant64(0))

	y := txcore.NewStateValue(ctx.Binary(txcore.ADD, xv, one))
	y.SetCore()
	node.Store().UpdateStore(loc, txcore.NewStateValue(ctx.Constant64(0)), y)

	interpolant := ctx.Binary(txcore.UGT, y.Expression(), one)
	node.SetInterpolant(interpolant)
	tree.Store(txcore.NewSubsumptionTableEntry(node))

	// Second visit at the same program point, under x >= 5.
	left, _ := node.Split(&pathState{pp: 1}, &pathState{pp: 2})
	left.AddConstraint(ctx.Binary(txcore.UGE, xv, ctx.Constant(5, txcore.Width8)))

	y2 := txcore.NewStateValue(ctx.Binary(txcore.ADD, xv, one))
	y2.SetCore()
	left.Store().UpdateStore(loc, txcore.NewStateValue(ctx.Constant64(0)), y2)

	tree.SetCurrentINode(left)
	tree.CheckCurrentNodeSubsumption()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "subsumed = %v\n\n", tree.IsCurrentNodeSubsumed())
	fmt.Fprintln(out, tree.Dump())
	fmt.Fprintln(out, "== shadow memory of the subsumed path")
	fmt.Fprintln(out, left.Store().Dump(0))
	return nil
}
