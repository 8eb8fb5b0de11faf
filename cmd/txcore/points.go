package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/tools/go/packages"
	"golang.org/x/tools/go/ssa"
	"golang.org/x/tools/go/ssa/ssautil"
)

func newPointsCmd(logger *logrus.Logger) *cobra.Command {
	var fnName string

	cmd := &cobra.Command{
		Use:   "points [pattern]",
		Short: "List the program-point identifiers of a function's SSA form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPoints(cmd, logger, args[0], fnName)
		},
	}
	cmd.Flags().StringVar(&fnName, "func", "", "function to list; all functions if empty")
	return cmd
}

// runPoints compiles the matched packages to SSA and prints one line per
// instruction: the identifier the interpreter would key interpolants by,
// plus the instruction itself.
func runPoints(cmd *cobra.Command, logger *logrus.Logger, pattern, fnName string) error {
	pkgConfig := &packages.Config{Mode: packages.LoadAllSyntax}
	pkgs, err := packages.Load(pkgConfig, pattern)
	if err != nil {
		return errors.Wrap(err, "load packages")
	} else if packages.PrintErrors(pkgs) > 0 {
		return errors.New("packages contain errors")
	}

	prog, _ := ssautil.AllPackages(pkgs, ssa.SanityCheckFunctions)
	prog.Build()

	out := cmd.OutOrStdout()
	for fn := range ssautil.AllFunctions(prog) {
		if fn.Blocks == nil {
			continue
		}
		if fnName != "" && fn.Name() != fnName {
			continue
		}

		logger.WithField("func", fn.String()).Debug("listing program points")
		fmt.Fprintf(out, "%s:\n", fn)
		for _, block := range fn.Blocks {
			for i, instr := range block.Instrs {
				fmt.Fprintf(out, "\t%d\t%s\n", programPoint(block, i), instr)
			}
		}
	}
	return nil
}

// programPoint derives a stable identifier for one instruction: the
// block index and the instruction's position within it.
func programPoint(block *ssa.BasicBlock, index int) uint64 {
	return uint64(block.Index)<<32 | uint64(index)
}
