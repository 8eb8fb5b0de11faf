// Command txcore exercises the interpolation core from the command
// line: a canned interpolation trace and an SSA program-point lister.
package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var debug bool

	logger := logrus.New()
	logger.SetLevel(logrus.InfoLevel)

	cmd := &cobra.Command{
		Use:           "txcore",
		Short:         "Tracer-style interpolation core tooling",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				logger.SetLevel(logrus.DebugLevel)
			}
		},
	}
	cmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	cmd.AddCommand(newTraceCmd(logger))
	cmd.AddCommand(newPointsCmd(logger))
	return cmd
}
