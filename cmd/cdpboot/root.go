package main

import (
	"context"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/cdpboot/cdpboot/env"
)

// globalState is what the commands get from the outside world.
type globalState struct {
	ctx context.Context

	fs     afero.Fs
	stdout io.Writer
	stderr io.Writer
	lookup env.LookupFunc
	logger *logrus.Logger

	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

type rootCommand struct {
	gs  *globalState
	cmd *cobra.Command
}

func newRootCommand(gs *globalState) *rootCommand {
	c := &rootCommand{gs: gs}
	c.cmd = &cobra.Command{
		Use:           "cdpboot",
		Short:         "launch browsers for CDP automation",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	c.cmd.SetOut(gs.stdout)
	c.cmd.SetErr(gs.stderr)
	c.cmd.AddCommand(getCmdLaunch(gs))

	return c
}

// execute runs the command line and returns the process exit code.
func (c *rootCommand) execute() int {
	if err := c.cmd.ExecuteContext(c.gs.ctx); err != nil {
		red := color.New(color.FgRed).SprintFunc()
		c.gs.logger.WithError(err).Error(red("cdpboot failed"))
		return 1
	}
	return 0
}
