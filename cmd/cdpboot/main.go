// Command cdpboot launches a browser in debuggable mode and keeps it
// connected until it exits.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/cdpboot/cdpboot/env"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gs := &globalState{
		ctx:    ctx,
		fs:     afero.NewOsFs(),
		stdout: os.Stdout,
		stderr: os.Stderr,
		lookup: env.Lookup,
		logger: &logrus.Logger{
			Out:       os.Stderr,
			Formatter: new(logrus.TextFormatter),
			Hooks:     make(logrus.LevelHooks),
			Level:     logrus.InfoLevel,
		},
		signalNotify: signal.Notify,
		signalStop:   signal.Stop,
	}

	os.Exit(newRootCommand(gs).execute())
}
