package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.k6.io/k6/lib/types"
	k6metrics "go.k6.io/k6/metrics"
	"gopkg.in/guregu/null.v3"

	"github.com/cdpboot/cdpboot/bootstrap"
	"github.com/cdpboot/cdpboot/browserprocess"
	"github.com/cdpboot/cdpboot/cdp"
	"github.com/cdpboot/cdpboot/config"
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/log"
	"github.com/cdpboot/cdpboot/metrics"
	"github.com/cdpboot/cdpboot/otel"
	"github.com/cdpboot/cdpboot/trace"
	"github.com/cdpboot/cdpboot/transport"
)

// shutdownTimeout bounds the graceful browser shutdown on interrupt.
const shutdownTimeout = 5 * time.Second

var errConnectionLost = errors.New("connection to the browser lost")

type cmdLaunch struct {
	gs *globalState
}

func getCmdLaunch(gs *globalState) *cobra.Command {
	c := &cmdLaunch{gs: gs}

	cmd := &cobra.Command{
		Use:   "launch [url]",
		Short: "Launch a browser and keep it connected",
		Long: `Launch a browser in debuggable mode, connect to it over CDP and keep it
running until it exits or cdpboot is interrupted.

Options not given as flags are read from CDPBOOT_* environment variables.`,
		Example: `  cdpboot launch https://example.com
  cdpboot launch --family gecko --transport stdio --window-size 1280,720 https://example.com`,
		Args: cobra.MaximumNArgs(1),
		RunE: c.run,
	}
	cmd.Flags().SortFlags = false
	cmd.Flags().AddFlagSet(launchFlagSet())

	return cmd
}

func launchFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.String("executable-path", "", "browser executable, looked up when empty")
	flags.String("data-path", "", "Gecko profile directory, a temporary one when empty")
	flags.String("family", "", "browser family: chromium or gecko")
	flags.String("transport", "", "debugging transport: websocket or stdio")
	flags.String("window-size", "", "initial window size as width,height")
	flags.Bool("headless", true, "run the browser headless")
	flags.Duration("timeout", 0, "how long spawning and connecting may take")
	flags.StringArray("arg", nil, "extra browser argument, can be repeated")
	flags.String("log-level", "", "log level: error, warn, info, debug or trace")
	flags.BoolP("verbose", "v", false, "log everything")
	flags.String("traces-endpoint", "", "OTLP HTTP endpoint to export launch traces to")

	return flags
}

// flagOptions returns the options set on the command line.
func flagOptions(flags *pflag.FlagSet, args []string) (config.Options, error) {
	var opts config.Options

	for name, dst := range map[string]*null.String{
		"executable-path": &opts.ExecutablePath,
		"data-path":       &opts.DataPath,
		"family":          &opts.Family,
		"transport":       &opts.Transport,
		"window-size":     &opts.WindowSize,
		"log-level":       &opts.LogLevel,
		"traces-endpoint": &opts.TracesEndpoint,
	} {
		if !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return opts, err //nolint:wrapcheck
		}
		*dst = null.StringFrom(v)
	}
	if flags.Changed("headless") {
		v, err := flags.GetBool("headless")
		if err != nil {
			return opts, err //nolint:wrapcheck
		}
		opts.Headless = null.BoolFrom(v)
	}
	if flags.Changed("verbose") {
		v, err := flags.GetBool("verbose")
		if err != nil {
			return opts, err //nolint:wrapcheck
		}
		opts.Debug = null.BoolFrom(v)
	}
	if flags.Changed("timeout") {
		v, err := flags.GetDuration("timeout")
		if err != nil {
			return opts, err //nolint:wrapcheck
		}
		opts.Timeout = types.NullDurationFrom(v)
	}
	if flags.Changed("arg") {
		v, err := flags.GetStringArray("arg")
		if err != nil {
			return opts, err //nolint:wrapcheck
		}
		opts.ArgList = v
	}
	if len(args) > 0 {
		opts.URL = null.StringFrom(args[0])
	}

	return opts, nil
}

func (c *cmdLaunch) options(flags *pflag.FlagSet, args []string) (config.Options, error) {
	opts, err := config.FromEnv(c.gs.lookup)
	if err != nil {
		return opts, err //nolint:wrapcheck
	}
	fopts, err := flagOptions(flags, args)
	if err != nil {
		return opts, err
	}
	opts = opts.Apply(fopts)

	return opts, opts.Validate() //nolint:wrapcheck
}

func (c *cmdLaunch) setupLogger(opts config.Options) (*log.Logger, error) {
	logger := log.New(c.gs.logger, opts.Debug.Bool, nil)
	if err := logger.SetLevel(opts.LogLevel.String); err != nil {
		return nil, fmt.Errorf("setting log level: %w", err)
	}
	if err := logger.SetCategoryFilter(opts.LogCategoryFilter.String); err != nil {
		return nil, err //nolint:wrapcheck
	}
	if opts.LogCaller.Bool {
		logger.ReportCaller()
	}

	return logger, nil
}

func (c *cmdLaunch) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	opts, err := c.options(cmd.Flags(), args)
	if err != nil {
		return err
	}
	logger, err := c.setupLogger(opts)
	if err != nil {
		return err
	}

	tp := otel.NewNoopTraceProvider()
	if opts.TracesEndpoint.String != "" {
		if tp, err = otel.NewTraceProvider(ctx, "http", opts.TracesEndpoint.String, opts.TracesInsecure.Bool); err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
	}
	defer func() {
		if serr := tp.Shutdown(context.Background()); serr != nil {
			logger.Warnf("cdpboot", "shutting down tracing: %v", serr)
		}
	}()
	md, _ := opts.Metadata()
	tracer := trace.NewTracer(c.gs.logger, tp, md)

	req, err := opts.Request()
	if err != nil {
		return err //nolint:wrapcheck
	}
	if req.Family == launcher.Gecko && req.DataPath == "" {
		dir, err := afero.TempDir(c.gs.fs, "", "cdpboot-gecko-")
		if err != nil {
			return fmt.Errorf("creating profile directory: %w", err)
		}
		defer func() { _ = c.gs.fs.RemoveAll(dir) }()
		req.DataPath = dir
	}

	samples := make(chan k6metrics.SampleContainer, 16)
	sl := newSampleLogger(samples, logger)
	defer sl.close()
	recorder := metrics.NewRecorder(
		metrics.RegisterLaunchMetrics(k6metrics.NewRegistry()), samples,
		map[string]string{"family": req.Family.String(), "transport": req.Transport.String()},
	)

	b := bootstrap.New(
		cdp.NewDialer(logger),
		newInjector(logger, req.Family, req.URL),
		bootstrap.WithLogger(logger),
		bootstrap.WithFs(c.gs.fs),
		bootstrap.WithTracer(tracer),
		bootstrap.WithMetrics(recorder),
		bootstrap.WithTimeout(opts.LaunchTimeout()),
	)

	res, err := b.Launch(ctx, req)
	if err != nil {
		var berr *bootstrap.Error
		if errors.As(err, &berr) && berr.Process != nil {
			berr.Process.Terminate()
		}
		if pids := browserprocess.Registered(ctx); len(pids) > 0 {
			logger.Warnf("cdpboot", "killing leftover browser processes %v", pids)
		}
		browserprocess.ForceProcessShutdown(ctx)
		return err
	}
	sess, ok := res.(*session)
	if !ok {
		return fmt.Errorf("unexpected launch result %T", res)
	}
	defer func() { _ = sess.conn.Close() }()

	fmt.Fprintf(c.gs.stdout, "%s pid:%d %s\n", sess.product, sess.proc.Pid(), endpoint(sess))

	return c.wait(ctx, sess, logger)
}

// wait blocks until the browser exits or cdpboot is interrupted, in which
// case the browser is closed.
func (c *cmdLaunch) wait(ctx context.Context, sess *session, logger *log.Logger) error {
	sigC := make(chan os.Signal, 2)
	c.gs.signalNotify(sigC, os.Interrupt, syscall.SIGTERM)
	defer c.gs.signalStop(sigC)

	lost, connErr := sess.done()
	select {
	case <-sess.proc.Done():
		if code, _ := sess.proc.ExitCode(); code != 0 {
			return fmt.Errorf("%w with exit code %d", bootstrap.ErrProcessExited, code)
		}
		return nil
	case <-lost:
		sess.proc.Terminate()
		<-sess.proc.Done()
		if err := connErr(); err != nil {
			return fmt.Errorf("%w: %w", errConnectionLost, err)
		}
		return errConnectionLost
	case sig := <-sigC:
		logger.Infof("cdpboot", "received %s, closing the browser", sig)
	case <-ctx.Done():
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := sess.close(closeCtx); err != nil {
		logger.Warnf("cdpboot", "closing browser: %v", err)
	}
	select {
	case <-sess.proc.Done():
	case <-closeCtx.Done():
		sess.proc.Terminate()
		<-sess.proc.Done()
	}

	return nil
}

func endpoint(sess *session) string {
	if ep, ok := sess.conn.(interface{ Endpoint() string }); ok {
		return ep.Endpoint()
	}
	return transport.Stdio.String()
}
