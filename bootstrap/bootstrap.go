// Package bootstrap launches a browser in debuggable mode, connects to it
// over CDP and hands the connection over to an injector.
//
// A launch runs, strictly in order: the Gecko profile build (Gecko only),
// the transport allocation, the browser spawn, the CDP connection and the
// hand-off. Spawning and connecting share a single deadline.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/cdpboot/cdpboot/api"
	"github.com/cdpboot/cdpboot/browserprocess"
	"github.com/cdpboot/cdpboot/gecko"
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/log"
	"github.com/cdpboot/cdpboot/metrics"
	"github.com/cdpboot/cdpboot/otel"
	"github.com/cdpboot/cdpboot/trace"
	"github.com/cdpboot/cdpboot/transport"
)

// exitGrace is how long a failed connection waits for the browser to be
// reaped, to report the exit instead of the connection error.
const exitGrace = 100 * time.Millisecond

// Bootstrapper launches browsers.
type Bootstrapper struct {
	client   api.ProtocolClient
	injector api.Injector

	logger   *log.Logger
	fs       afero.Fs
	selector *transport.Selector
	spawn    SpawnFunc
	tracer   *trace.Tracer
	metrics  *metrics.Recorder
	timeout  time.Duration
}

// New returns a Bootstrapper connecting with client and handing browsers
// over to injector.
func New(client api.ProtocolClient, injector api.Injector, opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		client:   client,
		injector: injector,
		timeout:  DefaultTimeout,
		spawn:    Spawn,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = log.NewNullLogger()
	}
	if b.fs == nil {
		b.fs = afero.NewOsFs()
	}
	if b.selector == nil {
		b.selector = transport.NewSelector(nil)
	}
	if b.tracer == nil {
		var fl logrus.FieldLogger = b.logger.Log
		if b.logger.Log == nil {
			fl = logrus.StandardLogger()
		}
		b.tracer = trace.NewTracer(fl, otel.NewNoopTraceProvider(), nil)
	}

	return b
}

// Launch starts the browser described by req, connects to it and returns
// what the injector made of it.
//
// If the launch fails after the browser was started, the browser is left
// running and returned in the Process field of the *Error.
func (b *Bootstrapper) Launch(ctx context.Context, req Request) (_ any, rerr error) {
	req = req.withDefaults()

	launchID := uuid.NewString()
	ctx = browserprocess.WithLaunchID(ctx, launchID)
	start := time.Now()

	ctx, _ = b.tracer.TraceLaunch(ctx, launchID)
	defer func() {
		b.tracer.EndLaunch(launchID, rerr)
		if rerr != nil {
			b.metrics.Failure(ctx)
			b.logger.Debugf("bootstrap:Launch", "launch:%s failed: %v", launchID, rerr)
			return
		}
		b.metrics.Launch(ctx, time.Since(start))
	}()

	b.logger.Debugf("bootstrap:Launch", "launch:%s family:%s transport:%s path:%q",
		launchID, req.Family, req.Transport, req.ExecutablePath)

	if req.Family == launcher.Gecko {
		if err := b.buildProfile(ctx, launchID, req); err != nil {
			return nil, err
		}
	}

	h, err := b.selector.Select(req.Transport)
	if err != nil {
		return nil, &Error{Stage: StageTransport, Err: err}
	}
	b.logger.Debugf("bootstrap:Launch", "launch:%s transport:%s", launchID, h)

	// one deadline for spawning and connecting.
	stageCtx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	proc, err := b.spawnBrowser(ctx, stageCtx, launchID, req, h)
	if err != nil {
		_ = h.Close()
		return nil, err
	}

	connectStart := time.Now()
	sCtx, span := b.tracer.TraceStage(stageCtx, launchID, StageConnect.String())
	conn, err := b.Connect(sCtx, h, proc)
	span.End()
	if err != nil {
		// the connection never took over the pipes.
		_ = h.Close()
		return nil, err
	}
	b.metrics.Connect(ctx, time.Since(connectStart))

	injectStart := time.Now()
	sCtx, span = b.tracer.TraceStage(ctx, launchID, StageInject.String())
	res, err := b.HandOff(sCtx, conn, proc, req.Role, req.Extra)
	span.End()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	b.metrics.Inject(ctx, time.Since(injectStart))

	return res, nil
}

func (b *Bootstrapper) buildProfile(ctx context.Context, launchID string, req Request) error {
	started := time.Now()
	sCtx, span := b.tracer.TraceStage(ctx, launchID, StageProfile.String())
	defer span.End()

	p, err := gecko.NewProfileBuilder(b.fs).Build(sCtx, req.DataPath, req.URL)
	if err != nil {
		return &Error{Stage: StageProfile, Err: err}
	}
	b.logger.Debugf("bootstrap:buildProfile", "launch:%s profile:%q", launchID, p.AppDir)
	b.metrics.Profile(ctx, time.Since(started))

	return nil
}

// spawnBrowser starts the browser. The process lives as long as ctx,
// stageCtx only bounds the start.
func (b *Bootstrapper) spawnBrowser(
	ctx, stageCtx context.Context, launchID string, req Request, h transport.Handle,
) (api.Process, error) {
	started := time.Now()
	_, span := b.tracer.TraceStage(stageCtx, launchID, StageSpawn.String())
	defer span.End()

	if req.ExecutablePath == "" {
		return nil, &Error{Stage: StageSpawn, Err: launcher.ErrExecutableNotFound}
	}
	if err := stageCtx.Err(); err != nil {
		return nil, &Error{Stage: StageSpawn, Err: err, Timeout: b.timeout}
	}

	spec := launcher.SpawnSpec{
		Path: req.ExecutablePath,
		Args: launcher.Args(launcher.ArgSpec{
			Family:     req.Family,
			DataPath:   req.DataPath,
			WindowSize: req.WindowSize,
			Preamble:   req.Args,
			DebugFlag:  h.DebugFlag(),
		}),
		Env: req.Env,
	}
	if h.Kind == transport.Stdio {
		spec.Pipes = h.Pipes
	}

	proc, err := b.spawn(ctx, spec, b.logger)
	if err != nil {
		return nil, &Error{Stage: StageSpawn, Err: err}
	}

	key := browserprocess.Register(ctx, b.logger, proc.Pid())
	go func() {
		<-proc.Done()
		browserprocess.Unregister(key)
	}()
	b.logger.Debugf("bootstrap:spawn", "launch:%s pid:%d", launchID, proc.Pid())
	b.metrics.Spawn(ctx, time.Since(started))

	return proc, nil
}

// Connect establishes a CDP connection over h with the protocol client.
// When proc is given and exits first, Connect fails right away instead of
// waiting for ctx.
func (b *Bootstrapper) Connect(ctx context.Context, h transport.Handle, proc api.Process) (api.Connection, error) {
	type result struct {
		conn api.Connection
		err  error
	}

	if a, ok := proc.(interface{ DevToolsURL() string }); ok {
		ctx = api.WithDevToolsURL(ctx, a.DevToolsURL)
	}
	cctx, cancel := context.WithCancel(ctx)
	results := make(chan result, 1)
	go func() {
		conn, err := b.client.Connect(cctx, h)
		results <- result{conn, err}
	}()
	// a connection made after Connect gave up isn't anyone's.
	abandon := func() {
		cancel()
		go func() {
			if r := <-results; r.err == nil && r.conn != nil {
				_ = r.conn.Close()
			}
		}()
	}

	var exited <-chan struct{}
	if proc != nil {
		exited = proc.Done()
	}

	select {
	case r := <-results:
		cancel()
		if r.err == nil {
			return r.conn, nil
		}
		if proc != nil {
			select {
			case <-proc.Done():
				return nil, b.connectError(exitError(proc), proc)
			case <-time.After(exitGrace):
			}
		}
		return nil, b.connectError(r.err, proc)
	case <-exited:
		abandon()
		return nil, b.connectError(exitError(proc), proc)
	case <-ctx.Done():
		abandon()
		return nil, b.connectError(ctx.Err(), proc)
	}
}

func (b *Bootstrapper) connectError(err error, proc api.Process) error {
	return &Error{Stage: StageConnect, Err: err, Process: proc, Timeout: b.timeout}
}

func exitError(proc api.Process) error {
	err := ErrProcessExited
	if code, ok := proc.ExitCode(); ok {
		err = fmt.Errorf("%w with exit code %d", ErrProcessExited, code)
	}
	if d, ok := proc.(interface{ Diagnostic() error }); ok {
		if derr := d.Diagnostic(); derr != nil {
			err = fmt.Errorf("%w: %w", err, derr)
		}
	}
	return err
}

// HandOff passes the connected browser to the injector under role, which
// defaults to api.DefaultRole, and returns the injector's result unchanged.
func (b *Bootstrapper) HandOff(ctx context.Context, conn api.Connection, proc api.Process, role string, extra any) (any, error) {
	if role == "" {
		role = api.DefaultRole
	}
	if b.injector == nil {
		return nil, &Error{Stage: StageInject, Err: errors.New("no injector"), Process: proc}
	}

	res, err := b.injector.Inject(ctx, conn, proc, role, extra)
	if err != nil {
		return nil, &Error{Stage: StageInject, Err: err, Process: proc}
	}

	return res, nil
}
