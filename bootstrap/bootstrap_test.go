package bootstrap

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mailru/easyjson"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	k6metrics "go.k6.io/k6/metrics"

	"github.com/cdpboot/cdpboot/api"
	"github.com/cdpboot/cdpboot/cdp"
	"github.com/cdpboot/cdpboot/cdp/cdptest"
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/log"
	"github.com/cdpboot/cdpboot/metrics"
	"github.com/cdpboot/cdpboot/transport"
)

// fixedSource always picks the lowest port.
type fixedSource struct{}

func (fixedSource) Intn(int) int { return 0 }

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Execute(context.Context, string, easyjson.Marshaler, easyjson.Unmarshaler) error {
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeClient records the handles it's asked to connect over.
type fakeClient struct {
	mu        sync.Mutex
	handles   []transport.Handle
	announced []string
	conn      *fakeConn
	err       error
	// block makes Connect wait for its context.
	block bool
}

func (c *fakeClient) Connect(ctx context.Context, h transport.Handle) (api.Connection, error) {
	c.mu.Lock()
	c.handles = append(c.handles, h)
	c.announced = append(c.announced, api.DevToolsURL(ctx))
	c.mu.Unlock()

	if c.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.conn, nil
}

func (c *fakeClient) calls() []transport.Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]transport.Handle(nil), c.handles...)
}

type fakeProcess struct {
	pid  int
	done chan struct{}
	code int
	once sync.Once
}

func newFakeProcess() *fakeProcess {
	return &fakeProcess{pid: 1_000_000, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *fakeProcess) ExitCode() (int, bool) {
	if p.Alive() {
		return 0, false
	}
	return p.code, true
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Terminate() { p.exit(-1) }

func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.code = code
		close(p.done)
	})
}

// announcingProcess printed its DevTools address.
type announcingProcess struct {
	*fakeProcess
	url string
}

func (p *announcingProcess) DevToolsURL() string { return p.url }

// fakeSpawner records the spawn specs it's given.
type fakeSpawner struct {
	mu    sync.Mutex
	specs []launcher.SpawnSpec
	proc  *fakeProcess
	err   error
}

func (s *fakeSpawner) spawn(_ context.Context, spec launcher.SpawnSpec, _ *log.Logger) (api.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.specs = append(s.specs, spec)
	if s.err != nil {
		return nil, s.err
	}
	return s.proc, nil
}

type injection struct {
	conn  api.Connection
	proc  api.Process
	role  string
	extra any
}

func recordingInjector(got *injection) api.Injector {
	return api.InjectorFunc(func(_ context.Context, conn api.Connection, proc api.Process, role string, extra any) (any, error) {
		*got = injection{conn: conn, proc: proc, role: role, extra: extra}
		return "injected", nil
	})
}

func TestLaunchGeckoWebsocket(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	client := &fakeClient{conn: &fakeConn{}}
	spawner := &fakeSpawner{proc: newFakeProcess()}
	t.Cleanup(spawner.proc.Terminate)

	var got injection
	b := New(client, recordingInjector(&got),
		WithFs(fs),
		WithRandSource(fixedSource{}),
		WithSpawner(spawner.spawn),
	)

	res, err := b.Launch(context.Background(), Request{
		ExecutablePath: "/usr/bin/firefox",
		DataPath:       "/tmp/p1",
		URL:            "https://example.com",
		Family:         launcher.Gecko,
		Transport:      transport.Websocket,
		Extra:          42,
	})
	require.NoError(t, err)
	assert.Equal(t, "injected", res)

	for _, dir := range []string{"/tmp/p1/app/chrome/content", "/tmp/p1/app/defaults/preferences"} {
		ok, err := afero.DirExists(fs, dir)
		require.NoError(t, err)
		assert.True(t, ok, dir)
	}
	prefs, err := afero.ReadFile(fs, "/tmp/p1/app/defaults/preferences/prefs.js")
	require.NoError(t, err)
	assert.Contains(t, string(prefs), "https://example.com")

	require.Len(t, spawner.specs, 1)
	spec := spawner.specs[0]
	assert.Equal(t, "/usr/bin/firefox", spec.Path)
	assert.Equal(t, []string{
		"-app", "/tmp/p1/app/application.ini",
		"-profile", "/tmp/p1", "-new-instance",
		"--remote-debugging-port=10000",
	}, spec.Args)
	assert.False(t, spec.Pipes.Valid())

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, transport.Websocket, calls[0].Kind)
	assert.Equal(t, transport.MinPort, calls[0].Port)

	assert.Same(t, client.conn, got.conn)
	assert.Same(t, spawner.proc, got.proc)
	assert.Equal(t, api.DefaultRole, got.role)
	assert.Equal(t, 42, got.extra)
}

func TestLaunchChromiumStdio(t *testing.T) {
	t.Parallel()

	client := &fakeClient{conn: &fakeConn{}}
	spawner := &fakeSpawner{proc: newFakeProcess()}
	t.Cleanup(spawner.proc.Terminate)

	var got injection
	b := New(client, recordingInjector(&got), WithSpawner(spawner.spawn))

	_, err := b.Launch(context.Background(), Request{
		ExecutablePath: "/usr/bin/chromium",
		Family:         launcher.Chromium,
		Transport:      transport.Stdio,
		WindowSize:     &launcher.WindowSize{Width: 800, Height: 600},
		Args:           []string{"--headless"},
		Role:           "worker",
	})
	require.NoError(t, err)

	require.Len(t, spawner.specs, 1)
	spec := spawner.specs[0]
	assert.Equal(t, []string{"--headless", "--window-size=800,600", "--remote-debugging-pipe"}, spec.Args)
	require.True(t, spec.Pipes.Valid())

	calls := client.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, transport.Stdio, calls[0].Kind)
	// the client gets the very pipes the child was given.
	assert.Same(t, spec.Pipes.Writer(), calls[0].Pipes.Writer())
	assert.Same(t, spec.Pipes.Reader(), calls[0].Pipes.Reader())
	for i, f := range spec.Pipes.ChildFiles() {
		assert.Same(t, f, calls[0].Pipes.ChildFiles()[i])
	}
	assert.Equal(t, "worker", got.role)

	t.Cleanup(func() { _ = calls[0].Close() })
}

func TestLaunchMissingExecutable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
	}{
		{name: "nonexistent", path: "/nonexistent/cdpboot/browser"},
		{name: "not_in_PATH", path: "cdpboot-no-such-browser"},
		{name: "empty", path: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			client := &fakeClient{conn: &fakeConn{}}
			var got injection
			b := New(client, recordingInjector(&got))

			for _, kind := range []transport.Kind{transport.Websocket, transport.Stdio} {
				_, err := b.Launch(context.Background(), Request{
					ExecutablePath: tt.path,
					Family:         launcher.Chromium,
					Transport:      kind,
				})
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrSpawn)
				assert.ErrorIs(t, err, launcher.ErrExecutableNotFound)

				var berr *Error
				require.ErrorAs(t, err, &berr)
				assert.Equal(t, StageSpawn, berr.Stage)
				assert.Nil(t, berr.Process)
			}

			assert.Empty(t, client.calls(), "the protocol client must not be invoked")
			assert.Nil(t, got.conn)
		})
	}
}

func TestLaunchConnectTimeout(t *testing.T) {
	t.Parallel()

	client := &fakeClient{block: true}
	spawner := &fakeSpawner{proc: newFakeProcess()}
	t.Cleanup(spawner.proc.Terminate)

	b := New(client, recordingInjector(&injection{}),
		WithSpawner(spawner.spawn),
		WithTimeout(100*time.Millisecond),
	)

	start := time.Now()
	_, err := b.Launch(context.Background(), Request{ExecutablePath: "/usr/bin/chromium"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second)

	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out after 100ms")

	var berr *Error
	require.ErrorAs(t, err, &berr)
	assert.Same(t, spawner.proc, berr.Process)
	assert.True(t, berr.Process.Alive(), "the browser is left running")
}

func TestLaunchCanceled(t *testing.T) {
	t.Parallel()

	client := &fakeClient{block: true}
	spawner := &fakeSpawner{proc: newFakeProcess()}
	t.Cleanup(spawner.proc.Terminate)

	b := New(client, recordingInjector(&injection{}), WithSpawner(spawner.spawn))

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := b.Launch(ctx, Request{ExecutablePath: "/usr/bin/chromium"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLaunchProcessExitsDuringConnect(t *testing.T) {
	t.Parallel()

	client := &fakeClient{block: true}
	spawner := &fakeSpawner{proc: newFakeProcess()}
	time.AfterFunc(50*time.Millisecond, func() { spawner.proc.exit(1) })

	b := New(client, recordingInjector(&injection{}), WithSpawner(spawner.spawn))

	start := time.Now()
	_, err := b.Launch(context.Background(), Request{ExecutablePath: "/usr/bin/chromium"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 10*time.Second, "must not wait for the timeout")

	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, ErrProcessExited)
	assert.Contains(t, err.Error(), "exit code 1")
}

func TestLaunchConnectError(t *testing.T) {
	t.Parallel()

	connErr := errors.New("handshake failed")
	client := &fakeClient{err: connErr}
	spawner := &fakeSpawner{proc: newFakeProcess()}
	t.Cleanup(spawner.proc.Terminate)

	b := New(client, recordingInjector(&injection{}), WithSpawner(spawner.spawn))

	_, err := b.Launch(context.Background(), Request{ExecutablePath: "/usr/bin/chromium", Transport: transport.Stdio})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnect)
	assert.ErrorIs(t, err, connErr)
	assert.Equal(t, "connecting to browser: handshake failed", err.Error())
}

func TestLaunchInjectorError(t *testing.T) {
	t.Parallel()

	conn := &fakeConn{}
	client := &fakeClient{conn: conn}
	spawner := &fakeSpawner{proc: newFakeProcess()}
	t.Cleanup(spawner.proc.Terminate)

	injErr := errors.New("no thanks")
	injector := api.InjectorFunc(func(context.Context, api.Connection, api.Process, string, any) (any, error) {
		return nil, injErr
	})
	b := New(client, injector, WithSpawner(spawner.spawn))

	res, err := b.Launch(context.Background(), Request{ExecutablePath: "/usr/bin/chromium"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrInjector)
	assert.ErrorIs(t, err, injErr)
	assert.True(t, conn.isClosed())
}

func TestLaunchProfileError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{conn: &fakeConn{}}
	spawner := &fakeSpawner{proc: newFakeProcess()}

	b := New(client, recordingInjector(&injection{}),
		WithFs(afero.NewReadOnlyFs(afero.NewMemMapFs())),
		WithSpawner(spawner.spawn),
	)

	_, err := b.Launch(context.Background(), Request{
		ExecutablePath: "/usr/bin/firefox",
		DataPath:       "/tmp/p1",
		URL:            "https://example.com",
		Family:         launcher.Gecko,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFilesystem)
	assert.Empty(t, spawner.specs)
	assert.Empty(t, client.calls())
}

func TestLaunchSpawnError(t *testing.T) {
	t.Parallel()

	client := &fakeClient{conn: &fakeConn{}}
	spawnErr := errors.New("exec format error")
	spawner := &fakeSpawner{err: spawnErr}

	b := New(client, recordingInjector(&injection{}), WithSpawner(spawner.spawn))

	_, err := b.Launch(context.Background(), Request{ExecutablePath: "/usr/bin/chromium", Transport: transport.Stdio})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSpawn)
	assert.ErrorIs(t, err, spawnErr)
	assert.Empty(t, client.calls())
}

func TestLaunchMetrics(t *testing.T) {
	t.Parallel()

	m := metrics.RegisterLaunchMetrics(k6metrics.NewRegistry())
	out := make(chan k6metrics.SampleContainer, 16)

	spawner := &fakeSpawner{proc: newFakeProcess()}
	t.Cleanup(spawner.proc.Terminate)

	b := New(&fakeClient{conn: &fakeConn{}}, recordingInjector(&injection{}),
		WithFs(afero.NewMemMapFs()),
		WithSpawner(spawner.spawn),
		WithMetrics(metrics.NewRecorder(m, out, nil)),
	)
	_, err := b.Launch(context.Background(), Request{
		ExecutablePath: "/usr/bin/firefox",
		DataPath:       "/tmp/p1",
		Family:         launcher.Gecko,
	})
	require.NoError(t, err)

	_, err = b.Launch(context.Background(), Request{ExecutablePath: ""})
	require.Error(t, err)
	close(out)

	seen := map[string]int{}
	for sc := range out {
		for _, s := range sc.GetSamples() {
			seen[s.Metric.Name]++
		}
	}
	assert.Equal(t, map[string]int{
		m.ProfileDuration.Name: 1,
		m.SpawnDuration.Name:   1,
		m.ConnectDuration.Name: 1,
		m.InjectDuration.Name:  1,
		m.LaunchDuration.Name:  1,
		m.LaunchFailures.Name:  1,
	}, seen)
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	err := &Error{Stage: StageConnect, Err: context.DeadlineExceeded, Timeout: 30 * time.Second}
	assert.Equal(t, "connecting to browser: timed out after 30s", err.Error())

	err = &Error{Stage: StageSpawn, Err: context.Canceled}
	assert.Equal(t, "launching browser: canceled", err.Error())
	assert.True(t, errors.Is(err, ErrSpawn))
	assert.False(t, errors.Is(err, ErrConnect))

	assert.Equal(t, "profile", StageProfile.String())
	assert.Equal(t, "Stage(9)", Stage(9).String())
}

// TestHelperProcess isn't a real test. It's the fake browser the end to end
// tests launch.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	flag := os.Args[len(os.Args)-1]

	switch {
	case flag == transport.PipeFlag:
		_ = cdptest.ServePipe(os.NewFile(3, "commands"), os.NewFile(4, "responses"))
	case strings.HasPrefix(flag, transport.PortFlagPrefix):
		port, _ := strconv.Atoi(strings.TrimPrefix(flag, transport.PortFlagPrefix))
		l, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			os.Exit(3)
		}
		_ = http.Serve(l, cdptest.Handler(true)) //nolint:gosec
	default:
		os.Exit(2)
	}
	os.Exit(0)
}

func TestLaunchEndToEnd(t *testing.T) {
	t.Parallel()

	for _, kind := range []transport.Kind{transport.Stdio, transport.Websocket} {
		kind := kind
		t.Run(kind.String(), func(t *testing.T) {
			t.Parallel()

			type handed struct {
				version cdp.Version
				conn    api.Connection
				proc    api.Process
			}
			injector := api.InjectorFunc(func(ctx context.Context, conn api.Connection, proc api.Process, _ string, _ any) (any, error) {
				c, ok := conn.(*cdp.Client)
				if !ok {
					return nil, errors.New("unexpected connection type")
				}
				if _, err := c.Target.CreateTarget(ctx, "about:blank"); err != nil {
					return nil, err
				}
				return handed{version: c.Version(), conn: conn, proc: proc}, nil
			})

			b := New(cdp.NewDialer(log.NewNullLogger()), injector, WithTimeout(20*time.Second))
			res, err := b.Launch(context.Background(), Request{
				ExecutablePath: os.Args[0],
				Family:         launcher.Chromium,
				Transport:      kind,
				Args:           []string{"-test.run=TestHelperProcess", "--"},
				Env:            []string{"GO_WANT_HELPER_PROCESS=1"},
			})
			require.NoError(t, err)

			h, ok := res.(handed)
			require.True(t, ok)
			assert.Equal(t, cdptest.Product, h.version.Product)
			assert.True(t, h.proc.Alive())

			require.NoError(t, h.conn.Close())
			h.proc.Terminate()
			select {
			case <-h.proc.Done():
			case <-time.After(10 * time.Second):
				t.Fatal("browser didn't exit")
			}
		})
	}
}

func TestConnectPassesAnnouncedURL(t *testing.T) {
	t.Parallel()

	const wsURL = "ws://127.0.0.1:10000/devtools/browser/abc"

	client := &fakeClient{conn: &fakeConn{}}
	b := New(client, nil)
	h := transport.Handle{Kind: transport.Websocket, Port: 10000}

	_, err := b.Connect(context.Background(), h, &announcingProcess{fakeProcess: newFakeProcess(), url: wsURL})
	require.NoError(t, err)
	_, err = b.Connect(context.Background(), h, newFakeProcess())
	require.NoError(t, err)

	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Equal(t, []string{wsURL, ""}, client.announced)
}
