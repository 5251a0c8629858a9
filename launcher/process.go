package launcher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cdpboot/cdpboot/log"
	"github.com/cdpboot/cdpboot/transport"
)

// ErrExecutableNotFound is returned by Spawn when the browser executable
// doesn't exist or can't be found in PATH.
var ErrExecutableNotFound = errors.New("browser executable not found")

// outputDrainTimeout bounds how long a finished process waits for the rest of
// its output to be logged before it's reported as done.
const outputDrainTimeout = 250 * time.Millisecond

// SpawnSpec describes a browser process to start.
type SpawnSpec struct {
	Path string
	Args []string
	// Env is appended to the environment of the current process.
	Env []string
	Dir string
	// Pipes, when valid, are handed to the child as its fourth and fifth
	// file descriptors.
	Pipes transport.PipePair
}

// Process is a running browser process.
type Process struct {
	cmd    *exec.Cmd
	logger *log.Logger

	done       chan struct{}
	outputDone chan struct{}

	mu       sync.Mutex
	exitCode int
	waitErr  error
	output   outputParser

	terminate sync.Once
}

// Spawn starts the browser described by spec. The process is killed when
// ctx is done, and on Linux when the current process dies.
//
// Standard output and error of the browser are logged line by line under
// the browser:stdout and browser:stderr categories.
func Spawn(ctx context.Context, spec SpawnSpec, logger *log.Logger) (*Process, error) {
	if spec.Path == "" {
		return nil, fmt.Errorf("%w: no path given", ErrExecutableNotFound)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	cmd := exec.CommandContext(ctx, spec.Path, spec.Args...) //nolint:gosec
	killAfterParent(cmd)

	// Set up environment variable for process
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	cmd.Dir = spec.Dir
	if spec.Pipes.Valid() {
		cmd.ExtraFiles = spec.Pipes.ChildFiles()
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("piping stdout: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		_ = stdoutR.Close()
		_ = stdoutW.Close()
		return nil, fmt.Errorf("piping stderr: %w", err)
	}
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	startErr := cmd.Start()
	// the child has its own copies now.
	_ = stdoutW.Close()
	_ = stderrW.Close()
	if startErr != nil {
		_ = stdoutR.Close()
		_ = stderrR.Close()
		return nil, startError(ctx, spec.Path, startErr)
	}
	if spec.Pipes.Valid() {
		if err := spec.Pipes.CloseChildEnds(); err != nil {
			logger.Warnf("launcher:Spawn", "closing child pipe ends: %v", err)
		}
	}

	p := &Process{
		cmd:        cmd,
		logger:     logger,
		done:       make(chan struct{}),
		outputDone: make(chan struct{}),
	}
	logger.Debugf("launcher:Spawn", "pid:%d path:%q args:%q", p.Pid(), spec.Path, spec.Args)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.forward(stdoutR, "browser:stdout", false)
	}()
	go func() {
		defer wg.Done()
		p.forward(stderrR, "browser:stderr", true)
	}()
	go func() {
		wg.Wait()
		close(p.outputDone)
	}()
	go p.wait()

	return p, nil
}

func startError(ctx context.Context, path string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s: %w", ErrExecutableNotFound, path, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("starting browser: %w", ctx.Err())
	}
	return fmt.Errorf("starting browser executable %q: %w", path, err)
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	select {
	case <-p.outputDone:
	case <-time.After(outputDrainTimeout):
	}

	code := -1
	if p.cmd.ProcessState != nil {
		code = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Lock()
	p.exitCode = code
	p.waitErr = err
	p.mu.Unlock()

	if err != nil {
		p.logger.Debugf("launcher:wait", "process with PID %d ended: %v", p.Pid(), err)
	} else {
		p.logger.Debugf("launcher:wait", "process with PID %d exited", p.Pid())
	}
	close(p.done)
}

func (p *Process) forward(r io.ReadCloser, category string, parse bool) {
	defer func() { _ = r.Close() }()

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if parse {
			p.mu.Lock()
			p.output.parse(line)
			p.mu.Unlock()
		}
		p.logger.Debugf(category, "%s", line)
	}
	if err := sc.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		p.logger.Debugf(category, "reading output: %v", err)
	}
}

// Pid returns the browser process ID.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Alive reports whether the process is still running.
func (p *Process) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// ExitCode returns the exit code of the process. The second value is false
// while the process is still running. A process killed by a signal has
// exit code -1.
func (p *Process) ExitCode() (int, bool) {
	if p.Alive() {
		return 0, false
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.exitCode, true
}

// Err returns the error the process ended with, if any.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.waitErr
}

// Terminate kills the process. It's safe to call more than once.
func (p *Process) Terminate() {
	p.terminate.Do(func() {
		if !p.Alive() {
			return
		}
		p.logger.Debugf("launcher:Terminate", "killing pid:%d", p.Pid())
		if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warnf("launcher:Terminate", "killing pid %d: %v", p.Pid(), err)
		}
	})
}

// DevToolsURL returns the websocket address the browser announced on its
// standard error, if it did.
func (p *Process) DevToolsURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.output.url
}

// Diagnostic returns the first error the browser reported on its standard
// error, or nil.
func (p *Process) Diagnostic() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.output.errs) == 0 {
		return nil
	}
	return p.output.errs[0]
}

// outputParser picks the DevTools address and error reports out of the
// browser's standard error.
type outputParser struct {
	url  string
	errs []error
}

func (o *outputParser) parse(line string) {
	const urlPrefix = "DevTools listening on "

	if strings.HasPrefix(line, urlPrefix) {
		o.url = strings.TrimPrefix(strings.TrimSpace(line), urlPrefix)
	}
	if strings.Contains(line, ":ERROR:") {
		if i := strings.Index(line, "] "); i > 0 {
			o.errs = append(o.errs, errors.New(line[i+2:]))
		}
	}
}
