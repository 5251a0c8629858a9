package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cdpboot/cdpboot/api"
)

// Stage is a step of a browser launch.
type Stage int

// Launch stages, in the order they run.
const (
	StageProfile Stage = iota + 1
	StageTransport
	StageSpawn
	StageConnect
	StageInject
)

func (s Stage) String() string {
	switch s {
	case StageProfile:
		return "profile"
	case StageTransport:
		return "transport"
	case StageSpawn:
		return "spawn"
	case StageConnect:
		return "connect"
	case StageInject:
		return "inject"
	default:
		return "Stage(" + strconv.Itoa(int(s)) + ")"
	}
}

// Error kinds, matched with errors.Is against an *Error.
var (
	ErrFilesystem = errors.New("filesystem error")
	ErrTransport  = errors.New("transport error")
	ErrSpawn      = errors.New("spawn error")
	ErrConnect    = errors.New("connect error")
	ErrInjector   = errors.New("injector error")
)

// ErrProcessExited is reported when the browser exits before a connection
// to it is established.
var ErrProcessExited = errors.New("browser process ended unexpectedly")

func (s Stage) kind() error {
	switch s {
	case StageProfile:
		return ErrFilesystem
	case StageTransport:
		return ErrTransport
	case StageSpawn:
		return ErrSpawn
	case StageConnect:
		return ErrConnect
	case StageInject:
		return ErrInjector
	default:
		return nil
	}
}

func (s Stage) action() string {
	switch s {
	case StageProfile:
		return "building browser profile"
	case StageTransport:
		return "allocating transport"
	case StageSpawn:
		return "launching browser"
	case StageConnect:
		return "connecting to browser"
	case StageInject:
		return "handing off browser"
	default:
		return s.String()
	}
}

// Error is a failed launch.
type Error struct {
	Stage Stage
	Err   error
	// Process is the browser process, when the launch failed after it was
	// started. It's left running for the caller to deal with.
	Process api.Process
	// Timeout is the launch timeout in effect.
	Timeout time.Duration
}

func (e *Error) Error() string {
	return e.Stage.action() + ": " + userFriendlyError(e.Err, e.Timeout)
}

// Unwrap returns the error kind of the stage and the underlying error.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if k := e.Stage.kind(); k != nil {
		errs = append(errs, k)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func userFriendlyError(err error, timeout time.Duration) string {
	switch {
	default:
		return err.Error()
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		timedOut := "timed out"
		if timeout > 0 {
			timedOut = fmt.Sprintf("timed out after %s", timeout)
		}
		return strings.ReplaceAll(err.Error(), context.DeadlineExceeded.Error(), timedOut)
	case errors.Is(err, context.Canceled):
		return strings.ReplaceAll(err.Error(), context.Canceled.Error(), "canceled")
	}
}
