package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// CommandPipe carries CDP commands from the parent to the browser.
// The parent owns the write end; the child owns the read end.
type CommandPipe struct {
	parent *os.File
	child  *os.File
}

// ResponsePipe carries CDP responses and events from the browser back to the
// parent. The parent owns the read end; the child owns the write end.
type ResponsePipe struct {
	parent *os.File
	child  *os.File
}

// PipePair is the pair of pipes a browser started with
// --remote-debugging-pipe talks CDP over.
type PipePair struct {
	Commands  CommandPipe
	Responses ResponsePipe
}

// NewPipePair allocates both pipes.
func NewPipePair() (PipePair, error) {
	cr, cw, err := os.Pipe()
	if err != nil {
		return PipePair{}, fmt.Errorf("creating command pipe: %w", err)
	}
	rr, rw, err := os.Pipe()
	if err != nil {
		_ = cr.Close()
		_ = cw.Close()
		return PipePair{}, fmt.Errorf("creating response pipe: %w", err)
	}

	return PipePair{
		Commands:  CommandPipe{parent: cw, child: cr},
		Responses: ResponsePipe{parent: rr, child: rw},
	}, nil
}

// ChildFiles returns the child's ends in the order the browser expects them
// after its standard streams: the command reader first, then the response
// writer. It's meant for exec.Cmd.ExtraFiles.
func (p PipePair) ChildFiles() []*os.File {
	return []*os.File{p.Commands.child, p.Responses.child}
}

// CloseChildEnds closes the parent's copies of the child's ends. It must be
// called once the child has been started, so the parent sees EOF when the
// child exits.
func (p PipePair) CloseChildEnds() error {
	return closeAll(p.Commands.child, p.Responses.child)
}

// Writer returns the end the parent writes commands to.
func (p PipePair) Writer() io.WriteCloser { return p.Commands.parent }

// Reader returns the end the parent reads responses from.
func (p PipePair) Reader() io.ReadCloser { return p.Responses.parent }

// Valid reports whether both pipes have been allocated.
func (p PipePair) Valid() bool {
	return p.Commands.parent != nil && p.Commands.child != nil &&
		p.Responses.parent != nil && p.Responses.child != nil
}

// Close closes every end of both pipes.
func (p PipePair) Close() error {
	return closeAll(p.Commands.parent, p.Commands.child, p.Responses.parent, p.Responses.child)
}

func closeAll(files ...*os.File) error {
	var errs []error
	for _, f := range files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
