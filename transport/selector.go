package transport

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Inclusive range websocket debugging ports are picked from.
const (
	MinPort = 10000
	MaxPort = 60000
)

// RandSource is the source of randomness for port selection.
// *rand.Rand satisfies it.
type RandSource interface {
	Intn(n int) int
}

// Selector allocates transport handles.
type Selector struct {
	mu  sync.Mutex
	src RandSource
}

// NewSelector returns a Selector drawing ports from src. A nil src means a
// time seeded math/rand source.
func NewSelector(src RandSource) *Selector {
	if src == nil {
		src = rand.New(rand.NewSource(time.Now().UnixNano())) //nolint:gosec
	}
	return &Selector{src: src}
}

// Select allocates a handle of the given kind.
//
// Websocket ports are drawn uniformly from [MinPort, MaxPort] without
// checking whether they're free on the host; a taken port surfaces later as
// a failed connection.
func (s *Selector) Select(kind Kind) (Handle, error) {
	switch kind {
	case Websocket:
		return Handle{Kind: Websocket, Port: s.port()}, nil
	case Stdio:
		pipes, err := NewPipePair()
		if err != nil {
			return Handle{}, err
		}
		return Handle{Kind: Stdio, Pipes: pipes}, nil
	default:
		return Handle{}, fmt.Errorf("unsupported transport: %v", kind)
	}
}

func (s *Selector) port() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return MinPort + s.src.Intn(MaxPort-MinPort+1)
}
