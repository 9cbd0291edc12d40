// Package transport carries whole stub packets between a host and the stub:
// SLIP frames over a byte stream such as a UART, or binary WebSocket
// messages.
package transport

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("transport: connection closed")
	// ErrBaudUnsupported is returned by SetBaudRate on links without a line
	// speed.
	ErrBaudUnsupported = errors.New("transport: baud rate change not supported")
)

// Conn moves packets. ReadPacket is called from one goroutine at a time;
// WritePacket may be called concurrently with it.
type Conn interface {
	ReadPacket(ctx context.Context) ([]byte, error)
	WritePacket(p []byte) error
	Close() error
}

// BaudSwitcher is implemented by links whose line speed can change at
// runtime.
type BaudSwitcher interface {
	SetBaudRate(baud int) error
}

// pumpDepth is how many packets a connection queues ahead of ReadPacket. A
// read stream with more packets in flight than this relies on the link's own
// buffering.
const pumpDepth = 64

// pump runs a blocking packet source on its own goroutine so reads can be
// abandoned through a context.
type pump struct {
	packets  chan []byte
	readDone chan struct{}
	done     chan struct{}
	once     sync.Once

	mu  sync.Mutex
	err error
}

func newPump() *pump {
	return &pump{
		packets:  make(chan []byte, pumpDepth),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// run calls next until it fails or the pump is closed. next returns nil,
// nil for input that should be skipped.
func (p *pump) run(next func() ([]byte, error)) {
	defer close(p.readDone)
	for {
		pkt, err := next()
		if err != nil {
			p.mu.Lock()
			p.err = err
			p.mu.Unlock()
			return
		}
		if pkt == nil {
			continue
		}
		select {
		case p.packets <- pkt:
		case <-p.done:
			return
		}
	}
}

func (p *pump) read(ctx context.Context) ([]byte, error) {
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	select {
	case pkt := <-p.packets:
		return pkt, nil
	case <-p.readDone:
		select {
		case pkt := <-p.packets:
			return pkt, nil
		default:
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return nil, p.err
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close reports whether this call closed the pump.
func (p *pump) close() bool {
	closed := false
	p.once.Do(func() {
		close(p.done)
		closed = true
	})
	return closed
}

func (p *pump) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}
