package transport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bigbag/papyrix-stub/internal/slip"
)

// Stream frames packets with SLIP over a byte stream. Garbled frames are
// dropped and counted; the link resynchronises on the next END.
type Stream struct {
	rw   io.ReadWriteCloser
	pump *pump

	wmu sync.Mutex

	mu      sync.Mutex
	dropped int
}

// NewStream starts reading frames from rw. A maxFrame of 0 selects
// slip.MaxFrameSize.
func NewStream(rw io.ReadWriteCloser, maxFrame int) *Stream {
	s := &Stream{rw: rw, pump: newPump()}
	r := slip.NewReader(rw, maxFrame)
	go s.pump.run(func() ([]byte, error) {
		frame, err := r.ReadFrame()
		if errors.Is(err, slip.ErrBadEscape) || errors.Is(err, slip.ErrFrameTooLarge) {
			s.mu.Lock()
			s.dropped++
			s.mu.Unlock()
			return nil, nil
		}
		return frame, err
	})
	return s
}

// ReadPacket returns the next frame's payload.
func (s *Stream) ReadPacket(ctx context.Context) ([]byte, error) {
	return s.pump.read(ctx)
}

// WritePacket sends p as one frame.
func (s *Stream) WritePacket(p []byte) error {
	if s.pump.isClosed() {
		return ErrClosed
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	_, err := s.rw.Write(slip.Encode(p))
	return err
}

// SetBaudRate changes the line speed when the underlying stream supports it.
func (s *Stream) SetBaudRate(baud int) error {
	bs, ok := s.rw.(BaudSwitcher)
	if !ok {
		return ErrBaudUnsupported
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return bs.SetBaudRate(baud)
}

// Dropped returns how many garbled frames were discarded.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close closes the underlying stream.
func (s *Stream) Close() error {
	if !s.pump.close() {
		return nil
	}
	return s.rw.Close()
}
