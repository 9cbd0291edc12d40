// Package inflate decompresses a zlib stream that arrives split across
// FLASH_DEFL_DATA packets.
package inflate

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zlib"
)

// ErrClosed is returned when a Stream is used after Finish or Close.
var ErrClosed = errors.New("inflate: stream closed")

// ErrTrailingData is returned when a chunk arrives after the zlib stream has
// ended. Bytes following the trailer within the same chunk are discarded.
var ErrTrailingData = errors.New("inflate: data after end of stream")

// Stream inflates a zlib stream chunk by chunk. The decoder runs in its own
// goroutine and is parked between calls, so a Stream is not safe for
// concurrent use.
type Stream struct {
	in   chan []byte
	idle chan struct{}
	done chan error

	out    bytes.Buffer
	exited bool
	closed bool
	err    error
}

// feeder hands chunks to the decoder goroutine and reports when it has
// consumed everything it was given.
type feeder struct {
	in      <-chan []byte
	idle    chan<- struct{}
	pending []byte
	eof     bool
}

func (f *feeder) Read(p []byte) (int, error) {
	for len(f.pending) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		f.idle <- struct{}{}
		chunk, ok := <-f.in
		if !ok {
			f.eof = true
			return 0, io.EOF
		}
		f.pending = chunk
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

// NewStream starts a decoder waiting for the first chunk.
func NewStream() *Stream {
	s := &Stream{
		in:   make(chan []byte),
		idle: make(chan struct{}),
		done: make(chan error, 1),
	}
	f := &feeder{in: s.in, idle: s.idle}

	go func() {
		zr, err := zlib.NewReader(f)
		if err != nil {
			s.done <- err
			return
		}
		s.done <- s.drain(zr)
	}()

	// The zlib header read parks the decoder before any input exists.
	s.wait()
	return s
}

// drain copies decoder output into s.out. It writes only between reads so
// the buffer is untouched while the decoder is parked waiting for input.
func (s *Stream) drain(zr io.ReadCloser) error {
	buf := make([]byte, 32*1024)
	for {
		n, err := zr.Read(buf)
		if n > 0 {
			s.out.Write(buf[:n])
		}
		if err == io.EOF {
			return zr.Close()
		}
		if err != nil {
			return err
		}
	}
}

// wait blocks until the decoder asks for more input or exits.
func (s *Stream) wait() {
	select {
	case <-s.idle:
	case err := <-s.done:
		s.exited = true
		s.err = err
	}
}

func (s *Stream) take() []byte {
	if s.out.Len() == 0 {
		return nil
	}
	out := make([]byte, s.out.Len())
	copy(out, s.out.Bytes())
	s.out.Reset()
	return out
}

// Inflate feeds one compressed chunk and returns the bytes it released.
// Output may lag input; Finish returns whatever is still buffered.
func (s *Stream) Inflate(chunk []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if s.exited {
		if s.err != nil {
			return nil, s.err
		}
		if len(chunk) > 0 {
			return nil, ErrTrailingData
		}
		return nil, nil
	}
	if len(chunk) == 0 {
		return nil, nil
	}

	s.in <- chunk
	s.wait()

	out := s.take()
	if s.exited && s.err != nil {
		return out, fmt.Errorf("inflate: %w", s.err)
	}
	return out, nil
}

// Finish signals end of input and returns the remaining output. It fails if
// the zlib stream is incomplete or corrupt.
func (s *Stream) Finish() ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	s.shutdown()
	s.closed = true

	out := s.take()
	if s.err != nil {
		return out, fmt.Errorf("inflate: %w", s.err)
	}
	return out, nil
}

// Close abandons the stream and stops the decoder.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.shutdown()
	s.closed = true
	s.out.Reset()
	return nil
}

func (s *Stream) shutdown() {
	if s.exited {
		return
	}
	close(s.in)
	s.err = <-s.done
	s.exited = true
}
