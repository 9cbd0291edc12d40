package stub

import (
	"crypto/md5"
	"errors"
	"fmt"
	"hash"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

var (
	// ErrNoReadFlow is returned when no READ_FLASH stream is open.
	ErrNoReadFlow = errors.New("stub: no read flow")
	// ErrWindowFull is returned by Next when max_in_flight packets are
	// unacknowledged.
	ErrWindowFull = errors.New("stub: read window full")
	// ErrReadPending is returned by FinishRead before the host acknowledged
	// the whole region.
	ErrReadPending = errors.New("stub: read flow not acknowledged")
	// ErrBadAck is returned for an acknowledgement that moves backwards or
	// past the bytes actually sent.
	ErrBadAck = errors.New("stub: bad read acknowledgement")
)

// ReadFlow paces a READ_FLASH stream. The stub sends up to MaxInFlight
// packets, then waits for the host to acknowledge with its cumulative byte
// count before sending more.
type ReadFlow struct {
	flash  Flash
	params protocol.ReadFlashParams

	sent    uint32
	acked   uint32
	packets uint32

	digest hash.Hash
	err    error
}

func newReadFlow(flash Flash, p protocol.ReadFlashParams) *ReadFlow {
	return &ReadFlow{
		flash:  flash,
		params: p,
		digest: md5.New(),
	}
}

// Params returns the READ_FLASH request this flow serves.
func (f *ReadFlow) Params() protocol.ReadFlashParams { return f.params }

// Sent is the number of bytes streamed so far.
func (f *ReadFlow) Sent() uint32 { return f.sent }

// Acked is the host's last acknowledged byte count.
func (f *ReadFlow) Acked() uint32 { return f.acked }

// Err returns the flash read fault that stopped the stream, if any.
func (f *ReadFlow) Err() error { return f.err }

// InFlight is the number of sent packets not yet covered by an ack.
func (f *ReadFlow) InFlight() uint32 {
	if f.acked >= f.sent {
		return 0
	}
	return f.packets - f.acked/f.params.PacketSize
}

// CanSend reports whether Next may be called now.
func (f *ReadFlow) CanSend() bool {
	return f.err == nil && f.sent < f.params.TotalSize && f.InFlight() < f.params.MaxInFlight
}

// Done reports whether the stream is over: either everything was sent and
// acknowledged, or a read fault stopped it.
func (f *ReadFlow) Done() bool {
	return f.err != nil || f.acked == f.params.TotalSize
}

// Next reads the next packet from flash.
func (f *ReadFlow) Next() ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	if !f.CanSend() {
		return nil, ErrWindowFull
	}

	n := f.params.TotalSize - f.sent
	if n > f.params.PacketSize {
		n = f.params.PacketSize
	}
	addr := f.params.Address + f.sent
	chunk, err := f.flash.Read(addr, n)
	if err == nil && uint32(len(chunk)) != n {
		err = fmt.Errorf("short read at 0x%08X: %d of %d bytes", addr, len(chunk), n)
	}
	if err != nil {
		f.err = err
		return nil, err
	}

	f.digest.Write(chunk)
	f.sent += n
	f.packets++
	return chunk, nil
}

// Ack records the host's cumulative received byte count.
func (f *ReadFlow) Ack(received uint32) error {
	if received < f.acked || received > f.sent {
		return fmt.Errorf("%w: %d (acked %d, sent %d)", ErrBadAck, received, f.acked, f.sent)
	}
	f.acked = received
	return nil
}

// Digest returns the MD5 of every byte sent so far.
func (f *ReadFlow) Digest() [md5.Size]byte {
	var sum [md5.Size]byte
	copy(sum[:], f.digest.Sum(nil))
	return sum
}

func (s *Stub) readFlash(c *protocol.ReadFlashCommand) Reply {
	resp := protocol.NewResponse(c.Code)
	p := c.Params

	if s.hw.Flash == nil {
		return Reply{Response: resp.Fail(protocol.ErrCmdNotImplemented)}
	}
	if p.PacketSize == 0 || p.PacketSize > s.cfg.MaxPacketSize {
		return Reply{Response: resp.Fail(protocol.ErrBadBlocksize)}
	}
	if p.TotalSize == 0 || p.MaxInFlight == 0 {
		return Reply{Response: resp.Fail(protocol.ErrBadDataLen)}
	}

	s.read = newReadFlow(s.hw.Flash, p)
	s.cfg.Logger.Debug("read flow started", "addr", p.Address, "size", p.TotalSize,
		"packet", p.PacketSize, "window", p.MaxInFlight)
	return Reply{Response: resp, Followup: FollowReadStream}
}

// ReadFlow returns the open READ_FLASH stream, or nil.
func (s *Stub) ReadFlow() *ReadFlow {
	return s.read
}

// FinishRead closes the open READ_FLASH stream and returns its closing
// response: the 16-byte MD5 of the streamed data, or ErrFlashRead after a
// read fault. A stream is finished exactly once.
func (s *Stub) FinishRead() (*protocol.Response, error) {
	f := s.read
	if f == nil {
		return nil, ErrNoReadFlow
	}
	if !f.Done() {
		return nil, ErrReadPending
	}
	s.read = nil

	resp := protocol.NewResponse(protocol.CmdReadFlash)
	if f.err != nil {
		s.cfg.Logger.Error("read flow failed", "sent", f.sent, "error", f.err)
		return resp.Fail(protocol.ErrFlashRead), nil
	}
	sum := f.Digest()
	resp.Data = sum[:]
	s.cfg.Logger.Info("read flow finished", "addr", f.params.Address, "bytes", f.sent)
	return resp, nil
}

// AbortRead drops the open READ_FLASH stream without a closing response.
func (s *Stub) AbortRead() {
	if s.read != nil {
		s.cfg.Logger.Info("read flow aborted", "sent", s.read.sent, "acked", s.read.acked)
		s.read = nil
	}
}
