package stub

import "github.com/bigbag/papyrix-stub/internal/protocol"

// family groups the BEGIN/DATA/END codes of one transfer kind.
type family int

const (
	familyFlash family = iota
	familyDeflate
	familyMem
)

func (f family) String() string {
	switch f {
	case familyFlash:
		return "flash"
	case familyDeflate:
		return "deflate"
	case familyMem:
		return "mem"
	}
	return "unknown"
}

func beginFamily(code byte) family {
	switch code {
	case protocol.CmdFlashDeflBegin:
		return familyDeflate
	case protocol.CmdMemBegin:
		return familyMem
	}
	return familyFlash
}

func dataFamily(code byte) family {
	switch code {
	case protocol.CmdFlashDeflData:
		return familyDeflate
	case protocol.CmdMemData:
		return familyMem
	}
	return familyFlash
}

func endFamily(code byte) family {
	switch code {
	case protocol.CmdFlashDeflEnd:
		return familyDeflate
	case protocol.CmdMemEnd:
		return familyMem
	}
	return familyFlash
}

// flashSession is an open BEGIN/DATA/END transfer.
type flashSession struct {
	family      family
	totalSize   uint32
	packetCount uint32
	packetSize  uint32
	offset      uint32

	// received counts accepted DATA packets and is the next expected
	// sequence number.
	received uint32
	// written counts bytes handed to the flash or memory collaborator. For
	// deflate sessions these are inflated bytes.
	written uint32

	inflater Inflater
}

func (s *flashSession) close() {
	if s.inflater != nil {
		s.inflater.Close()
		s.inflater = nil
	}
}

// complete reports whether every declared packet and byte has arrived.
func (s *flashSession) complete() bool {
	return s.received == s.packetCount && s.written == s.totalSize
}

// abortSession drops the open transfer, if any.
func (s *Stub) abortSession() {
	if s.session != nil {
		s.session.close()
		s.session = nil
	}
}

// takeSession detaches the open transfer so END discards it on every path.
func (s *Stub) takeSession() *flashSession {
	sess := s.session
	s.session = nil
	return sess
}

func (s *Stub) begin(c *protocol.BeginCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)

	// A new BEGIN always discards the previous transfer, even when it is
	// rejected below.
	s.abortSession()

	if c.PacketSize == 0 || c.PacketSize > s.cfg.MaxPacketSize {
		return resp.Fail(protocol.ErrBadBlocksize)
	}
	if c.TotalSize == 0 || c.PacketCount == 0 {
		return resp.Fail(protocol.ErrBadDataLen)
	}

	sess := &flashSession{
		family:      beginFamily(c.Code),
		totalSize:   c.TotalSize,
		packetCount: c.PacketCount,
		packetSize:  c.PacketSize,
		offset:      c.Offset,
	}

	switch sess.family {
	case familyFlash, familyDeflate:
		if s.hw.Flash == nil {
			return resp.Fail(protocol.ErrCmdNotImplemented)
		}
		if err := s.hw.Flash.Unlock(); err != nil {
			s.cfg.Logger.Error("flash unlock failed", "error", err)
			return resp.Fail(protocol.ErrFailedSpiUnlock)
		}
		addr, size := s.eraseRange(c.Offset, c.TotalSize)
		if err := s.hw.Flash.Erase(addr, size); err != nil {
			s.cfg.Logger.Error("flash erase failed", "addr", addr, "size", size, "error", err)
			return resp.Fail(protocol.ErrFailedSpiOp)
		}
		if sess.family == familyDeflate {
			if s.hw.NewInflater == nil {
				return resp.Fail(protocol.ErrCmdNotImplemented)
			}
			sess.inflater = s.hw.NewInflater()
		}
	case familyMem:
		if s.hw.Memory == nil {
			return resp.Fail(protocol.ErrCmdNotImplemented)
		}
	}

	s.session = sess
	s.cfg.Logger.Debug("transfer started", "family", sess.family,
		"offset", c.Offset, "size", c.TotalSize, "packets", c.PacketCount)
	return resp
}

// eraseRange widens [offset, offset+size) to whole sectors.
func (s *Stub) eraseRange(offset, size uint32) (uint32, uint32) {
	mask := s.cfg.SectorSize - 1
	start := offset &^ mask
	end := (uint64(offset) + uint64(size) + uint64(mask)) &^ uint64(mask)
	return start, uint32(end - uint64(start))
}

func (s *Stub) data(c *protocol.DataCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)

	if c.Code == protocol.CmdFlashEncryptedData {
		s.abortSession()
		return resp.Fail(protocol.ErrCmdNotImplemented)
	}

	sess := s.session
	if sess == nil || sess.family != dataFamily(c.Code) {
		s.abortSession()
		return resp.Fail(protocol.ErrNotInFlashMode)
	}

	if e := s.acceptData(sess, c); e != 0 {
		s.abortSession()
		return resp.Fail(e)
	}
	return resp
}

// acceptData validates and writes one DATA packet. It returns 0 on success.
func (s *Stub) acceptData(sess *flashSession, c *protocol.DataCommand) protocol.Error {
	payload := c.Payload
	size := uint32(len(payload))

	if !protocol.VerifyChecksum(payload, c.Checksum) {
		return protocol.ErrBadDataChecksum
	}
	if c.Sequence != sess.received {
		return protocol.ErrBadDataLen
	}
	if sess.received >= sess.packetCount || size > sess.packetSize {
		return protocol.ErrTooMuchData
	}

	switch sess.family {
	case familyFlash, familyMem:
		if uint64(sess.written)+uint64(size) > uint64(sess.totalSize) {
			return protocol.ErrTooMuchData
		}
		addr := sess.offset + c.Sequence*sess.packetSize
		var err error
		if sess.family == familyFlash {
			err = s.hw.Flash.Write(addr, payload)
		} else {
			err = s.hw.Memory.WriteMem(addr, payload)
		}
		if err != nil {
			s.cfg.Logger.Error("write failed", "family", sess.family, "addr", addr, "error", err)
			return protocol.ErrFailedSpiOp
		}
		sess.written += size

	case familyDeflate:
		out, err := sess.inflater.Inflate(payload)
		if err != nil {
			s.cfg.Logger.Error("inflate failed", "seq", c.Sequence, "error", err)
			return protocol.ErrInflate
		}
		if e := s.writeInflated(sess, out); e != 0 {
			return e
		}
	}

	sess.received++
	return 0
}

func (s *Stub) writeInflated(sess *flashSession, out []byte) protocol.Error {
	if len(out) == 0 {
		return 0
	}
	if uint64(sess.written)+uint64(len(out)) > uint64(sess.totalSize) {
		return protocol.ErrTooMuchData
	}
	addr := sess.offset + sess.written
	if err := s.hw.Flash.Write(addr, out); err != nil {
		s.cfg.Logger.Error("write failed", "family", sess.family, "addr", addr, "error", err)
		return protocol.ErrFailedSpiOp
	}
	sess.written += uint32(len(out))
	return 0
}

func (s *Stub) flashEnd(c *protocol.FlashEndCommand) Reply {
	resp := protocol.NewResponse(c.Code)

	sess := s.takeSession()
	if sess == nil || sess.family != endFamily(c.Code) {
		if sess != nil {
			sess.close()
		}
		return Reply{Response: resp.Fail(protocol.ErrNotInFlashMode)}
	}
	defer sess.close()

	if sess.family == familyDeflate {
		tail, err := sess.inflater.Finish()
		if err != nil {
			s.cfg.Logger.Error("inflate failed at end", "error", err)
			return Reply{Response: resp.Fail(protocol.ErrInflate)}
		}
		if e := s.writeInflated(sess, tail); e != 0 {
			return Reply{Response: resp.Fail(e)}
		}
	}

	if !sess.complete() {
		s.cfg.Logger.Error("transfer incomplete", "family", sess.family,
			"packets", sess.received, "want_packets", sess.packetCount,
			"bytes", sess.written, "want_bytes", sess.totalSize)
		return Reply{Response: resp.Fail(protocol.ErrNotEnoughData)}
	}

	s.cfg.Logger.Info("transfer finished", "family", sess.family,
		"offset", sess.offset, "bytes", sess.written)

	reply := Reply{Response: resp}
	if c.ShouldReboot() {
		reply.Followup = FollowReboot
	}
	return reply
}

func (s *Stub) memEnd(c *protocol.MemEndCommand) Reply {
	resp := protocol.NewResponse(c.Code)

	sess := s.takeSession()
	if sess == nil || sess.family != familyMem {
		if sess != nil {
			sess.close()
		}
		return Reply{Response: resp.Fail(protocol.ErrNotInFlashMode)}
	}
	if !sess.complete() {
		return Reply{Response: resp.Fail(protocol.ErrNotEnoughData)}
	}

	reply := Reply{Response: resp}
	if c.StayInStub == 0 {
		reply.Followup = FollowJump
		reply.Entrypoint = c.Entrypoint
	}
	return reply
}
