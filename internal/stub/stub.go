// Package stub implements the command side of the flasher stub: it decodes
// request packets, drives the flash-write session and the READ_FLASH flow
// controller, calls the hardware collaborators and builds exactly one
// response per request.
package stub

import (
	"encoding/hex"
	"errors"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

// Followup is an action the serve loop performs after the response has been
// flushed to the host.
type Followup int

const (
	FollowNone Followup = iota
	// FollowSwitchBaud changes the line rate to Reply.Baud.
	FollowSwitchBaud
	// FollowReboot restarts the chip into user code.
	FollowReboot
	// FollowJump transfers control to Reply.Entrypoint.
	FollowJump
	// FollowReadStream pumps the open ReadFlow.
	FollowReadStream
)

func (f Followup) String() string {
	switch f {
	case FollowNone:
		return "none"
	case FollowSwitchBaud:
		return "switch-baud"
	case FollowReboot:
		return "reboot"
	case FollowJump:
		return "jump"
	case FollowReadStream:
		return "read-stream"
	}
	return "unknown"
}

// Reply is the outcome of one request.
type Reply struct {
	Response   *protocol.Response
	Followup   Followup
	Baud       uint32
	Entrypoint uint32
}

// Stub dispatches requests. It owns the single flash session and the single
// read flow, and is not safe for concurrent use.
type Stub struct {
	hw  Hardware
	cfg Config

	session *flashSession
	read    *ReadFlow
}

// New creates a Stub over the given hardware.
func New(hw Hardware, opts ...Option) *Stub {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Stub{hw: hw, cfg: cfg}
}

// InSession reports whether a BEGIN transfer is open.
func (s *Stub) InSession() bool {
	return s.session != nil
}

// Handle processes one unframed request packet.
func (s *Stub) Handle(packet []byte) Reply {
	// The host only sends a new command once it has given up on, or
	// finished, a read stream.
	s.AbortRead()

	cmd, err := protocol.DecodeCommand(packet)
	if err != nil {
		code := protocol.PeekCode(packet)
		var perr protocol.Error
		if !errors.As(err, &perr) {
			perr = protocol.ErrInvalidCommand
		}
		s.cfg.Logger.Error("bad request", "cmd", protocol.CommandName(code), "error", perr)
		if isDataCode(code) {
			s.abortSession()
		}
		return Reply{Response: protocol.NewResponse(code).Fail(perr)}
	}

	reply := s.dispatch(cmd)
	if r := reply.Response; !r.IsSuccess() {
		s.cfg.Logger.Error("command failed",
			"cmd", protocol.CommandName(r.Command), "error", protocol.Error(r.Error))
	}
	return reply
}

func (s *Stub) dispatch(cmd protocol.Command) Reply {
	switch c := cmd.(type) {
	case *protocol.SyncCommand:
		return reply(s.sync(c))
	case *protocol.BeginCommand:
		return reply(s.begin(c))
	case *protocol.DataCommand:
		return reply(s.data(c))
	case *protocol.FlashEndCommand:
		return s.flashEnd(c)
	case *protocol.MemEndCommand:
		return s.memEnd(c)
	case *protocol.WriteRegCommand:
		return reply(s.writeReg(c))
	case *protocol.ReadRegCommand:
		return reply(s.readReg(c))
	case *protocol.SpiSetParamsCommand:
		return reply(s.spiSetParams(c))
	case *protocol.SpiAttachCommand:
		return reply(s.spiAttach(c))
	case *protocol.ChangeBaudrateCommand:
		return Reply{
			Response: protocol.NewResponse(c.Code),
			Followup: FollowSwitchBaud,
			Baud:     c.New,
		}
	case *protocol.SpiFlashMD5Command:
		return reply(s.flashMD5(c))
	case *protocol.EraseRegionCommand:
		return reply(s.eraseRegion(c))
	case *protocol.ReadFlashCommand:
		return s.readFlash(c)
	case *protocol.EmptyCommand:
		return s.empty(c)
	}
	return reply(protocol.NewResponse(cmd.Base().Code).Fail(protocol.ErrInvalidCommand))
}

func reply(resp *protocol.Response) Reply {
	return Reply{Response: resp}
}

func (s *Stub) sync(c *protocol.SyncCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)
	if !c.Valid() {
		return resp.Fail(protocol.ErrInvalidCommand)
	}
	return resp
}

func (s *Stub) writeReg(c *protocol.WriteRegCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)
	if s.hw.Registers == nil {
		return resp.Fail(protocol.ErrCmdNotImplemented)
	}
	s.hw.Registers.WriteReg(c.Address, c.Value, c.Mask, c.DelayUS)
	return resp
}

func (s *Stub) readReg(c *protocol.ReadRegCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)
	if s.hw.Registers == nil {
		return resp.Fail(protocol.ErrCmdNotImplemented)
	}
	resp.Value = s.hw.Registers.ReadReg(c.Address)
	return resp
}

func (s *Stub) spiSetParams(c *protocol.SpiSetParamsCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)
	if s.hw.SPI == nil {
		return resp.Fail(protocol.ErrCmdNotImplemented)
	}
	if err := s.hw.SPI.SetParams(c.Params); err != nil {
		s.cfg.Logger.Error("spi set params failed", "error", err)
		return resp.Fail(protocol.ErrFailedSpiOp)
	}
	return resp
}

func (s *Stub) spiAttach(c *protocol.SpiAttachCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)
	if s.hw.SPI == nil {
		return resp.Fail(protocol.ErrCmdNotImplemented)
	}
	if err := s.hw.SPI.Attach(c.Pins); err != nil {
		s.cfg.Logger.Error("spi attach failed", "error", err)
		return resp.Fail(protocol.ErrFailedSpiOp)
	}
	return resp
}

// flashMD5 answers with the digest as 32 lowercase hex characters.
func (s *Stub) flashMD5(c *protocol.SpiFlashMD5Command) *protocol.Response {
	resp := protocol.NewResponse(c.Code)
	if s.hw.Flash == nil {
		return resp.Fail(protocol.ErrCmdNotImplemented)
	}
	sum, err := s.hw.Flash.MD5(c.Address, c.Size)
	if err != nil {
		s.cfg.Logger.Error("flash md5 failed", "addr", c.Address, "size", c.Size, "error", err)
		return resp.Fail(protocol.ErrFailedSpiOp)
	}
	resp.Data = []byte(hex.EncodeToString(sum[:]))
	return resp
}

func (s *Stub) eraseRegion(c *protocol.EraseRegionCommand) *protocol.Response {
	resp := protocol.NewResponse(c.Code)
	if s.hw.Flash == nil {
		return resp.Fail(protocol.ErrCmdNotImplemented)
	}
	mask := s.cfg.SectorSize - 1
	if c.Address&mask != 0 {
		return resp.Fail(protocol.ErrEraseAddrAlignment)
	}
	if c.Size&mask != 0 {
		return resp.Fail(protocol.ErrEraseSizeAlignment)
	}
	if err := s.hw.Flash.Erase(c.Address, c.Size); err != nil {
		s.cfg.Logger.Error("erase region failed", "addr", c.Address, "size", c.Size, "error", err)
		return resp.Fail(protocol.ErrFailedSpiOp)
	}
	return resp
}

func (s *Stub) empty(c *protocol.EmptyCommand) Reply {
	resp := protocol.NewResponse(c.Code)

	switch c.Code {
	case protocol.CmdGetSecurityInfo:
		if s.hw.Identity == nil {
			return reply(resp.Fail(protocol.ErrCmdNotImplemented))
		}
		info, err := s.hw.Identity.SecurityInfo()
		if err != nil {
			s.cfg.Logger.Error("security info failed", "error", err)
			return reply(resp.Fail(protocol.ErrFailedSpiOp))
		}
		resp.Data = info
		return reply(resp)

	case protocol.CmdEraseFlash:
		if s.hw.Flash == nil {
			return reply(resp.Fail(protocol.ErrCmdNotImplemented))
		}
		if err := s.hw.Flash.EraseChip(); err != nil {
			s.cfg.Logger.Error("chip erase failed", "error", err)
			return reply(resp.Fail(protocol.ErrEraseFailed))
		}
		return reply(resp)

	case protocol.CmdRunUserCode:
		return Reply{Response: resp, Followup: FollowReboot}
	}

	return reply(resp.Fail(protocol.ErrInvalidCommand))
}

// isDataCode reports whether code carries a transfer's DATA packet. A
// malformed one still ends the transfer it was meant for.
func isDataCode(code byte) bool {
	switch code {
	case protocol.CmdFlashData, protocol.CmdFlashDeflData, protocol.CmdMemData, protocol.CmdFlashEncryptedData:
		return true
	}
	return false
}
