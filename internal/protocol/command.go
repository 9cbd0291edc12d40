package protocol

import (
	"bytes"
	"encoding/binary"
)

// Header is the fixed 8-byte prefix of every request packet:
//
//	0: direction (0x00 = request)
//	1: command
//	2-3: body size (little-endian)
//	4-7: checksum (little-endian, only meaningful for DATA commands)
type Header struct {
	Direction byte
	Code      byte
	Size      uint16
	Checksum  uint32
}

// Base returns the request header.
func (h Header) Base() Header { return h }

func (Header) command() {}

// Command is a decoded request. The concrete type is one of the *Command
// structs in this file; the set is closed.
type Command interface {
	Base() Header
	command()
}

// SyncCommand carries the fixed sync pattern.
type SyncCommand struct {
	Header
	Payload [SyncSize]byte
}

// Valid reports whether the payload is exactly the sync pattern.
func (c *SyncCommand) Valid() bool {
	return bytes.Equal(c.Payload[:], SyncData())
}

// BeginCommand opens a FLASH, FLASH_DEFL or MEM transfer.
type BeginCommand struct {
	Header
	TotalSize   uint32
	PacketCount uint32
	PacketSize  uint32
	Offset      uint32
}

// DataCommand carries one packet of a transfer. Payload aliases the decoded
// buffer.
type DataCommand struct {
	Header
	DataSize uint32
	Sequence uint32
	Reserved [2]uint32
	Payload  []byte
}

// FlashEndCommand closes a FLASH or FLASH_DEFL transfer.
type FlashEndCommand struct {
	Header
	// 0 means reboot, anything else stays in the loader. Unexported so
	// callers go through ShouldReboot.
	runUserCode uint32
}

// ShouldReboot reports whether the host asked for a reboot after the write.
// The raw field is inverted: 0 means reboot.
func (c *FlashEndCommand) ShouldReboot() bool {
	return c.runUserCode == 0
}

// MemEndCommand closes a MEM transfer and optionally hands control to
// Entrypoint.
type MemEndCommand struct {
	Header
	StayInStub uint32
	Entrypoint uint32
}

// WriteRegCommand writes a masked value to a register.
type WriteRegCommand struct {
	Header
	Address uint32
	Value   uint32
	Mask    uint32
	DelayUS uint32
}

// ReadRegCommand reads a register.
type ReadRegCommand struct {
	Header
	Address uint32
}

// SpiParams describes the geometry of the attached SPI flash chip.
type SpiParams struct {
	ID         uint32
	TotalSize  uint32
	BlockSize  uint32
	SectorSize uint32
	PageSize   uint32
	StatusMask uint32
}

// SpiSetParamsCommand sets the flash chip geometry.
type SpiSetParamsCommand struct {
	Header
	Params SpiParams
}

// SpiPins holds the SPI pin assignment. All zero selects the default pins.
type SpiPins struct {
	CLK byte
	Q   byte
	D   byte
	HD  byte
	CS  byte
}

// SpiAttachCommand attaches the SPI flash.
type SpiAttachCommand struct {
	Header
	Pins SpiPins
}

// ChangeBaudrateCommand asks the loader to switch baud rate once the
// response has been sent. Old is 0 when talking to the ROM loader.
type ChangeBaudrateCommand struct {
	Header
	New uint32
	Old uint32
}

// SpiFlashMD5Command asks for the MD5 of a flash region.
type SpiFlashMD5Command struct {
	Header
	Address  uint32
	Size     uint32
	Reserved [2]uint32
}

// EraseRegionCommand erases a sector aligned flash region.
type EraseRegionCommand struct {
	Header
	Address uint32
	Size    uint32
}

// ReadFlashParams configures a streamed flash read.
type ReadFlashParams struct {
	Address     uint32
	TotalSize   uint32
	PacketSize  uint32
	MaxInFlight uint32
}

// ReadFlashCommand starts a streamed flash read.
type ReadFlashCommand struct {
	Header
	Params ReadFlashParams
}

// EmptyCommand is a command without a body (GET_SECURITY_INFO, ERASE_FLASH,
// RUN_USER_CODE).
type EmptyCommand struct {
	Header
}

type shape int

const (
	shapeSync shape = iota
	shapeBegin
	shapeData
	shapeFlashEnd
	shapeMemEnd
	shapeWriteReg
	shapeReadReg
	shapeSpiSetParams
	shapeSpiAttach
	shapeChangeBaudrate
	shapeSpiFlashMD5
	shapeEraseRegion
	shapeReadFlash
	shapeEmpty
)

func shapeOf(code byte) (shape, bool) {
	switch code {
	case CmdSync:
		return shapeSync, true
	case CmdFlashBegin, CmdFlashDeflBegin, CmdMemBegin:
		return shapeBegin, true
	case CmdFlashData, CmdFlashDeflData, CmdMemData, CmdFlashEncryptedData:
		return shapeData, true
	case CmdFlashEnd, CmdFlashDeflEnd:
		return shapeFlashEnd, true
	case CmdMemEnd:
		return shapeMemEnd, true
	case CmdWriteReg:
		return shapeWriteReg, true
	case CmdReadReg:
		return shapeReadReg, true
	case CmdSpiSetParams:
		return shapeSpiSetParams, true
	case CmdSpiAttach:
		return shapeSpiAttach, true
	case CmdChangeBaudrate:
		return shapeChangeBaudrate, true
	case CmdSpiFlashMD5:
		return shapeSpiFlashMD5, true
	case CmdEraseRegion:
		return shapeEraseRegion, true
	case CmdReadFlash:
		return shapeReadFlash, true
	case CmdGetSecurityInfo, CmdEraseFlash, CmdRunUserCode:
		return shapeEmpty, true
	}
	return 0, false
}

// validSize reports whether size is an acceptable body length for s.
func (s shape) validSize(size int) bool {
	switch s {
	case shapeSync:
		return size == SyncSize
	case shapeBegin:
		// ROM loaders on newer chips append an encrypted-write word.
		return size == 16 || size == 20
	case shapeData:
		return size >= DataHeaderSize
	case shapeFlashEnd:
		return size == 4
	case shapeMemEnd, shapeChangeBaudrate, shapeEraseRegion:
		return size == 8
	case shapeWriteReg, shapeSpiFlashMD5, shapeReadFlash:
		return size == 16
	case shapeReadReg:
		return size == 4
	case shapeSpiSetParams:
		return size == 24
	case shapeSpiAttach:
		// 5 pin bytes, plus 4 reserved bytes when the host targets the ROM.
		return size == 5 || size == 9
	case shapeEmpty:
		return size == 0
	}
	return false
}

// PeekCode returns the command byte of buf, or 0 if buf is too short to
// carry one.
func PeekCode(buf []byte) byte {
	if len(buf) < 2 {
		return 0
	}
	return buf[1]
}

// DecodeCommand parses one request packet (after framing is removed).
// On failure the returned error is always a protocol Error.
func DecodeCommand(buf []byte) (Command, error) {
	if len(buf) < HeaderSize {
		return nil, ErrNotEnoughData
	}

	h := Header{
		Direction: buf[0],
		Code:      buf[1],
		Size:      binary.LittleEndian.Uint16(buf[2:4]),
		Checksum:  binary.LittleEndian.Uint32(buf[4:8]),
	}
	if h.Direction != DirRequest {
		return nil, ErrInvalidCommand
	}

	s, ok := shapeOf(h.Code)
	if !ok {
		return nil, ErrInvalidCommand
	}
	if !s.validSize(int(h.Size)) {
		return nil, ErrBadDataLen
	}

	body := buf[HeaderSize:]
	if len(body) < int(h.Size) {
		return nil, ErrNotEnoughData
	}
	if len(body) > int(h.Size) {
		return nil, ErrTooMuchData
	}

	le := binary.LittleEndian
	switch s {
	case shapeSync:
		c := &SyncCommand{Header: h}
		copy(c.Payload[:], body)
		return c, nil

	case shapeBegin:
		return &BeginCommand{
			Header:      h,
			TotalSize:   le.Uint32(body[0:4]),
			PacketCount: le.Uint32(body[4:8]),
			PacketSize:  le.Uint32(body[8:12]),
			Offset:      le.Uint32(body[12:16]),
		}, nil

	case shapeData:
		c := &DataCommand{
			Header:   h,
			DataSize: le.Uint32(body[0:4]),
			Sequence: le.Uint32(body[4:8]),
			Reserved: [2]uint32{le.Uint32(body[8:12]), le.Uint32(body[12:16])},
			Payload:  body[DataHeaderSize:],
		}
		if c.DataSize != uint32(len(c.Payload)) {
			return nil, ErrBadDataLen
		}
		return c, nil

	case shapeFlashEnd:
		return &FlashEndCommand{Header: h, runUserCode: le.Uint32(body[0:4])}, nil

	case shapeMemEnd:
		return &MemEndCommand{
			Header:     h,
			StayInStub: le.Uint32(body[0:4]),
			Entrypoint: le.Uint32(body[4:8]),
		}, nil

	case shapeWriteReg:
		return &WriteRegCommand{
			Header:  h,
			Address: le.Uint32(body[0:4]),
			Value:   le.Uint32(body[4:8]),
			Mask:    le.Uint32(body[8:12]),
			DelayUS: le.Uint32(body[12:16]),
		}, nil

	case shapeReadReg:
		return &ReadRegCommand{Header: h, Address: le.Uint32(body[0:4])}, nil

	case shapeSpiSetParams:
		return &SpiSetParamsCommand{
			Header: h,
			Params: SpiParams{
				ID:         le.Uint32(body[0:4]),
				TotalSize:  le.Uint32(body[4:8]),
				BlockSize:  le.Uint32(body[8:12]),
				SectorSize: le.Uint32(body[12:16]),
				PageSize:   le.Uint32(body[16:20]),
				StatusMask: le.Uint32(body[20:24]),
			},
		}, nil

	case shapeSpiAttach:
		return &SpiAttachCommand{
			Header: h,
			Pins:   SpiPins{CLK: body[0], Q: body[1], D: body[2], HD: body[3], CS: body[4]},
		}, nil

	case shapeChangeBaudrate:
		return &ChangeBaudrateCommand{
			Header: h,
			New:    le.Uint32(body[0:4]),
			Old:    le.Uint32(body[4:8]),
		}, nil

	case shapeSpiFlashMD5:
		return &SpiFlashMD5Command{
			Header:   h,
			Address:  le.Uint32(body[0:4]),
			Size:     le.Uint32(body[4:8]),
			Reserved: [2]uint32{le.Uint32(body[8:12]), le.Uint32(body[12:16])},
		}, nil

	case shapeEraseRegion:
		return &EraseRegionCommand{
			Header:  h,
			Address: le.Uint32(body[0:4]),
			Size:    le.Uint32(body[4:8]),
		}, nil

	case shapeReadFlash:
		return &ReadFlashCommand{
			Header: h,
			Params: ReadFlashParams{
				Address:     le.Uint32(body[0:4]),
				TotalSize:   le.Uint32(body[4:8]),
				PacketSize:  le.Uint32(body[8:12]),
				MaxInFlight: le.Uint32(body[12:16]),
			},
		}, nil

	case shapeEmpty:
		return &EmptyCommand{Header: h}, nil
	}

	return nil, ErrInvalidCommand
}
