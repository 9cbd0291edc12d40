package stub

import "github.com/bigbag/papyrix-stub/internal/protocol"

// Flash is the SPI flash driver.
type Flash interface {
	// Unlock clears the chip's write protection before a write session.
	Unlock() error
	// Erase erases [addr, addr+size). Both are sector aligned.
	Erase(addr, size uint32) error
	// EraseChip erases the whole chip.
	EraseChip() error
	Write(addr uint32, data []byte) error
	Read(addr, size uint32) ([]byte, error)
	MD5(addr, size uint32) ([16]byte, error)
}

// Memory is the RAM target of MEM_BEGIN/MEM_DATA.
type Memory interface {
	WriteMem(addr uint32, data []byte) error
}

// SPI configures the flash bus. Invalid pins or geometry are rejected with an
// error.
type SPI interface {
	Attach(pins protocol.SpiPins) error
	SetParams(p protocol.SpiParams) error
}

// Registers gives raw access to memory-mapped registers.
type Registers interface {
	ReadReg(addr uint32) uint32
	// WriteReg stores (current &^ mask) | (value & mask), then waits
	// delayUS microseconds.
	WriteReg(addr, value, mask, delayUS uint32)
}

// Inflater decompresses one FLASH_DEFL stream. Output may lag input;
// Finish flushes the rest and fails if the stream is incomplete.
type Inflater interface {
	Inflate(chunk []byte) ([]byte, error)
	Finish() ([]byte, error)
	Close() error
}

// Identity reports the chip's GET_SECURITY_INFO block.
type Identity interface {
	SecurityInfo() ([]byte, error)
}

// Executor hands control to loaded code. On real hardware Jump never
// returns when it succeeds.
type Executor interface {
	Jump(entrypoint uint32) error
}

// Rebooter restarts the chip into user code.
type Rebooter interface {
	Reboot() error
}

// Hardware bundles the collaborators the dispatcher calls while handling a
// command. Executor and Rebooter are not here: they run after the response
// is flushed, which is the serve loop's job.
type Hardware struct {
	Flash     Flash
	Memory    Memory
	SPI       SPI
	Registers Registers
	Identity  Identity

	// NewInflater starts a decompressor for a FLASH_DEFL session. When nil,
	// FLASH_DEFL_BEGIN is answered with CmdNotImplemented.
	NewInflater func() Inflater
}
