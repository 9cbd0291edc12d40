package protocol

import "fmt"

// Error is a fault code reported to the host in the response error byte.
// The numeric values are shared with the host tool and must not change.
type Error byte

// Error codes from the stub loader
const (
	ErrBadDataLen        Error = 0xC0
	ErrBadDataChecksum   Error = 0xC1
	ErrBadBlocksize      Error = 0xC2
	ErrInvalidCommand    Error = 0xC3
	ErrFailedSpiOp       Error = 0xC4
	ErrFailedSpiUnlock   Error = 0xC5
	ErrNotInFlashMode    Error = 0xC6
	ErrInflate           Error = 0xC7
	ErrNotEnoughData     Error = 0xC8
	ErrTooMuchData       Error = 0xC9
	ErrCmdNotImplemented Error = 0xFF
)

// Error codes shared with the ROM loader. Only some of them are produced by
// the stub; the rest are kept so host traces against the ROM decode cleanly.
const (
	ErrFlashRead          Error = 0x63
	ErrEraseAddrAlignment Error = 0x32
	ErrEraseSizeAlignment Error = 0x33
	ErrRomSpiUnlock       Error = 0x34
	ErrEraseSector        Error = 0x35
	ErrEraseFailed        Error = 0x36
)

func (e Error) Error() string {
	return fmt.Sprintf("%s (0x%02X)", e.String(), byte(e))
}

// String returns the human-readable name of the error code.
func (e Error) String() string {
	return ErrorMessage(byte(e))
}

// ErrorMessage returns human-readable error message
func ErrorMessage(code byte) string {
	switch Error(code) {
	case ErrBadDataLen:
		return "bad data length"
	case ErrBadDataChecksum:
		return "bad data checksum"
	case ErrBadBlocksize:
		return "bad block size"
	case ErrInvalidCommand:
		return "invalid command"
	case ErrFailedSpiOp:
		return "failed SPI operation"
	case ErrFailedSpiUnlock:
		return "failed SPI unlock"
	case ErrNotInFlashMode:
		return "not in flash mode"
	case ErrInflate:
		return "inflate error"
	case ErrNotEnoughData:
		return "not enough data"
	case ErrTooMuchData:
		return "too much data"
	case ErrCmdNotImplemented:
		return "command not implemented"
	case ErrFlashRead:
		return "flash read error"
	case ErrEraseAddrAlignment:
		return "erase address not sector aligned"
	case ErrEraseSizeAlignment:
		return "erase size not sector aligned"
	case ErrRomSpiUnlock:
		return "ROM SPI unlock error"
	case ErrEraseSector:
		return "erase sector error"
	case ErrEraseFailed:
		return "erase failed"
	default:
		return "unknown error"
	}
}
