package protocol

// Default baud rate of the ROM and stub loaders
const DefaultBaudRate = 115200

// Default geometry of the emulated flash chip
const (
	DefaultFlashSize  = 0x400000 // 4MB
	DefaultBlockSize  = 0x10000
	DefaultPageSize   = 0x100
	DefaultStatusMask = 0xFFFF
)
