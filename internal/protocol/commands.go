package protocol

// Command codes understood by the stub loader
const (
	CmdFlashBegin         = 0x02
	CmdFlashData          = 0x03
	CmdFlashEnd           = 0x04
	CmdMemBegin           = 0x05
	CmdMemEnd             = 0x06
	CmdMemData            = 0x07
	CmdSync               = 0x08
	CmdWriteReg           = 0x09
	CmdReadReg            = 0x0A
	CmdSpiSetParams       = 0x0B
	CmdSpiAttach          = 0x0D
	CmdChangeBaudrate     = 0x0F
	CmdFlashDeflBegin     = 0x10
	CmdFlashDeflData      = 0x11
	CmdFlashDeflEnd       = 0x12
	CmdSpiFlashMD5        = 0x13
	CmdGetSecurityInfo    = 0x14
	CmdEraseFlash         = 0xD0
	CmdEraseRegion        = 0xD1
	CmdReadFlash          = 0xD2
	CmdRunUserCode        = 0xD3
	CmdFlashEncryptedData = 0xD4
)

// Direction byte values
const (
	DirRequest  = 0x00
	DirResponse = 0x01
)

// Wire sizes
const (
	HeaderSize         = 8
	ResponseHeaderSize = 10
	DataHeaderSize     = 16
	SyncSize           = 36
)

// Flash parameters
const (
	FlashBlockSize  = 0x400  // 1KB blocks
	FlashSectorSize = 0x1000 // 4KB sectors
	MaxBlockSize    = 0x4000 // largest DATA/READ packet the stub buffers
)

// Chip IDs
const (
	ChipIDESP32   = 0x00
	ChipIDESP32S2 = 0x02
	ChipIDESP32C3 = 0x05
	ChipIDESP32S3 = 0x09
)

// ChipName returns human-readable name for chip ID
func ChipName(id uint32) string {
	switch id {
	case ChipIDESP32S2:
		return "ESP32-S2"
	case ChipIDESP32C3:
		return "ESP32-C3"
	case ChipIDESP32S3:
		return "ESP32-S3"
	default:
		return "ESP32"
	}
}

// CommandName returns the mnemonic used in logs and traces.
func CommandName(code byte) string {
	switch code {
	case CmdFlashBegin:
		return "FLASH_BEGIN"
	case CmdFlashData:
		return "FLASH_DATA"
	case CmdFlashEnd:
		return "FLASH_END"
	case CmdMemBegin:
		return "MEM_BEGIN"
	case CmdMemEnd:
		return "MEM_END"
	case CmdMemData:
		return "MEM_DATA"
	case CmdSync:
		return "SYNC"
	case CmdWriteReg:
		return "WRITE_REG"
	case CmdReadReg:
		return "READ_REG"
	case CmdSpiSetParams:
		return "SPI_SET_PARAMS"
	case CmdSpiAttach:
		return "SPI_ATTACH"
	case CmdChangeBaudrate:
		return "CHANGE_BAUDRATE"
	case CmdFlashDeflBegin:
		return "FLASH_DEFL_BEGIN"
	case CmdFlashDeflData:
		return "FLASH_DEFL_DATA"
	case CmdFlashDeflEnd:
		return "FLASH_DEFL_END"
	case CmdSpiFlashMD5:
		return "SPI_FLASH_MD5"
	case CmdGetSecurityInfo:
		return "GET_SECURITY_INFO"
	case CmdEraseFlash:
		return "ERASE_FLASH"
	case CmdEraseRegion:
		return "ERASE_REGION"
	case CmdReadFlash:
		return "READ_FLASH"
	case CmdRunUserCode:
		return "RUN_USER_CODE"
	case CmdFlashEncryptedData:
		return "FLASH_ENCRYPTED_DATA"
	default:
		return "UNKNOWN"
	}
}
