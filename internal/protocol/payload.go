package protocol

import (
	"encoding/binary"
	"fmt"
)

// SyncData returns the data payload for a SYNC command.
func SyncData() []byte {
	// SYNC payload: 0x07 0x07 0x12 0x20 followed by 32 bytes of 0x55
	data := make([]byte, SyncSize)
	data[0] = 0x07
	data[1] = 0x07
	data[2] = 0x12
	data[3] = 0x20
	for i := 4; i < SyncSize; i++ {
		data[i] = 0x55
	}
	return data
}

// BeginData creates the data payload for FLASH_BEGIN, FLASH_DEFL_BEGIN and
// MEM_BEGIN.
func BeginData(totalSize, packetCount, packetSize, offset uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], totalSize)
	binary.LittleEndian.PutUint32(data[4:8], packetCount)
	binary.LittleEndian.PutUint32(data[8:12], packetSize)
	binary.LittleEndian.PutUint32(data[12:16], offset)
	return data
}

// DataPayload creates the data payload for the _DATA commands.
func DataPayload(data []byte, seq uint32) []byte {
	// Header: size (4) + seq (4) + reserved (8)
	payload := make([]byte, DataHeaderSize+len(data))
	binary.LittleEndian.PutUint32(payload[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(payload[4:8], seq)
	copy(payload[DataHeaderSize:], data)
	return payload
}

// PadBlock pads data with 0xFF up to blockSize.
func PadBlock(data []byte, blockSize int) []byte {
	if len(data) >= blockSize {
		return data
	}
	padded := make([]byte, blockSize)
	copy(padded, data)
	for i := len(data); i < blockSize; i++ {
		padded[i] = 0xFF
	}
	return padded
}

// FlashEndData creates the data payload for FLASH_END and FLASH_DEFL_END.
func FlashEndData(reboot bool) []byte {
	data := make([]byte, 4)
	if reboot {
		binary.LittleEndian.PutUint32(data, 0) // 0 = reboot
	} else {
		binary.LittleEndian.PutUint32(data, 1) // 1 = stay in bootloader
	}
	return data
}

// MemEndData creates the data payload for MEM_END. An entrypoint of 0 stays
// in the loader.
func MemEndData(entrypoint uint32) []byte {
	data := make([]byte, 8)
	if entrypoint == 0 {
		binary.LittleEndian.PutUint32(data[0:4], 1)
	}
	binary.LittleEndian.PutUint32(data[4:8], entrypoint)
	return data
}

// WriteRegData creates the data payload for WRITE_REG.
func WriteRegData(address, value, mask, delayUS uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], value)
	binary.LittleEndian.PutUint32(data[8:12], mask)
	binary.LittleEndian.PutUint32(data[12:16], delayUS)
	return data
}

// ReadRegData creates the data payload for READ_REG.
func ReadRegData(address uint32) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, address)
	return data
}

// SpiSetParamsData creates the data payload for SPI_SET_PARAMS.
func SpiSetParamsData(p SpiParams) []byte {
	data := make([]byte, 24)
	binary.LittleEndian.PutUint32(data[0:4], p.ID)
	binary.LittleEndian.PutUint32(data[4:8], p.TotalSize)
	binary.LittleEndian.PutUint32(data[8:12], p.BlockSize)
	binary.LittleEndian.PutUint32(data[12:16], p.SectorSize)
	binary.LittleEndian.PutUint32(data[16:20], p.PageSize)
	binary.LittleEndian.PutUint32(data[20:24], p.StatusMask)
	return data
}

// DefaultSpiParams returns the geometry of a flash chip of totalSize bytes.
func DefaultSpiParams(totalSize uint32) SpiParams {
	return SpiParams{
		TotalSize:  totalSize,
		BlockSize:  DefaultBlockSize,
		SectorSize: FlashSectorSize,
		PageSize:   DefaultPageSize,
		StatusMask: DefaultStatusMask,
	}
}

// SpiAttachData creates the data payload for SPI_ATTACH.
func SpiAttachData(pins SpiPins) []byte {
	return []byte{pins.CLK, pins.Q, pins.D, pins.HD, pins.CS}
}

// ChangeBaudrateData creates the data payload for CHANGE_BAUDRATE.
func ChangeBaudrateData(newBaud, oldBaud uint32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], newBaud)
	binary.LittleEndian.PutUint32(data[4:8], oldBaud)
	return data
}

// FlashMD5Data creates the data payload for SPI_FLASH_MD5 command.
func FlashMD5Data(address, size uint32) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], size)
	return data
}

// EraseRegionData creates the data payload for ERASE_REGION.
func EraseRegionData(address, size uint32) []byte {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint32(data[0:4], address)
	binary.LittleEndian.PutUint32(data[4:8], size)
	return data
}

// ReadFlashData creates the data payload for READ_FLASH.
func ReadFlashData(p ReadFlashParams) []byte {
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data[0:4], p.Address)
	binary.LittleEndian.PutUint32(data[4:8], p.TotalSize)
	binary.LittleEndian.PutUint32(data[8:12], p.PacketSize)
	binary.LittleEndian.PutUint32(data[12:16], p.MaxInFlight)
	return data
}

// ReadAckData creates the acknowledgement a host sends while receiving a
// READ_FLASH stream: the total number of bytes received so far.
func ReadAckData(received uint32) []byte {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, received)
	return data
}

// CalculateFlashBlocks returns the number of FlashBlockSize blocks needed
// for dataLen bytes.
func CalculateFlashBlocks(dataLen int) uint32 {
	return CalculateDeflBlocks(dataLen, FlashBlockSize)
}

// CalculateDeflBlocks returns the number of blockSize packets needed for
// compressedLen bytes.
func CalculateDeflBlocks(compressedLen, blockSize int) uint32 {
	return uint32((compressedLen + blockSize - 1) / blockSize)
}

// CalculateEraseSize rounds dataLen up to a whole number of flash sectors.
func CalculateEraseSize(dataLen int) uint32 {
	sectors := (dataLen + FlashSectorSize - 1) / FlashSectorSize
	return uint32(sectors * FlashSectorSize)
}

// SecurityInfoSize is the length of the GET_SECURITY_INFO response data.
const SecurityInfoSize = 20

// SecurityInfo is the decoded GET_SECURITY_INFO response data.
type SecurityInfo struct {
	Flags         uint32
	FlashCryptCnt byte
	KeyPurposes   [7]byte
	ChipID        uint32
	APIVersion    uint32
}

// Encode serializes the security info:
//
//	0-3: flags
//	4: flash_crypt_cnt
//	5-11: key purposes
//	12-15: chip id
//	16-19: api version
func (s SecurityInfo) Encode() []byte {
	data := make([]byte, SecurityInfoSize)
	binary.LittleEndian.PutUint32(data[0:4], s.Flags)
	data[4] = s.FlashCryptCnt
	copy(data[5:12], s.KeyPurposes[:])
	binary.LittleEndian.PutUint32(data[12:16], s.ChipID)
	binary.LittleEndian.PutUint32(data[16:20], s.APIVersion)
	return data
}

// ParseSecurityInfo decodes GET_SECURITY_INFO response data.
func ParseSecurityInfo(data []byte) (*SecurityInfo, error) {
	if len(data) < SecurityInfoSize {
		return nil, fmt.Errorf("security info too short: %d bytes, want %d", len(data), SecurityInfoSize)
	}
	info := &SecurityInfo{
		Flags:         binary.LittleEndian.Uint32(data[0:4]),
		FlashCryptCnt: data[4],
		ChipID:        binary.LittleEndian.Uint32(data[12:16]),
		APIVersion:    binary.LittleEndian.Uint32(data[16:20]),
	}
	copy(info.KeyPurposes[:], data[5:12])
	return info, nil
}
