package flasher

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"

	"github.com/klauspost/compress/zlib"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

// sendBlocks streams data in blockSize packets after a BEGIN was accepted.
func (f *Flasher) sendBlocks(ctx context.Context, cmd byte, data []byte, blockSize int) error {
	total := int(protocol.CalculateDeflBlocks(len(data), blockSize))
	for seq := 0; seq < total; seq++ {
		start := seq * blockSize
		end := start + blockSize
		if end > len(data) {
			end = len(data)
		}
		req := protocol.NewDataRequest(cmd, data[start:end], uint32(seq))
		if _, err := f.command(ctx, req, f.timeout); err != nil {
			return fmt.Errorf("data block %d failed: %w", seq, err)
		}
		f.reportProgress(seq+1, total)
	}
	return nil
}

func (f *Flasher) begin(ctx context.Context, cmd byte, totalSize, count, offset uint32) error {
	req := protocol.NewRequest(cmd, protocol.BeginData(totalSize, count, uint32(f.blockSize), offset))
	// BEGIN erases the target region first.
	_, err := f.command(ctx, req, eraseTimeout)
	return err
}

// FlashImage writes a binary image at address. The last block is padded
// with 0xFF.
func (f *Flasher) FlashImage(ctx context.Context, data []byte, address uint32, verify bool) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	blocks := protocol.CalculateDeflBlocks(len(data), f.blockSize)
	padded := protocol.PadBlock(data, int(blocks)*f.blockSize)

	if err := f.begin(ctx, protocol.CmdFlashBegin, uint32(len(padded)), blocks, address); err != nil {
		return fmt.Errorf("flash begin failed: %w", err)
	}
	if err := f.sendBlocks(ctx, protocol.CmdFlashData, padded, f.blockSize); err != nil {
		return fmt.Errorf("flash data failed: %w", err)
	}
	req := protocol.NewRequest(protocol.CmdFlashEnd, protocol.FlashEndData(false))
	if _, err := f.command(ctx, req, f.timeout); err != nil {
		return fmt.Errorf("flash end failed: %w", err)
	}

	if verify {
		if err := f.VerifyMD5(ctx, data, address); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}
	return nil
}

// FlashDeflImage compresses data with zlib and writes it through the
// stub's inflater.
func (f *Flasher) FlashDeflImage(ctx context.Context, data []byte, address uint32, verify bool) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return err
	}
	if _, err := zw.Write(data); err != nil {
		return fmt.Errorf("failed to compress image: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress image: %w", err)
	}
	compressed := buf.Bytes()
	blocks := protocol.CalculateDeflBlocks(len(compressed), f.blockSize)

	if err := f.begin(ctx, protocol.CmdFlashDeflBegin, uint32(len(data)), blocks, address); err != nil {
		return fmt.Errorf("flash defl begin failed: %w", err)
	}
	if err := f.sendBlocks(ctx, protocol.CmdFlashDeflData, compressed, f.blockSize); err != nil {
		return fmt.Errorf("flash defl data failed: %w", err)
	}
	req := protocol.NewRequest(protocol.CmdFlashDeflEnd, protocol.FlashEndData(false))
	if _, err := f.command(ctx, req, f.timeout); err != nil {
		return fmt.Errorf("flash defl end failed: %w", err)
	}

	if verify {
		if err := f.VerifyMD5(ctx, data, address); err != nil {
			return fmt.Errorf("verification failed: %w", err)
		}
	}
	return nil
}

// LoadMem copies data into RAM at address. A non-zero entrypoint makes the
// stub jump there once the transfer is complete.
func (f *Flasher) LoadMem(ctx context.Context, data []byte, address, entrypoint uint32) error {
	if len(data) == 0 {
		return fmt.Errorf("empty image")
	}
	blocks := protocol.CalculateDeflBlocks(len(data), f.blockSize)
	if err := f.begin(ctx, protocol.CmdMemBegin, uint32(len(data)), blocks, address); err != nil {
		return fmt.Errorf("mem begin failed: %w", err)
	}
	if err := f.sendBlocks(ctx, protocol.CmdMemData, data, f.blockSize); err != nil {
		return fmt.Errorf("mem data failed: %w", err)
	}
	req := protocol.NewRequest(protocol.CmdMemEnd, protocol.MemEndData(entrypoint))
	if _, err := f.command(ctx, req, f.timeout); err != nil {
		return fmt.Errorf("mem end failed: %w", err)
	}
	return nil
}

// FlashMD5 returns the stub's MD5 of a flash region as lowercase hex.
func (f *Flasher) FlashMD5(ctx context.Context, address, size uint32) (string, error) {
	req := protocol.NewRequest(protocol.CmdSpiFlashMD5, protocol.FlashMD5Data(address, size))
	resp, err := f.command(ctx, req, md5Timeout)
	if err != nil {
		return "", err
	}
	if len(resp.Data) < 2*md5.Size {
		return "", fmt.Errorf("MD5 response too short: %d bytes", len(resp.Data))
	}
	return string(resp.Data[:2*md5.Size]), nil
}

// VerifyMD5 compares the flash contents at address with data.
func (f *Flasher) VerifyMD5(ctx context.Context, data []byte, address uint32) error {
	hash := md5.Sum(data)
	expected := hex.EncodeToString(hash[:])

	actual, err := f.FlashMD5(ctx, address, uint32(len(data)))
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("MD5 mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}

// FlashRegion represents a region to flash.
type FlashRegion struct {
	Address uint32
	Data    []byte
	Name    string
}

// FlashMultiple flashes multiple regions in sequence with combined progress.
func (f *Flasher) FlashMultiple(ctx context.Context, regions []FlashRegion, compress, verify bool) error {
	totalBlocks := 0
	for _, r := range regions {
		totalBlocks += int(protocol.CalculateDeflBlocks(len(r.Data), f.blockSize))
	}

	outer := f.progress
	defer func() { f.progress = outer }()

	done := 0
	for _, region := range regions {
		base := done
		f.progress = func(current, _ int) {
			if outer != nil {
				outer(min(base+current, totalBlocks), totalBlocks)
			}
		}

		write := f.FlashImage
		if compress {
			write = f.FlashDeflImage
		}
		if err := write(ctx, region.Data, region.Address, verify); err != nil {
			return fmt.Errorf("failed to flash %s at 0x%X: %w", region.Name, region.Address, err)
		}
		done += int(protocol.CalculateDeflBlocks(len(region.Data), f.blockSize))
		if outer != nil {
			outer(done, totalBlocks)
		}
	}
	return nil
}
