package flasher

import (
	"bytes"
	"context"
	"crypto/md5"
	"errors"
	"fmt"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

// ErrDigestMismatch is returned when read-back data does not match the MD5
// the stub sent at the end of the stream.
var ErrDigestMismatch = errors.New("read digest mismatch")

// ReadFlash streams size bytes starting at address. Every received packet
// is acknowledged with the running byte count; the stub closes the stream
// with the MD5 of what it sent.
func (f *Flasher) ReadFlash(ctx context.Context, address, size uint32) ([]byte, error) {
	params := protocol.ReadFlashParams{
		Address:     address,
		TotalSize:   size,
		PacketSize:  f.readPacket,
		MaxInFlight: f.readWindow,
	}
	if _, err := f.command(ctx, protocol.NewRequest(protocol.CmdReadFlash, protocol.ReadFlashData(params)), f.timeout); err != nil {
		return nil, err
	}

	data := make([]byte, 0, size)
	packets := int(protocol.CalculateDeflBlocks(int(size), int(f.readPacket)))
	for n := 1; uint32(len(data)) < size; n++ {
		want := min(size-uint32(len(data)), f.readPacket)
		pkt, err := f.readChunk(ctx, int(want))
		if err != nil {
			return nil, fmt.Errorf("read stream at 0x%08X: %w", address+uint32(len(data)), err)
		}
		data = append(data, pkt...)
		if err := f.conn.WritePacket(protocol.ReadAckData(uint32(len(data)))); err != nil {
			return nil, fmt.Errorf("failed to acknowledge read: %w", err)
		}
		f.reportProgress(n, packets)
	}

	resp, err := f.readResponse(ctx, protocol.CmdReadFlash, f.timeout)
	if err != nil {
		return nil, err
	}
	sum := md5.Sum(data)
	if !bytes.Equal(resp.Data, sum[:]) {
		return nil, fmt.Errorf("%w: got %x, stub sent %x", ErrDigestMismatch, sum, resp.Data)
	}
	return data, nil
}

// readChunk waits for the next stream packet. A response arriving instead
// means the stub closed the stream early.
func (f *Flasher) readChunk(ctx context.Context, want int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	pkt, err := f.conn.ReadPacket(ctx)
	if err != nil {
		return nil, err
	}
	if len(pkt) == want {
		return pkt, nil
	}
	if resp, derr := protocol.DecodeResponse(pkt); derr == nil && resp.Command == protocol.CmdReadFlash && !resp.IsSuccess() {
		return nil, &ResponseError{Command: resp.Command, Status: resp.Status, Code: protocol.Error(resp.Error)}
	}
	return nil, fmt.Errorf("unexpected %d byte packet, want %d", len(pkt), want)
}
