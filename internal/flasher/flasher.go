// Package flasher is the host side of the stub protocol: it sequences
// requests, checks responses and drives flash, memory and read transfers.
package flasher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bigbag/papyrix-stub/internal/protocol"
	"github.com/bigbag/papyrix-stub/internal/transport"
)

const (
	defaultTimeout = 5 * time.Second
	// Whole-region MD5 and chip erase take longer than a single request.
	md5Timeout   = 10 * time.Second
	eraseTimeout = 30 * time.Second

	syncAttempts = 10
	syncTimeout  = 500 * time.Millisecond
)

// ProgressCallback is called to report transfer progress.
type ProgressCallback func(current, total int)

// ResponseError is a failed response from the stub.
type ResponseError struct {
	Command byte
	Status  byte
	Code    protocol.Error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("command %s failed: status=0x%02X error=%v",
		protocol.CommandName(e.Command), e.Status, e.Code)
}

// Unwrap lets errors.Is match the protocol error code.
func (e *ResponseError) Unwrap() error {
	return e.Code
}

// Flasher talks to a stub over a packet connection.
type Flasher struct {
	conn transport.Conn

	timeout    time.Duration
	blockSize  int
	readPacket uint32
	readWindow uint32
	progress   ProgressCallback
}

// Option is a functional option for configuring the Flasher.
type Option func(*Flasher)

// WithTimeout sets how long to wait for an ordinary response.
func WithTimeout(d time.Duration) Option {
	return func(f *Flasher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithBlockSize sets the DATA packet size for flash and memory transfers.
func WithBlockSize(size int) Option {
	return func(f *Flasher) {
		if size > 0 && size <= protocol.MaxBlockSize {
			f.blockSize = size
		}
	}
}

// WithReadWindow sets the READ_FLASH packet size and how many packets may
// be in flight.
func WithReadWindow(packetSize, maxInFlight uint32) Option {
	return func(f *Flasher) {
		if packetSize > 0 && packetSize <= protocol.MaxBlockSize {
			f.readPacket = packetSize
		}
		if maxInFlight > 0 {
			f.readWindow = maxInFlight
		}
	}
}

// WithProgress sets the progress callback.
func WithProgress(cb ProgressCallback) Option {
	return func(f *Flasher) { f.progress = cb }
}

// New creates a Flasher over conn.
func New(conn transport.Conn, opts ...Option) *Flasher {
	f := &Flasher{
		conn:       conn,
		timeout:    defaultTimeout,
		blockSize:  protocol.FlashBlockSize,
		readPacket: protocol.FlashSectorSize,
		readWindow: 16,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// SetProgressCallback sets the progress callback function.
func (f *Flasher) SetProgressCallback(cb ProgressCallback) {
	f.progress = cb
}

func (f *Flasher) reportProgress(current, total int) {
	if f.progress != nil {
		f.progress(current, total)
	}
}

// command sends req and waits for its successful response.
func (f *Flasher) command(ctx context.Context, req *protocol.Request, timeout time.Duration) (*protocol.Response, error) {
	if err := f.conn.WritePacket(req.Encode()); err != nil {
		return nil, fmt.Errorf("failed to send %s: %w", protocol.CommandName(req.Command), err)
	}
	return f.readResponse(ctx, req.Command, timeout)
}

// readResponse waits for the response to cmd. Packets that are not a
// response to cmd, such as late replies to an earlier SYNC, are skipped.
func (f *Flasher) readResponse(ctx context.Context, cmd byte, timeout time.Duration) (*protocol.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		pkt, err := f.conn.ReadPacket(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("timeout waiting for %s response", protocol.CommandName(cmd))
			}
			return nil, err
		}
		resp, err := protocol.DecodeResponse(pkt)
		if err != nil || resp.Command != cmd {
			continue
		}
		if !resp.IsSuccess() {
			return resp, &ResponseError{Command: cmd, Status: resp.Status, Code: protocol.Error(resp.Error)}
		}
		return resp, nil
	}
}

// Sync establishes communication with the stub.
func (f *Flasher) Sync(ctx context.Context) error {
	req := protocol.NewRequest(protocol.CmdSync, protocol.SyncData())

	var lastErr error
	for attempt := 0; attempt < syncAttempts; attempt++ {
		if _, err := f.command(ctx, req, syncTimeout); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("sync failed after %d attempts: %w", syncAttempts, lastErr)
}

// SpiAttach attaches the SPI flash. Zero pins select the defaults.
func (f *Flasher) SpiAttach(ctx context.Context, pins protocol.SpiPins) error {
	_, err := f.command(ctx, protocol.NewRequest(protocol.CmdSpiAttach, protocol.SpiAttachData(pins)), f.timeout)
	return err
}

// SpiSetParams tells the stub the flash geometry.
func (f *Flasher) SpiSetParams(ctx context.Context, p protocol.SpiParams) error {
	_, err := f.command(ctx, protocol.NewRequest(protocol.CmdSpiSetParams, protocol.SpiSetParamsData(p)), f.timeout)
	return err
}

// Connect syncs, attaches the flash on the default pins and sets its
// geometry.
func (f *Flasher) Connect(ctx context.Context, flashSize uint32) error {
	if err := f.Sync(ctx); err != nil {
		return fmt.Errorf("failed to sync with stub: %w", err)
	}
	if err := f.SpiAttach(ctx, protocol.SpiPins{}); err != nil {
		return fmt.Errorf("failed to attach SPI flash: %w", err)
	}
	if err := f.SpiSetParams(ctx, protocol.DefaultSpiParams(flashSize)); err != nil {
		return fmt.Errorf("failed to set flash parameters: %w", err)
	}
	return nil
}

// SecurityInfo reads the chip's security configuration.
func (f *Flasher) SecurityInfo(ctx context.Context) (*protocol.SecurityInfo, error) {
	resp, err := f.command(ctx, protocol.NewRequest(protocol.CmdGetSecurityInfo, nil), f.timeout)
	if err != nil {
		return nil, err
	}
	return protocol.ParseSecurityInfo(resp.Data)
}

// ReadReg reads a 32-bit register.
func (f *Flasher) ReadReg(ctx context.Context, addr uint32) (uint32, error) {
	resp, err := f.command(ctx, protocol.NewRequest(protocol.CmdReadReg, protocol.ReadRegData(addr)), f.timeout)
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// WriteReg updates the bits of a register selected by mask.
func (f *Flasher) WriteReg(ctx context.Context, addr, value, mask, delayUS uint32) error {
	req := protocol.NewRequest(protocol.CmdWriteReg, protocol.WriteRegData(addr, value, mask, delayUS))
	_, err := f.command(ctx, req, f.timeout)
	return err
}

// ChangeBaud asks the stub to switch line speed, then follows on the host
// side when the link supports it.
func (f *Flasher) ChangeBaud(ctx context.Context, newBaud, oldBaud uint32) error {
	req := protocol.NewRequest(protocol.CmdChangeBaudrate, protocol.ChangeBaudrateData(newBaud, oldBaud))
	if _, err := f.command(ctx, req, f.timeout); err != nil {
		return err
	}
	bs, ok := f.conn.(transport.BaudSwitcher)
	if !ok {
		return nil
	}
	if err := bs.SetBaudRate(int(newBaud)); err != nil && !errors.Is(err, transport.ErrBaudUnsupported) {
		return fmt.Errorf("failed to switch host to %d baud: %w", newBaud, err)
	}
	return nil
}

// EraseFlash erases the whole chip.
func (f *Flasher) EraseFlash(ctx context.Context) error {
	_, err := f.command(ctx, protocol.NewRequest(protocol.CmdEraseFlash, nil), eraseTimeout)
	return err
}

// EraseRegion erases a sector aligned region.
func (f *Flasher) EraseRegion(ctx context.Context, addr, size uint32) error {
	_, err := f.command(ctx, protocol.NewRequest(protocol.CmdEraseRegion, protocol.EraseRegionData(addr, size)), eraseTimeout)
	return err
}

// RunUserCode leaves the stub and boots the flashed application. No
// response is awaited beyond the stub's acknowledgement.
func (f *Flasher) RunUserCode(ctx context.Context) error {
	_, err := f.command(ctx, protocol.NewRequest(protocol.CmdRunUserCode, nil), f.timeout)
	return err
}
