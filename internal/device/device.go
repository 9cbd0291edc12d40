// Package device emulates the hardware a flasher stub drives: a NOR flash
// chip behind an SPI controller, RAM regions, a register file, eFuse security
// info and the CPU's reset and jump paths. It lets the stub be served from a
// host over a serial line or WebSocket for host-tool development and tests.
package device

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bigbag/papyrix-stub/internal/inflate"
	"github.com/bigbag/papyrix-stub/internal/protocol"
	"github.com/bigbag/papyrix-stub/internal/stub"
)

// Region is a contiguous RAM area.
type Region struct {
	Base uint32
	Size uint32
}

func (r Region) contains(addr, size uint32) bool {
	return addr >= r.Base && uint64(addr)+uint64(size) <= uint64(r.Base)+uint64(r.Size)
}

// Config describes the emulated chip.
type Config struct {
	ChipID uint32

	FlashSize  uint32
	SectorSize uint32
	PageSize   uint32
	// WriteProtect makes Unlock, Erase and Write fail.
	WriteProtect bool

	RAM []Region
}

// DefaultConfig returns an ESP32-C3 with 4MB of flash.
func DefaultConfig() Config {
	return Config{
		ChipID:     protocol.ChipIDESP32C3,
		FlashSize:  protocol.DefaultFlashSize,
		SectorSize: protocol.FlashSectorSize,
		PageSize:   protocol.DefaultPageSize,
		RAM: []Region{
			{Base: 0x3FC80000, Size: 0x60000}, // DRAM
			{Base: 0x40380000, Size: 0x60000}, // IRAM
		},
	}
}

func (c Config) validate() error {
	if c.SectorSize == 0 || c.SectorSize&(c.SectorSize-1) != 0 {
		return errors.Errorf("sector size %d is not a power of two", c.SectorSize)
	}
	if c.FlashSize == 0 || c.FlashSize%c.SectorSize != 0 {
		return errors.Errorf("flash size 0x%X is not a multiple of the sector size", c.FlashSize)
	}
	if c.PageSize == 0 || c.SectorSize%c.PageSize != 0 {
		return errors.Errorf("page size %d does not divide the sector size", c.PageSize)
	}
	return nil
}

// Device is an emulated chip. All methods are safe for concurrent use.
type Device struct {
	cfg Config

	Flash *Flash
	SPI   *SPI
	Regs  *Registers
	RAM   *RAM

	mu      sync.Mutex
	reboots int
	entry   uint32
	jumped  bool
}

// New creates a device with erased flash.
func New(cfg Config) (*Device, error) {
	if err := cfg.validate(); err != nil {
		return nil, errors.Wrap(err, "invalid device config")
	}
	flash := newFlash(cfg)
	return &Device{
		cfg:   cfg,
		Flash: flash,
		SPI:   newSPI(flash),
		Regs:  newRegisters(),
		RAM:   newRAM(cfg.RAM),
	}, nil
}

// Config returns the configuration the device was built with.
func (d *Device) Config() Config { return d.cfg }

// Hardware returns the collaborators the stub dispatcher needs.
func (d *Device) Hardware() stub.Hardware {
	return stub.Hardware{
		Flash:     d.Flash,
		Memory:    d.RAM,
		SPI:       d.SPI,
		Registers: d.Regs,
		Identity:  d,
		NewInflater: func() stub.Inflater {
			return inflate.NewStream()
		},
	}
}

// SecurityInfo returns the GET_SECURITY_INFO block: no secure boot, no
// flash encryption, unused key purposes.
func (d *Device) SecurityInfo() ([]byte, error) {
	return protocol.SecurityInfo{
		ChipID:     d.cfg.ChipID,
		APIVersion: 1,
	}.Encode(), nil
}

// Jump records a control transfer into loaded RAM.
func (d *Device) Jump(entrypoint uint32) error {
	if !d.RAM.Loaded(entrypoint) {
		return errors.Errorf("entrypoint 0x%08X is not in loaded RAM", entrypoint)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entry = entrypoint
	d.jumped = true
	return nil
}

// Jumped returns the last entrypoint control was transferred to.
func (d *Device) Jumped() (uint32, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entry, d.jumped
}

// Reboot restarts the emulated chip: RAM and registers are lost, flash
// survives.
func (d *Device) Reboot() error {
	d.mu.Lock()
	d.reboots++
	d.jumped = false
	d.entry = 0
	d.mu.Unlock()

	d.RAM.Reset()
	d.Regs.Reset()
	return nil
}

// Reboots returns how many times the device was restarted.
func (d *Device) Reboots() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reboots
}
