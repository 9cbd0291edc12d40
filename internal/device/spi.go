package device

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

// maxGPIO is one past the highest pad number an SPI signal can be routed to.
const maxGPIO = 49

// SPI is the flash controller configuration.
type SPI struct {
	mu       sync.Mutex
	flash    *Flash
	attached bool
	pins     protocol.SpiPins
	params   protocol.SpiParams
}

func newSPI(flash *Flash) *SPI {
	return &SPI{
		flash:  flash,
		params: protocol.DefaultSpiParams(flash.Size()),
	}
}

// Attach routes the flash signals. All-zero pins select the default
// (strapping) pins; otherwise each pin must be a valid, distinct pad.
func (s *SPI) Attach(pins protocol.SpiPins) error {
	if pins != (protocol.SpiPins{}) {
		seen := make(map[byte]bool, 5)
		for _, p := range []byte{pins.CLK, pins.Q, pins.D, pins.HD, pins.CS} {
			if p >= maxGPIO {
				return errors.Errorf("pin %d out of range", p)
			}
			if seen[p] {
				return errors.Errorf("pin %d assigned twice", p)
			}
			seen[p] = true
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attached = true
	s.pins = pins
	return nil
}

// SetParams records the host's view of the flash geometry. It is rejected
// when it does not fit the emulated chip.
func (s *SPI) SetParams(p protocol.SpiParams) error {
	size := s.flash.Size()
	switch {
	case p.TotalSize == 0 || p.TotalSize&(p.TotalSize-1) != 0:
		return errors.Errorf("total size 0x%X is not a power of two", p.TotalSize)
	case p.TotalSize > size:
		return errors.Errorf("total size 0x%X exceeds chip size 0x%X", p.TotalSize, size)
	case p.SectorSize != s.flash.sectorSize:
		return errors.Errorf("sector size 0x%X, chip has 0x%X", p.SectorSize, s.flash.sectorSize)
	case p.BlockSize == 0 || p.BlockSize%p.SectorSize != 0:
		return errors.Errorf("block size 0x%X is not a multiple of the sector size", p.BlockSize)
	case p.PageSize == 0 || p.SectorSize%p.PageSize != 0:
		return errors.Errorf("page size 0x%X does not divide the sector size", p.PageSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
	return nil
}

// Attached reports whether Attach has been called and with which pins.
func (s *SPI) Attached() (protocol.SpiPins, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pins, s.attached
}

// Params returns the current flash geometry.
func (s *SPI) Params() protocol.SpiParams {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}
