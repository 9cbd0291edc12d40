package device

import (
	"sync"
	"time"
)

// Registers is a sparse register file. Unwritten registers read as zero.
type Registers struct {
	mu    sync.Mutex
	regs  map[uint32]uint32
	sleep func(time.Duration)
}

func newRegisters() *Registers {
	return &Registers{
		regs:  make(map[uint32]uint32),
		sleep: time.Sleep,
	}
}

// ReadReg returns the register value.
func (r *Registers) ReadReg(addr uint32) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.regs[addr]
}

// WriteReg updates the bits selected by mask, then waits delayUS.
func (r *Registers) WriteReg(addr, value, mask, delayUS uint32) {
	r.mu.Lock()
	r.regs[addr] = MaskedWrite(r.regs[addr], value, mask)
	r.mu.Unlock()

	if delayUS > 0 {
		r.sleep(time.Duration(delayUS) * time.Microsecond)
	}
}

// Reset clears every register.
func (r *Registers) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.regs = make(map[uint32]uint32)
}

// MaskedWrite returns current with the bits in mask replaced from value.
func MaskedWrite(current, value, mask uint32) uint32 {
	return (current &^ mask) | (value & mask)
}
