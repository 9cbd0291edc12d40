package stub

import (
	"crypto/md5"
	"errors"
	"fmt"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

type eraseCall struct{ addr, size uint32 }

type writeCall struct {
	addr uint32
	data []byte
}

// fakeFlash is a byte-addressed flash image that records every call.
type fakeFlash struct {
	mem []byte

	unlocks    int
	erases     []eraseCall
	chipErases int
	writes     []writeCall

	unlockErr error
	eraseErr  error
	writeErr  error
	// readFailAt makes Read fail for any range containing this address.
	readFailAt int64
}

func newFakeFlash(size int) *fakeFlash {
	f := &fakeFlash{mem: make([]byte, size), readFailAt: -1}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return f
}

func (f *fakeFlash) inRange(addr, size uint32) error {
	if uint64(addr)+uint64(size) > uint64(len(f.mem)) {
		return fmt.Errorf("range 0x%X+0x%X out of bounds", addr, size)
	}
	return nil
}

func (f *fakeFlash) Unlock() error {
	f.unlocks++
	return f.unlockErr
}

func (f *fakeFlash) Erase(addr, size uint32) error {
	f.erases = append(f.erases, eraseCall{addr, size})
	if f.eraseErr != nil {
		return f.eraseErr
	}
	if err := f.inRange(addr, size); err != nil {
		return err
	}
	for i := addr; i < addr+size; i++ {
		f.mem[i] = 0xFF
	}
	return nil
}

func (f *fakeFlash) EraseChip() error {
	f.chipErases++
	if f.eraseErr != nil {
		return f.eraseErr
	}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return nil
}

func (f *fakeFlash) Write(addr uint32, data []byte) error {
	f.writes = append(f.writes, writeCall{addr, append([]byte(nil), data...)})
	if f.writeErr != nil {
		return f.writeErr
	}
	if err := f.inRange(addr, uint32(len(data))); err != nil {
		return err
	}
	copy(f.mem[addr:], data)
	return nil
}

func (f *fakeFlash) Read(addr, size uint32) ([]byte, error) {
	if err := f.inRange(addr, size); err != nil {
		return nil, err
	}
	if f.readFailAt >= int64(addr) && f.readFailAt < int64(addr)+int64(size) {
		return nil, errors.New("read fault")
	}
	return append([]byte(nil), f.mem[addr:addr+size]...), nil
}

func (f *fakeFlash) MD5(addr, size uint32) ([16]byte, error) {
	if err := f.inRange(addr, size); err != nil {
		return [16]byte{}, err
	}
	return md5.Sum(f.mem[addr : addr+size]), nil
}

type fakeMemory struct {
	writes []writeCall
	err    error
}

func (m *fakeMemory) WriteMem(addr uint32, data []byte) error {
	m.writes = append(m.writes, writeCall{addr, append([]byte(nil), data...)})
	return m.err
}

type fakeSPI struct {
	pins   protocol.SpiPins
	params protocol.SpiParams
	err    error
}

func (s *fakeSPI) Attach(pins protocol.SpiPins) error {
	s.pins = pins
	return s.err
}

func (s *fakeSPI) SetParams(p protocol.SpiParams) error {
	s.params = p
	return s.err
}

type fakeRegisters struct {
	regs  map[uint32]uint32
	delay uint32
}

func (r *fakeRegisters) ReadReg(addr uint32) uint32 {
	return r.regs[addr]
}

func (r *fakeRegisters) WriteReg(addr, value, mask, delayUS uint32) {
	r.regs[addr] = (r.regs[addr] &^ mask) | (value & mask)
	r.delay = delayUS
}

type fakeIdentity struct {
	info []byte
	err  error
}

func (i fakeIdentity) SecurityInfo() ([]byte, error) {
	return i.info, i.err
}

type fakeHardware struct {
	flash *fakeFlash
	mem   *fakeMemory
	spi   *fakeSPI
	regs  *fakeRegisters
	id    *fakeIdentity
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		flash: newFakeFlash(0x40000),
		mem:   &fakeMemory{},
		spi:   &fakeSPI{},
		regs:  &fakeRegisters{regs: map[uint32]uint32{}},
		id:    &fakeIdentity{info: protocol.SecurityInfo{ChipID: protocol.ChipIDESP32C3}.Encode()},
	}
}

func (h *fakeHardware) hardware() Hardware {
	return Hardware{
		Flash:     h.flash,
		Memory:    h.mem,
		SPI:       h.spi,
		Registers: h.regs,
		Identity:  h.id,
	}
}

// recordingLogger keeps Error messages so tests can check failures are
// logged.
type recordingLogger struct {
	errors []string
}

func (l *recordingLogger) Debug(string, ...interface{}) {}
func (l *recordingLogger) Info(string, ...interface{})  {}
func (l *recordingLogger) Error(msg string, _ ...interface{}) {
	l.errors = append(l.errors, msg)
}
