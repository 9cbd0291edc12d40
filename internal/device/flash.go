package device

import (
	"crypto/md5"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Flash is a NOR flash image. Erase sets bytes to 0xFF; programming can only
// clear bits, so writing over data that was not erased ANDs into it.
type Flash struct {
	mu         sync.Mutex
	mem        []byte
	sectorSize uint32
	protected  bool
	unlocked   bool
}

func newFlash(cfg Config) *Flash {
	f := &Flash{
		mem:        make([]byte, cfg.FlashSize),
		sectorSize: cfg.SectorSize,
		protected:  cfg.WriteProtect,
	}
	for i := range f.mem {
		f.mem[i] = 0xFF
	}
	return f
}

// Size returns the flash capacity in bytes.
func (f *Flash) Size() uint32 {
	return uint32(len(f.mem))
}

func (f *Flash) checkRange(addr, size uint32) error {
	if uint64(addr)+uint64(size) > uint64(len(f.mem)) {
		return errors.Errorf("range 0x%08X+0x%X exceeds flash size 0x%X", addr, size, len(f.mem))
	}
	return nil
}

// Unlock clears the status register protection bits.
func (f *Flash) Unlock() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.protected {
		return errors.New("flash is write protected")
	}
	f.unlocked = true
	return nil
}

// Unlocked reports whether Unlock has succeeded since power-up.
func (f *Flash) Unlocked() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unlocked
}

// Erase erases whole sectors.
func (f *Flash) Erase(addr, size uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.protected {
		return errors.New("flash is write protected")
	}
	mask := f.sectorSize - 1
	if addr&mask != 0 || size&mask != 0 {
		return errors.Errorf("erase 0x%08X+0x%X is not sector aligned", addr, size)
	}
	if err := f.checkRange(addr, size); err != nil {
		return errors.Wrap(err, "erase")
	}
	fill(f.mem[addr:addr+size], 0xFF)
	return nil
}

// EraseChip erases the whole chip.
func (f *Flash) EraseChip() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.protected {
		return errors.New("flash is write protected")
	}
	fill(f.mem, 0xFF)
	return nil
}

// Write programs data at addr.
func (f *Flash) Write(addr uint32, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.protected {
		return errors.New("flash is write protected")
	}
	if err := f.checkRange(addr, uint32(len(data))); err != nil {
		return errors.Wrap(err, "write")
	}
	dst := f.mem[addr:]
	for i, b := range data {
		dst[i] &= b
	}
	return nil
}

// Read returns a copy of [addr, addr+size).
func (f *Flash) Read(addr, size uint32) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkRange(addr, size); err != nil {
		return nil, errors.Wrap(err, "read")
	}
	out := make([]byte, size)
	copy(out, f.mem[addr:])
	return out, nil
}

// MD5 digests [addr, addr+size).
func (f *Flash) MD5(addr, size uint32) ([16]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkRange(addr, size); err != nil {
		return [16]byte{}, errors.Wrap(err, "md5")
	}
	return md5.Sum(f.mem[addr : addr+size]), nil
}

// Load replaces the start of the image with data read from r. Bytes past the
// end of r keep their current value.
func (f *Flash) Load(r io.Reader) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := io.ReadFull(r, f.mem)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "load image after %d bytes", n)
	}
	return nil
}

// LoadFile loads an image file. A missing file leaves the flash erased.
func (f *Flash) LoadFile(path string) error {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "open image")
	}
	defer file.Close()
	return f.Load(file)
}

// SaveFile writes the whole image to path.
func (f *Flash) SaveFile(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.WriteFile(path, f.mem, 0o644); err != nil {
		return errors.Wrap(err, "save image")
	}
	return nil
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
