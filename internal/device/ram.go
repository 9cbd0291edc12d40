package device

import (
	"sync"

	"github.com/pkg/errors"
)

type span struct{ start, end uint32 }

// RAM holds the regions MEM_DATA can target and remembers which bytes were
// loaded.
type RAM struct {
	mu      sync.Mutex
	regions []Region
	mem     map[uint32][]byte // region base -> contents
	loaded  []span
}

func newRAM(regions []Region) *RAM {
	r := &RAM{regions: regions}
	r.Reset()
	return r
}

func (r *RAM) region(addr, size uint32) (Region, bool) {
	for _, reg := range r.regions {
		if reg.contains(addr, size) {
			return reg, true
		}
	}
	return Region{}, false
}

// WriteMem copies data into RAM.
func (r *RAM) WriteMem(addr uint32, data []byte) error {
	size := uint32(len(data))
	reg, ok := r.region(addr, size)
	if !ok {
		return errors.Errorf("0x%08X+0x%X is outside RAM", addr, size)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	copy(r.mem[reg.Base][addr-reg.Base:], data)
	if size > 0 {
		r.loaded = append(r.loaded, span{addr, addr + size})
	}
	return nil
}

// ReadMem returns a copy of RAM contents.
func (r *RAM) ReadMem(addr, size uint32) ([]byte, error) {
	reg, ok := r.region(addr, size)
	if !ok {
		return nil, errors.Errorf("0x%08X+0x%X is outside RAM", addr, size)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, size)
	copy(out, r.mem[reg.Base][addr-reg.Base:])
	return out, nil
}

// Loaded reports whether addr lies in bytes written since the last Reset.
func (r *RAM) Loaded(addr uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.loaded {
		if addr >= s.start && addr < s.end {
			return true
		}
	}
	return false
}

// Reset zeroes RAM.
func (r *RAM) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mem = make(map[uint32][]byte, len(r.regions))
	for _, reg := range r.regions {
		r.mem[reg.Base] = make([]byte, reg.Size)
	}
	r.loaded = nil
}
