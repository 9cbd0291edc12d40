// Package slip implements the RFC 1055 framing used on the loader's serial
// line: every packet is wrapped in END bytes, and END/ESC inside the packet
// are escaped.
package slip

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

const (
	End    = 0xC0
	Esc    = 0xDB
	EscEnd = 0xDC
	EscEsc = 0xDD
)

// MaxFrameSize bounds a decoded frame: the largest DATA packet plus its
// headers, with room to spare.
const MaxFrameSize = 0x4000 + 64

var (
	// ErrFrameTooLarge is returned when a frame grows past the decoder limit.
	ErrFrameTooLarge = errors.New("slip: frame too large")
	// ErrBadEscape is returned when ESC is followed by anything but ESC_END
	// or ESC_ESC.
	ErrBadEscape = errors.New("slip: invalid escape sequence")
)

// Encode wraps data in SLIP framing.
// Adds END byte at start and end, escapes special bytes.
func Encode(data []byte) []byte {
	// Pre-allocate with some extra space for escapes
	result := make([]byte, 0, len(data)+10)
	result = append(result, End)

	for _, b := range data {
		switch b {
		case End:
			result = append(result, Esc, EscEnd)
		case Esc:
			result = append(result, Esc, EscEsc)
		default:
			result = append(result, b)
		}
	}

	result = append(result, End)
	return result
}

// Decoder is an incremental SLIP decoder. Bytes outside a frame are
// discarded, so a decoder attached mid-stream resynchronises on the next END.
type Decoder struct {
	buf     []byte
	max     int
	inFrame bool
	escape  bool
	// skip drops bytes until the next END after an error.
	skip bool
}

// NewDecoder creates a decoder that rejects frames longer than max bytes.
// A max of 0 selects MaxFrameSize.
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = MaxFrameSize
	}
	return &Decoder{buf: make([]byte, 0, 256), max: max}
}

// Reset drops any partial frame.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.inFrame = false
	d.escape = false
	d.skip = false
}

// DecodeByte feeds one byte. It returns a complete frame, or nil while the
// frame is incomplete. The returned slice is only valid until the next call.
func (d *Decoder) DecodeByte(b byte) ([]byte, error) {
	if b == End {
		if d.skip {
			d.Reset()
			d.inFrame = true
			return nil, nil
		}
		if d.inFrame && len(d.buf) > 0 {
			if d.escape {
				d.Reset()
				d.inFrame = true
				return nil, ErrBadEscape
			}
			frame := d.buf
			d.buf = d.buf[:0]
			return frame, nil
		}
		// Opening END, or back-to-back ENDs.
		d.Reset()
		d.inFrame = true
		return nil, nil
	}

	if !d.inFrame || d.skip {
		return nil, nil
	}

	if d.escape {
		d.escape = false
		switch b {
		case EscEnd:
			b = End
		case EscEsc:
			b = Esc
		default:
			d.skip = true
			return nil, ErrBadEscape
		}
	} else if b == Esc {
		d.escape = true
		return nil, nil
	}

	if len(d.buf) >= d.max {
		d.skip = true
		return nil, fmt.Errorf("%w: more than %d bytes", ErrFrameTooLarge, d.max)
	}
	d.buf = append(d.buf, b)
	return nil, nil
}

// Reader reads SLIP frames from a byte stream.
type Reader struct {
	r   *bufio.Reader
	dec *Decoder
}

// NewReader creates a frame reader over r.
func NewReader(r io.Reader, max int) *Reader {
	return &Reader{r: bufio.NewReader(r), dec: NewDecoder(max)}
}

// ReadFrame blocks until a complete frame arrives and returns a copy of it.
// Framing errors are returned once; the reader stays usable afterwards.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		frame, err := r.dec.DecodeByte(b)
		if err != nil {
			return nil, err
		}
		if frame != nil {
			out := make([]byte, len(frame))
			copy(out, frame)
			return out, nil
		}
	}
}

// Decode extracts the payload of a single complete frame.
func Decode(frame []byte) ([]byte, error) {
	dec := NewDecoder(len(frame))
	for _, b := range frame {
		out, err := dec.DecodeByte(b)
		if err != nil {
			return nil, err
		}
		if out != nil {
			return append([]byte(nil), out...), nil
		}
	}
	return nil, io.ErrUnexpectedEOF
}
