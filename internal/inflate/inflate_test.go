package inflate

import (
	"bytes"
	"errors"
	"testing"

	"github.com/klauspost/compress/zlib"
)

func compress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		t.Fatalf("NewWriterLevel() error = %v", err)
	}
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	return buf.Bytes()
}

func testImage(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7) ^ byte(i>>8)
	}
	return data
}

func feedChunks(t *testing.T, s *Stream, compressed []byte, chunk int) []byte {
	t.Helper()
	var out []byte
	for off := 0; off < len(compressed); off += chunk {
		end := off + chunk
		if end > len(compressed) {
			end = len(compressed)
		}
		got, err := s.Inflate(compressed[off:end])
		if err != nil {
			t.Fatalf("Inflate() at offset %d error = %v", off, err)
		}
		out = append(out, got...)
	}
	return out
}

func TestStream_ChunkSizes(t *testing.T) {
	data := testImage(100 * 1024)
	compressed := compress(t, data)

	for _, chunk := range []int{1, 7, 64, 1024, 0x4000, len(compressed)} {
		s := NewStream()
		out := feedChunks(t, s, compressed, chunk)
		tail, err := s.Finish()
		if err != nil {
			t.Fatalf("Finish() with chunk %d error = %v", chunk, err)
		}
		out = append(out, tail...)
		if !bytes.Equal(out, data) {
			t.Errorf("chunk %d: inflated %d bytes, want %d identical bytes", chunk, len(out), len(data))
		}
	}
}

func TestStream_OutputArrivesBeforeFinish(t *testing.T) {
	// Incompressible-ish input so the decoder has to flush its window.
	data := make([]byte, 256*1024)
	x := uint32(1)
	for i := range data {
		x ^= x << 13
		x ^= x >> 17
		x ^= x << 5
		data[i] = byte(x)
	}
	compressed := compress(t, data)

	s := NewStream()
	defer s.Close()
	out := feedChunks(t, s, compressed[:len(compressed)/2], 0x1000)
	if len(out) == 0 {
		t.Error("Inflate() released no output after half the stream")
	}
}

func TestStream_CorruptData(t *testing.T) {
	compressed := compress(t, testImage(8192))
	compressed[len(compressed)/2] ^= 0xFF
	compressed[len(compressed)/2+1] ^= 0xFF

	s := NewStream()
	var err error
	for off := 0; off < len(compressed) && err == nil; off += 512 {
		end := off + 512
		if end > len(compressed) {
			end = len(compressed)
		}
		_, err = s.Inflate(compressed[off:end])
	}
	if err == nil {
		_, err = s.Finish()
	}
	if err == nil {
		t.Error("corrupt stream inflated without error")
	}
}

func TestStream_BadHeader(t *testing.T) {
	s := NewStream()
	_, err := s.Inflate([]byte{0x00, 0x00, 0x00, 0x00})
	if err == nil {
		_, err = s.Finish()
	}
	if err == nil {
		t.Error("stream with bad zlib header inflated without error")
	}
}

func TestStream_FinishIncomplete(t *testing.T) {
	compressed := compress(t, testImage(4096))

	s := NewStream()
	if _, err := s.Inflate(compressed[:len(compressed)-6]); err != nil {
		t.Fatalf("Inflate() error = %v", err)
	}
	if _, err := s.Finish(); err == nil {
		t.Error("Finish() on truncated stream error = nil, want error")
	}
}

func TestStream_TrailingData(t *testing.T) {
	compressed := compress(t, []byte("hello"))

	s := NewStream()
	if _, err := s.Inflate(compressed); err != nil {
		t.Fatalf("Inflate() error = %v", err)
	}
	if _, err := s.Inflate([]byte{1, 2, 3}); !errors.Is(err, ErrTrailingData) {
		t.Errorf("Inflate() after end error = %v, want %v", err, ErrTrailingData)
	}
}

func TestStream_TrailingBytesInLastChunk(t *testing.T) {
	compressed := compress(t, []byte("hello"))
	chunk := append(append([]byte{}, compressed...), 1, 2, 3)

	s := NewStream()
	got, err := s.Inflate(chunk)
	if err != nil {
		t.Fatalf("Inflate() error = %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("Inflate() = %q, want %q", got, "hello")
	}
	if _, err := s.Inflate([]byte{4}); !errors.Is(err, ErrTrailingData) {
		t.Errorf("Inflate() after end error = %v, want %v", err, ErrTrailingData)
	}
}

func TestStream_UseAfterClose(t *testing.T) {
	s := NewStream()
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
	if _, err := s.Inflate([]byte{0x78}); !errors.Is(err, ErrClosed) {
		t.Errorf("Inflate() after Close error = %v, want %v", err, ErrClosed)
	}
	if _, err := s.Finish(); !errors.Is(err, ErrClosed) {
		t.Errorf("Finish() after Close error = %v, want %v", err, ErrClosed)
	}
}

func TestStream_EmptyChunk(t *testing.T) {
	s := NewStream()
	defer s.Close()
	out, err := s.Inflate(nil)
	if err != nil || out != nil {
		t.Errorf("Inflate(nil) = (%v, %v), want (nil, nil)", out, err)
	}
}
