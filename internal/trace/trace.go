// Package trace records the packets crossing a stub link to a file and reads
// them back. Each record is a CBOR array [seq, unix_nanos, direction,
// packet]; a trace file is a plain sequence of records.
package trace

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

// Direction of a traced packet, seen from the stub.
type Direction uint8

const (
	Inbound  Direction = 0 // host -> stub
	Outbound Direction = 1 // stub -> host
)

func (d Direction) String() string {
	switch d {
	case Inbound:
		return "<-"
	case Outbound:
		return "->"
	}
	return "??"
}

// Record is one traced packet.
type Record struct {
	_ struct{} `cbor:",toarray"`

	Seq       uint64
	Time      int64
	Direction Direction
	Packet    []byte
}

// Timestamp returns the record time.
func (r Record) Timestamp() time.Time {
	return time.Unix(0, r.Time)
}

// Summary describes the packet in one line: the command and, for responses,
// the status. Read-stream chunks and acks are reported by size.
func (r Record) Summary() string {
	p := r.Packet
	if r.Direction == Inbound {
		switch {
		case len(p) == 4:
			return fmt.Sprintf("ack      %d bytes received", binary.LittleEndian.Uint32(p))
		case len(p) >= protocol.HeaderSize && p[0] == protocol.DirRequest:
			return fmt.Sprintf("request  %-20s %d bytes", protocol.CommandName(p[1]), len(p))
		}
		return fmt.Sprintf("unknown  %d bytes", len(p))
	}

	resp, err := protocol.DecodeResponse(p)
	if err != nil {
		return fmt.Sprintf("data     %d bytes", len(p))
	}
	status := "ok"
	if !resp.IsSuccess() {
		status = resp.ErrorString()
	}
	return fmt.Sprintf("response %-20s %s", protocol.CommandName(resp.Command), status)
}

var encMode = func() cbor.EncMode {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("trace: cbor mode: %v", err))
	}
	return em
}()

// Recorder appends records to a writer. It is safe for concurrent use.
type Recorder struct {
	mu  sync.Mutex
	enc *cbor.Encoder
	seq uint64
	now func() time.Time
}

// NewRecorder creates a recorder writing to w.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{enc: encMode.NewEncoder(w), now: time.Now}
}

// Record writes one packet. inbound is true for packets the stub received.
func (r *Recorder) Record(inbound bool, packet []byte) error {
	dir := Outbound
	if inbound {
		dir = Inbound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec := Record{
		Seq:       r.seq,
		Time:      r.now().UnixNano(),
		Direction: dir,
		Packet:    packet,
	}
	if err := r.enc.Encode(rec); err != nil {
		return fmt.Errorf("failed to write trace record %d: %w", r.seq, err)
	}
	r.seq++
	return nil
}

// Reader iterates over the records of a trace.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader creates a reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next returns the next record, or io.EOF at the end of the trace.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("failed to decode trace record: %w", err)
	}
	return rec, nil
}

// ReadAll returns every record in r.
func ReadAll(r io.Reader) ([]Record, error) {
	tr := NewReader(r)
	var recs []Record
	for {
		rec, err := tr.Next()
		if err == io.EOF {
			return recs, nil
		}
		if err != nil {
			return recs, err
		}
		recs = append(recs, rec)
	}
}
