package trace

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/bigbag/papyrix-stub/internal/protocol"
)

func fixedClock(start time.Time) func() time.Time {
	t := start
	return func() time.Time {
		t = t.Add(time.Millisecond)
		return t
	}
}

func TestRecorder_ReadAll(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	start := time.Unix(1700000000, 0)
	rec.now = fixedClock(start)

	packets := []struct {
		inbound bool
		data    []byte
	}{
		{true, protocol.NewRequest(protocol.CmdSync, protocol.SyncData()).Encode()},
		{false, protocol.NewResponse(protocol.CmdSync).Encode()},
		{false, []byte{0xDE, 0xAD}},
		{true, protocol.ReadAckData(1024)},
	}
	for _, p := range packets {
		if err := rec.Record(p.inbound, p.data); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	recs, err := ReadAll(&buf)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(recs) != len(packets) {
		t.Fatalf("ReadAll() returned %d records, want %d", len(recs), len(packets))
	}
	for i, r := range recs {
		if r.Seq != uint64(i) {
			t.Errorf("record %d Seq = %d, want %d", i, r.Seq, i)
		}
		wantDir := Outbound
		if packets[i].inbound {
			wantDir = Inbound
		}
		if r.Direction != wantDir {
			t.Errorf("record %d Direction = %v, want %v", i, r.Direction, wantDir)
		}
		if !bytes.Equal(r.Packet, packets[i].data) {
			t.Errorf("record %d Packet = % X, want % X", i, r.Packet, packets[i].data)
		}
		want := start.Add(time.Duration(i+1) * time.Millisecond)
		if !r.Timestamp().Equal(want) {
			t.Errorf("record %d Timestamp() = %v, want %v", i, r.Timestamp(), want)
		}
	}
}

func TestReader_Empty(t *testing.T) {
	recs, err := ReadAll(bytes.NewReader(nil))
	if err != nil || len(recs) != 0 {
		t.Errorf("ReadAll(empty) = %v, %v, want no records", recs, err)
	}
}

func TestReader_Truncated(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf)
	rec.Record(true, []byte{0x00, 0x08, 0x00, 0x00})
	rec.Record(false, bytes.Repeat([]byte{0x55}, 64))

	data := buf.Bytes()
	r := NewReader(bytes.NewReader(data[:len(data)-10]))
	if _, err := r.Next(); err != nil {
		t.Fatalf("first Next() error = %v", err)
	}
	_, err := r.Next()
	if err == nil || errors.Is(err, io.EOF) {
		t.Errorf("Next() on a truncated record error = %v, want a decode error", err)
	}
}

func TestRecord_Summary(t *testing.T) {
	failed := protocol.NewResponse(protocol.CmdFlashData).Fail(protocol.ErrBadDataChecksum)

	tests := []struct {
		name string
		rec  Record
		want string
	}{
		{
			name: "request",
			rec:  Record{Direction: Inbound, Packet: protocol.NewRequest(protocol.CmdSync, protocol.SyncData()).Encode()},
			want: "request  SYNC",
		},
		{
			name: "ack",
			rec:  Record{Direction: Inbound, Packet: protocol.ReadAckData(4096)},
			want: "ack      4096 bytes received",
		},
		{
			name: "ok response",
			rec:  Record{Direction: Outbound, Packet: protocol.NewResponse(protocol.CmdSync).Encode()},
			want: "response SYNC",
		},
		{
			name: "failed response",
			rec:  Record{Direction: Outbound, Packet: failed.Encode()},
			want: "error=0xC1",
		},
		{
			name: "stream data",
			rec:  Record{Direction: Outbound, Packet: []byte{0xFF, 0xFF, 0xFF}},
			want: "data     3 bytes",
		},
		{
			name: "garbage",
			rec:  Record{Direction: Inbound, Packet: []byte{0x07}},
			want: "unknown  1 bytes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.rec.Summary(); !strings.Contains(got, tt.want) {
				t.Errorf("Summary() = %q, want it to contain %q", got, tt.want)
			}
		})
	}
}

func TestDirection_String(t *testing.T) {
	if Inbound.String() != "<-" || Outbound.String() != "->" || Direction(9).String() != "??" {
		t.Errorf("Direction strings = %q %q %q", Inbound, Outbound, Direction(9))
	}
}
