package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func encodeRequest(cmd byte, data []byte) []byte {
	return NewRequest(cmd, data).Encode()
}

func decodeOK(t *testing.T, buf []byte) Command {
	t.Helper()
	cmd, err := DecodeCommand(buf)
	if err != nil {
		t.Fatalf("DecodeCommand() error = %v", err)
	}
	return cmd
}

func TestDecodeCommand_Sync(t *testing.T) {
	cmd := decodeOK(t, encodeRequest(CmdSync, SyncData()))

	sync, ok := cmd.(*SyncCommand)
	if !ok {
		t.Fatalf("DecodeCommand() type = %T, want *SyncCommand", cmd)
	}
	if !sync.Valid() {
		t.Error("SyncCommand.Valid() = false, want true")
	}
	if sync.Base().Code != CmdSync || sync.Base().Size != SyncSize {
		t.Errorf("SyncCommand header = %+v", sync.Base())
	}
}

func TestDecodeCommand_SyncBadPattern(t *testing.T) {
	data := SyncData()
	data[10] = 0x00
	sync := decodeOK(t, encodeRequest(CmdSync, data)).(*SyncCommand)
	if sync.Valid() {
		t.Error("SyncCommand.Valid() = true for corrupted pattern")
	}
}

func TestDecodeCommand_Begin(t *testing.T) {
	for _, code := range []byte{CmdFlashBegin, CmdFlashDeflBegin, CmdMemBegin} {
		cmd := decodeOK(t, encodeRequest(code, BeginData(4096, 1, 4096, 0x1000)))
		begin, ok := cmd.(*BeginCommand)
		if !ok {
			t.Fatalf("DecodeCommand(0x%02X) type = %T, want *BeginCommand", code, cmd)
		}
		if begin.TotalSize != 4096 || begin.PacketCount != 1 || begin.PacketSize != 4096 || begin.Offset != 0x1000 {
			t.Errorf("DecodeCommand(0x%02X) = %+v", code, begin)
		}
		if begin.Code != code {
			t.Errorf("BeginCommand.Code = 0x%02X, want 0x%02X", begin.Code, code)
		}
	}
}

func TestDecodeCommand_BeginRomVariant(t *testing.T) {
	data := append(BeginData(4096, 4, 1024, 0), 0, 0, 0, 0)
	begin := decodeOK(t, encodeRequest(CmdFlashBegin, data)).(*BeginCommand)
	if begin.PacketCount != 4 {
		t.Errorf("BeginCommand.PacketCount = %d, want 4", begin.PacketCount)
	}
}

func TestDecodeCommand_Data(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5, 6}
	buf := NewDataRequest(CmdFlashData, payload, 9).Encode()

	data, ok := decodeOK(t, buf).(*DataCommand)
	if !ok {
		t.Fatal("DecodeCommand() did not return *DataCommand")
	}
	if data.Sequence != 9 {
		t.Errorf("DataCommand.Sequence = %d, want 9", data.Sequence)
	}
	if data.DataSize != uint32(len(payload)) {
		t.Errorf("DataCommand.DataSize = %d, want %d", data.DataSize, len(payload))
	}
	if !bytes.Equal(data.Payload, payload) {
		t.Errorf("DataCommand.Payload = %v, want %v", data.Payload, payload)
	}
	if data.Checksum != Checksum(payload) {
		t.Errorf("DataCommand.Checksum = 0x%X, want 0x%X", data.Checksum, Checksum(payload))
	}
}

func TestDecodeCommand_DataSizeFieldMismatch(t *testing.T) {
	buf := NewDataRequest(CmdMemData, []byte{1, 2, 3, 4}, 0).Encode()
	binary.LittleEndian.PutUint32(buf[HeaderSize:], 5)

	_, err := DecodeCommand(buf)
	if !errors.Is(err, ErrBadDataLen) {
		t.Errorf("DecodeCommand() error = %v, want %v", err, ErrBadDataLen)
	}
}

func TestDecodeCommand_FlashEndShouldReboot(t *testing.T) {
	tests := []struct {
		raw    uint32
		reboot bool
	}{
		{0, true},
		{1, false},
		{2, false},
	}
	for _, tc := range tests {
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data, tc.raw)
		for _, code := range []byte{CmdFlashEnd, CmdFlashDeflEnd} {
			end := decodeOK(t, encodeRequest(code, data)).(*FlashEndCommand)
			if end.ShouldReboot() != tc.reboot {
				t.Errorf("ShouldReboot() with raw %d = %v, want %v", tc.raw, end.ShouldReboot(), tc.reboot)
			}
		}
	}

	if !decodeOK(t, encodeRequest(CmdFlashEnd, FlashEndData(true))).(*FlashEndCommand).ShouldReboot() {
		t.Error("FlashEndData(true) does not decode as a reboot request")
	}
}

func TestDecodeCommand_FixedShapes(t *testing.T) {
	pins := SpiPins{CLK: 1, Q: 2, D: 3, HD: 4, CS: 5}
	params := DefaultSpiParams(0x400000)
	read := ReadFlashParams{Address: 0x2000, TotalSize: 8192, PacketSize: 1024, MaxInFlight: 2}

	tests := []struct {
		name  string
		buf   []byte
		check func(Command) bool
	}{
		{"mem end", encodeRequest(CmdMemEnd, MemEndData(0x40080000)), func(c Command) bool {
			m := c.(*MemEndCommand)
			return m.StayInStub == 0 && m.Entrypoint == 0x40080000
		}},
		{"write reg", encodeRequest(CmdWriteReg, WriteRegData(0x60000000, 0xAB, 0xFF, 10)), func(c Command) bool {
			w := c.(*WriteRegCommand)
			return w.Address == 0x60000000 && w.Value == 0xAB && w.Mask == 0xFF && w.DelayUS == 10
		}},
		{"read reg", encodeRequest(CmdReadReg, ReadRegData(0x3FF00050)), func(c Command) bool {
			return c.(*ReadRegCommand).Address == 0x3FF00050
		}},
		{"spi set params", encodeRequest(CmdSpiSetParams, SpiSetParamsData(params)), func(c Command) bool {
			return c.(*SpiSetParamsCommand).Params == params
		}},
		{"spi attach", encodeRequest(CmdSpiAttach, SpiAttachData(pins)), func(c Command) bool {
			return c.(*SpiAttachCommand).Pins == pins
		}},
		{"spi attach rom", encodeRequest(CmdSpiAttach, append(SpiAttachData(pins), 0, 0, 0, 0)), func(c Command) bool {
			return c.(*SpiAttachCommand).Pins == pins
		}},
		{"change baud", encodeRequest(CmdChangeBaudrate, ChangeBaudrateData(921600, 115200)), func(c Command) bool {
			b := c.(*ChangeBaudrateCommand)
			return b.New == 921600 && b.Old == 115200
		}},
		{"md5", encodeRequest(CmdSpiFlashMD5, FlashMD5Data(0x1000, 0x2000)), func(c Command) bool {
			m := c.(*SpiFlashMD5Command)
			return m.Address == 0x1000 && m.Size == 0x2000
		}},
		{"erase region", encodeRequest(CmdEraseRegion, EraseRegionData(0x3000, 0x1000)), func(c Command) bool {
			e := c.(*EraseRegionCommand)
			return e.Address == 0x3000 && e.Size == 0x1000
		}},
		{"read flash", encodeRequest(CmdReadFlash, ReadFlashData(read)), func(c Command) bool {
			return c.(*ReadFlashCommand).Params == read
		}},
		{"security info", encodeRequest(CmdGetSecurityInfo, nil), func(c Command) bool {
			return c.(*EmptyCommand).Code == CmdGetSecurityInfo
		}},
		{"erase flash", encodeRequest(CmdEraseFlash, nil), func(c Command) bool {
			return c.(*EmptyCommand).Code == CmdEraseFlash
		}},
		{"run user code", encodeRequest(CmdRunUserCode, nil), func(c Command) bool {
			return c.(*EmptyCommand).Code == CmdRunUserCode
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd := decodeOK(t, tc.buf)
			if !tc.check(cmd) {
				t.Errorf("DecodeCommand() = %+v, fields do not match", cmd)
			}
		})
	}
}

func TestDecodeCommand_Errors(t *testing.T) {
	wrongDir := encodeRequest(CmdSync, SyncData())
	wrongDir[0] = DirResponse

	truncated := encodeRequest(CmdFlashBegin, BeginData(1, 1, 1, 0))
	truncated = truncated[:len(truncated)-3]

	excess := append(encodeRequest(CmdReadReg, ReadRegData(0)), 0x00)

	shortData := NewDataRequest(CmdFlashData, make([]byte, 32), 0).Encode()
	shortData = shortData[:len(shortData)-1]

	tests := []struct {
		name string
		buf  []byte
		want Error
	}{
		{"empty", nil, ErrNotEnoughData},
		{"short header", []byte{0x00, CmdSync, 0x24}, ErrNotEnoughData},
		{"wrong direction", wrongDir, ErrInvalidCommand},
		{"unknown code", encodeRequest(0x42, nil), ErrInvalidCommand},
		{"sync wrong size", encodeRequest(CmdSync, SyncData()[:35]), ErrBadDataLen},
		{"begin wrong size", encodeRequest(CmdFlashBegin, make([]byte, 12)), ErrBadDataLen},
		{"end wrong size", encodeRequest(CmdFlashEnd, make([]byte, 1)), ErrBadDataLen},
		{"data below header", encodeRequest(CmdFlashData, make([]byte, 8)), ErrBadDataLen},
		{"empty command with body", encodeRequest(CmdGetSecurityInfo, []byte{1}), ErrBadDataLen},
		{"truncated body", truncated, ErrNotEnoughData},
		{"excess body", excess, ErrTooMuchData},
		{"truncated data payload", shortData, ErrNotEnoughData},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := DecodeCommand(tc.buf)
			if cmd != nil {
				t.Errorf("DecodeCommand() command = %+v, want nil", cmd)
			}
			var perr Error
			if !errors.As(err, &perr) {
				t.Fatalf("DecodeCommand() error = %v, want protocol Error", err)
			}
			if perr != tc.want {
				t.Errorf("DecodeCommand() error = %v, want %v", perr, tc.want)
			}
		})
	}
}

func TestPeekCode(t *testing.T) {
	if got := PeekCode(nil); got != 0 {
		t.Errorf("PeekCode(nil) = 0x%02X, want 0", got)
	}
	if got := PeekCode([]byte{0x00, CmdReadFlash}); got != CmdReadFlash {
		t.Errorf("PeekCode() = 0x%02X, want 0x%02X", got, CmdReadFlash)
	}
}
