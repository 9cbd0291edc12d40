package protocol

import (
	"encoding/binary"
	"fmt"
)

// Request represents a bootloader request packet as built by a host.
type Request struct {
	Command  byte
	Data     []byte
	Checksum uint32
}

// Response represents a bootloader response packet.
type Response struct {
	Command byte
	Data    []byte
	Value   uint32
	Status  byte
	Error   byte
}

// NewRequest creates a request for a command that carries no checksum.
func NewRequest(cmd byte, data []byte) *Request {
	return &Request{
		Command: cmd,
		Data:    data,
	}
}

// NewDataRequest creates a DATA request for one transfer packet. The
// checksum covers the payload only, not the 16-byte data header.
func NewDataRequest(cmd byte, payload []byte, seq uint32) *Request {
	return &Request{
		Command:  cmd,
		Data:     DataPayload(payload, seq),
		Checksum: Checksum(payload),
	}
}

// Encode serializes the request to bytes (before SLIP encoding).
func (r *Request) Encode() []byte {
	size := uint16(len(r.Data))
	packet := make([]byte, HeaderSize+len(r.Data))

	packet[0] = DirRequest
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], size)
	binary.LittleEndian.PutUint32(packet[4:8], r.Checksum)
	copy(packet[HeaderSize:], r.Data)

	return packet
}

// NewResponse creates a successful, empty response echoing cmd.
func NewResponse(cmd byte) *Response {
	return &Response{Command: cmd}
}

// Fail marks the response as failed with the given error code.
func (r *Response) Fail(e Error) *Response {
	r.Status = 1
	r.Error = byte(e)
	return r
}

// Size is the value of the size field: status and error bytes plus data.
func (r *Response) Size() uint16 {
	return uint16(2 + len(r.Data))
}

// Encode serializes the response:
//
//	0: direction (0x01 = response)
//	1: command
//	2-3: size = 2 + len(data) (little-endian)
//	4-7: value (little-endian)
//	8: status
//	9: error
//	10+: data
func (r *Response) Encode() []byte {
	packet := make([]byte, ResponseHeaderSize+len(r.Data))

	packet[0] = DirResponse
	packet[1] = r.Command
	binary.LittleEndian.PutUint16(packet[2:4], r.Size())
	binary.LittleEndian.PutUint32(packet[4:8], r.Value)
	packet[8] = r.Status
	packet[9] = r.Error
	copy(packet[ResponseHeaderSize:], r.Data)

	return packet
}

// DecodeResponse parses a response from raw bytes (after SLIP decoding).
func DecodeResponse(data []byte) (*Response, error) {
	if len(data) < ResponseHeaderSize {
		return nil, fmt.Errorf("response too short: %d bytes", len(data))
	}

	if data[0] != DirResponse {
		return nil, fmt.Errorf("invalid direction byte: 0x%02X", data[0])
	}

	size := binary.LittleEndian.Uint16(data[2:4])
	if size < 2 {
		return nil, fmt.Errorf("invalid response size: %d", size)
	}
	if int(size)-2 != len(data)-ResponseHeaderSize {
		return nil, fmt.Errorf("data size mismatch: expected %d, have %d", size-2, len(data)-ResponseHeaderSize)
	}

	resp := &Response{
		Command: data[1],
		Value:   binary.LittleEndian.Uint32(data[4:8]),
		Status:  data[8],
		Error:   data[9],
	}
	if size > 2 {
		resp.Data = data[ResponseHeaderSize:]
	}

	return resp, nil
}

// IsSuccess returns true if the response indicates success.
func (r *Response) IsSuccess() bool {
	return r.Status == 0 && r.Error == 0
}

// ErrorString returns a human-readable error message.
func (r *Response) ErrorString() string {
	if r.IsSuccess() {
		return ""
	}
	return fmt.Sprintf("status=0x%02X error=0x%02X (%s)", r.Status, r.Error, ErrorMessage(r.Error))
}
