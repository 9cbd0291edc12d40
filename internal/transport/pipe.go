package transport

import "net"

// Pipe returns two SLIP streams joined back to back in memory.
func Pipe() (*Stream, *Stream) {
	a, b := net.Pipe()
	return NewStream(a, 0), NewStream(b, 0)
}
