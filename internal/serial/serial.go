// Package serial opens the UART a stub is served over, or the one a host
// reaches a chip through.
package serial

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// pollInterval bounds how long a Read sits in the driver before re-checking
// for Close.
const pollInterval = 100 * time.Millisecond

// ErrClosed is returned by Read once the port is closed.
var ErrClosed = errors.New("serial: port closed")

// Port is a raw 8N1 serial port. Read blocks until data arrives or the port
// is closed, so it can back a bufio.Reader.
type Port struct {
	port     serial.Port
	portName string

	mu       sync.Mutex
	baudRate int

	closed atomic.Bool
}

// Open opens a serial port with the specified baud rate.
func Open(portName string, baudRate int) (*Port, error) {
	port, err := serial.Open(portName, mode(baudRate))
	if err != nil {
		return nil, fmt.Errorf("failed to open port %s: %w", portName, err)
	}

	if err := port.SetReadTimeout(pollInterval); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	return &Port{
		port:     port,
		portName: portName,
		baudRate: baudRate,
	}, nil
}

func mode(baudRate int) *serial.Mode {
	return &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
}

// Close closes the serial port. A blocked Read returns within pollInterval.
func (p *Port) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.port.Close()
}

// Write writes data to the serial port.
func (p *Port) Write(data []byte) (int, error) {
	return p.port.Write(data)
}

// Read reads at least one byte. The driver reports a read timeout as
// (0, nil); Read keeps waiting instead of passing that on.
func (p *Port) Read(buf []byte) (int, error) {
	for {
		n, err := p.port.Read(buf)
		if n > 0 || err != nil {
			return n, err
		}
		if p.closed.Load() {
			return 0, ErrClosed
		}
	}
}

// SetBaudRate drains pending output, then reprograms the line speed.
func (p *Port) SetBaudRate(baudRate int) error {
	if baudRate <= 0 {
		return fmt.Errorf("invalid baud rate %d", baudRate)
	}
	if err := p.port.Drain(); err != nil {
		return fmt.Errorf("failed to drain port: %w", err)
	}
	if err := p.port.SetMode(mode(baudRate)); err != nil {
		return fmt.Errorf("failed to set baud rate %d: %w", baudRate, err)
	}

	p.mu.Lock()
	p.baudRate = baudRate
	p.mu.Unlock()
	return nil
}

// Flush discards any buffered input.
func (p *Port) Flush() error {
	return p.port.ResetInputBuffer()
}

// ResetToBootloader resets an ESP32 into its ROM loader using the DTR/RTS
// auto-reset circuit found on most dev boards. RTS drives EN and DTR drives
// GPIO0, both inverted by the transistors.
func (p *Port) ResetToBootloader() error {
	steps := []struct {
		rts, dtr bool
		wait     time.Duration
	}{
		{rts: true, dtr: false, wait: 100 * time.Millisecond}, // EN low
		{rts: false, dtr: true, wait: 50 * time.Millisecond},  // EN high, GPIO0 low
		{rts: true, dtr: false, wait: 50 * time.Millisecond},
		{rts: false, dtr: false},
	}
	for _, s := range steps {
		if err := p.port.SetRTS(s.rts); err != nil {
			return err
		}
		if err := p.port.SetDTR(s.dtr); err != nil {
			return err
		}
		time.Sleep(s.wait)
	}

	// Boot ROM banner.
	time.Sleep(100 * time.Millisecond)
	return p.Flush()
}

// PortName returns the port name.
func (p *Port) PortName() string {
	return p.portName
}

// BaudRate returns the current baud rate.
func (p *Port) BaudRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baudRate
}

// PortInfo describes one serial port on the system.
type PortInfo struct {
	Name   string
	IsUSB  bool
	VID    string
	PID    string
	Serial string
}

// String formats the port the way the list command prints it.
func (i PortInfo) String() string {
	if !i.IsUSB {
		return i.Name
	}
	s := fmt.Sprintf("%s [%s:%s]", i.Name, i.VID, i.PID)
	if i.Serial != "" {
		s += " " + i.Serial
	}
	return s
}

// ListPorts returns the available serial ports with USB details where the
// platform reports them.
func ListPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		infos = append(infos, PortInfo{
			Name:   p.Name,
			IsUSB:  p.IsUSB,
			VID:    p.VID,
			PID:    p.PID,
			Serial: p.SerialNumber,
		})
	}
	return infos, nil
}
