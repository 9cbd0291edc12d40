// Package detect finds stubs answering on the system's serial ports.
package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/bigbag/papyrix-stub/internal/flasher"
	"github.com/bigbag/papyrix-stub/internal/protocol"
	"github.com/bigbag/papyrix-stub/internal/serial"
	"github.com/bigbag/papyrix-stub/internal/transport"
)

// probeTimeout bounds how long one port is given to answer.
const probeTimeout = 2 * time.Second

// Result represents a detected stub.
type Result struct {
	Port       string
	ChipID     uint32
	ChipName   string
	APIVersion uint32
	// Secure is set when secure boot or flash encryption is enabled.
	Secure bool
}

// Probe syncs with the stub behind conn and reads its security info.
func Probe(ctx context.Context, conn transport.Conn) (*Result, error) {
	f := flasher.New(conn, flasher.WithTimeout(probeTimeout))
	if err := f.Sync(ctx); err != nil {
		return nil, fmt.Errorf("failed to sync: %w", err)
	}

	info, err := f.SecurityInfo(ctx)
	if err != nil {
		// Sync worked so something speaks the protocol.
		return &Result{ChipName: "ESP32 (unknown variant)"}, nil
	}
	return &Result{
		ChipID:     info.ChipID,
		ChipName:   protocol.ChipName(info.ChipID),
		APIVersion: info.APIVersion,
		Secure:     info.Flags != 0 || info.FlashCryptCnt != 0,
	}, nil
}

// DetectOnPort probes a single serial port. With reset set the chip is
// first pulsed into its loader through DTR/RTS.
func DetectOnPort(ctx context.Context, portName string, baudRate int, reset bool) (*Result, error) {
	port, err := serial.Open(portName, baudRate)
	if err != nil {
		return nil, err
	}
	conn := transport.NewStream(port, 0)
	defer conn.Close()

	if reset {
		if err := port.ResetToBootloader(); err != nil {
			return nil, fmt.Errorf("failed to reset: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	result, err := Probe(ctx, conn)
	if err != nil {
		return nil, err
	}
	result.Port = portName
	return result, nil
}

// ListDevices probes every serial port and returns the ones that answered.
func ListDevices(ctx context.Context, baudRate int, reset bool) ([]Result, error) {
	ports, err := serial.ListPorts()
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	var results []Result
	for _, p := range ports {
		result, err := DetectOnPort(ctx, p.Name, baudRate, reset)
		if err == nil {
			results = append(results, *result)
		}
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}
	return results, nil
}
