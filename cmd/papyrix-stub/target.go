package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bigbag/papyrix-stub/internal/device"
	"github.com/bigbag/papyrix-stub/internal/protocol"
	"github.com/bigbag/papyrix-stub/internal/serial"
	"github.com/bigbag/papyrix-stub/internal/server"
	"github.com/bigbag/papyrix-stub/internal/stub"
	"github.com/bigbag/papyrix-stub/internal/transport"
)

// targetFlags selects the stub a host command talks to: a serial port, a
// WebSocket URL, or an in-process emulated chip when neither is given.
type targetFlags struct {
	port     string
	baud     int
	reset    bool
	url      string
	user     string
	insecure bool
}

func (t *targetFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&t.port, "port", "p", "", "Serial port of the stub")
	cmd.Flags().IntVarP(&t.baud, "baud", "b", protocol.DefaultBaudRate, "Baud rate")
	cmd.Flags().BoolVar(&t.reset, "reset", false, "Pulse DTR/RTS into the loader before connecting")
	cmd.Flags().StringVar(&t.url, "url", "", "WebSocket URL of a served stub (ws:// or wss://)")
	cmd.Flags().StringVarP(&t.user, "user", "u", "", "Username for WebSocket basic auth")
	cmd.Flags().BoolVar(&t.insecure, "insecure", false, "Skip TLS certificate verification")
	cmd.MarkFlagsMutuallyExclusive("port", "url")
}

// target is an open host-side link.
type target struct {
	conn  transport.Conn
	name  string
	close func()
}

func (t *targetFlags) open(ctx context.Context) (*target, error) {
	switch {
	case t.url != "":
		opts := transport.DialOptions{Username: t.user, SkipSSLVerify: t.insecure}
		if t.user != "" {
			password, err := getPassword()
			if err != nil {
				return nil, err
			}
			opts.Password = password
		}
		conn, err := transport.DialWebSocket(ctx, t.url, opts)
		if err != nil {
			return nil, err
		}
		return &target{conn: conn, name: t.url, close: func() { conn.Close() }}, nil

	case t.port != "":
		port, err := serial.Open(t.port, t.baud)
		if err != nil {
			return nil, fmt.Errorf("failed to open port: %w", err)
		}
		if t.reset {
			if err := port.ResetToBootloader(); err != nil {
				port.Close()
				return nil, fmt.Errorf("failed to reset: %w", err)
			}
		}
		conn := transport.NewStream(port, 0)
		name := fmt.Sprintf("%s @ %d baud", t.port, t.baud)
		return &target{conn: conn, name: name, close: func() { conn.Close() }}, nil
	}
	return openEmulated(ctx, device.DefaultConfig())
}

// openEmulated serves a fresh emulated chip over an in-memory pipe.
func openEmulated(ctx context.Context, cfg device.Config) (*target, error) {
	dev, err := device.New(cfg)
	if err != nil {
		return nil, err
	}
	host, chip := transport.Pipe()
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	logger := glogLogger{}
	srv := server.New(chip, stub.New(dev.Hardware(), stub.WithLogger(logger)),
		server.WithLogger(logger),
		server.WithExecutor(dev),
		server.WithRebooter(dev),
	)
	go func() {
		defer close(done)
		srv.Serve(ctx)
	}()

	return &target{
		conn: host,
		name: "emulated " + protocol.ChipName(cfg.ChipID),
		close: func() {
			cancel()
			host.Close()
			chip.Close()
			<-done
		},
	}, nil
}

// getPassword reads the WebSocket password from PAPYRIX_PASSWORD or prompts
// for it on the terminal.
func getPassword() (string, error) {
	if pw := os.Getenv("PAPYRIX_PASSWORD"); pw != "" {
		return pw, nil
	}

	fmt.Fprint(os.Stderr, "Password: ")
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err == nil {
		return string(pw), nil
	}

	// stdin is not a terminal
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
