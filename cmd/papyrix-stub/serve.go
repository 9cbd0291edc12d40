package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/bigbag/papyrix-stub/internal/device"
	"github.com/bigbag/papyrix-stub/internal/protocol"
	"github.com/bigbag/papyrix-stub/internal/serial"
	"github.com/bigbag/papyrix-stub/internal/server"
	"github.com/bigbag/papyrix-stub/internal/stub"
	"github.com/bigbag/papyrix-stub/internal/trace"
	"github.com/bigbag/papyrix-stub/internal/transport"
)

type serveFlags struct {
	port   string
	baud   int
	listen string
	user   string

	image        string
	save         string
	flashSize    uint32
	chipID       uint32
	writeProtect bool
	trace        string
}

func newServeCmd() *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve an emulated chip",
		Long: `Run the stub against an emulated ESP32 and serve it on a serial port
(for example one end of a virtual null-modem pair) or over WebSocket.

The flash image is loaded from --image and written to --save on exit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), &f)
		},
	}
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "Serial port to serve on")
	cmd.Flags().IntVarP(&f.baud, "baud", "b", protocol.DefaultBaudRate, "Initial baud rate")
	cmd.Flags().StringVarP(&f.listen, "listen", "l", "", "Address to serve WebSocket clients on, e.g. :8080")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "Require basic auth with this username")
	cmd.Flags().StringVarP(&f.image, "image", "i", "", "Flash image to load")
	cmd.Flags().StringVar(&f.save, "save", "", "Write the flash image here on exit")
	cmd.Flags().Uint32Var(&f.flashSize, "flash-size", protocol.DefaultFlashSize, "Flash size in bytes")
	cmd.Flags().Uint32Var(&f.chipID, "chip-id", protocol.ChipIDESP32C3, "Chip ID reported by GET_SECURITY_INFO")
	cmd.Flags().BoolVar(&f.writeProtect, "write-protect", false, "Reject every flash write and erase")
	cmd.Flags().StringVar(&f.trace, "trace", "", "Record every packet to this file")
	cmd.MarkFlagsMutuallyExclusive("port", "listen")
	cmd.MarkFlagsOneRequired("port", "listen")
	return cmd
}

func runServe(ctx context.Context, f *serveFlags) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := device.DefaultConfig()
	cfg.ChipID = f.chipID
	cfg.FlashSize = f.flashSize
	cfg.WriteProtect = f.writeProtect
	dev, err := device.New(cfg)
	if err != nil {
		return err
	}
	if f.image != "" {
		if err := dev.Flash.LoadFile(f.image); err != nil {
			return err
		}
		glog.Infof("loaded %s", f.image)
	}

	var opts []server.Option
	if f.trace != "" {
		file, err := os.Create(f.trace)
		if err != nil {
			return fmt.Errorf("failed to create trace: %w", err)
		}
		defer file.Close()
		opts = append(opts, server.WithTracer(trace.NewRecorder(file)))
	}

	if f.port != "" {
		err = serveSerial(ctx, dev, f, opts)
	} else {
		err = serveWebSocket(ctx, dev, f, opts)
	}

	if f.save != "" {
		if serr := dev.Flash.SaveFile(f.save); serr != nil {
			return serr
		}
		glog.Infof("saved flash image to %s", f.save)
	}
	return err
}

// newServer binds a fresh stub to conn. Session state lives in the stub,
// so every connection starts outside a transfer.
func newServer(conn transport.Conn, dev *device.Device, opts []server.Option) *server.Server {
	logger := glogLogger{}
	st := stub.New(dev.Hardware(), stub.WithLogger(logger))
	opts = append([]server.Option{
		server.WithLogger(logger),
		server.WithExecutor(dev),
		server.WithRebooter(dev),
	}, opts...)
	return server.New(conn, st, opts...)
}

// serveResult maps the ways Serve ends normally to nil.
func serveResult(ctx context.Context, dev *device.Device, err error) error {
	switch {
	case errors.Is(err, server.ErrControlTransferred):
		if entry, ok := dev.Jumped(); ok {
			glog.Infof("jumped to 0x%08X", entry)
		} else {
			glog.Infof("rebooted into user code")
		}
		return nil
	case ctx.Err() != nil:
		return nil
	}
	return err
}

func serveSerial(ctx context.Context, dev *device.Device, f *serveFlags, opts []server.Option) error {
	port, err := serial.Open(f.port, f.baud)
	if err != nil {
		return fmt.Errorf("failed to open port: %w", err)
	}
	conn := transport.NewStream(port, 0)
	defer conn.Close()

	glog.Infof("serving %s on %s @ %d baud", protocol.ChipName(f.chipID), f.port, f.baud)
	err = serveResult(ctx, dev, newServer(conn, dev, opts).Serve(ctx))
	if n := conn.Dropped(); n > 0 {
		glog.Warningf("dropped %d malformed frames", n)
	}
	return err
}

// wsHandler serves one WebSocket client at a time.
type wsHandler struct {
	ctx      context.Context
	dev      *device.Device
	opts     []server.Option
	username string
	password string
	busy     atomic.Bool
}

func (h *wsHandler) authorized(r *http.Request) bool {
	if h.username == "" {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.password)) == 1
	return userOK && passOK
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="papyrix-stub"`)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.busy.CompareAndSwap(false, true) {
		http.Error(w, "another client is connected", http.StatusServiceUnavailable)
		return
	}
	defer h.busy.Store(false)

	conn, err := transport.Upgrade(w, r)
	if err != nil {
		glog.Errorf("upgrade from %s: %v", r.RemoteAddr, err)
		return
	}
	defer conn.Close()

	glog.Infof("client %s connected", r.RemoteAddr)
	err = newServer(conn, h.dev, h.opts).Serve(h.ctx)
	switch {
	case errors.Is(err, server.ErrControlTransferred):
		glog.Infof("client %s: control transferred, closing", r.RemoteAddr)
	case err != nil && !errors.Is(err, transport.ErrClosed) && h.ctx.Err() == nil:
		glog.Warningf("client %s: %v", r.RemoteAddr, err)
	default:
		glog.Infof("client %s disconnected", r.RemoteAddr)
	}
}

func serveWebSocket(ctx context.Context, dev *device.Device, f *serveFlags, opts []server.Option) error {
	h := &wsHandler{ctx: ctx, dev: dev, opts: opts, username: f.user}
	if f.user != "" {
		password, err := getPassword()
		if err != nil {
			return err
		}
		h.password = password
	}

	srv := &http.Server{
		Addr:              f.listen,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	glog.Infof("serving %s on ws://%s", protocol.ChipName(f.chipID), f.listen)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
