// Package server runs a stub over a packet link: it reads one request,
// writes exactly one response and then performs whatever the command asked
// for once the response is out (baud switch, reboot, jump, read stream).
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/bigbag/papyrix-stub/internal/stub"
	"github.com/bigbag/papyrix-stub/internal/transport"
)

// ErrControlTransferred is returned by Serve after a reboot or a successful
// jump: the stub no longer owns the link.
var ErrControlTransferred = errors.New("server: control transferred")

// ackSize is the length of a READ_FLASH acknowledgement packet.
const ackSize = 4

// Executor transfers control to code loaded by a MEM transfer.
type Executor interface {
	Jump(entrypoint uint32) error
}

// Rebooter restarts the chip into user code.
type Rebooter interface {
	Reboot() error
}

// Tracer records every packet crossing the link.
type Tracer interface {
	Record(inbound bool, packet []byte) error
}

// Server binds a Stub to a connection.
type Server struct {
	conn transport.Conn
	st   *stub.Stub
	cfg  Config
}

// New creates a server. When no baud switcher is configured and conn can
// change its line speed, conn is used.
func New(conn transport.Conn, st *stub.Stub, opts ...Option) *Server {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Baud == nil {
		if bs, ok := conn.(transport.BaudSwitcher); ok {
			cfg.Baud = bs
		}
	}
	return &Server{conn: conn, st: st, cfg: cfg}
}

// Serve handles requests until ctx is done, the link fails or control is
// transferred away from the stub.
func (s *Server) Serve(ctx context.Context) error {
	s.cfg.Logger.Info("serving")
	for {
		pkt, err := s.read(ctx)
		if err != nil {
			return err
		}
		if err := s.handle(ctx, pkt); err != nil {
			return err
		}
	}
}

func (s *Server) read(ctx context.Context) ([]byte, error) {
	pkt, err := s.conn.ReadPacket(ctx)
	if err != nil {
		return nil, err
	}
	s.trace(true, pkt)
	return pkt, nil
}

func (s *Server) write(pkt []byte) error {
	s.trace(false, pkt)
	if err := s.conn.WritePacket(pkt); err != nil {
		return fmt.Errorf("failed to write packet: %w", err)
	}
	return nil
}

func (s *Server) trace(inbound bool, pkt []byte) {
	if s.cfg.Tracer == nil {
		return
	}
	if err := s.cfg.Tracer.Record(inbound, pkt); err != nil {
		s.cfg.Logger.Error("trace failed", "error", err)
	}
}

func (s *Server) handle(ctx context.Context, pkt []byte) error {
	// A request arriving during a read stream is handled after the stream
	// was abandoned, so loop instead of recursing.
	for pkt != nil {
		reply := s.st.Handle(pkt)
		if err := s.write(reply.Response.Encode()); err != nil {
			return err
		}

		next, err := s.follow(ctx, reply)
		if err != nil {
			return err
		}
		pkt = next
	}
	return nil
}

// follow performs the reply's followup. It returns a request that cut a read
// stream short, if any.
func (s *Server) follow(ctx context.Context, reply stub.Reply) ([]byte, error) {
	switch reply.Followup {
	case stub.FollowNone:
		return nil, nil

	case stub.FollowSwitchBaud:
		if s.cfg.Baud == nil {
			s.cfg.Logger.Error("baud switch unsupported", "baud", reply.Baud)
			return nil, nil
		}
		err := s.cfg.Baud.SetBaudRate(int(reply.Baud))
		if errors.Is(err, transport.ErrBaudUnsupported) {
			s.cfg.Logger.Error("baud switch unsupported", "baud", reply.Baud)
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to switch to %d baud: %w", reply.Baud, err)
		}
		s.cfg.Logger.Info("baud rate changed", "baud", reply.Baud)
		return nil, nil

	case stub.FollowReboot:
		if s.cfg.Rebooter == nil {
			s.cfg.Logger.Error("reboot unsupported")
			return nil, nil
		}
		if err := s.cfg.Rebooter.Reboot(); err != nil {
			return nil, fmt.Errorf("reboot failed: %w", err)
		}
		s.cfg.Logger.Info("rebooted into user code")
		return nil, ErrControlTransferred

	case stub.FollowJump:
		if s.cfg.Executor == nil {
			s.cfg.Logger.Error("jump unsupported", "entrypoint", reply.Entrypoint)
			return nil, nil
		}
		if err := s.cfg.Executor.Jump(reply.Entrypoint); err != nil {
			s.cfg.Logger.Error("jump failed", "entrypoint", reply.Entrypoint, "error", err)
			return nil, nil
		}
		s.cfg.Logger.Info("jumped", "entrypoint", reply.Entrypoint)
		return nil, ErrControlTransferred

	case stub.FollowReadStream:
		return s.stream(ctx)
	}
	return nil, fmt.Errorf("unknown followup %v", reply.Followup)
}

// stream pumps the open read flow: raw flash chunks go out while the window
// has room, acknowledgements come back otherwise. Anything that is not an
// ack abandons the stream and is returned for normal handling.
func (s *Server) stream(ctx context.Context) ([]byte, error) {
	flow := s.st.ReadFlow()
	if flow == nil {
		return nil, nil
	}

	for !flow.Done() {
		if flow.CanSend() {
			chunk, err := flow.Next()
			if err != nil {
				// Reported in the closing response.
				break
			}
			if err := s.write(chunk); err != nil {
				return nil, err
			}
			continue
		}

		pkt, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		if len(pkt) != ackSize {
			s.cfg.Logger.Info("read stream interrupted", "sent", flow.Sent(), "acked", flow.Acked())
			return pkt, nil
		}
		if err := flow.Ack(binary.LittleEndian.Uint32(pkt)); err != nil {
			s.cfg.Logger.Error("bad ack", "error", err)
			s.st.AbortRead()
			return nil, nil
		}
	}

	resp, err := s.st.FinishRead()
	if err != nil {
		return nil, err
	}
	return nil, s.write(resp.Encode())
}
