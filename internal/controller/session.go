package controller

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/malbeclabs/dfr/internal/openflow"
)

type marshaler interface {
	MarshalBinary() ([]byte, error)
}

// sessionHandler receives the asynchronous messages a session cannot
// answer by itself.
type sessionHandler interface {
	handlePacketIn(s *Session, pi *openflow.PacketIn)
	handlePortStatus(s *Session, ps *openflow.PortStatus)
}

// Session is one switch's control channel. The read loop runs on its
// own goroutine; writes may come from any goroutine and are serialized
// under a mutex.
type Session struct {
	log  *slog.Logger
	conn net.Conn
	dpid int

	writeMu      sync.Mutex
	writeTimeout time.Duration
}

func newSession(log *slog.Logger, conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{log: log, conn: conn, writeTimeout: writeTimeout}
}

// DPID returns the datapath id learned during the handshake.
func (s *Session) DPID() int { return s.dpid }

// RemoteAddr returns the switch side of the connection.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// Close tears the connection down, unblocking the read loop.
func (s *Session) Close() error { return s.conn.Close() }

func (s *Session) send(msg marshaler) error {
	b, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	_, err = s.conn.Write(b)
	return err
}

// SendFlowMod writes a flow table modification to the switch.
func (s *Session) SendFlowMod(m *openflow.FlowMod) error { return s.send(m) }

// SendPacketOut injects a frame through the switch.
func (s *Session) SendPacketOut(m *openflow.PacketOut) error { return s.send(m) }

// handshake negotiates the protocol version and learns the peer's
// datapath id. Both sides open with HELLO; the controller then asks
// for features and takes the datapath id off the reply. Switches may
// interleave echo requests, which are answered inline.
func (s *Session) handshake(timeout time.Duration) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	defer s.conn.SetReadDeadline(time.Time{})

	if err := s.send(openflow.NewHello()); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}
	h, raw, err := openflow.ReadMessage(s.conn)
	if err != nil {
		return fmt.Errorf("reading hello: %w", err)
	}
	if h.Type != openflow.TypeHello {
		return fmt.Errorf("expected hello, got %s", h.Type)
	}
	var hello openflow.Hello
	if err := hello.UnmarshalBinary(raw); err != nil {
		return err
	}
	if hello.Version < openflow.Version {
		_ = s.send(&openflow.ErrorMsg{
			XID:  hello.XID,
			Type: openflow.ErrTypeHelloFailed,
			Code: openflow.HelloFailedIncompatible,
		})
		return fmt.Errorf("peer speaks version 0x%02x, need at least 0x%02x", hello.Version, openflow.Version)
	}

	if err := s.send(openflow.NewFeaturesRequest()); err != nil {
		return fmt.Errorf("sending features request: %w", err)
	}
	for {
		h, raw, err := openflow.ReadMessage(s.conn)
		if err != nil {
			return fmt.Errorf("reading features reply: %w", err)
		}
		switch h.Type {
		case openflow.TypeFeaturesReply:
			var reply openflow.FeaturesReply
			if err := reply.UnmarshalBinary(raw); err != nil {
				return err
			}
			s.dpid = int(reply.DPID)
			return nil
		case openflow.TypeEchoRequest:
			var req openflow.EchoRequest
			if err := req.UnmarshalBinary(raw); err != nil {
				return err
			}
			if err := s.send(openflow.NewEchoReply(&req)); err != nil {
				return err
			}
		default:
			// Switches may announce vendor or config details before
			// the features reply; skip them.
		}
	}
}

// readLoop dispatches incoming messages until the connection fails or
// closes. Echo keepalives are answered inline; packet-ins and port
// status reports go to the handler.
func (s *Session) readLoop(h sessionHandler) error {
	for {
		hdr, raw, err := openflow.ReadMessage(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return nil
			}
			return err
		}
		switch hdr.Type {
		case openflow.TypeEchoRequest:
			var req openflow.EchoRequest
			if err := req.UnmarshalBinary(raw); err != nil {
				return err
			}
			if err := s.send(openflow.NewEchoReply(&req)); err != nil {
				return err
			}
		case openflow.TypeEchoReply:
		case openflow.TypePacketIn:
			var pi openflow.PacketIn
			if err := pi.UnmarshalBinary(raw); err != nil {
				s.log.Warn("malformed packet-in", "dpid", s.dpid, "error", err)
				continue
			}
			h.handlePacketIn(s, &pi)
		case openflow.TypePortStatus:
			var ps openflow.PortStatus
			if err := ps.UnmarshalBinary(raw); err != nil {
				s.log.Warn("malformed port status", "dpid", s.dpid, "error", err)
				continue
			}
			h.handlePortStatus(s, &ps)
		case openflow.TypeError:
			var e openflow.ErrorMsg
			if err := e.UnmarshalBinary(raw); err != nil {
				continue
			}
			s.log.Error("switch reported an error", "dpid", s.dpid, "type", e.Type, "code", e.Code)
		default:
			s.log.Debug("ignoring message", "dpid", s.dpid, "type", hdr.Type)
		}
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || strings.Contains(err.Error(), "use of closed network connection")
}
