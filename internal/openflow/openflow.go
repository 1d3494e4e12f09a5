// Package openflow implements the OpenFlow 1.0 message subset the
// controller speaks: handshake, echo keepalives, flow modifications,
// packet in/out, port status and errors.
//
// Every message starts with the common 8-byte header:
//
//	 0        1        2        3
//	+--------+--------+--------+--------+
//	|version |  type  |     length      |
//	+--------+--------+--------+--------+
//	|                xid                |
//	+--------+--------+--------+--------+
//
// MarshalBinary returns a complete wire message; UnmarshalBinary
// accepts one, header included.
package openflow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

const (
	// Version is the only protocol version spoken, OpenFlow 1.0.
	Version = 0x01

	HeaderLen = 8

	// MaxMsgLen bounds how much ReadMessage will buffer for one message.
	MaxMsgLen = 0xffff
)

var (
	ErrTruncated = errors.New("openflow: truncated message")
)

// MsgType is the message type carried in the common header.
type MsgType uint8

const (
	TypeHello MsgType = iota
	TypeError
	TypeEchoRequest
	TypeEchoReply
	TypeVendor
	TypeFeaturesRequest
	TypeFeaturesReply
	TypeGetConfigRequest
	TypeGetConfigReply
	TypeSetConfig
	TypePacketIn
	TypeFlowRemoved
	TypePortStatus
	TypePacketOut
	TypeFlowMod
	TypePortMod
	TypeStatsRequest
	TypeStatsReply
	TypeBarrierRequest
	TypeBarrierReply
	TypeQueueGetConfigRequest
	TypeQueueGetConfigReply
)

var msgTypeNames = map[MsgType]string{
	TypeHello:           "hello",
	TypeError:           "error",
	TypeEchoRequest:     "echo_request",
	TypeEchoReply:       "echo_reply",
	TypeVendor:          "vendor",
	TypeFeaturesRequest: "features_request",
	TypeFeaturesReply:   "features_reply",
	TypePacketIn:        "packet_in",
	TypeFlowRemoved:     "flow_removed",
	TypePortStatus:      "port_status",
	TypePacketOut:       "packet_out",
	TypeFlowMod:         "flow_mod",
	TypeBarrierRequest:  "barrier_request",
	TypeBarrierReply:    "barrier_reply",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// Special values of the 16-bit port space.
const (
	PortMax        uint16 = 0xff00
	PortInPort     uint16 = 0xfff8
	PortTable      uint16 = 0xfff9
	PortNormal     uint16 = 0xfffa
	PortFlood      uint16 = 0xfffb
	PortAll        uint16 = 0xfffc
	PortController uint16 = 0xfffd
	PortLocal      uint16 = 0xfffe
	PortNone       uint16 = 0xffff
)

// NoBuffer marks a message as carrying its own packet data rather than
// referencing a buffer on the switch.
const NoBuffer uint32 = 0xffffffff

// Header is the common message header.
type Header struct {
	Version uint8
	Type    MsgType
	Length  uint16
	XID     uint32
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderLen {
		return ErrTruncated
	}
	h.Version = data[0]
	h.Type = MsgType(data[1])
	h.Length = binary.BigEndian.Uint16(data[2:4])
	h.XID = binary.BigEndian.Uint32(data[4:8])
	if h.Length < HeaderLen {
		return fmt.Errorf("openflow: header length %d below minimum", h.Length)
	}
	return nil
}

// putHeader stamps the common header over the first 8 bytes of an
// already-sized message buffer.
func putHeader(b []byte, t MsgType, xid uint32) {
	b[0] = Version
	b[1] = byte(t)
	binary.BigEndian.PutUint16(b[2:4], uint16(len(b)))
	binary.BigEndian.PutUint32(b[4:8], xid)
}

var xidCounter atomic.Uint32

// NextXID returns a transaction id for a new request.
func NextXID() uint32 { return xidCounter.Add(1) }

// ReadMessage reads exactly one message off the wire and returns its
// parsed header together with the raw bytes, header included. Callers
// dispatch on Header.Type and unmarshal with the concrete type; leaving
// an unknown message undecoded skips it cleanly.
func ReadMessage(r io.Reader) (*Header, []byte, error) {
	raw := make([]byte, HeaderLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, nil, err
	}
	h := new(Header)
	if err := h.UnmarshalBinary(raw); err != nil {
		return nil, nil, err
	}
	if h.Length > HeaderLen {
		raw = append(raw, make([]byte, h.Length-HeaderLen)...)
		if _, err := io.ReadFull(r, raw[HeaderLen:]); err != nil {
			return nil, nil, fmt.Errorf("openflow: reading %s body: %w", h.Type, err)
		}
	}
	return h, raw, nil
}
