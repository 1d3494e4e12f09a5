package openflow

import (
	"bytes"
	"encoding/binary"
)

// Hello opens version negotiation. The only payload is the header; the
// version field carries the highest version the sender supports.
type Hello struct {
	XID     uint32
	Version uint8
}

func NewHello() *Hello {
	return &Hello{XID: NextXID(), Version: Version}
}

func (m *Hello) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen)
	putHeader(b, TypeHello, m.XID)
	b[0] = m.Version
	return b, nil
}

func (m *Hello) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	m.XID = h.XID
	m.Version = h.Version
	return nil
}

// EchoRequest is the liveness probe; its payload, if any, is arbitrary
// and must be returned verbatim.
type EchoRequest struct {
	XID  uint32
	Data []byte
}

func (m *EchoRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen+len(m.Data))
	copy(b[HeaderLen:], m.Data)
	putHeader(b, TypeEchoRequest, m.XID)
	return b, nil
}

func (m *EchoRequest) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	m.XID = h.XID
	m.Data = bytes.Clone(data[HeaderLen:])
	return nil
}

// EchoReply answers an EchoRequest with the same xid and payload.
type EchoReply struct {
	XID  uint32
	Data []byte
}

// NewEchoReply builds the reply to a request.
func NewEchoReply(req *EchoRequest) *EchoReply {
	return &EchoReply{XID: req.XID, Data: req.Data}
}

func (m *EchoReply) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen+len(m.Data))
	copy(b[HeaderLen:], m.Data)
	putHeader(b, TypeEchoReply, m.XID)
	return b, nil
}

func (m *EchoReply) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	m.XID = h.XID
	m.Data = bytes.Clone(data[HeaderLen:])
	return nil
}

// Error types and the codes used here.
const (
	ErrTypeHelloFailed    uint16 = 0
	ErrTypeBadRequest     uint16 = 1
	ErrTypeBadAction      uint16 = 2
	ErrTypeFlowModFailed  uint16 = 3
	ErrTypePortModFailed  uint16 = 4
	ErrTypeQueueOpFailed  uint16 = 5

	HelloFailedIncompatible uint16 = 0
)

const errorMsgFixedLen = HeaderLen + 4

// ErrorMsg reports a protocol failure to the peer:
//
//	header(8) type(2) code(2) data...
type ErrorMsg struct {
	XID  uint32
	Type uint16
	Code uint16
	Data []byte
}

func (m *ErrorMsg) MarshalBinary() ([]byte, error) {
	b := make([]byte, errorMsgFixedLen+len(m.Data))
	binary.BigEndian.PutUint16(b[8:10], m.Type)
	binary.BigEndian.PutUint16(b[10:12], m.Code)
	copy(b[errorMsgFixedLen:], m.Data)
	putHeader(b, TypeError, m.XID)
	return b, nil
}

func (m *ErrorMsg) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	if len(data) < errorMsgFixedLen {
		return ErrTruncated
	}
	m.XID = h.XID
	m.Type = binary.BigEndian.Uint16(data[8:10])
	m.Code = binary.BigEndian.Uint16(data[10:12])
	m.Data = bytes.Clone(data[errorMsgFixedLen:])
	return nil
}

// BarrierRequest asks the switch to finish processing everything sent
// before it.
type BarrierRequest struct {
	XID uint32
}

func NewBarrierRequest() *BarrierRequest {
	return &BarrierRequest{XID: NextXID()}
}

func (m *BarrierRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen)
	putHeader(b, TypeBarrierRequest, m.XID)
	return b, nil
}

// BarrierReply acknowledges a BarrierRequest.
type BarrierReply struct {
	XID uint32
}

func (m *BarrierReply) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen)
	putHeader(b, TypeBarrierReply, m.XID)
	return b, nil
}

func (m *BarrierReply) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	m.XID = h.XID
	return nil
}
