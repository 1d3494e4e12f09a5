package openflow

import (
	"bytes"
	"encoding/binary"
)

// Packet-in reasons.
const (
	ReasonNoMatch uint8 = 0
	ReasonAction  uint8 = 1
)

const packetInFixedLen = HeaderLen + 10

// PacketIn carries a frame the switch punted to the controller:
//
//	header(8) buffer_id(4) total_len(2) in_port(2) reason(1) pad(1)
//	data...
type PacketIn struct {
	XID      uint32
	BufferID uint32
	TotalLen uint16
	InPort   uint16
	Reason   uint8
	Data     []byte
}

func (p *PacketIn) MarshalBinary() ([]byte, error) {
	b := make([]byte, packetInFixedLen+len(p.Data))
	binary.BigEndian.PutUint32(b[8:12], p.BufferID)
	binary.BigEndian.PutUint16(b[12:14], p.TotalLen)
	binary.BigEndian.PutUint16(b[14:16], p.InPort)
	b[16] = p.Reason
	copy(b[packetInFixedLen:], p.Data)
	putHeader(b, TypePacketIn, p.XID)
	return b, nil
}

func (p *PacketIn) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	if len(data) < packetInFixedLen {
		return ErrTruncated
	}
	p.XID = h.XID
	p.BufferID = binary.BigEndian.Uint32(data[8:12])
	p.TotalLen = binary.BigEndian.Uint16(data[12:14])
	p.InPort = binary.BigEndian.Uint16(data[14:16])
	p.Reason = data[16]
	p.Data = bytes.Clone(data[packetInFixedLen:])
	return nil
}

const packetOutFixedLen = HeaderLen + 8

// PacketOut injects a frame through the switch:
//
//	header(8) buffer_id(4) in_port(2) actions_len(2) actions... data...
type PacketOut struct {
	XID      uint32
	BufferID uint32
	InPort   uint16
	Actions  []ActionOutput
	Data     []byte
}

// NewPacketOut builds an injection of frame through outPort. inPort is
// the port the frame nominally arrived on; it matters when outPort is
// PortInPort.
func NewPacketOut(inPort, outPort uint16, frame []byte) *PacketOut {
	return &PacketOut{
		XID:      NextXID(),
		BufferID: NoBuffer,
		InPort:   inPort,
		Actions:  []ActionOutput{{Port: outPort}},
		Data:     frame,
	}
}

func (p *PacketOut) MarshalBinary() ([]byte, error) {
	actionsLen := ActionOutputLen * len(p.Actions)
	b := make([]byte, packetOutFixedLen+actionsLen+len(p.Data))
	binary.BigEndian.PutUint32(b[8:12], p.BufferID)
	binary.BigEndian.PutUint16(b[12:14], p.InPort)
	binary.BigEndian.PutUint16(b[14:16], uint16(actionsLen))
	for i, a := range p.Actions {
		a.marshal(b[packetOutFixedLen+i*ActionOutputLen:])
	}
	copy(b[packetOutFixedLen+actionsLen:], p.Data)
	putHeader(b, TypePacketOut, p.XID)
	return b, nil
}

func (p *PacketOut) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	if len(data) < packetOutFixedLen {
		return ErrTruncated
	}
	p.XID = h.XID
	p.BufferID = binary.BigEndian.Uint32(data[8:12])
	p.InPort = binary.BigEndian.Uint16(data[12:14])
	actionsLen := int(binary.BigEndian.Uint16(data[14:16]))
	if packetOutFixedLen+actionsLen > len(data) {
		return ErrTruncated
	}
	actions, err := unmarshalActions(data[packetOutFixedLen : packetOutFixedLen+actionsLen])
	if err != nil {
		return err
	}
	p.Actions = actions
	p.Data = bytes.Clone(data[packetOutFixedLen+actionsLen:])
	return nil
}
