package openflow

import (
	"encoding/binary"
	"fmt"
)

// Flow-mod commands.
const (
	FlowAdd uint16 = iota
	FlowModify
	FlowModifyStrict
	FlowDelete
	FlowDeleteStrict
)

// DefaultPriority is the protocol default flow priority.
const DefaultPriority uint16 = 0x8000

const (
	flowModFixedLen = HeaderLen + MatchLen + 24

	// ActionOutputLen is the wire size of ofp_action_output.
	ActionOutputLen = 8

	actionTypeOutput uint16 = 0
)

// ActionOutput forwards a matched frame through a port. MaxLen only
// applies when Port is PortController.
type ActionOutput struct {
	Port   uint16
	MaxLen uint16
}

func (a ActionOutput) marshal(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], actionTypeOutput)
	binary.BigEndian.PutUint16(b[2:4], ActionOutputLen)
	binary.BigEndian.PutUint16(b[4:6], a.Port)
	binary.BigEndian.PutUint16(b[6:8], a.MaxLen)
}

func unmarshalActions(b []byte) ([]ActionOutput, error) {
	var actions []ActionOutput
	for len(b) > 0 {
		if len(b) < 4 {
			return nil, ErrTruncated
		}
		typ := binary.BigEndian.Uint16(b[0:2])
		alen := int(binary.BigEndian.Uint16(b[2:4]))
		if alen < 4 || alen > len(b) {
			return nil, ErrTruncated
		}
		if typ != actionTypeOutput {
			return nil, fmt.Errorf("openflow: unsupported action type %d", typ)
		}
		if alen != ActionOutputLen {
			return nil, fmt.Errorf("openflow: output action length %d", alen)
		}
		actions = append(actions, ActionOutput{
			Port:   binary.BigEndian.Uint16(b[4:6]),
			MaxLen: binary.BigEndian.Uint16(b[6:8]),
		})
		b = b[alen:]
	}
	return actions, nil
}

// FlowMod installs, modifies or removes flow table entries:
//
//	header(8) match(40) cookie(8) command(2) idle_timeout(2)
//	hard_timeout(2) priority(2) buffer_id(4) out_port(2) flags(2)
//	actions...
type FlowMod struct {
	XID         uint32
	Match       Match
	Cookie      uint64
	Command     uint16
	IdleTimeout uint16
	HardTimeout uint16
	Priority    uint16
	BufferID    uint32
	OutPort     uint16
	Flags       uint16
	Actions     []ActionOutput
}

// NewFlowAdd builds a permanent installation of match -> output(port).
func NewFlowAdd(match Match, port uint16) *FlowMod {
	return &FlowMod{
		XID:      NextXID(),
		Match:    match,
		Command:  FlowAdd,
		Priority: DefaultPriority,
		BufferID: NoBuffer,
		OutPort:  PortNone,
		Actions:  []ActionOutput{{Port: port}},
	}
}

// NewFlowDelete builds a removal of every entry matching match whose
// action outputs through outPort; PortNone deletes regardless of the
// output port.
func NewFlowDelete(match Match, outPort uint16) *FlowMod {
	return &FlowMod{
		XID:      NextXID(),
		Match:    match,
		Command:  FlowDelete,
		BufferID: NoBuffer,
		OutPort:  outPort,
	}
}

func (m *FlowMod) MarshalBinary() ([]byte, error) {
	b := make([]byte, flowModFixedLen+ActionOutputLen*len(m.Actions))
	m.Match.marshal(b[HeaderLen : HeaderLen+MatchLen])
	off := HeaderLen + MatchLen
	binary.BigEndian.PutUint64(b[off:off+8], m.Cookie)
	binary.BigEndian.PutUint16(b[off+8:off+10], m.Command)
	binary.BigEndian.PutUint16(b[off+10:off+12], m.IdleTimeout)
	binary.BigEndian.PutUint16(b[off+12:off+14], m.HardTimeout)
	binary.BigEndian.PutUint16(b[off+14:off+16], m.Priority)
	binary.BigEndian.PutUint32(b[off+16:off+20], m.BufferID)
	binary.BigEndian.PutUint16(b[off+20:off+22], m.OutPort)
	binary.BigEndian.PutUint16(b[off+22:off+24], m.Flags)
	for i, a := range m.Actions {
		a.marshal(b[flowModFixedLen+i*ActionOutputLen:])
	}
	putHeader(b, TypeFlowMod, m.XID)
	return b, nil
}

func (m *FlowMod) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	if len(data) < flowModFixedLen {
		return ErrTruncated
	}
	m.XID = h.XID
	if err := m.Match.unmarshal(data[HeaderLen : HeaderLen+MatchLen]); err != nil {
		return err
	}
	off := HeaderLen + MatchLen
	m.Cookie = binary.BigEndian.Uint64(data[off : off+8])
	m.Command = binary.BigEndian.Uint16(data[off+8 : off+10])
	m.IdleTimeout = binary.BigEndian.Uint16(data[off+10 : off+12])
	m.HardTimeout = binary.BigEndian.Uint16(data[off+12 : off+14])
	m.Priority = binary.BigEndian.Uint16(data[off+14 : off+16])
	m.BufferID = binary.BigEndian.Uint32(data[off+16 : off+20])
	m.OutPort = binary.BigEndian.Uint16(data[off+20 : off+22])
	m.Flags = binary.BigEndian.Uint16(data[off+22 : off+24])
	actions, err := unmarshalActions(data[flowModFixedLen:])
	if err != nil {
		return err
	}
	m.Actions = actions
	return nil
}
