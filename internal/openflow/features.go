package openflow

import (
	"bytes"
	"encoding/binary"
	"net"
)

// PhyPortLen is the wire size of ofp_phy_port.
const PhyPortLen = 48

// Port state and config bits used here.
const (
	PortStateLinkDown uint32 = 1 << 0
	PortConfigDown    uint32 = 1 << 0
)

// PhyPort describes one physical port in FEATURES_REPLY and
// PORT_STATUS:
//
//	port_no(2) hw_addr(6) name(16) config(4) state(4) curr(4)
//	advertised(4) supported(4) peer(4)
type PhyPort struct {
	PortNo     uint16
	HWAddr     net.HardwareAddr
	Name       string
	Config     uint32
	State      uint32
	Curr       uint32
	Advertised uint32
	Supported  uint32
	Peer       uint32
}

func (p *PhyPort) marshal(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], p.PortNo)
	copy(b[2:8], p.HWAddr)
	name := make([]byte, 16)
	copy(name, p.Name)
	copy(b[8:24], name)
	binary.BigEndian.PutUint32(b[24:28], p.Config)
	binary.BigEndian.PutUint32(b[28:32], p.State)
	binary.BigEndian.PutUint32(b[32:36], p.Curr)
	binary.BigEndian.PutUint32(b[36:40], p.Advertised)
	binary.BigEndian.PutUint32(b[40:44], p.Supported)
	binary.BigEndian.PutUint32(b[44:48], p.Peer)
}

func (p *PhyPort) unmarshal(b []byte) error {
	if len(b) < PhyPortLen {
		return ErrTruncated
	}
	p.PortNo = binary.BigEndian.Uint16(b[0:2])
	p.HWAddr = net.HardwareAddr(bytes.Clone(b[2:8]))
	p.Name = string(bytes.TrimRight(b[8:24], "\x00"))
	p.Config = binary.BigEndian.Uint32(b[24:28])
	p.State = binary.BigEndian.Uint32(b[28:32])
	p.Curr = binary.BigEndian.Uint32(b[32:36])
	p.Advertised = binary.BigEndian.Uint32(b[36:40])
	p.Supported = binary.BigEndian.Uint32(b[40:44])
	p.Peer = binary.BigEndian.Uint32(b[44:48])
	return nil
}

// FeaturesRequest asks a switch for its datapath description.
type FeaturesRequest struct {
	XID uint32
}

func NewFeaturesRequest() *FeaturesRequest {
	return &FeaturesRequest{XID: NextXID()}
}

func (f *FeaturesRequest) MarshalBinary() ([]byte, error) {
	b := make([]byte, HeaderLen)
	putHeader(b, TypeFeaturesRequest, f.XID)
	return b, nil
}

const featuresReplyFixedLen = HeaderLen + 24

// FeaturesReply carries the datapath id and port inventory:
//
//	header(8) datapath_id(8) n_buffers(4) n_tables(1) pad(3)
//	capabilities(4) actions(4) ports...
type FeaturesReply struct {
	XID          uint32
	DPID         uint64
	Buffers      uint32
	Tables       uint8
	Capabilities uint32
	Actions      uint32
	Ports        []PhyPort
}

func (f *FeaturesReply) MarshalBinary() ([]byte, error) {
	b := make([]byte, featuresReplyFixedLen+PhyPortLen*len(f.Ports))
	binary.BigEndian.PutUint64(b[8:16], f.DPID)
	binary.BigEndian.PutUint32(b[16:20], f.Buffers)
	b[20] = f.Tables
	binary.BigEndian.PutUint32(b[24:28], f.Capabilities)
	binary.BigEndian.PutUint32(b[28:32], f.Actions)
	for i := range f.Ports {
		f.Ports[i].marshal(b[featuresReplyFixedLen+i*PhyPortLen:])
	}
	putHeader(b, TypeFeaturesReply, f.XID)
	return b, nil
}

func (f *FeaturesReply) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	if len(data) < featuresReplyFixedLen {
		return ErrTruncated
	}
	f.XID = h.XID
	f.DPID = binary.BigEndian.Uint64(data[8:16])
	f.Buffers = binary.BigEndian.Uint32(data[16:20])
	f.Tables = data[20]
	f.Capabilities = binary.BigEndian.Uint32(data[24:28])
	f.Actions = binary.BigEndian.Uint32(data[28:32])

	body := data[featuresReplyFixedLen:]
	f.Ports = make([]PhyPort, 0, len(body)/PhyPortLen)
	for len(body) >= PhyPortLen {
		var p PhyPort
		if err := p.unmarshal(body); err != nil {
			return err
		}
		f.Ports = append(f.Ports, p)
		body = body[PhyPortLen:]
	}
	return nil
}

// Port-status reasons.
const (
	PortReasonAdd    uint8 = 0
	PortReasonDelete uint8 = 1
	PortReasonModify uint8 = 2
)

const portStatusLen = HeaderLen + 8 + PhyPortLen

// PortStatus reports a port lifecycle or state change:
//
//	header(8) reason(1) pad(7) desc(48)
type PortStatus struct {
	XID    uint32
	Reason uint8
	Port   PhyPort
}

func (p *PortStatus) MarshalBinary() ([]byte, error) {
	b := make([]byte, portStatusLen)
	b[8] = p.Reason
	p.Port.marshal(b[16:])
	putHeader(b, TypePortStatus, p.XID)
	return b, nil
}

func (p *PortStatus) UnmarshalBinary(data []byte) error {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return err
	}
	if len(data) < portStatusLen {
		return ErrTruncated
	}
	p.XID = h.XID
	p.Reason = data[8]
	return p.Port.unmarshal(data[16:])
}

// LinkDown reports whether the port description marks the physical link
// as down.
func (p *PortStatus) LinkDown() bool {
	return p.Port.State&PortStateLinkDown != 0 || p.Port.Config&PortConfigDown != 0
}
