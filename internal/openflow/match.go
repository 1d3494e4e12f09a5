package openflow

import (
	"bytes"
	"encoding/binary"
	"net"
)

// MatchLen is the wire size of ofp_match.
const MatchLen = 40

// Wildcard bits of ofp_match. A set bit excludes the field from
// matching. The nw_src/nw_dst fields use 6-bit mask-length encodings at
// bits 8..13 and 14..19; WildcardAll covers them entirely.
const (
	WildcardInPort    uint32 = 1 << 0
	WildcardDLVLAN    uint32 = 1 << 1
	WildcardDLSrc     uint32 = 1 << 2
	WildcardDLDst     uint32 = 1 << 3
	WildcardDLType    uint32 = 1 << 4
	WildcardNWProto   uint32 = 1 << 5
	WildcardTPSrc     uint32 = 1 << 6
	WildcardTPDst     uint32 = 1 << 7
	WildcardDLVLANPCP uint32 = 1 << 20
	WildcardNWTOS     uint32 = 1 << 21
	WildcardAll       uint32 = 1<<22 - 1
)

// Match is the ofp_match structure:
//
//	wildcards(4) in_port(2) dl_src(6) dl_dst(6) dl_vlan(2)
//	dl_vlan_pcp(1) pad(1) dl_type(2) nw_tos(1) nw_proto(1) pad(2)
//	nw_src(4) nw_dst(4) tp_src(2) tp_dst(2)
type Match struct {
	Wildcards uint32
	InPort    uint16
	DLSrc     net.HardwareAddr
	DLDst     net.HardwareAddr
	DLVLAN    uint16
	DLVLANPCP uint8
	DLType    uint16
	NWTOS     uint8
	NWProto   uint8
	NWSrc     uint32
	NWDst     uint32
	TPSrc     uint16
	TPDst     uint16
}

// MatchEthPair matches frames between a source and destination MAC and
// wildcards every other field.
func MatchEthPair(src, dst net.HardwareAddr) Match {
	return Match{
		Wildcards: WildcardAll &^ (WildcardDLSrc | WildcardDLDst),
		DLSrc:     src,
		DLDst:     dst,
	}
}

// MatchAll wildcards every field.
func MatchAll() Match {
	return Match{Wildcards: WildcardAll}
}

func (m *Match) marshal(b []byte) {
	binary.BigEndian.PutUint32(b[0:4], m.Wildcards)
	binary.BigEndian.PutUint16(b[4:6], m.InPort)
	copy(b[6:12], m.DLSrc)
	copy(b[12:18], m.DLDst)
	binary.BigEndian.PutUint16(b[18:20], m.DLVLAN)
	b[20] = m.DLVLANPCP
	binary.BigEndian.PutUint16(b[22:24], m.DLType)
	b[24] = m.NWTOS
	b[25] = m.NWProto
	binary.BigEndian.PutUint32(b[28:32], m.NWSrc)
	binary.BigEndian.PutUint32(b[32:36], m.NWDst)
	binary.BigEndian.PutUint16(b[36:38], m.TPSrc)
	binary.BigEndian.PutUint16(b[38:40], m.TPDst)
}

func (m *Match) unmarshal(b []byte) error {
	if len(b) < MatchLen {
		return ErrTruncated
	}
	m.Wildcards = binary.BigEndian.Uint32(b[0:4])
	m.InPort = binary.BigEndian.Uint16(b[4:6])
	m.DLSrc = net.HardwareAddr(bytes.Clone(b[6:12]))
	m.DLDst = net.HardwareAddr(bytes.Clone(b[12:18]))
	m.DLVLAN = binary.BigEndian.Uint16(b[18:20])
	m.DLVLANPCP = b[20]
	m.DLType = binary.BigEndian.Uint16(b[22:24])
	m.NWTOS = b[24]
	m.NWProto = b[25]
	m.NWSrc = binary.BigEndian.Uint32(b[28:32])
	m.NWDst = binary.BigEndian.Uint32(b[32:36])
	m.TPSrc = binary.BigEndian.Uint16(b[36:38])
	m.TPDst = binary.BigEndian.Uint16(b[38:40])
	return nil
}
