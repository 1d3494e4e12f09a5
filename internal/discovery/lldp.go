package discovery

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/malbeclabs/dfr/internal/netutil"
)

// Probe TLV layout: chassis id (subtype local) carries the sending
// dpid as 8 bytes big endian, port id (subtype local) the sending port
// as 2 bytes big endian.
const (
	lldpTLVEnd       = 0
	lldpTLVChassisID = 1
	lldpTLVPortID    = 2
	lldpTLVTTL       = 3
)

// lldpMulticast is the nearest-bridge address; switches without a
// matching flow punt these frames to the controller.
var lldpMulticast = net.HardwareAddr{0x01, 0x80, 0xc2, 0x00, 0x00, 0x0e}

func appendTLV(b []byte, typ uint8, value []byte) []byte {
	hdr := uint16(typ)<<9 | uint16(len(value))
	b = append(b, byte(hdr>>8), byte(hdr))
	return append(b, value...)
}

// marshalProbe builds the LLDP frame announcing (dpid, port).
func marshalProbe(dpid, port int, ttl time.Duration) ([]byte, error) {
	chassis := make([]byte, 9)
	chassis[0] = byte(layers.LLDPChassisIDSubTypeLocal)
	binary.BigEndian.PutUint64(chassis[1:], uint64(dpid))

	portID := make([]byte, 3)
	portID[0] = byte(layers.LLDPPortIDSubtypeLocal)
	binary.BigEndian.PutUint16(portID[1:], uint16(port))

	seconds := int(ttl / time.Second)
	if ttl%time.Second != 0 {
		seconds++
	}
	if seconds < 1 {
		seconds = 1
	}
	hold := make([]byte, 2)
	binary.BigEndian.PutUint16(hold, uint16(seconds))

	var tlvs []byte
	tlvs = appendTLV(tlvs, lldpTLVChassisID, chassis)
	tlvs = appendTLV(tlvs, lldpTLVPortID, portID)
	tlvs = appendTLV(tlvs, lldpTLVTTL, hold)
	tlvs = appendTLV(tlvs, lldpTLVEnd, nil)

	eth := layers.Ethernet{
		SrcMAC:       netutil.MACOfHost(dpid),
		DstMAC:       lldpMulticast,
		EthernetType: layers.EthernetTypeLinkLayerDiscovery,
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, &eth, gopacket.Payload(tlvs)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseProbe extracts the announced (dpid, port) from a probe frame.
// It reports ok = false for anything that is not one of our probes.
func parseProbe(frame []byte) (dpid, port int, ok bool) {
	if len(frame) < 14 || binary.BigEndian.Uint16(frame[12:14]) != uint16(layers.EthernetTypeLinkLayerDiscovery) {
		return 0, 0, false
	}
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
	layer := packet.Layer(layers.LayerTypeLinkLayerDiscovery)
	if layer == nil {
		return 0, 0, false
	}
	lldp := layer.(*layers.LinkLayerDiscovery)
	if lldp.ChassisID.Subtype != layers.LLDPChassisIDSubTypeLocal || len(lldp.ChassisID.ID) != 8 {
		return 0, 0, false
	}
	if lldp.PortID.Subtype != layers.LLDPPortIDSubtypeLocal || len(lldp.PortID.ID) != 2 {
		return 0, 0, false
	}
	dpid = int(binary.BigEndian.Uint64(lldp.ChassisID.ID))
	port = int(binary.BigEndian.Uint16(lldp.PortID.ID))
	return dpid, port, true
}
