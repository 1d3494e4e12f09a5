package controller

import (
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/malbeclabs/dfr/internal/netutil"
	"github.com/malbeclabs/dfr/internal/openflow"
)

// replyARP answers an ARP request on behalf of the owner of the asked
// address, injecting the reply back through the port the request
// arrived on. Hosts never see each other's requests; the controller is
// the oracle for the whole address plan. Reports whether the frame was
// ARP at all; non-request ARP traffic and questions about addresses
// outside the host range are consumed silently.
func (c *Controller) replyARP(s *Session, pi *openflow.PacketIn) bool {
	pkt := gopacket.NewPacket(pi.Data, layers.LayerTypeEthernet, gopacket.Default)
	layer := pkt.Layer(layers.LayerTypeARP)
	if layer == nil {
		return false
	}
	req := layer.(*layers.ARP)
	if req.Operation != layers.ARPRequest || req.Protocol != layers.EthernetTypeIPv4 {
		return true
	}

	target := net.IP(req.DstProtAddress)
	host, err := netutil.HostOfIP(target)
	if err != nil || host < 1 || host > c.topo.NumHosts() {
		c.log.Debug("arp request for an unknown address", "dpid", s.DPID(), "target", target)
		return true
	}
	owner := netutil.MACOfHost(host)

	eth := &layers.Ethernet{
		SrcMAC:       owner,
		DstMAC:       net.HardwareAddr(req.SourceHwAddress),
		EthernetType: layers.EthernetTypeARP,
	}
	reply := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPReply,
		SourceHwAddress:   owner,
		SourceProtAddress: req.DstProtAddress,
		DstHwAddress:      req.SourceHwAddress,
		DstProtAddress:    req.SourceProtAddress,
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, reply); err != nil {
		c.log.Error("serializing arp reply", "error", err)
		return true
	}

	out := openflow.NewPacketOut(pi.InPort, openflow.PortInPort, buf.Bytes())
	if err := s.SendPacketOut(out); err != nil {
		c.log.Warn("sending arp reply", "dpid", s.DPID(), "error", err)
		return true
	}
	arpReplies.Inc()
	c.log.Debug("answered arp", "dpid", s.DPID(), "target", target, "owner", owner)
	return true
}
