// Package netutil converts between the fleet's linear host numbering
// and the MAC and IPv4 addresses the emulated hosts are assigned. Host
// h carries MAC h (zero padded into the 48-bit space) and IPv4
// 10.0.0.0/8 + h.
package netutil

import (
	"fmt"
	"net"
)

const (
	// IPBase is the network part of every host address (10.0.0.0).
	IPBase uint32 = 10 << 24
	// IPMask is the prefix length of the host network.
	IPMask = 8
)

// MACOfHost returns the MAC address assigned to a host id.
func MACOfHost(host int) net.HardwareAddr {
	mac := make(net.HardwareAddr, 6)
	v := uint64(host)
	for i := 5; i >= 0; i-- {
		mac[i] = byte(v)
		v >>= 8
	}
	return mac
}

// HostOfMAC folds a host MAC address back into its host id.
func HostOfMAC(mac net.HardwareAddr) (int, error) {
	if len(mac) != 6 {
		return 0, fmt.Errorf("netutil: bad mac length %d", len(mac))
	}
	var v uint64
	for _, b := range mac {
		v = v<<8 | uint64(b)
	}
	return int(v), nil
}

// IPOfHost returns the IPv4 address assigned to a host id.
func IPOfHost(host int) net.IP {
	v := IPBase + uint32(host)
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// HostOfIP recovers the host id from a host IPv4 address.
func HostOfIP(ip net.IP) (int, error) {
	v4 := ip.To4()
	if v4 == nil {
		return 0, fmt.Errorf("netutil: %s is not an IPv4 address", ip)
	}
	v := uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
	return int(v - IPBase), nil
}

// MACForIP returns the MAC of the host that owns an IPv4 address.
func MACForIP(ip net.IP) (net.HardwareAddr, error) {
	host, err := HostOfIP(ip)
	if err != nil {
		return nil, err
	}
	return MACOfHost(host), nil
}
