package utils

import (
	"net"
)

// cgnatRange is the RFC 6598 shared address space (100.64.0.0/10) used by
// carrier-grade NAT deployments. Gateways in this range cannot be inferred
// by subnet arithmetic.
var cgnatRange = &net.IPNet{IP: net.IPv4(100, 64, 0, 0), Mask: net.CIDRMask(10, 32)}

// IsCarrierGradeNAT reports whether ip falls into the RFC 6598 shared
// address space (100.64.0.0/10).
func IsCarrierGradeNAT(ip net.IP) bool {
	return ip != nil && cgnatRange.Contains(ip)
}

// FirstIPv4 returns the first IPv4 address in ips, or nil if there is none.
func FirstIPv4(ips []net.IP) net.IP {
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return v4
		}
	}
	return nil
}

// FirstHost returns the first usable host address of the given IPv4 network
// (the network base address plus one), or nil for non-IPv4 networks.
func FirstHost(ipNet *net.IPNet) net.IP {
	if ipNet == nil {
		return nil
	}

	base := ipNet.IP.Mask(ipNet.Mask).To4()
	if base == nil {
		return nil
	}

	host := make(net.IP, len(base))
	copy(host, base)
	for i := len(host) - 1; i >= 0; i-- {
		host[i]++
		if host[i] != 0 {
			break
		}
	}

	return host
}
