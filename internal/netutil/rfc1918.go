package netutil

import "net"

var rfc1918Blocks = func() []*net.IPNet {
	var blocks []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, _ := net.ParseCIDR(cidr)
		blocks = append(blocks, block)
	}
	return blocks
}()

// IsRFC1918 reports whether ip is inside the private IPv4 ranges
// 10.0.0.0/8, 172.16.0.0/12 or 192.168.0.0/16.
func IsRFC1918(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return false
	}
	for _, block := range rfc1918Blocks {
		if block.Contains(v4) {
			return true
		}
	}
	return false
}

// IsInternal reports whether ip terminates inside the local network for
// traffic classification: RFC1918, loopback or link-local.
func IsInternal(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	if parsed.IsLoopback() || parsed.IsLinkLocalUnicast() || parsed.IsLinkLocalMulticast() {
		return true
	}
	return IsRFC1918(ip)
}
