// Package netutil provides the address-level helpers the polling pipeline
// and scan subsystem consume: MAC canonicalization and classification,
// RFC1918 checks, vendor lookup, service-port names and reverse DNS.
package netutil

import (
	"net"
	"strings"
)

// CanonicalMAC normalizes a MAC address to lowercase colon-separated form.
// Returns an empty string for unparseable input.
func CanonicalMAC(mac string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return ""
	}
	return strings.ToLower(hw.String())
}

// virtualOUIs maps well-known hypervisor/container prefixes to their vendor.
// Keys are canonical lowercase prefixes; 2-octet keys (docker) are checked
// after the 3-octet ones.
var virtualOUIs = map[string]string{
	"00:50:56": "VMware",
	"00:0c:29": "VMware",
	"00:15:5d": "Microsoft Hyper-V",
	"08:00:27": "VirtualBox",
	"00:16:3e": "Xen",
	"52:54:00": "QEMU/KVM",
}

// mobileVendorFamilies are vendor substrings that attribute a randomized MAC
// to a mobile OS family.
var mobileVendorFamilies = []string{
	"Apple", "Samsung", "Google", "Xiaomi", "OnePlus", "Microsoft",
}

// MACClass is the outcome of classifying a MAC address.
type MACClass struct {
	Virtual    bool
	Randomized bool
	Reason     string
}

// ClassifyMAC applies the virtual/randomized heuristic to a canonical MAC.
//
// Known hypervisor OUIs are virtual. A set locally-administered bit marks a
// randomized address; when the vendor resolves to a mobile OS family the
// attribution is carried in the reason.
func ClassifyMAC(mac string) MACClass {
	mac = CanonicalMAC(mac)
	if len(mac) < 8 {
		return MACClass{}
	}

	prefix := mac[:8]
	if vendor, ok := virtualOUIs[prefix]; ok {
		return MACClass{Virtual: true, Reason: vendor + " virtual interface"}
	}
	// Docker bridges allocate 02:42:xx:xx:xx:xx.
	if strings.HasPrefix(mac, "02:42") {
		return MACClass{Virtual: true, Reason: "Docker virtual interface"}
	}

	firstOctet := hexOctet(mac[:2])
	if firstOctet&0x02 != 0 {
		vendor := VendorForMAC(mac)
		for _, family := range mobileVendorFamilies {
			if strings.Contains(vendor, family) {
				return MACClass{Randomized: true, Reason: "Randomised MAC (" + family + ")"}
			}
		}
		return MACClass{Randomized: true, Reason: "Randomised MAC"}
	}

	return MACClass{}
}

func hexOctet(s string) byte {
	var v byte
	for i := 0; i < len(s); i++ {
		v <<= 4
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			v |= c - '0'
		case c >= 'a' && c <= 'f':
			v |= c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v |= c - 'A' + 10
		}
	}
	return v
}
