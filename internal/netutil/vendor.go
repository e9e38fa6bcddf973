package netutil

import "strings"

// ouiVendors is a compact embedded OUI table covering the vendors the
// fleet's endpoints commonly present plus everything the randomized-MAC
// attribution needs. Unknown prefixes resolve to "".
var ouiVendors = map[string]string{
	// Network / infrastructure
	"00:50:56": "VMware, Inc.",
	"00:0c:29": "VMware, Inc.",
	"00:15:5d": "Microsoft Corporation",
	"08:00:27": "Oracle VirtualBox",
	"00:16:3e": "Xen Project",
	"52:54:00": "QEMU/KVM",
	"00:09:0f": "Fortinet Inc.",
	"00:1b:17": "Palo Alto Networks",
	"00:0d:b9": "PC Engines GmbH",
	"b4:fb:e4": "Ubiquiti Inc",
	"fc:ec:da": "Ubiquiti Inc",
	"74:ac:b9": "Ubiquiti Inc",
	"00:18:0a": "Cisco Meraki",
	"e0:55:3d": "Cisco Meraki",
	"00:1a:1e": "Aruba, a HPE company",
	"24:de:c6": "Aruba, a HPE company",
	"00:11:32": "Synology Incorporated",
	"90:09:d0": "Synology Incorporated",
	"24:5e:be": "QNAP Systems",
	"00:08:9b": "QNAP Systems",
	"d8:cb:8a": "Micro-Star INTL",
	"18:c0:4d": "GIGA-BYTE Technology",
	"74:56:3c": "GIGA-BYTE Technology",
	"a8:a1:59": "ASRock Incorporation",
	"30:9c:23": "Micro-Star INTL",
	"04:d9:f5": "ASUSTek Computer Inc.",
	"2c:fd:a1": "ASUSTek Computer Inc.",
	"f0:2f:74": "ASUSTek Computer Inc.",
	"b8:27:eb": "Raspberry Pi Foundation",
	"dc:a6:32": "Raspberry Pi Trading",
	"e4:5f:01": "Raspberry Pi Trading",
	"2c:cf:67": "Raspberry Pi (Trading)",

	// Desktop / laptop vendors
	"3c:22:fb": "Apple, Inc.",
	"a4:83:e7": "Apple, Inc.",
	"f0:18:98": "Apple, Inc.",
	"bc:d0:74": "Apple, Inc.",
	"88:66:5a": "Apple, Inc.",
	"d4:81:d7": "Dell Inc.",
	"18:db:f2": "Dell Inc.",
	"8c:ec:4b": "Dell Inc.",
	"3c:52:82": "Hewlett Packard",
	"94:57:a5": "Hewlett Packard",
	"54:e1:ad": "LENOVO",
	"8c:16:45": "LENOVO",
	"28:d2:44": "LENOVO",

	// Mobile families used by the randomized-MAC attribution
	"28:39:26": "Samsung Electronics",
	"8c:71:f8": "Samsung Electronics",
	"50:77:05": "Samsung Electronics",
	"f8:a9:d0": "Google, Inc.",
	"3c:28:6d": "Google, Inc.",
	"94:eb:2c": "Google, Inc.",
	"64:b4:73": "Xiaomi Communications",
	"28:6c:07": "Xiaomi Communications",
	"a4:50:46": "Xiaomi Communications",
	"94:65:2d": "OnePlus Technology",
	"c0:ee:fb": "OnePlus Technology",
	"28:18:78": "Microsoft Corporation",
	"98:5f:d3": "Microsoft Corporation",

	// IoT / consumer
	"18:b4:30": "Nest Labs Inc.",
	"44:07:0b": "Google Nest",
	"ec:fa:bc": "Espressif Inc.",
	"24:0a:c4": "Espressif Inc.",
	"a0:20:a6": "Espressif Inc.",
	"b0:be:76": "TP-Link Technologies",
	"50:c7:bf": "TP-Link Technologies",
	"68:ff:7b": "TP-Link Technologies",
	"00:17:88": "Philips Lighting (Hue)",
	"d0:73:d5": "LIFX Labs",
	"fc:a6:67": "Amazon Technologies",
	"74:c2:46": "Amazon Technologies",
	"0c:47:c9": "Amazon Technologies",
	"00:04:4b": "NVIDIA Corporation",
	"48:b0:2d": "NVIDIA Corporation",
	"00:04:20": "Slim Devices (Logitech)",
	"44:73:d6": "Logitech",
	"70:2a:d5": "Sony Interactive Entertainment",
	"00:d9:d1": "Sony Interactive Entertainment",
	"98:b6:e9": "Nintendo Co., Ltd",
	"00:1f:c5": "Nintendo Co., Ltd",
}

// VendorForMAC returns the OUI vendor for a MAC address, or "" when unknown.
func VendorForMAC(mac string) string {
	mac = CanonicalMAC(mac)
	if len(mac) < 8 {
		return ""
	}
	return ouiVendors[mac[:8]]
}

// IsMobileVendor reports whether the vendor string belongs to one of the
// mobile OS families the randomized-MAC heuristic attributes.
func IsMobileVendor(vendor string) bool {
	for _, family := range mobileVendorFamilies {
		if strings.Contains(vendor, family) {
			return true
		}
	}
	return false
}
