package netutil

import "testing"

func TestCanonicalMAC(t *testing.T) {
	cases := []struct{ in, want string }{
		{"AA:BB:CC:DD:EE:FF", "aa:bb:cc:dd:ee:ff"},
		{"aa-bb-cc-dd-ee-ff", "aa:bb:cc:dd:ee:ff"},
		{"  00:50:56:01:02:03 ", "00:50:56:01:02:03"},
		{"not-a-mac", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := CanonicalMAC(tc.in); got != tc.want {
			t.Errorf("CanonicalMAC(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClassifyMACVirtual(t *testing.T) {
	cases := []struct {
		mac    string
		reason string
	}{
		{"00:50:56:11:22:33", "VMware virtual interface"},
		{"00:0c:29:aa:bb:cc", "VMware virtual interface"},
		{"00:15:5d:00:01:02", "Microsoft Hyper-V virtual interface"},
		{"02:42:ac:11:00:02", "Docker virtual interface"},
		{"08:00:27:de:ad:00", "VirtualBox virtual interface"},
		{"00:16:3e:01:02:03", "Xen virtual interface"},
		{"52:54:00:12:34:56", "QEMU/KVM virtual interface"},
	}
	for _, tc := range cases {
		class := ClassifyMAC(tc.mac)
		if !class.Virtual {
			t.Errorf("ClassifyMAC(%q): expected virtual", tc.mac)
		}
		if class.Randomized {
			t.Errorf("ClassifyMAC(%q): virtual MAC must not be randomized", tc.mac)
		}
		if class.Reason != tc.reason {
			t.Errorf("ClassifyMAC(%q) reason = %q, want %q", tc.mac, class.Reason, tc.reason)
		}
	}
}

func TestClassifyMACRandomized(t *testing.T) {
	// Locally administered bit set, unknown vendor.
	class := ClassifyMAC("de:ad:be:ef:00:01")
	if !class.Randomized || class.Virtual {
		t.Fatalf("expected randomized, got %+v", class)
	}
	if class.Reason != "Randomised MAC" {
		t.Errorf("reason = %q, want \"Randomised MAC\"", class.Reason)
	}

	// Universally administered, real vendor: neither flag.
	class = ClassifyMAC("3c:22:fb:01:02:03")
	if class.Virtual || class.Randomized {
		t.Errorf("Apple OUI should be neither virtual nor randomized: %+v", class)
	}
}

func TestIsRFC1918(t *testing.T) {
	private := []string{"10.0.0.1", "10.255.255.254", "172.16.0.1", "172.31.255.1", "192.168.1.50"}
	for _, ip := range private {
		if !IsRFC1918(ip) {
			t.Errorf("IsRFC1918(%q) = false, want true", ip)
		}
	}
	public := []string{"8.8.8.8", "172.32.0.1", "192.169.0.1", "11.0.0.1", "1.1.1.1", "2001:db8::1", "not-an-ip", ""}
	for _, ip := range public {
		if IsRFC1918(ip) {
			t.Errorf("IsRFC1918(%q) = true, want false", ip)
		}
	}
}

func TestIsInternal(t *testing.T) {
	internal := []string{"127.0.0.1", "169.254.10.20", "192.168.0.9"}
	for _, ip := range internal {
		if !IsInternal(ip) {
			t.Errorf("IsInternal(%q) = false, want true", ip)
		}
	}
	if IsInternal("93.184.216.34") {
		t.Error("IsInternal(93.184.216.34) = true, want false")
	}
}

func TestPortLabel(t *testing.T) {
	if got := PortLabel(3389, "tcp", ""); got != "3389/tcp (ms-wbt-server)" {
		t.Errorf("PortLabel = %q", got)
	}
	if got := PortLabel(8443, "tcp", "https-alt"); got != "8443/tcp (https-alt)" {
		t.Errorf("PortLabel with explicit service = %q", got)
	}
	if got := PortLabel(49152, "udp", ""); got != "49152/udp (unknown)" {
		t.Errorf("PortLabel unknown = %q", got)
	}
}
