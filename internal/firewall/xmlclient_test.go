package firewall

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *XMLClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewXMLClient(XMLClientConfig{
		Address: server.URL,
		APIKey:  "test-key",
	})
	if err != nil {
		t.Fatalf("NewXMLClient failed: %v", err)
	}
	client.jobPollInterval = time.Millisecond
	return client
}

func TestXMLClientSystemInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "test-key" {
			t.Errorf("key = %q, want test-key", got)
		}
		if got := r.URL.Query().Get("type"); got != "op" {
			t.Errorf("type = %q, want op", got)
		}
		fmt.Fprint(w, `<response status="success"><result><system>
			<hostname>edge-fw-01</hostname>
			<serial>001122334455</serial>
			<sw-version>10.2.4-h3</sw-version>
			<uptime>44 days, 6:12:33</uptime>
			<model>PA-440</model>
		</system></result></response>`)
	})

	info, err := client.SystemInfo(context.Background())
	if err != nil {
		t.Fatalf("SystemInfo failed: %v", err)
	}
	if info.Hostname != "edge-fw-01" {
		t.Errorf("Hostname = %q, want edge-fw-01", info.Hostname)
	}
	if info.PanOSVersion != "10.2.4-h3" {
		t.Errorf("PanOSVersion = %q", info.PanOSVersion)
	}
	want := int64(44*86400 + 6*3600 + 12*60 + 33)
	if info.UptimeSec != want {
		t.Errorf("UptimeSec = %d, want %d", info.UptimeSec, want)
	}
}

func TestXMLClientSessionInfo(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response status="success"><result>
			<num-active>1543</num-active>
			<num-tcp>1200</num-tcp>
			<num-udp>320</num-udp>
			<num-icmp>23</num-icmp>
			<num-max>200000</num-max>
		</result></response>`)
	})

	info, err := client.SessionInfo(context.Background())
	if err != nil {
		t.Fatalf("SessionInfo failed: %v", err)
	}
	if info.Active != 1543 || info.TCP != 1200 || info.UDP != 320 || info.ICMP != 23 || info.Max != 200000 {
		t.Errorf("unexpected session info: %+v", info)
	}
}

func TestXMLClientAuthErrorInEnvelope(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response status="error" code="403"><result><msg>Invalid credential</msg></result></response>`)
	})

	_, err := client.SystemInfo(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if IsRetryableError(err) {
		t.Fatal("auth errors must not be retryable")
	}
}

func TestXMLClientHTTPError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream busy")
	})

	_, err := client.SessionInfo(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !IsRetryableError(err) {
		t.Fatalf("502 should be retryable, got %v", err)
	}
}

func TestXMLClientInterfaceCounters(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response status="success"><result><ifnet><ifnet>
			<entry><name>ethernet1/1</name><ibytes>1000</ibytes><obytes>2000</obytes>
			<ipackets>10</ipackets><opackets>20</opackets><ierrors>1</ierrors><idrops>2</idrops></entry>
			<entry><name>ethernet1/2</name><ibytes>5</ibytes><obytes>6</obytes></entry>
		</ifnet></ifnet></result></response>`)
	})

	counters, err := client.InterfaceCounters(context.Background(), "ethernet1/1")
	if err != nil {
		t.Fatalf("InterfaceCounters failed: %v", err)
	}
	if counters.BytesIn != 1000 || counters.BytesOut != 2000 {
		t.Errorf("bytes = %d/%d, want 1000/2000", counters.BytesIn, counters.BytesOut)
	}
	if counters.ErrorsIn != 1 || counters.DropsIn != 2 {
		t.Errorf("errors/drops = %d/%d, want 1/2", counters.ErrorsIn, counters.DropsIn)
	}

	_, err = client.InterfaceCounters(context.Background(), "ethernet1/9")
	if err == nil {
		t.Fatal("expected not-found error for missing interface")
	}
}

func TestXMLClientARPTableSkipsIncomplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response status="success"><result><entries>
			<entry><ip>192.168.1.10</ip><mac>AA:BB:CC:DD:EE:FF</mac><interface>ethernet1/2.30</interface></entry>
			<entry><ip>192.168.1.11</ip><mac>(incomplete)</mac><interface>ethernet1/2</interface></entry>
		</entries></result></response>`)
	})

	entries, err := client.ARPTable(context.Background())
	if err != nil {
		t.Fatalf("ARPTable failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].MAC != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("MAC = %q, want lowercase canonical form", entries[0].MAC)
	}
	if entries[0].VLAN != "30" {
		t.Errorf("VLAN = %q, want 30", entries[0].VLAN)
	}
}

func TestXMLClientLogQueryJobFlow(t *testing.T) {
	var polls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("action") != "get" {
			if got := q.Get("log-type"); got != "threat" {
				t.Errorf("log-type = %q, want threat", got)
			}
			fmt.Fprint(w, `<response status="success"><result><job>42</job></result></response>`)
			return
		}
		if got := q.Get("job-id"); got != "42" {
			t.Errorf("job-id = %q, want 42", got)
		}
		polls++
		if polls == 1 {
			fmt.Fprint(w, `<response status="success"><result><job><status>ACT</status></job></result></response>`)
			return
		}
		fmt.Fprint(w, `<response status="success"><result>
			<job><status>FIN</status></job>
			<log><logs count="1">
				<entry>
					<receive_time>2026/08/24 10:15:00</receive_time>
					<severity>critical</severity>
					<src>10.0.0.5</src><dst>203.0.113.9</dst>
					<sport>51544</sport><dport>445</dport>
					<app>smb</app><rule>deny-out</rule><action>reset-both</action>
					<threatid>Windows Executable (EXE)(52020)</threatid>
				</entry>
			</logs></log>
		</result></response>`)
	})

	entries, err := client.Logs(context.Background(), models.LogKindThreat, 100)
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Kind != models.LogKindThreat {
		t.Errorf("Kind = %q", e.Kind)
	}
	if e.Severity != "critical" {
		t.Errorf("Severity = %q", e.Severity)
	}
	if e.ThreatName != "Windows Executable (EXE)" || e.ThreatID != "52020" {
		t.Errorf("threat = %q/%q", e.ThreatName, e.ThreatID)
	}
	if e.DestPort != 445 {
		t.Errorf("DestPort = %d", e.DestPort)
	}
	if polls != 2 {
		t.Errorf("polled %d times, want 2", polls)
	}
}

func TestXMLClientLicenses(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response status="success"><result><licenses>
			<entry><feature>Threat Prevention</feature><expired>no</expired></entry>
			<entry><feature>URL Filtering</feature><expired>yes</expired></entry>
			<entry><feature>Support</feature><expired>no</expired></entry>
		</licenses></result></response>`)
	})

	info, err := client.Licenses(context.Background())
	if err != nil {
		t.Fatalf("Licenses failed: %v", err)
	}
	if info.Valid != 2 || info.Expired != 1 {
		t.Errorf("licenses = %d valid / %d expired, want 2/1", info.Valid, info.Expired)
	}
}

func TestParseUptime(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"44 days, 6:12:33", 44*86400 + 6*3600 + 12*60 + 33},
		{"0 days, 0:10:05", 10*60 + 5},
		{"6:12:33", 6*3600 + 12*60 + 33},
		{"1 day, 2:03", 86400 + 2*3600 + 3*60},
		{"", 0},
		{"garbage", 0},
	}
	for _, tc := range tests {
		if got := parseUptime(tc.in); got != tc.want {
			t.Errorf("parseUptime(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseSystemResources(t *testing.T) {
	raw := `top - 10:22:33 up 44 days, 6:12, 1 user, load average: 0.58, 0.61, 0.63
Tasks: 189 total, 1 running, 188 sleeping
%Cpu(s): 12.3 us, 4.5 sy, 0.0 ni, 80.0 id, 3.2 wa
MiB Mem : 3646.6 total, 259.0 free, 1947.6 used, 1440.0 buff/cache`

	res, err := parseSystemResources(raw)
	if err != nil {
		t.Fatalf("parseSystemResources failed: %v", err)
	}
	if res.CPUPct < 19.9 || res.CPUPct > 20.1 {
		t.Errorf("CPUPct = %v, want ~20", res.CPUPct)
	}
	wantMem := 1947.6 / 3646.6 * 100
	if res.MemoryPct < wantMem-0.1 || res.MemoryPct > wantMem+0.1 {
		t.Errorf("MemoryPct = %v, want ~%v", res.MemoryPct, wantMem)
	}

	if _, err := parseSystemResources("nothing useful here"); err == nil {
		t.Error("expected error for unparseable output")
	}
}

func TestParseResourceMonitor(t *testing.T) {
	body := []byte(`<response status="success"><result><resource-monitor><data-processors>
		<dp0><minute><cpu-load-average>
			<entry><coreid>0</coreid><value>20</value></entry>
			<entry><coreid>1</coreid><value>40</value></entry>
		</cpu-load-average></minute></dp0>
		<dp1><minute><cpu-load-average>
			<entry><coreid>0</coreid><value>60</value></entry>
		</cpu-load-average></minute></dp1>
	</data-processors></resource-monitor></result></response>`)

	load, err := parseResourceMonitor(body)
	if err != nil {
		t.Fatalf("parseResourceMonitor failed: %v", err)
	}
	if load != 40 {
		t.Errorf("load = %v, want 40", load)
	}
}

func TestVlanFromInterface(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"ethernet1/2.30", "30"},
		{"ae1.100", "100"},
		{"ethernet1/2", ""},
		{"ethernet1/2.", ""},
		{"ethernet1/2.abc", ""},
	}
	for _, tc := range tests {
		if got := vlanFromInterface(tc.in); got != tc.want {
			t.Errorf("vlanFromInterface(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAggregateAppStats(t *testing.T) {
	entries := []logEntryXML{
		{App: "ssl", Src: "10.0.0.5", Dst: "203.0.113.9", DPort: 443, Proto: "tcp", Bytes: 100, BytesSent: 60, BytesRecv: 40, FromZone: "trust", ToZone: "untrust", InboundIf: "ethernet1/2.30"},
		{App: "ssl", Src: "10.0.0.6", Dst: "203.0.113.9", DPort: 443, Proto: "tcp", Bytes: 300, BytesSent: 100, BytesRecv: 200},
		{App: "dns", Src: "10.0.0.5", Dst: "10.0.0.1", DPort: 53, Proto: "udp", Bytes: 50, BytesSent: 25, BytesRecv: 25},
		{App: "", Src: "10.0.0.7", Bytes: 999},
	}

	stats := aggregateAppStats(entries)
	if len(stats) != 2 {
		t.Fatalf("got %d apps, want 2", len(stats))
	}
	// Sorted by total bytes, largest first.
	if stats[0].Name != "ssl" {
		t.Fatalf("stats[0] = %q, want ssl", stats[0].Name)
	}
	ssl := stats[0]
	if ssl.BytesTotal != 400 || ssl.Sessions != 2 {
		t.Errorf("ssl totals = %d bytes / %d sessions", ssl.BytesTotal, ssl.Sessions)
	}
	if len(ssl.Sources) != 2 || ssl.Sources[0].IP != "10.0.0.6" {
		t.Errorf("ssl sources = %+v, want 10.0.0.6 first", ssl.Sources)
	}
	if len(ssl.Ports) != 1 || ssl.Ports[0] != 443 {
		t.Errorf("ssl ports = %v", ssl.Ports)
	}
	if len(ssl.VLANs) != 1 || ssl.VLANs[0] != "30" {
		t.Errorf("ssl vlans = %v", ssl.VLANs)
	}
	if len(ssl.Zones) != 2 {
		t.Errorf("ssl zones = %v", ssl.Zones)
	}
}

func TestInstrumentObservesLatency(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<response status="success"><result><num-active>1</num-active></result></response>`)
	})

	var gotOp string
	var gotErr error
	wrapped := Instrument(client, func(op string, elapsed time.Duration, err error) {
		gotOp = op
		gotErr = err
		if elapsed < 0 {
			t.Errorf("elapsed = %v", elapsed)
		}
	})

	if _, err := wrapped.SessionInfo(context.Background()); err != nil {
		t.Fatalf("SessionInfo failed: %v", err)
	}
	if gotOp != "session_info" {
		t.Errorf("op = %q, want session_info", gotOp)
	}
	if gotErr != nil {
		t.Errorf("observer err = %v", gotErr)
	}
}
