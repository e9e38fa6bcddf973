package firewall

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/pkg/tlsutil"
)

// XMLClientConfig holds connection settings for one device's management API.
type XMLClientConfig struct {
	// Address is the management host, with or without scheme and port.
	Address string
	// APIKey is the operational API key minted for the monitoring role.
	APIKey string
	// VerifyTLS enables system CA verification. Most management endpoints
	// carry self-signed certificates, so pinning is the usual mode.
	VerifyTLS bool
	// Fingerprint, when set, pins the management certificate (SHA256 hex).
	Fingerprint string
	// Timeout bounds a single HTTP exchange. Defaults to DefaultCallTimeout.
	Timeout time.Duration
}

// XMLClient implements Client against the device's XML management API.
// All commands go through GET /api/ with type/cmd/key query parameters;
// responses arrive as a <response status=...> envelope around a result
// document. Log and report queries are asynchronous jobs that must be
// polled for completion.
type XMLClient struct {
	baseURL    string
	apiKey     string
	device     string
	httpClient *http.Client

	// jobPollInterval paces job-status polling for log/report queries.
	jobPollInterval time.Duration
}

// NewXMLClient builds a client for one device.
func NewXMLClient(cfg XMLClientConfig) (*XMLClient, error) {
	if cfg.Address == "" {
		return nil, NewDeviceError(ErrorTypeValidation, "new_client", "", fmt.Errorf("address is required"))
	}
	if cfg.APIKey == "" {
		return nil, NewDeviceError(ErrorTypeValidation, "new_client", cfg.Address, fmt.Errorf("api key is required"))
	}

	host := cfg.Address
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	if strings.HasPrefix(host, "http://") {
		log.Warn().Str("host", host).Msg("Using HTTP for device management API; credentials travel in the clear")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}

	return &XMLClient{
		baseURL:         strings.TrimSuffix(host, "/") + "/api/",
		apiKey:          cfg.APIKey,
		device:          cfg.Address,
		httpClient:      tlsutil.CreateHTTPClientWithTimeout(cfg.VerifyTLS, cfg.Fingerprint, timeout),
		jobPollInterval: 300 * time.Millisecond,
	}, nil
}

// apiEnvelope is the outer <response> wrapper every call returns.
type apiEnvelope struct {
	XMLName xml.Name `xml:"response"`
	Status  string   `xml:"status,attr"`
	Code    string   `xml:"code,attr"`
	Msg     string   `xml:"msg"`
	// Error detail sometimes nests under result instead.
	ResultMsg string `xml:"result>msg"`
}

func (e *apiEnvelope) errorMessage() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.ResultMsg != "" {
		return e.ResultMsg
	}
	return "unknown API error"
}

// call performs one API exchange and returns the raw body after envelope
// validation. The op name is used for error context only.
func (c *XMLClient) call(ctx context.Context, op string, params url.Values) ([]byte, error) {
	params.Set("key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, NewDeviceError(ErrorTypeInternal, op, c.device, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, Classify(op, c.device, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, Classify(op, c.device, err)
	}

	if resp.StatusCode >= 400 {
		err := fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(firstLine(string(body))))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, WrapAuthError(op, c.device, err)
		}
		return nil, WrapAPIError(op, c.device, err, resp.StatusCode)
	}

	var envelope apiEnvelope
	if err := xml.Unmarshal(body, &envelope); err != nil {
		return nil, WrapProtocolError(op, c.device, fmt.Errorf("malformed response envelope: %w", err))
	}
	if envelope.Status != "success" {
		msg := envelope.errorMessage()
		// The API signals bad keys inside a 200 response.
		if envelope.Code == "403" || strings.Contains(strings.ToLower(msg), "invalid credential") {
			return nil, WrapAuthError(op, c.device, fmt.Errorf("%s", msg))
		}
		return nil, WrapAPIError(op, c.device, fmt.Errorf("%s", msg), 0)
	}

	return body, nil
}

// op runs an operational command.
func (c *XMLClient) op(ctx context.Context, name, cmd string) ([]byte, error) {
	params := url.Values{}
	params.Set("type", "op")
	params.Set("cmd", cmd)
	return c.call(ctx, name, params)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// SystemInfo implements Client.
func (c *XMLClient) SystemInfo(ctx context.Context) (*SystemInfo, error) {
	const opName = "system_info"
	body, err := c.op(ctx, opName, "<show><system><info></info></system></show>")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Hostname  string `xml:"result>system>hostname"`
		Serial    string `xml:"result>system>serial"`
		SWVersion string `xml:"result>system>sw-version"`
		Uptime    string `xml:"result>system>uptime"`
		Model     string `xml:"result>system>model"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}

	return &SystemInfo{
		Hostname:     parsed.Hostname,
		Serial:       parsed.Serial,
		PanOSVersion: parsed.SWVersion,
		UptimeSec:    parseUptime(parsed.Uptime),
		Model:        parsed.Model,
	}, nil
}

// InterfaceCounters implements Client.
func (c *XMLClient) InterfaceCounters(ctx context.Context, name string) (*InterfaceCounters, error) {
	const opName = "interface_counters"
	if name == "" {
		return nil, NewDeviceError(ErrorTypeValidation, opName, c.device, fmt.Errorf("interface name is required"))
	}

	cmd := fmt.Sprintf("<show><counter><interface>%s</interface></counter></show>", xmlEscape(name))
	body, err := c.op(ctx, opName, cmd)
	if err != nil {
		return nil, err
	}

	entries, err := parseCounterEntries(body)
	if err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}
	for i := range entries {
		if entries[i].Name == name {
			return &entries[i], nil
		}
	}
	return nil, NewDeviceError(ErrorTypeNotFound, opName, c.device, fmt.Errorf("interface %q not in counter output", name))
}

// AllInterfaceCounters implements Client.
func (c *XMLClient) AllInterfaceCounters(ctx context.Context) ([]InterfaceCounters, error) {
	const opName = "interface_counters_all"
	body, err := c.op(ctx, opName, "<show><counter><interface>all</interface></counter></show>")
	if err != nil {
		return nil, err
	}

	entries, err := parseCounterEntries(body)
	if err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}
	return entries, nil
}

// SessionInfo implements Client.
func (c *XMLClient) SessionInfo(ctx context.Context) (*SessionInfo, error) {
	const opName = "session_info"
	body, err := c.op(ctx, opName, "<show><session><info></info></session></show>")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Active int64 `xml:"result>num-active"`
		TCP    int64 `xml:"result>num-tcp"`
		UDP    int64 `xml:"result>num-udp"`
		ICMP   int64 `xml:"result>num-icmp"`
		Max    int64 `xml:"result>num-max"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}

	return &SessionInfo{
		Active: parsed.Active,
		TCP:    parsed.TCP,
		UDP:    parsed.UDP,
		ICMP:   parsed.ICMP,
		Max:    parsed.Max,
	}, nil
}

// DataPlaneCPU implements Client. The load figure is the average across
// data-plane cores over the most recent one-minute window.
func (c *XMLClient) DataPlaneCPU(ctx context.Context) (float64, error) {
	const opName = "dataplane_cpu"
	body, err := c.op(ctx, opName,
		"<show><running><resource-monitor><minute><last>1</last></minute></resource-monitor></running></show>")
	if err != nil {
		return 0, err
	}

	load, err := parseResourceMonitor(body)
	if err != nil {
		return 0, WrapProtocolError(opName, c.device, err)
	}
	return load, nil
}

// SystemResources implements Client. The output is a top(1)-style text blob;
// management CPU and memory are scraped out of it.
func (c *XMLClient) SystemResources(ctx context.Context) (*SystemResources, error) {
	const opName = "system_resources"
	body, err := c.op(ctx, opName, "<show><system><resources></resources></system></show>")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Raw string `xml:"result"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}

	res, err := parseSystemResources(parsed.Raw)
	if err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}
	return res, nil
}

// InterfaceDetail implements Client.
func (c *XMLClient) InterfaceDetail(ctx context.Context, name string) (*InterfaceDetail, error) {
	const opName = "interface_detail"
	if name == "" {
		return nil, NewDeviceError(ErrorTypeValidation, opName, c.device, fmt.Errorf("interface name is required"))
	}

	cmd := fmt.Sprintf("<show><interface>%s</interface></show>", xmlEscape(name))
	body, err := c.op(ctx, opName, cmd)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Name  string   `xml:"result>ifnet>name"`
		Zone  string   `xml:"result>ifnet>zone"`
		Addrs []string `xml:"result>ifnet>addr>member"`
		IP    string   `xml:"result>ifnet>ip"`
		Speed string   `xml:"result>hw>speed"`
		State string   `xml:"result>hw>state"`
		MAC   string   `xml:"result>hw>mac"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}

	address := parsed.IP
	if address == "" && len(parsed.Addrs) > 0 {
		address = parsed.Addrs[0]
	}
	if i := strings.IndexByte(address, '/'); i >= 0 {
		address = address[:i]
	}
	if address == "N/A" {
		address = ""
	}

	detail := &InterfaceDetail{
		Name:    parsed.Name,
		Address: address,
		Speed:   parsed.Speed,
		State:   parsed.State,
		MAC:     parsed.MAC,
		Zone:    parsed.Zone,
	}
	if detail.Name == "" {
		detail.Name = name
	}
	return detail, nil
}

// ARPTable implements Client.
func (c *XMLClient) ARPTable(ctx context.Context) ([]ARPEntry, error) {
	const opName = "arp_table"
	body, err := c.op(ctx, opName, "<show><arp><entry name='all'/></arp></show>")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Entries []struct {
			IP        string `xml:"ip"`
			MAC       string `xml:"mac"`
			Interface string `xml:"interface"`
			Status    string `xml:"status"`
		} `xml:"result>entries>entry"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}

	entries := make([]ARPEntry, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		// Incomplete entries carry no usable MAC.
		if strings.Contains(e.MAC, "incomplete") || e.MAC == "" {
			continue
		}
		entries = append(entries, ARPEntry{
			IP:        e.IP,
			MAC:       strings.ToLower(strings.TrimSpace(e.MAC)),
			Interface: strings.TrimSpace(e.Interface),
			VLAN:      vlanFromInterface(e.Interface),
		})
	}
	return entries, nil
}

// DHCPLeases implements Client.
func (c *XMLClient) DHCPLeases(ctx context.Context) ([]DHCPLease, error) {
	const opName = "dhcp_leases"
	body, err := c.op(ctx, opName,
		"<show><dhcp><server><lease><interface>all</interface></lease></server></dhcp></show>")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Interfaces []struct {
			Entries []struct {
				IP       string `xml:"ip"`
				MAC      string `xml:"mac"`
				Hostname string `xml:"hostname"`
				State    string `xml:"state"`
				Expires  string `xml:"leasetime"`
			} `xml:"entry"`
		} `xml:"result>interface"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}

	var leases []DHCPLease
	for _, iface := range parsed.Interfaces {
		for _, e := range iface.Entries {
			if e.MAC == "" || e.IP == "" {
				continue
			}
			lease := DHCPLease{
				IP:       e.IP,
				MAC:      strings.ToLower(strings.TrimSpace(e.MAC)),
				Hostname: strings.TrimSpace(e.Hostname),
			}
			if t, err := time.Parse("2006/01/02 15:04:05", e.Expires); err == nil {
				lease.Expires = t
			}
			leases = append(leases, lease)
		}
	}
	return leases, nil
}

// Licenses implements Client.
func (c *XMLClient) Licenses(ctx context.Context) (*LicenseInfo, error) {
	const opName = "license_info"
	body, err := c.op(ctx, opName, "<request><license><info></info></license></request>")
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Entries []struct {
			Feature string `xml:"feature"`
			Expired string `xml:"expired"`
		} `xml:"result>licenses>entry"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, WrapProtocolError(opName, c.device, err)
	}

	info := &LicenseInfo{}
	for _, e := range parsed.Entries {
		if strings.EqualFold(strings.TrimSpace(e.Expired), "yes") {
			info.Expired++
		} else {
			info.Valid++
		}
	}
	return info, nil
}

// ThreatSummary implements Client by aggregating two log queries: threat
// entries of medium severity and above, and URL entries that were blocked.
func (c *XMLClient) ThreatSummary(ctx context.Context, since time.Time) (*ThreatSummary, error) {
	const opName = "threat_summary"
	sinceClause := fmt.Sprintf("(receive_time geq '%s')", since.Format("2006/01/02 15:04:05"))

	threatQuery := "(severity geq medium) and " + sinceClause
	threats, err := c.queryLogs(ctx, opName, "threat", threatQuery, maxLogQueryRows)
	if err != nil {
		return nil, err
	}

	urlQuery := "(action eq block-url) and " + sinceClause
	urls, err := c.queryLogs(ctx, opName, "url", urlQuery, maxLogQueryRows)
	if err != nil {
		return nil, err
	}

	summary := &ThreatSummary{}
	for _, e := range threats {
		ts := e.receiveTime()
		switch strings.ToLower(e.Severity) {
		case "critical":
			summary.Critical++
			summary.LastCritical = laterOf(summary.LastCritical, ts)
		case "high":
			summary.High++
			summary.LastHigh = laterOf(summary.LastHigh, ts)
		case "medium":
			summary.Medium++
			summary.LastMedium = laterOf(summary.LastMedium, ts)
		}
	}
	for _, e := range urls {
		summary.BlockedURLs++
		summary.LastURLBlock = laterOf(summary.LastURLBlock, e.receiveTime())
	}
	return summary, nil
}

// Logs implements Client.
func (c *XMLClient) Logs(ctx context.Context, kind models.LogKind, limit int) ([]models.LogEntry, error) {
	const opName = "log_query"
	if !models.ValidLogKind(kind) {
		return nil, NewDeviceError(ErrorTypeValidation, opName, c.device, fmt.Errorf("unknown log kind %q", kind))
	}
	if limit <= 0 || limit > maxLogQueryRows {
		limit = maxLogQueryRows
	}

	raw, err := c.queryLogs(ctx, opName, string(kind), "", limit)
	if err != nil {
		return nil, err
	}

	entries := make([]models.LogEntry, 0, len(raw))
	for _, e := range raw {
		entries = append(entries, e.normalize(kind))
	}
	return entries, nil
}

// ApplicationStats implements Client by aggregating the most recent traffic
// log entries per application. The ACC report API only exposes totals, so
// endpoint detail comes from the session records themselves.
func (c *XMLClient) ApplicationStats(ctx context.Context) ([]AppStat, error) {
	const opName = "application_stats"
	raw, err := c.queryLogs(ctx, opName, "traffic", "", maxLogQueryRows)
	if err != nil {
		return nil, err
	}
	return aggregateAppStats(raw), nil
}
