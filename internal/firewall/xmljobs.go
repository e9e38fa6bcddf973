package firewall

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// logTimeLayout is the timestamp format used throughout the log API.
const logTimeLayout = "2006/01/02 15:04:05"

// logEntryXML is the union of fields across the four log categories.
type logEntryXML struct {
	SeqNo       int64  `xml:"seqno"`
	ReceiveTime string `xml:"receive_time"`
	Severity    string `xml:"severity"`
	Src         string `xml:"src"`
	Dst         string `xml:"dst"`
	SPort       int    `xml:"sport"`
	DPort       int    `xml:"dport"`
	App         string `xml:"app"`
	Rule        string `xml:"rule"`
	Action      string `xml:"action"`
	ThreatID    string `xml:"threatid"`
	Misc        string `xml:"misc"`
	Category    string `xml:"category"`
	Bytes       int64  `xml:"bytes"`
	BytesSent   int64  `xml:"bytes_sent"`
	BytesRecv   int64  `xml:"bytes_received"`
	Packets     int64  `xml:"packets"`
	EventID     string `xml:"eventid"`
	Object      string `xml:"object"`
	Opaque      string `xml:"opaque"`
	Proto       string `xml:"proto"`
	FromZone    string `xml:"from"`
	ToZone      string `xml:"to"`
	InboundIf   string `xml:"inbound_if"`
	OutboundIf  string `xml:"outbound_if"`
}

func (e *logEntryXML) receiveTime() time.Time {
	t, err := time.ParseInLocation(logTimeLayout, e.ReceiveTime, time.Local)
	if err != nil {
		return time.Time{}
	}
	return t
}

// normalize maps a raw entry onto the promoted columns for its kind.
func (e *logEntryXML) normalize(kind models.LogKind) models.LogEntry {
	entry := models.LogEntry{
		Kind: kind,
		Time: e.receiveTime(),
		Seq:  e.SeqNo,
	}

	switch kind {
	case models.LogKindThreat:
		entry.Severity = strings.ToLower(e.Severity)
		entry.SourceIP = e.Src
		entry.DestIP = e.Dst
		entry.SourcePort = e.SPort
		entry.DestPort = e.DPort
		entry.Application = e.App
		entry.Rule = e.Rule
		entry.Action = e.Action
		entry.ThreatName, entry.ThreatID = splitThreatID(e.ThreatID)
	case models.LogKindURL:
		entry.SourceIP = e.Src
		entry.DestIP = e.Dst
		entry.Application = e.App
		entry.Rule = e.Rule
		entry.Action = e.Action
		entry.URL = e.Misc
		entry.Category = e.Category
	case models.LogKindTraffic:
		entry.SourceIP = e.Src
		entry.DestIP = e.Dst
		entry.SourcePort = e.SPort
		entry.DestPort = e.DPort
		entry.Application = e.App
		entry.Rule = e.Rule
		entry.Action = e.Action
		entry.Bytes = e.Bytes
		entry.BytesSent = e.BytesSent
		entry.BytesRecv = e.BytesRecv
		entry.Packets = e.Packets
	case models.LogKindSystem:
		entry.Severity = strings.ToLower(e.Severity)
		entry.EventID = e.EventID
		entry.Object = e.Object
		entry.Description = e.Opaque
	}
	return entry
}

// splitThreatID separates "Windows Executable (EXE)(52020)" into the name
// and the trailing numeric id.
func splitThreatID(raw string) (name, id string) {
	raw = strings.TrimSpace(raw)
	if !strings.HasSuffix(raw, ")") {
		return raw, ""
	}
	open := strings.LastIndexByte(raw, '(')
	if open < 0 {
		return raw, ""
	}
	candidate := raw[open+1 : len(raw)-1]
	if _, err := strconv.Atoi(candidate); err != nil {
		return raw, ""
	}
	return strings.TrimSpace(raw[:open]), candidate
}

// queryLogs runs the asynchronous log query flow: submit the query, poll the
// job until it finishes, then collect the entries.
func (c *XMLClient) queryLogs(ctx context.Context, op, logType, query string, nlogs int) ([]logEntryXML, error) {
	params := url.Values{}
	params.Set("type", "log")
	params.Set("log-type", logType)
	params.Set("dir", "backward")
	params.Set("nlogs", strconv.Itoa(nlogs))
	if query != "" {
		params.Set("query", query)
	}

	body, err := c.call(ctx, op, params)
	if err != nil {
		return nil, err
	}

	var submitted struct {
		Job string `xml:"result>job"`
	}
	if err := xml.Unmarshal(body, &submitted); err != nil {
		return nil, WrapProtocolError(op, c.device, err)
	}
	if submitted.Job == "" {
		return nil, WrapProtocolError(op, c.device, fmt.Errorf("log query returned no job id"))
	}

	return c.collectLogJob(ctx, op, submitted.Job)
}

func (c *XMLClient) collectLogJob(ctx context.Context, op, jobID string) ([]logEntryXML, error) {
	params := url.Values{}
	params.Set("type", "log")
	params.Set("action", "get")
	params.Set("job-id", jobID)

	for {
		body, err := c.call(ctx, op, params)
		if err != nil {
			return nil, err
		}

		var parsed struct {
			Status  string        `xml:"result>job>status"`
			Entries []logEntryXML `xml:"result>log>logs>entry"`
		}
		if err := xml.Unmarshal(body, &parsed); err != nil {
			return nil, WrapProtocolError(op, c.device, err)
		}

		if strings.EqualFold(parsed.Status, "FIN") {
			return parsed.Entries, nil
		}

		timer := time.NewTimer(c.jobPollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, Classify(op, c.device, ctx.Err())
		case <-timer.C:
		}
	}
}

// aggregateAppStats rolls traffic log entries up per application. Endpoint
// lists come back sorted by bytes, largest first; trimming to the stored cap
// happens at sample assembly.
func aggregateAppStats(entries []logEntryXML) []AppStat {
	type appAccum struct {
		stat      AppStat
		sources   map[string]int64
		dests     map[string]int64
		ports     map[int]struct{}
		protocols map[string]struct{}
		vlans     map[string]struct{}
		zones     map[string]struct{}
	}

	byApp := make(map[string]*appAccum)
	for i := range entries {
		e := &entries[i]
		app := strings.TrimSpace(e.App)
		if app == "" {
			continue
		}

		acc, ok := byApp[app]
		if !ok {
			acc = &appAccum{
				stat:      AppStat{Name: app, Category: e.Category},
				sources:   make(map[string]int64),
				dests:     make(map[string]int64),
				ports:     make(map[int]struct{}),
				protocols: make(map[string]struct{}),
				vlans:     make(map[string]struct{}),
				zones:     make(map[string]struct{}),
			}
			byApp[app] = acc
		}

		acc.stat.BytesTotal += e.Bytes
		acc.stat.BytesSent += e.BytesSent
		acc.stat.BytesRecv += e.BytesRecv
		acc.stat.Sessions++

		if e.Src != "" {
			acc.sources[e.Src] += e.BytesSent
		}
		if e.Dst != "" {
			acc.dests[e.Dst] += e.BytesRecv
		}
		if e.DPort > 0 {
			acc.ports[e.DPort] = struct{}{}
		}
		if p := strings.TrimSpace(e.Proto); p != "" {
			acc.protocols[p] = struct{}{}
		}
		for _, iface := range []string{e.InboundIf, e.OutboundIf} {
			if vlan := vlanFromInterface(iface); vlan != "" {
				acc.vlans[vlan] = struct{}{}
			}
		}
		for _, zone := range []string{e.FromZone, e.ToZone} {
			if zone = strings.TrimSpace(zone); zone != "" {
				acc.zones[zone] = struct{}{}
			}
		}
	}

	stats := make([]AppStat, 0, len(byApp))
	for _, acc := range byApp {
		acc.stat.Sources = endpointList(acc.sources)
		acc.stat.Destinations = endpointList(acc.dests)
		acc.stat.Ports = sortedPorts(acc.ports)
		acc.stat.Protocols = sortedStrings(acc.protocols)
		acc.stat.VLANs = sortedStrings(acc.vlans)
		acc.stat.Zones = sortedStrings(acc.zones)
		stats = append(stats, acc.stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].BytesTotal != stats[j].BytesTotal {
			return stats[i].BytesTotal > stats[j].BytesTotal
		}
		return stats[i].Name < stats[j].Name
	})
	return stats
}

func endpointList(byIP map[string]int64) []Endpoint {
	eps := make([]Endpoint, 0, len(byIP))
	for ip, bytes := range byIP {
		eps = append(eps, Endpoint{IP: ip, Bytes: bytes})
	}
	sort.Slice(eps, func(i, j int) bool {
		if eps[i].Bytes != eps[j].Bytes {
			return eps[i].Bytes > eps[j].Bytes
		}
		return eps[i].IP < eps[j].IP
	})
	return eps
}

func sortedPorts(set map[int]struct{}) []int {
	ports := make([]int, 0, len(set))
	for p := range set {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

func sortedStrings(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for s := range set {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func laterOf(current *time.Time, candidate time.Time) *time.Time {
	if candidate.IsZero() {
		return current
	}
	if current == nil || candidate.After(*current) {
		t := candidate
		return &t
	}
	return current
}
