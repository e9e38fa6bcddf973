package firewall

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// maxLogQueryRows caps a single log query. Matches the per-kind retention
// window in the log store.
const maxLogQueryRows = 1000

func xmlEscape(s string) string {
	var b strings.Builder
	if err := xml.EscapeText(&b, []byte(s)); err != nil {
		return s
	}
	return b.String()
}

// parseCounterEntries reads "show counter interface" output. Counter fields
// the firmware omits simply stay zero.
func parseCounterEntries(body []byte) ([]InterfaceCounters, error) {
	var parsed struct {
		Entries []struct {
			Name     string `xml:"name"`
			IBytes   int64  `xml:"ibytes"`
			OBytes   int64  `xml:"obytes"`
			IPackets int64  `xml:"ipackets"`
			OPackets int64  `xml:"opackets"`
			IErrors  int64  `xml:"ierrors"`
			OErrors  int64  `xml:"oerrors"`
			IDrops   int64  `xml:"idrops"`
			ODrops   int64  `xml:"odrops"`
		} `xml:"result>ifnet>ifnet>entry"`
	}
	if err := xml.Unmarshal(body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Entries) == 0 {
		return nil, fmt.Errorf("no interface entries in counter output")
	}

	entries := make([]InterfaceCounters, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		entries = append(entries, InterfaceCounters{
			Name:       e.Name,
			BytesIn:    e.IBytes,
			BytesOut:   e.OBytes,
			PacketsIn:  e.IPackets,
			PacketsOut: e.OPackets,
			ErrorsIn:   e.IErrors,
			ErrorsOut:  e.OErrors,
			DropsIn:    e.IDrops,
			DropsOut:   e.ODrops,
		})
	}
	return entries, nil
}

// parseResourceMonitor averages per-core load over the last minute across
// all data processors. The document nests one block per DP (dp0, dp1, ...)
// so a token walk beats a fixed path.
func parseResourceMonitor(body []byte) (float64, error) {
	decoder := xml.NewDecoder(strings.NewReader(string(body)))

	var (
		inLoadAvg bool
		inValue   bool
		sum       int64
		count     int64
	)
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "cpu-load-average":
				inLoadAvg = true
			case "value":
				inValue = inLoadAvg
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "cpu-load-average":
				inLoadAvg = false
			case "value":
				inValue = false
			}
		case xml.CharData:
			if inValue {
				if v, err := strconv.ParseInt(strings.TrimSpace(string(t)), 10, 64); err == nil {
					sum += v
					count++
				}
			}
		}
	}

	if count == 0 {
		return 0, fmt.Errorf("no core load values in resource-monitor output")
	}
	return float64(sum) / float64(count), nil
}

var (
	cpuIdleRe  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(?:%?\s*)id`)
	cpuUserRe  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(?:%?\s*)us`)
	cpuSysRe   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)\s*(?:%?\s*)sy`)
	memTotalRe = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)k?\+?\s*total`)
	memUsedRe  = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)k?\+?\s*used`)
)

// parseSystemResources scrapes management CPU and memory out of the
// top(1)-style text the resources command returns.
func parseSystemResources(raw string) (*SystemResources, error) {
	res := &SystemResources{CPUPct: -1, MemoryPct: -1}

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.Contains(trimmed, "Cpu(s)"):
			if m := cpuIdleRe.FindStringSubmatch(trimmed); m != nil {
				if idle, err := strconv.ParseFloat(m[1], 64); err == nil {
					res.CPUPct = clampPct(100 - idle)
					continue
				}
			}
			var total float64
			if m := cpuUserRe.FindStringSubmatch(trimmed); m != nil {
				v, _ := strconv.ParseFloat(m[1], 64)
				total += v
			}
			if m := cpuSysRe.FindStringSubmatch(trimmed); m != nil {
				v, _ := strconv.ParseFloat(m[1], 64)
				total += v
			}
			if total > 0 {
				res.CPUPct = clampPct(total)
			}
		case strings.Contains(trimmed, "Mem"):
			mTotal := memTotalRe.FindStringSubmatch(trimmed)
			mUsed := memUsedRe.FindStringSubmatch(trimmed)
			if mTotal == nil || mUsed == nil {
				continue
			}
			total, err1 := strconv.ParseFloat(mTotal[1], 64)
			used, err2 := strconv.ParseFloat(mUsed[1], 64)
			if err1 == nil && err2 == nil && total > 0 {
				res.MemoryPct = clampPct(used / total * 100)
			}
		}
	}

	if res.CPUPct < 0 && res.MemoryPct < 0 {
		return nil, fmt.Errorf("no CPU or memory figures in resources output")
	}
	if res.CPUPct < 0 {
		res.CPUPct = 0
	}
	if res.MemoryPct < 0 {
		res.MemoryPct = 0
	}
	return res, nil
}

func clampPct(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// parseUptime converts the "44 days, 6:12:33" form into seconds. Missing or
// malformed parts degrade to zero rather than failing the whole sample.
func parseUptime(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	var days int64
	if i := strings.Index(s, "day"); i >= 0 {
		fields := strings.Fields(s[:i])
		if len(fields) > 0 {
			days, _ = strconv.ParseInt(fields[len(fields)-1], 10, 64)
		}
		if j := strings.IndexByte(s, ','); j >= 0 {
			s = strings.TrimSpace(s[j+1:])
		} else {
			s = ""
		}
	}

	var h, m, sec int64
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 3:
		h, _ = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		m, _ = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		sec, _ = strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
	case 2:
		h, _ = strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		m, _ = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	}

	return days*86400 + h*3600 + m*60 + sec
}

// vlanFromInterface extracts the VLAN tag from a subinterface name, e.g.
// "ethernet1/2.30" yields "30".
func vlanFromInterface(iface string) string {
	iface = strings.TrimSpace(iface)
	i := strings.LastIndexByte(iface, '.')
	if i < 0 || i == len(iface)-1 {
		return ""
	}
	tag := iface[i+1:]
	if _, err := strconv.Atoi(tag); err != nil {
		return ""
	}
	return tag
}
