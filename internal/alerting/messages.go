package alerting

import (
	"fmt"
	"strings"
)

// FormatMessage renders one trigger into the operator-facing message with
// metric-appropriate units.
func FormatMessage(deviceName string, trig Trigger) string {
	cfg := trig.Config
	metric := cfg.MetricType

	switch {
	case metric == PerIPBandwidthMetric:
		return formatPerIPMessage(deviceName, trig)

	case strings.HasPrefix(metric, appMetricPrefix):
		app := strings.TrimPrefix(metric, appMetricPrefix)
		return fmt.Sprintf("%s: application %s moved %s in the last 5 minutes (threshold %s)",
			deviceName, app, formatMB(trig.Value), formatMB(cfg.Threshold))

	case metric == "cpu" || metric == "cpu_mgmt" || metric == "memory":
		return fmt.Sprintf("%s: %s at %.1f%% (threshold %s %.1f%%)",
			deviceName, metricLabel(metric), trig.Value, cfg.Operator, cfg.Threshold)

	case strings.HasPrefix(metric, "throughput_"):
		return fmt.Sprintf("%s: %s at %.2f Mbps (threshold %s %.2f Mbps)",
			deviceName, metricLabel(metric), trig.Value, cfg.Operator, cfg.Threshold)

	case strings.HasPrefix(metric, "sessions"):
		return fmt.Sprintf("%s: %s at %.0f sessions (threshold %s %.0f)",
			deviceName, metricLabel(metric), trig.Value, cfg.Operator, cfg.Threshold)

	default:
		return fmt.Sprintf("%s: %s at %.2f (threshold %s %.2f)",
			deviceName, metricLabel(metric), trig.Value, cfg.Operator, cfg.Threshold)
	}
}

// formatPerIPMessage enumerates the offending endpoints, one per line.
func formatPerIPMessage(deviceName string, trig Trigger) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %.0f endpoint(s) exceeded %s in the last 5 minutes",
		deviceName, trig.Value, formatMB(trig.Config.Threshold))
	for _, row := range trig.PerIP {
		verb := "downloaded"
		if row.Direction == "upload" {
			verb = "uploaded"
		}
		b.WriteString("\n")
		if row.Hostname != "" && row.Hostname != row.IP {
			fmt.Fprintf(&b, "%s (%s) %s %.0f MB", row.IP, row.Hostname, verb, float64(row.TotalBytes)/megabyte)
		} else {
			fmt.Fprintf(&b, "%s %s %.0f MB", row.IP, verb, float64(row.TotalBytes)/megabyte)
		}
	}
	return b.String()
}

func formatMB(mb float64) string {
	if mb == float64(int64(mb)) {
		return fmt.Sprintf("%.0f MB", mb)
	}
	return fmt.Sprintf("%.1f MB", mb)
}

var metricLabels = map[string]string{
	"cpu":              "data-plane CPU",
	"cpu_mgmt":         "management-plane CPU",
	"memory":           "memory utilization",
	"sessions":         "active sessions",
	"sessions_tcp":     "TCP sessions",
	"sessions_udp":     "UDP sessions",
	"threats_critical": "critical threats",
	"threats_high":     "high-severity threats",
	"threats_medium":   "medium-severity threats",
	"blocked_urls":     "blocked URLs",
	"interface_errors": "interface errors",
	"interface_drops":  "interface drops",
	"throughput_in":    "inbound throughput",
	"throughput_out":   "outbound throughput",
	"throughput_total": "total throughput",
	"licenses_expired": "expired licenses",
}

func metricLabel(metric string) string {
	if label, ok := metricLabels[metric]; ok {
		return label
	}
	return metric
}
