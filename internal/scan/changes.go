package scan

import (
	"fmt"
	"strings"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/netutil"
)

// DetectChanges compares consecutive scan results for the same (device,
// target) and produces one change event per difference. prev may be nil for
// a first scan, which produces no events.
func DetectChanges(prev, curr *models.ScanResult) []*models.ScanChangeEvent {
	if prev == nil || curr == nil {
		return nil
	}

	var events []*models.ScanChangeEvent
	emit := func(changeType string, severity models.AlertSeverity, oldValue, newValue string, detail map[string]any) {
		events = append(events, &models.ScanChangeEvent{
			DeviceID:   curr.DeviceID,
			TargetIP:   curr.TargetIP,
			Time:       curr.Time,
			ChangeType: changeType,
			Severity:   severity,
			OldValue:   oldValue,
			NewValue:   newValue,
			Detail:     detail,
		})
	}

	prevPorts := portIndex(prev.Ports)
	currPorts := portIndex(curr.Ports)

	for key, port := range currPorts {
		if _, was := prevPorts[key]; was {
			continue
		}
		severity := models.SeverityWarning
		if IsHighRiskPort(port.Port) {
			severity = models.SeverityCritical
		}
		emit(models.ChangeNewPort, severity, "", portLabel(port), map[string]any{
			"port":             port.Port,
			"protocol":         port.Protocol,
			"service":          serviceOf(port),
			"risk_description": riskDescription(port.Port),
		})
	}

	for key, port := range prevPorts {
		if _, still := currPorts[key]; still {
			continue
		}
		emit(models.ChangePortClosed, models.SeverityInfo, portLabel(port), "", map[string]any{
			"port":     port.Port,
			"protocol": port.Protocol,
			"service":  serviceOf(port),
		})
	}

	if prev.OSName != "" && curr.OSName != "" && prev.OSName != curr.OSName {
		emit(models.ChangeOSChange, models.SeverityWarning, prev.OSName, curr.OSName, map[string]any{
			"old_confidence": prev.OSConfidence,
			"new_confidence": curr.OSConfidence,
		})
	}

	for key, port := range currPorts {
		was, ok := prevPorts[key]
		if !ok {
			continue
		}
		oldVersion := productVersion(was)
		newVersion := productVersion(port)
		if oldVersion != "" && newVersion != "" && oldVersion != newVersion {
			emit(models.ChangeServiceVersion, models.SeverityInfo, oldVersion, newVersion, map[string]any{
				"port":     port.Port,
				"protocol": port.Protocol,
				"service":  serviceOf(port),
			})
		}
	}

	return events
}

func portIndex(ports []models.PortFinding) map[string]models.PortFinding {
	idx := make(map[string]models.PortFinding, len(ports))
	for _, p := range ports {
		idx[fmt.Sprintf("%d/%s", p.Port, p.Protocol)] = p
	}
	return idx
}

func portLabel(p models.PortFinding) string {
	return netutil.PortLabel(p.Port, p.Protocol, p.Service)
}

func serviceOf(p models.PortFinding) string {
	if p.Service != "" {
		return p.Service
	}
	return netutil.ServiceName(p.Port)
}

func productVersion(p models.PortFinding) string {
	return strings.TrimSpace(strings.TrimSpace(p.Product) + " " + strings.TrimSpace(p.Version))
}
