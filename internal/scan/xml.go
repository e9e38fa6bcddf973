package scan

import (
	"encoding/xml"
	"fmt"
	"sort"

	"github.com/parapetdev/parapet/internal/models"
)

// nmapRun mirrors the subset of nmap's XML output the parser consumes.
type nmapRun struct {
	XMLName xml.Name   `xml:"nmaprun"`
	Hosts   []nmapHost `xml:"host"`
	Stats   struct {
		Finished struct {
			Elapsed float64 `xml:"elapsed,attr"`
		} `xml:"finished"`
	} `xml:"runstats"`
}

type nmapHost struct {
	Status struct {
		State string `xml:"state,attr"`
	} `xml:"status"`
	Ports struct {
		Ports []nmapPort `xml:"port"`
	} `xml:"ports"`
	OS struct {
		Matches []nmapOSMatch `xml:"osmatch"`
	} `xml:"os"`
}

type nmapPort struct {
	Protocol string `xml:"protocol,attr"`
	PortID   int    `xml:"portid,attr"`
	State    struct {
		State string `xml:"state,attr"`
	} `xml:"state"`
	Service struct {
		Name    string `xml:"name,attr"`
		Product string `xml:"product,attr"`
		Version string `xml:"version,attr"`
	} `xml:"service"`
}

type nmapOSMatch struct {
	Name     string `xml:"name,attr"`
	Accuracy int    `xml:"accuracy,attr"`
}

// parseNmapXML turns raw nmap XML into a ScanResult skeleton. Identity
// fields (device, target, profile, time) are filled by the caller.
func parseNmapXML(raw []byte) (*models.ScanResult, error) {
	var run nmapRun
	if err := xml.Unmarshal(raw, &run); err != nil {
		return nil, fmt.Errorf("unparseable scan output: %w", err)
	}

	result := &models.ScanResult{
		HostStatus: "unknown",
		Duration:   run.Stats.Finished.Elapsed,
	}
	if len(run.Hosts) == 0 {
		result.HostStatus = "down"
		return result, nil
	}

	host := run.Hosts[0]
	if host.Status.State != "" {
		result.HostStatus = host.Status.State
	}

	for _, p := range host.Ports.Ports {
		if p.State.State != "open" {
			continue
		}
		result.Ports = append(result.Ports, models.PortFinding{
			Port:     p.PortID,
			Protocol: p.Protocol,
			State:    p.State.State,
			Service:  p.Service.Name,
			Product:  p.Service.Product,
			Version:  p.Service.Version,
		})
	}
	sort.Slice(result.Ports, func(i, j int) bool { return result.Ports[i].Port < result.Ports[j].Port })

	for _, m := range host.OS.Matches {
		result.OSMatches = append(result.OSMatches, models.OSMatch{Name: m.Name, Confidence: m.Accuracy})
	}
	if len(result.OSMatches) > 0 {
		best := result.OSMatches[0]
		for _, m := range result.OSMatches[1:] {
			if m.Confidence > best.Confidence {
				best = m
			}
		}
		result.OSName = best.Name
		result.OSConfidence = best.Confidence
	}
	return result, nil
}
