// Package poller implements the per-device collection pipeline: rate
// derivation from interface counters, the throughput tick with its
// concurrent sub-fetches, connected-device assembly, application and log
// collection, and the latest-snapshot cache the read adapter serves from.
package poller

import (
	"sync"
	"time"

	"github.com/parapetdev/parapet/internal/firewall"
)

// reseedGap is the window after which a stale previous tick is discarded and
// the next sample re-seeds with zero rates.
const reseedGap = time.Hour

// Rates is one tick's derived throughput figures.
type Rates struct {
	InboundMbps  float64
	OutboundMbps float64
	TotalMbps    float64
	InboundPPS   float64
	OutboundPPS  float64
	TotalPPS     float64
}

type counterSeed struct {
	at         time.Time
	bytesIn    int64
	bytesOut   int64
	packetsIn  int64
	packetsOut int64
}

// RateTracker derives per-second rates from monotonic interface counters.
// Each device's window is written only by that device's own collection job;
// the mutex guards the map itself.
type RateTracker struct {
	mu   sync.Mutex
	prev map[string]counterSeed
}

// NewRateTracker returns an empty tracker.
func NewRateTracker() *RateTracker {
	return &RateTracker{prev: make(map[string]counterSeed)}
}

// Rates computes the rates for one tick and advances the device's window.
// The first tick, a tick after a gap longer than an hour, and a tick whose
// elapsed time is non-positive all produce zero rates. A counter that went
// backwards (device reset) contributes zero for that direction.
func (t *RateTracker) Rates(deviceID string, now time.Time, c *firewall.InterfaceCounters) Rates {
	t.mu.Lock()
	prev, seeded := t.prev[deviceID]
	t.prev[deviceID] = counterSeed{
		at:         now,
		bytesIn:    c.BytesIn,
		bytesOut:   c.BytesOut,
		packetsIn:  c.PacketsIn,
		packetsOut: c.PacketsOut,
	}
	t.mu.Unlock()

	if !seeded || now.Sub(prev.at) > reseedGap {
		return Rates{}
	}
	elapsed := now.Sub(prev.at).Seconds()
	if elapsed <= 0 {
		return Rates{}
	}

	r := Rates{
		InboundMbps:  bytesToMbps(c.BytesIn-prev.bytesIn, elapsed),
		OutboundMbps: bytesToMbps(c.BytesOut-prev.bytesOut, elapsed),
		InboundPPS:   perSecond(c.PacketsIn-prev.packetsIn, elapsed),
		OutboundPPS:  perSecond(c.PacketsOut-prev.packetsOut, elapsed),
	}
	r.TotalMbps = r.InboundMbps + r.OutboundMbps
	r.TotalPPS = r.InboundPPS + r.OutboundPPS
	return r
}

// Forget drops a device's window, forcing its next sample to zero-rate.
func (t *RateTracker) Forget(deviceID string) {
	t.mu.Lock()
	delete(t.prev, deviceID)
	t.mu.Unlock()
}

func bytesToMbps(delta int64, elapsed float64) float64 {
	if delta < 0 {
		return 0
	}
	return float64(delta) / elapsed * 8 / 1_000_000
}

func perSecond(delta int64, elapsed float64) float64 {
	if delta < 0 {
		return 0
	}
	return float64(delta) / elapsed
}
