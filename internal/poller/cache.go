package poller

import (
	"sync"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// DefaultSnapshotMaxAge bounds how stale a cached snapshot may be before
// readers treat the device as having no current data.
const DefaultSnapshotMaxAge = 30 * time.Second

// SnapshotCache holds the latest complete sample per device. The collector
// is the single writer; the read adapter reads concurrently. Entries are
// stored and returned as deep copies so a reader never observes a sample
// the collector is still mutating.
type SnapshotCache struct {
	mu      sync.RWMutex
	samples map[string]*models.ThroughputSample
}

// NewSnapshotCache returns an empty cache.
func NewSnapshotCache() *SnapshotCache {
	return &SnapshotCache{samples: make(map[string]*models.ThroughputSample)}
}

// Set replaces a device's snapshot.
func (c *SnapshotCache) Set(sample *models.ThroughputSample) {
	if sample == nil {
		return
	}
	clone := sample.Clone()
	c.mu.Lock()
	c.samples[clone.DeviceID] = clone
	c.mu.Unlock()
}

// Get returns a copy of a device's snapshot if one exists no older than
// maxAge. A non-positive maxAge applies the default.
func (c *SnapshotCache) Get(deviceID string, maxAge time.Duration) *models.ThroughputSample {
	if maxAge <= 0 {
		maxAge = DefaultSnapshotMaxAge
	}
	c.mu.RLock()
	sample := c.samples[deviceID]
	c.mu.RUnlock()

	if sample == nil || time.Since(sample.Time) > maxAge {
		return nil
	}
	return sample.Clone()
}

// Drop removes a device's snapshot, used when a device is deleted.
func (c *SnapshotCache) Drop(deviceID string) {
	c.mu.Lock()
	delete(c.samples, deviceID)
	c.mu.Unlock()
}

// Devices lists the device ids with any cached snapshot, fresh or stale.
func (c *SnapshotCache) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.samples))
	for id := range c.samples {
		out = append(out, id)
	}
	return out
}
