// Package registry gives the collector the authoritative set of firewalls
// and per-endpoint metadata. Device identifiers are deterministic so that a
// device keeps its historical data across config rewrites and restores.
package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/config"
	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/netutil"
)

// deviceNamespace is the fixed UUIDv5 namespace for device ids. Changing it
// would orphan every row in the time-series store.
var deviceNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// DeviceID derives the stable identifier for a firewall from its management
// address and display name. The same inputs always produce the same UUID.
func DeviceID(address, name string) string {
	seed := strings.ToLower(strings.TrimSpace(address))
	if name != "" {
		seed += "|" + name
	}
	return uuid.NewSHA1(deviceNamespace, []byte(seed)).String()
}

// Registry is the in-memory view of devices and endpoint metadata, kept in
// sync with the persisted configuration. Writes go through the persistence
// layer; the watcher feeds updated snapshots back in via Apply.
type Registry struct {
	mu          sync.RWMutex
	devices     map[string]*models.Device         // by id
	metadata    map[string]*models.DeviceMetadata // by canonical MAC
	persistence *config.Persistence
}

// New builds a registry over the persistence layer, seeded from the given
// snapshot.
func New(p *config.Persistence, snap *config.Snapshot) *Registry {
	r := &Registry{
		devices:     make(map[string]*models.Device),
		metadata:    make(map[string]*models.DeviceMetadata),
		persistence: p,
	}
	if snap != nil {
		r.Apply(snap)
	}
	return r
}

// Apply replaces the registry contents from a configuration snapshot.
func (r *Registry) Apply(snap *config.Snapshot) {
	devices := make(map[string]*models.Device, len(snap.Devices))
	for i := range snap.Devices {
		d := snap.Devices[i]
		if d.ID == "" {
			d.ID = DeviceID(d.Address, d.Name)
		}
		devices[d.ID] = &d
	}

	metadata := make(map[string]*models.DeviceMetadata, len(snap.Metadata))
	for _, m := range snap.Metadata {
		if m == nil {
			continue
		}
		mac := netutil.CanonicalMAC(m.MAC)
		if mac == "" {
			continue
		}
		clone := m.Clone()
		clone.MAC = mac
		metadata[metaKey(clone.DeviceID, mac)] = clone
	}

	r.mu.Lock()
	r.devices = devices
	r.metadata = metadata
	r.mu.Unlock()
}

func metaKey(deviceID, mac string) string {
	return deviceID + "/" + mac
}

// Devices returns all devices sorted by name.
func (r *Registry) Devices() []models.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EnabledDevices returns the devices the scheduler should poll.
func (r *Registry) EnabledDevices() []models.Device {
	all := r.Devices()
	out := all[:0]
	for _, d := range all {
		if d.Enabled {
			out = append(out, d)
		}
	}
	return out
}

// Device returns one device by id.
func (r *Registry) Device(id string) (models.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return models.Device{}, false
	}
	return *d, true
}

// UpsertDevice creates or updates a device and persists the full list. The
// id is always (re)derived from address and name.
func (r *Registry) UpsertDevice(d models.Device) (models.Device, error) {
	if d.Address == "" {
		return models.Device{}, fmt.Errorf("device address is required")
	}
	d.ID = DeviceID(d.Address, d.Name)
	now := time.Now()
	d.UpdatedAt = now

	r.mu.Lock()
	if existing, ok := r.devices[d.ID]; ok {
		d.CreatedAt = existing.CreatedAt
	} else {
		d.CreatedAt = now
	}
	r.devices[d.ID] = &d
	devices := r.deviceListLocked()
	r.mu.Unlock()

	if err := r.persistence.SaveDevices(devices); err != nil {
		return models.Device{}, fmt.Errorf("failed to persist devices: %w", err)
	}
	log.Info().Str("device", d.ID).Str("name", d.Name).Msg("Device saved")
	return d, nil
}

// DeleteDevice removes a device from the registry. Historical time-series
// rows are retained; retention policies age them out.
func (r *Registry) DeleteDevice(id string) error {
	r.mu.Lock()
	if _, ok := r.devices[id]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("device %s: not found", id)
	}
	delete(r.devices, id)
	devices := r.deviceListLocked()
	r.mu.Unlock()

	return r.persistence.SaveDevices(devices)
}

// caller must hold r.mu.
func (r *Registry) deviceListLocked() []models.Device {
	out := make([]models.Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Metadata returns the metadata for one endpoint MAC on one firewall.
func (r *Registry) Metadata(deviceID, mac string) (*models.DeviceMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metadata[metaKey(deviceID, netutil.CanonicalMAC(mac))]
	if !ok {
		return nil, false
	}
	return m.Clone(), true
}

// AllMetadata returns every metadata record.
func (r *Registry) AllMetadata() []*models.DeviceMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.DeviceMetadata, 0, len(r.metadata))
	for _, m := range r.metadata {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MAC < out[j].MAC })
	return out
}

// UpsertMetadata creates or updates one endpoint's metadata. The MAC is
// canonicalized before use.
func (r *Registry) UpsertMetadata(m models.DeviceMetadata) error {
	mac := netutil.CanonicalMAC(m.MAC)
	if mac == "" {
		return fmt.Errorf("invalid MAC address %q", m.MAC)
	}
	m.MAC = mac
	m.UpdatedAt = time.Now()

	r.mu.Lock()
	r.metadata[metaKey(m.DeviceID, mac)] = m.Clone()
	all := make([]*models.DeviceMetadata, 0, len(r.metadata))
	for _, v := range r.metadata {
		all = append(all, v)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].MAC < all[j].MAC })
	return r.persistence.SaveMetadata(all)
}

// DeleteMetadata removes one endpoint's metadata record.
func (r *Registry) DeleteMetadata(deviceID, mac string) error {
	key := metaKey(deviceID, netutil.CanonicalMAC(mac))

	r.mu.Lock()
	if _, ok := r.metadata[key]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("metadata %s: not found", key)
	}
	delete(r.metadata, key)
	all := make([]*models.DeviceMetadata, 0, len(r.metadata))
	for _, v := range r.metadata {
		all = append(all, v)
	}
	r.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].MAC < all[j].MAC })
	return r.persistence.SaveMetadata(all)
}

// MACsByTag returns the canonical MACs on one firewall whose metadata tags
// match the pattern. Wildcards ("iot-*") are honored.
func (r *Registry) MACsByTag(deviceID, pattern string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool)
	for _, m := range r.metadata {
		if m.DeviceID != deviceID {
			continue
		}
		for _, tag := range m.Tags {
			if matchSelector(pattern, tag) {
				out[m.MAC] = true
				break
			}
		}
	}
	return out
}

// MACsByLocation returns the canonical MACs on one firewall whose metadata
// location matches the pattern.
func (r *Registry) MACsByLocation(deviceID, pattern string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]bool)
	for _, m := range r.metadata {
		if m.DeviceID == deviceID && matchSelector(pattern, m.Location) {
			out[m.MAC] = true
		}
	}
	return out
}

// Tags returns the distinct tags in use on one firewall.
func (r *Registry) Tags(deviceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, m := range r.metadata {
		if m.DeviceID != deviceID {
			continue
		}
		for _, tag := range m.Tags {
			seen[strings.ToLower(tag)] = true
		}
	}
	out := make([]string, 0, len(seen))
	for tag := range seen {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

// Locations returns the distinct locations in use on one firewall.
func (r *Registry) Locations(deviceID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, m := range r.metadata {
		if m.DeviceID == deviceID && m.Location != "" {
			seen[m.Location] = true
		}
	}
	out := make([]string, 0, len(seen))
	for loc := range seen {
		out = append(out, loc)
	}
	sort.Strings(out)
	return out
}
