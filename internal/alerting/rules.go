package alerting

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parapetdev/parapet/internal/models"
)

// DefaultCooldown applies when a config does not set its own.
const DefaultCooldown = 900 * time.Second

// RuleSaver persists the rule sections when they change.
type RuleSaver interface {
	SaveAlertConfigs([]models.AlertConfig) error
	SaveMaintenanceWindows([]models.MaintenanceWindow) error
}

// Rules is the mutable rule state: alert configs and maintenance windows.
// CRUD goes through here so every mutation is validated and persisted; the
// engine reads consistent copies.
type Rules struct {
	saver RuleSaver

	mu      sync.RWMutex
	configs []models.AlertConfig
	windows []models.MaintenanceWindow
}

// NewRules creates rule state backed by the given saver.
func NewRules(saver RuleSaver) *Rules {
	return &Rules{saver: saver}
}

// Apply replaces the in-memory rule state from a fresh config snapshot.
func (r *Rules) Apply(configs []models.AlertConfig, windows []models.MaintenanceWindow) {
	r.mu.Lock()
	r.configs = append([]models.AlertConfig(nil), configs...)
	r.windows = append([]models.MaintenanceWindow(nil), windows...)
	r.mu.Unlock()
}

// Configs returns a copy of every alert config.
func (r *Rules) Configs() []models.AlertConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.AlertConfig(nil), r.configs...)
}

// ConfigsForDevice returns the enabled configs targeting one device.
func (r *Rules) ConfigsForDevice(deviceID string) []models.AlertConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []models.AlertConfig
	for _, c := range r.configs {
		if c.Enabled && c.DeviceID == deviceID {
			out = append(out, c)
		}
	}
	return out
}

// Config returns one config by id.
func (r *Rules) Config(id string) (models.AlertConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.configs {
		if c.ID == id {
			return c, true
		}
	}
	return models.AlertConfig{}, false
}

func validateConfig(c *models.AlertConfig) error {
	if c.DeviceID == "" {
		return fmt.Errorf("alert config requires a device id")
	}
	if strings.TrimSpace(c.MetricType) == "" {
		return fmt.Errorf("alert config requires a metric type")
	}
	if !models.ValidOperator(c.Operator) {
		return fmt.Errorf("invalid operator %q", c.Operator)
	}
	if !models.ValidSeverity(c.Severity) {
		return fmt.Errorf("invalid severity %q", c.Severity)
	}
	if c.CooldownSeconds < 0 {
		return fmt.Errorf("cooldown seconds must not be negative")
	}
	return nil
}

// CreateConfig validates and persists a new alert config.
func (r *Rules) CreateConfig(c models.AlertConfig) (models.AlertConfig, error) {
	if err := validateConfig(&c); err != nil {
		return models.AlertConfig{}, err
	}
	now := time.Now()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()
	next := append(append([]models.AlertConfig(nil), r.configs...), c)
	if err := r.saver.SaveAlertConfigs(next); err != nil {
		return models.AlertConfig{}, fmt.Errorf("failed to persist alert configs: %w", err)
	}
	r.configs = next
	return c, nil
}

// UpdateConfig applies a partial update. Unknown ids and invalid field
// values are rejected; nothing is persisted on failure.
func (r *Rules) UpdateConfig(id string, patch models.AlertConfigPatch) (models.AlertConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, c := range r.configs {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return models.AlertConfig{}, fmt.Errorf("alert config %s not found", id)
	}

	updated := *r.configs[idx].Clone()
	if patch.MetricType != nil {
		updated.MetricType = *patch.MetricType
	}
	if patch.Threshold != nil {
		updated.Threshold = *patch.Threshold
	}
	if patch.Operator != nil {
		updated.Operator = *patch.Operator
	}
	if patch.Severity != nil {
		updated.Severity = *patch.Severity
	}
	if patch.Enabled != nil {
		updated.Enabled = *patch.Enabled
	}
	if patch.ChannelIDs != nil {
		updated.ChannelIDs = append([]string(nil), (*patch.ChannelIDs)...)
	}
	if patch.CooldownSeconds != nil {
		updated.CooldownSeconds = *patch.CooldownSeconds
	}
	if err := validateConfig(&updated); err != nil {
		return models.AlertConfig{}, err
	}
	updated.UpdatedAt = time.Now()

	next := append([]models.AlertConfig(nil), r.configs...)
	next[idx] = updated
	if err := r.saver.SaveAlertConfigs(next); err != nil {
		return models.AlertConfig{}, fmt.Errorf("failed to persist alert configs: %w", err)
	}
	r.configs = next
	return updated, nil
}

// DeleteConfig removes one config.
func (r *Rules) DeleteConfig(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]models.AlertConfig, 0, len(r.configs))
	found := false
	for _, c := range r.configs {
		if c.ID == id {
			found = true
			continue
		}
		next = append(next, c)
	}
	if !found {
		return fmt.Errorf("alert config %s not found", id)
	}
	if err := r.saver.SaveAlertConfigs(next); err != nil {
		return fmt.Errorf("failed to persist alert configs: %w", err)
	}
	r.configs = next
	return nil
}

// Windows returns a copy of every maintenance window.
func (r *Rules) Windows() []models.MaintenanceWindow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]models.MaintenanceWindow(nil), r.windows...)
}

func validateWindow(w *models.MaintenanceWindow) error {
	if !models.ValidRecurrence(w.Recurrence) {
		return fmt.Errorf("invalid recurrence %q", w.Recurrence)
	}
	if w.Start.IsZero() || w.End.IsZero() {
		return fmt.Errorf("maintenance window requires start and end times")
	}
	if w.Recurrence == models.RecurrenceOnce && !w.End.After(w.Start) {
		return fmt.Errorf("maintenance window end must be after start")
	}
	return nil
}

// CreateWindow validates and persists a new maintenance window.
func (r *Rules) CreateWindow(w models.MaintenanceWindow) (models.MaintenanceWindow, error) {
	if err := validateWindow(&w); err != nil {
		return models.MaintenanceWindow{}, err
	}
	w.ID = uuid.NewString()
	w.CreatedAt = time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	next := append(append([]models.MaintenanceWindow(nil), r.windows...), w)
	if err := r.saver.SaveMaintenanceWindows(next); err != nil {
		return models.MaintenanceWindow{}, fmt.Errorf("failed to persist maintenance windows: %w", err)
	}
	r.windows = next
	return w, nil
}

// DeleteWindow removes one maintenance window.
func (r *Rules) DeleteWindow(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make([]models.MaintenanceWindow, 0, len(r.windows))
	found := false
	for _, w := range r.windows {
		if w.ID == id {
			found = true
			continue
		}
		next = append(next, w)
	}
	if !found {
		return fmt.Errorf("maintenance window %s not found", id)
	}
	if err := r.saver.SaveMaintenanceWindows(next); err != nil {
		return fmt.Errorf("failed to persist maintenance windows: %w", err)
	}
	r.windows = next
	return nil
}
