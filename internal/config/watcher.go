package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/parapetdev/parapet/internal/models"
	"github.com/parapetdev/parapet/internal/notify"
)

// Snapshot is the immutable view of operator configuration the collector
// runs against. Reloads build a fresh snapshot and swap it atomically;
// consumers must never mutate one.
type Snapshot struct {
	Devices            []models.Device
	Metadata           []*models.DeviceMetadata
	Channels           []notify.Channel
	AlertConfigs       []models.AlertConfig
	MaintenanceWindows []models.MaintenanceWindow
	ScheduledScans     []models.ScheduledScan
	Settings           SystemSettings
}

// LoadSnapshot reads every operator-owned section into one snapshot.
// Individual missing files are empty sections, not errors.
func (p *Persistence) LoadSnapshot() (*Snapshot, error) {
	snap := &Snapshot{}
	var err error

	if snap.Devices, err = p.LoadDevices(); err != nil {
		return nil, err
	}
	if snap.Metadata, err = p.LoadMetadata(); err != nil {
		return nil, err
	}
	if snap.Channels, err = p.LoadChannels(); err != nil {
		return nil, err
	}
	if snap.AlertConfigs, err = p.LoadAlertConfigs(); err != nil {
		return nil, err
	}
	if snap.MaintenanceWindows, err = p.LoadMaintenanceWindows(); err != nil {
		return nil, err
	}
	if snap.ScheduledScans, err = p.LoadScheduledScans(); err != nil {
		return nil, err
	}
	if settings, err := p.LoadSystemSettings(); err == nil && settings != nil {
		snap.Settings = *settings
	}
	return snap, nil
}

// watchedFiles are the config-dir basenames whose changes trigger a reload.
var watchedFiles = map[string]bool{
	"devices.enc":      true,
	"metadata.json":    true,
	"alerts.json":      true,
	"channels.enc":     true,
	"maintenance.json": true,
	"scans.json":       true,
	"system.json":      true,
}

// Watcher reloads the configuration snapshot when files in the config
// directory change and fans the new snapshot out to subscribers. Writes are
// debounced so one save (temp file, rename, chmod) produces one reload.
type Watcher struct {
	persistence *Persistence
	fsw         *fsnotify.Watcher

	mu      sync.RWMutex
	current *Snapshot
	subs    []chan *Snapshot

	debounce time.Duration
	done     chan struct{}
	closed   sync.Once
}

// NewWatcher starts watching the persistence config directory. The initial
// snapshot is loaded eagerly so Current never returns nil.
func NewWatcher(p *Persistence) (*Watcher, error) {
	snap, err := p.LoadSnapshot()
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := p.EnsureConfigDir(); err != nil {
		fsw.Close()
		return nil, err
	}
	if err := fsw.Add(p.DataDir()); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		persistence: p,
		fsw:         fsw,
		current:     snap,
		debounce:    500 * time.Millisecond,
		done:        make(chan struct{}),
	}
	go w.loop()

	log.Info().Str("dir", p.DataDir()).Msg("Watching configuration directory")
	return w, nil
}

// Current returns the most recently loaded snapshot.
func (w *Watcher) Current() *Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Subscribe returns a channel that receives each new snapshot. Slow
// subscribers miss intermediate snapshots rather than blocking the watcher.
func (w *Watcher) Subscribe() <-chan *Snapshot {
	ch := make(chan *Snapshot, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

// Close stops the watcher. Subscriber channels are not closed; consumers
// select on their own shutdown signal.
func (w *Watcher) Close() {
	w.closed.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !watchedFiles[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) reload() {
	snap, err := w.persistence.LoadSnapshot()
	if err != nil {
		log.Error().Err(err).Msg("Failed to reload configuration, keeping previous snapshot")
		return
	}

	w.mu.Lock()
	w.current = snap
	subs := append([]chan *Snapshot(nil), w.subs...)
	w.mu.Unlock()

	log.Info().
		Int("devices", len(snap.Devices)).
		Int("alertConfigs", len(snap.AlertConfigs)).
		Int("scanSchedules", len(snap.ScheduledScans)).
		Msg("Configuration reloaded")

	for _, ch := range subs {
		select {
		case ch <- snap:
		default:
			// Drop the stale snapshot so the fresh one can go in.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}
