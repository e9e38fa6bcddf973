package alerting

import (
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

// InMaintenance reports whether any enabled window suppresses the device at
// the given time. A window with an empty DeviceID applies to every device.
func InMaintenance(windows []models.MaintenanceWindow, deviceID string, now time.Time) bool {
	for _, w := range windows {
		if !w.Enabled {
			continue
		}
		if w.DeviceID != "" && w.DeviceID != deviceID {
			continue
		}
		if windowMatches(w, now) {
			return true
		}
	}
	return false
}

func windowMatches(w models.MaintenanceWindow, now time.Time) bool {
	switch w.Recurrence {
	case models.RecurrenceOnce:
		return !now.Before(w.Start) && now.Before(w.End)
	case models.RecurrenceDaily:
		return clockInWindow(w, now)
	case models.RecurrenceWeekly:
		// A weekly window matches only the weekday of its start time.
		return now.Weekday() == w.Start.Weekday() && clockInWindow(w, now)
	}
	return false
}

// clockInWindow compares time-of-day in the window's own location. A window
// whose end clock precedes its start clock spans midnight.
func clockInWindow(w models.MaintenanceWindow, now time.Time) bool {
	loc := w.Start.Location()
	local := now.In(loc)

	nowMin := local.Hour()*60 + local.Minute()
	startMin := w.Start.Hour()*60 + w.Start.Minute()
	endMin := w.End.Hour()*60 + w.End.Minute()

	if startMin <= endMin {
		return nowMin >= startMin && nowMin < endMin
	}
	return nowMin >= startMin || nowMin < endMin
}
