package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Trigger yields the next firing time after a reference instant. The
// scheduler passes the reference in its configured timezone, so wall-clock
// triggers (daily, weekly, cron) fire in that zone.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

// intervalTrigger fires on a fixed period.
type intervalTrigger struct {
	period time.Duration
}

// Every returns a fixed-interval trigger.
func Every(period time.Duration) Trigger {
	if period <= 0 {
		period = time.Second
	}
	return intervalTrigger{period: period}
}

func (t intervalTrigger) Next(after time.Time) time.Time { return after.Add(t.period) }
func (t intervalTrigger) String() string                 { return "every " + t.period.String() }

// dailyTrigger fires once a day at a wall-clock time.
type dailyTrigger struct {
	hour, minute int
}

// DailyAt returns a trigger firing every day at hh:mm.
func DailyAt(hour, minute int) Trigger {
	return dailyTrigger{hour: hour, minute: minute}
}

func (t dailyTrigger) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), t.hour, t.minute, 0, 0, after.Location())
	if !next.After(after) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (t dailyTrigger) String() string {
	return fmt.Sprintf("daily at %02d:%02d", t.hour, t.minute)
}

// weeklyTrigger fires once a week at DOW + wall-clock time.
type weeklyTrigger struct {
	weekday      time.Weekday
	hour, minute int
}

// WeeklyAt returns a trigger firing every week on the given weekday at hh:mm.
func WeeklyAt(weekday time.Weekday, hour, minute int) Trigger {
	return weeklyTrigger{weekday: weekday, hour: hour, minute: minute}
}

func (t weeklyTrigger) Next(after time.Time) time.Time {
	next := time.Date(after.Year(), after.Month(), after.Day(), t.hour, t.minute, 0, 0, after.Location())
	days := (int(t.weekday) - int(next.Weekday()) + 7) % 7
	next = next.AddDate(0, 0, days)
	if !next.After(after) {
		next = next.AddDate(0, 0, 7)
	}
	return next
}

func (t weeklyTrigger) String() string {
	return fmt.Sprintf("weekly on %s at %02d:%02d", t.weekday, t.hour, t.minute)
}

// cronTrigger wraps a parsed cron schedule.
type cronTrigger struct {
	expr  string
	sched cron.Schedule
}

// Cron parses a standard 5-field cron expression into a trigger.
func Cron(expr string) (Trigger, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return cronTrigger{expr: expr, sched: sched}, nil
}

func (t cronTrigger) Next(after time.Time) time.Time { return t.sched.Next(after) }
func (t cronTrigger) String() string                 { return "cron " + t.expr }

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

// ParseTrigger converts the persisted trigger syntax used by scan schedules
// into a Trigger:
//
//	interval:<seconds>
//	daily:HH:MM
//	weekly:DOW:HH:MM   (DOW is mon..sun)
//	cron:<expression>
func ParseTrigger(spec string) (Trigger, error) {
	kind, rest, _ := strings.Cut(spec, ":")
	switch kind {
	case "interval":
		secs, err := strconv.Atoi(rest)
		if err != nil || secs < 1 {
			return nil, fmt.Errorf("invalid interval trigger %q", spec)
		}
		return Every(time.Duration(secs) * time.Second), nil

	case "daily":
		hour, minute, err := parseClock(rest)
		if err != nil {
			return nil, fmt.Errorf("invalid daily trigger %q: %w", spec, err)
		}
		return DailyAt(hour, minute), nil

	case "weekly":
		day, clock, ok := strings.Cut(rest, ":")
		if !ok {
			return nil, fmt.Errorf("invalid weekly trigger %q", spec)
		}
		weekday, found := weekdayNames[strings.ToLower(day)]
		if !found {
			return nil, fmt.Errorf("invalid weekday %q in trigger %q", day, spec)
		}
		hour, minute, err := parseClock(clock)
		if err != nil {
			return nil, fmt.Errorf("invalid weekly trigger %q: %w", spec, err)
		}
		return WeeklyAt(weekday, hour, minute), nil

	case "cron":
		return Cron(rest)

	default:
		return nil, fmt.Errorf("unknown trigger kind %q", kind)
	}
}

func parseClock(s string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", hh)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", mm)
	}
	return hour, minute, nil
}
