package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parapetdev/parapet/internal/models"
)

func TestIntervalJobRuns(t *testing.T) {
	s := New(time.UTC)

	var runs atomic.Int64
	err := s.Register("test.interval", Every(20*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Options{SingleInstance: true})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(150 * time.Millisecond)
	s.Stop(true, time.Second)

	if got := runs.Load(); got < 3 {
		t.Errorf("expected at least 3 runs, got %d", got)
	}
	if s.State() != models.SchedulerStopped {
		t.Errorf("state = %s", s.State())
	}
}

func TestHandlerErrorDoesNotStopScheduler(t *testing.T) {
	s := New(time.UTC)

	var runs atomic.Int64
	if err := s.Register("test.failing", Every(15*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}, Options{SingleInstance: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop(true, time.Second)

	if got := runs.Load(); got < 3 {
		t.Errorf("failing handler should keep running, got %d runs", got)
	}
	stats := s.Stats()
	if stats.TotalErrors < 3 {
		t.Errorf("TotalErrors = %d", stats.TotalErrors)
	}
}

func TestHandlerPanicIsContained(t *testing.T) {
	s := New(time.UTC)

	var runs atomic.Int64
	if err := s.Register("test.panicking", Every(15*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		panic("handler exploded")
	}, Options{SingleInstance: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop(true, time.Second)

	if got := runs.Load(); got < 2 {
		t.Errorf("panicking handler should keep being scheduled, got %d runs", got)
	}

	stats := s.Stats()
	var found bool
	for _, j := range stats.Jobs {
		if j.ID == "test.panicking" {
			found = true
			if j.Errors < 2 {
				t.Errorf("job errors = %d", j.Errors)
			}
			if j.LastError == "" {
				t.Error("expected last error to be recorded")
			}
		}
	}
	if !found {
		t.Error("job missing from stats")
	}
}

func TestSingleInstanceSkipsOverlap(t *testing.T) {
	s := New(time.UTC)

	var concurrent atomic.Int64
	var maxSeen atomic.Int64
	if err := s.Register("test.slow", Every(10*time.Millisecond), func(ctx context.Context) error {
		cur := concurrent.Add(1)
		if cur > maxSeen.Load() {
			maxSeen.Store(cur)
		}
		time.Sleep(50 * time.Millisecond)
		concurrent.Add(-1)
		return nil
	}, Options{SingleInstance: true, Coalesce: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	s.Stop(true, time.Second)

	if maxSeen.Load() > 1 {
		t.Errorf("single-instance job overlapped: max concurrency %d", maxSeen.Load())
	}
}

func TestRegisterWhileRunningAndUnregister(t *testing.T) {
	s := New(time.UTC)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	defer s.Stop(true, time.Second)

	var runs atomic.Int64
	if err := s.Register("test.late", Every(15*time.Millisecond), func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, Options{}); err != nil {
		t.Fatalf("Register while running: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	s.Unregister("test.late")
	after := runs.Load()
	if after == 0 {
		t.Fatal("late-registered job never ran")
	}

	time.Sleep(60 * time.Millisecond)
	if runs.Load() != after {
		t.Error("job kept running after Unregister")
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	s := New(time.UTC)
	handler := func(ctx context.Context) error { return nil }
	if err := s.Register("dup", Every(time.Second), handler, Options{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Register("dup", Every(time.Second), handler, Options{}); err == nil {
		t.Error("duplicate id should be rejected")
	}
}

func TestStatsSnapshot(t *testing.T) {
	s := New(time.UTC)
	if err := s.Register("test.stats", Every(10*time.Millisecond), func(ctx context.Context) error {
		return nil
	}, Options{SingleInstance: true}); err != nil {
		t.Fatal(err)
	}

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)

	stats := s.Stats()
	if stats.State != models.SchedulerRunning {
		t.Errorf("state = %s", stats.State)
	}
	if stats.TotalExecutions < 2 {
		t.Errorf("TotalExecutions = %d", stats.TotalExecutions)
	}
	if stats.Goroutines < 1 {
		t.Errorf("Goroutines = %d", stats.Goroutines)
	}
	if len(stats.Jobs) != 1 || stats.Jobs[0].ID != "test.stats" {
		t.Errorf("Jobs = %+v", stats.Jobs)
	}
	if stats.Jobs[0].NextRun == nil {
		t.Error("NextRun should be set for a running job")
	}
	if len(stats.Recent) == 0 {
		t.Error("Recent history should have entries")
	}

	s.Stop(true, time.Second)
}

func TestTriggerParsing(t *testing.T) {
	loc := time.UTC
	base := time.Date(2025, 6, 2, 10, 30, 0, 0, loc) // a Monday

	t.Run("interval", func(t *testing.T) {
		trig, err := ParseTrigger("interval:300")
		if err != nil {
			t.Fatal(err)
		}
		if got := trig.Next(base); !got.Equal(base.Add(5 * time.Minute)) {
			t.Errorf("Next = %v", got)
		}
	})

	t.Run("daily before time", func(t *testing.T) {
		trig, err := ParseTrigger("daily:14:45")
		if err != nil {
			t.Fatal(err)
		}
		want := time.Date(2025, 6, 2, 14, 45, 0, 0, loc)
		if got := trig.Next(base); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
	})

	t.Run("daily after time wraps to tomorrow", func(t *testing.T) {
		trig, _ := ParseTrigger("daily:09:00")
		want := time.Date(2025, 6, 3, 9, 0, 0, 0, loc)
		if got := trig.Next(base); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
	})

	t.Run("weekly", func(t *testing.T) {
		trig, err := ParseTrigger("weekly:fri:02:00")
		if err != nil {
			t.Fatal(err)
		}
		want := time.Date(2025, 6, 6, 2, 0, 0, 0, loc)
		if got := trig.Next(base); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
	})

	t.Run("weekly same day earlier time wraps a week", func(t *testing.T) {
		trig, _ := ParseTrigger("weekly:mon:09:00")
		want := time.Date(2025, 6, 9, 9, 0, 0, 0, loc)
		if got := trig.Next(base); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
	})

	t.Run("cron", func(t *testing.T) {
		trig, err := ParseTrigger("cron:*/15 * * * *")
		if err != nil {
			t.Fatal(err)
		}
		want := time.Date(2025, 6, 2, 10, 45, 0, 0, loc)
		if got := trig.Next(base); !got.Equal(want) {
			t.Errorf("Next = %v, want %v", got, want)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		for _, spec := range []string{"interval:0", "interval:abc", "daily:25:00", "weekly:someday:02:00", "cron:not a cron", "bogus:1"} {
			if _, err := ParseTrigger(spec); err == nil {
				t.Errorf("ParseTrigger(%q) should fail", spec)
			}
		}
	})
}
