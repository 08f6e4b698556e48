package scheduler

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

func TestParseSpec(t *testing.T) {
	tests := []struct {
		spec      string
		interval  time.Duration
		recurring bool
		wantErr   bool
	}{
		{spec: "every 5 minutes", interval: 5 * time.Minute, recurring: true},
		{spec: "every minute", interval: time.Minute, recurring: true},
		{spec: "Every 10 Seconds", interval: 10 * time.Second, recurring: true},
		{spec: "every 1.5 hours", interval: 90 * time.Minute, recurring: true},
		{spec: "30 seconds", interval: 30 * time.Second},
		{spec: "an hour", interval: time.Hour},
		{spec: "2days", interval: 48 * time.Hour},
		{spec: "90s", interval: 90 * time.Second},
		{spec: "every 1h30m", interval: 90 * time.Minute, recurring: true},
		{spec: "every", wantErr: true},
		{spec: "every 5 fortnights", wantErr: true},
		{spec: "", wantErr: true},
		{spec: "0 seconds", wantErr: true},
		{spec: "-5m", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseSpec(tt.spec)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSpec) {
					t.Fatalf("ParseSpec(%q) error = %v, want ErrInvalidSpec", tt.spec, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseSpec(%q) error = %v", tt.spec, err)
			}
			if got.Interval != tt.interval || got.Recurring != tt.recurring {
				t.Errorf("ParseSpec(%q) = %+v, want {%v %v}", tt.spec, got, tt.interval, tt.recurring)
			}
		})
	}
}

func TestScheduler_RecurringJob(t *testing.T) {
	clock := NewFakeClock(epoch)
	s := New(clock, nil)

	var runs atomic.Int32
	job, err := s.AddJob("every 5 minutes", "tick", func() { runs.Add(1) })
	if err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}

	clock.Advance(4 * time.Minute)
	if runs.Load() != 0 {
		t.Fatalf("runs = %d before first interval", runs.Load())
	}
	clock.Advance(time.Minute)
	if runs.Load() != 1 {
		t.Fatalf("runs = %d after 5m, want 1", runs.Load())
	}
	clock.Advance(15 * time.Minute)
	if runs.Load() != 4 {
		t.Fatalf("runs = %d after 20m, want 4", runs.Load())
	}

	if !job.Cancel() {
		t.Error("Cancel() = false for active job")
	}
	if job.Cancel() {
		t.Error("second Cancel() = true")
	}
	clock.Advance(time.Hour)
	if runs.Load() != 4 {
		t.Errorf("runs = %d after cancel, want 4", runs.Load())
	}
	if clock.Pending() != 0 {
		t.Errorf("Pending() = %d after cancel, want 0", clock.Pending())
	}
}

func TestScheduler_OneShot(t *testing.T) {
	clock := NewFakeClock(epoch)
	s := New(clock, nil)

	var runs atomic.Int32
	if _, err := s.AddJob("30 seconds", "once", func() { runs.Add(1) }); err != nil {
		t.Fatalf("AddJob() error = %v", err)
	}
	if s.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", s.Len())
	}

	clock.Advance(time.Hour)
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d after one-shot fired, want 0", s.Len())
	}
}

func TestScheduler_PanicDoesNotStopJob(t *testing.T) {
	clock := NewFakeClock(epoch)
	s := New(clock, nil)

	var runs atomic.Int32
	if _, err := s.Every("boom", time.Second, func() {
		runs.Add(1)
		panic("boom")
	}); err != nil {
		t.Fatalf("Every() error = %v", err)
	}

	clock.Advance(3 * time.Second)
	if runs.Load() != 3 {
		t.Errorf("runs = %d, want 3", runs.Load())
	}
}

func TestScheduler_Stop(t *testing.T) {
	clock := NewFakeClock(epoch)
	s := New(clock, nil)

	var runs atomic.Int32
	for i := 0; i < 3; i++ {
		if _, err := s.Every("job", time.Minute, func() { runs.Add(1) }); err != nil {
			t.Fatalf("Every() error = %v", err)
		}
	}
	s.Stop()

	clock.Advance(time.Hour)
	if runs.Load() != 0 {
		t.Errorf("runs = %d after Stop, want 0", runs.Load())
	}
	if _, err := s.After("late", time.Second, func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("After() after Stop error = %v, want ErrStopped", err)
	}
	if _, err := s.Every("bad", 0, func() {}); !errors.Is(err, ErrInvalidSpec) {
		t.Errorf("Every(0) error = %v, want ErrInvalidSpec", err)
	}
}

func TestFakeClock_OrderAndNested(t *testing.T) {
	clock := NewFakeClock(epoch)

	var order []string
	clock.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	clock.AfterFunc(time.Second, func() {
		order = append(order, "a")
		clock.AfterFunc(500*time.Millisecond, func() { order = append(order, "a2") })
	})
	clock.AfterFunc(2*time.Second, func() { order = append(order, "c") })

	if d, ok := clock.NextDelay(); !ok || d != time.Second {
		t.Fatalf("NextDelay() = %v, %v; want 1s", d, ok)
	}

	clock.Advance(2 * time.Second)

	want := []string{"a", "a2", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if got := clock.Now(); !got.Equal(epoch.Add(2 * time.Second)) {
		t.Errorf("Now() = %v", got)
	}
}

func TestFakeClock_BlockUntil(t *testing.T) {
	clock := NewFakeClock(epoch)

	go clock.AfterFunc(time.Second, func() {})
	clock.BlockUntil(1)

	if clock.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", clock.Pending())
	}
}
