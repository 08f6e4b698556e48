package scheduler

import (
	"sync"
	"time"
)

// Debouncer coalesces repeated work per key: scheduling a key that already
// has a pending action replaces it and restarts the delay.
type Debouncer struct {
	clock  Clock
	logger Logger

	mu      sync.Mutex
	pending map[string]*debounced
	gen     uint64
	stopped bool
}

type debounced struct {
	gen   uint64
	timer Timer
}

// NewDebouncer creates a Debouncer. A nil clock means RealClock.
func NewDebouncer(clock Clock, logger Logger) *Debouncer {
	if clock == nil {
		clock = RealClock{}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &Debouncer{
		clock:   clock,
		logger:  logger,
		pending: make(map[string]*debounced),
	}
}

// Schedule runs action after delay unless key is scheduled again first.
// After Stop it does nothing.
func (d *Debouncer) Schedule(key string, delay time.Duration, action func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if prev := d.pending[key]; prev != nil {
		prev.timer.Stop()
	}

	d.gen++
	entry := &debounced{gen: d.gen}
	gen := d.gen
	entry.timer = d.clock.AfterFunc(delay, func() { d.fire(key, gen, action) })
	d.pending[key] = entry
}

func (d *Debouncer) fire(key string, gen uint64, action func()) {
	d.mu.Lock()
	entry := d.pending[key]
	if entry == nil || entry.gen != gen {
		// Replaced or cancelled after the timer had already started firing.
		d.mu.Unlock()
		return
	}
	delete(d.pending, key)
	d.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("debounced action panicked", "key", key, "panic", r)
		}
	}()
	action()
}

// Cancel drops the pending action for key. Reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry := d.pending[key]
	if entry == nil {
		return false
	}
	entry.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending reports whether key has an action waiting.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pending[key]
	return ok
}

// Stop cancels every pending action and ignores later Schedule calls.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	for key, entry := range d.pending {
		entry.timer.Stop()
		delete(d.pending, key)
	}
}
