package inbound

import (
	"context"
	"sync"
	"time"
)

// MemoryDeduper is a single-process set of recently seen ids, cleared wholesale
// every window. A restart forgets everything.
type MemoryDeduper struct {
	mu      sync.Mutex
	seen    map[string]struct{}
	window  time.Duration
	resetAt time.Time
	now     func() time.Time
}

var _ Deduper = (*MemoryDeduper)(nil)

func NewMemoryDeduper(window time.Duration) *MemoryDeduper {
	return newMemoryDeduper(window, time.Now)
}

func newMemoryDeduper(window time.Duration, now func() time.Time) *MemoryDeduper {
	if window <= 0 {
		window = time.Hour
	}
	return &MemoryDeduper{
		seen:    map[string]struct{}{},
		window:  window,
		resetAt: now().Add(window),
		now:     now,
	}
}

func (d *MemoryDeduper) FirstSeen(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if now := d.now(); !now.Before(d.resetAt) {
		d.seen = map[string]struct{}{}
		d.resetAt = now.Add(d.window)
	}
	if _, ok := d.seen[id]; ok {
		return false, nil
	}
	d.seen[id] = struct{}{}
	return true, nil
}
