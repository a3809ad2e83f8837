package service

import (
	"sync"
	"time"
)

const (
	windowMaxEntries = 100000
	windowEntryTTL   = 10 * time.Minute
)

type windowEntry struct {
	timestamps []time.Time
	lastAccess time.Time
}

// WindowStore keeps in-process sliding rate-limit windows, keyed by an
// arbitrary subject identifier (user+command, user cooldown). Entries are
// ephemeral; the cleanup job sweeps expired ones.
type WindowStore struct {
	mu    sync.Mutex
	store map[string]*windowEntry
	now   func() time.Time
}

func NewWindowStore() *WindowStore {
	return &WindowStore{
		store: make(map[string]*windowEntry),
		now:   time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (ws *WindowStore) SetClock(now func() time.Time) {
	ws.now = now
}

// Allow records an event under key and reports whether the window still
// has room for it. At most limit events are admitted per window.
func (ws *WindowStore) Allow(key string, limit int, window time.Duration) bool {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	now := ws.now()
	windowStart := now.Add(-window)

	entry, exists := ws.store[key]
	if !exists {
		if len(ws.store) >= windowMaxEntries {
			ws.sweepLocked(now)
		}
		entry = &windowEntry{}
		ws.store[key] = entry
	}
	entry.lastAccess = now

	filtered := entry.timestamps[:0]
	for _, ts := range entry.timestamps {
		if ts.After(windowStart) {
			filtered = append(filtered, ts)
		}
	}
	entry.timestamps = filtered

	if len(entry.timestamps) >= limit {
		return false
	}

	entry.timestamps = append(entry.timestamps, now)
	return true
}

// Sweep drops entries idle past their TTL and returns how many were removed.
func (ws *WindowStore) Sweep() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.sweepLocked(ws.now())
}

func (ws *WindowStore) sweepLocked(now time.Time) int {
	removed := 0
	for key, entry := range ws.store {
		if now.Sub(entry.lastAccess) > windowEntryTTL {
			delete(ws.store, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked windows.
func (ws *WindowStore) Len() int {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return len(ws.store)
}
