package room

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// slidingWindow counts events per sender per event name inside a sliding
// window. Positional commands surface a breach to the sender; best-effort
// events are dropped silently by the caller.
type slidingWindow struct {
	mu           sync.Mutex
	clock        clockwork.Clock
	window       time.Duration
	limits       map[string]int
	defaultLimit int
	seen         map[string][]time.Time
}

func newSlidingWindow(clock clockwork.Clock, window time.Duration, limits map[string]int, defaultLimit int) *slidingWindow {
	return &slidingWindow{
		clock:        clock,
		window:       window,
		limits:       limits,
		defaultLimit: defaultLimit,
		seen:         make(map[string][]time.Time),
	}
}

func (w *slidingWindow) allow(senderID, eventName string) bool {
	limit, ok := w.limits[eventName]
	if !ok {
		limit = w.defaultLimit
	}
	if limit <= 0 {
		return true
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.clock.Now()
	cutoff := now.Add(-w.window)

	key := senderID + ":" + eventName
	w.seen[key] = pruneOld(w.seen[key], cutoff)
	if len(w.seen[key]) >= limit {
		return false
	}

	w.seen[key] = append(w.seen[key], now)

	return true
}

// forget drops all windows for a sender; called when its connection goes away.
func (w *slidingWindow) forget(senderID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := senderID + ":"
	for key := range w.seen {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			delete(w.seen, key)
		}
	}
}

func pruneOld(ts []time.Time, cutoff time.Time) []time.Time {
	idx := 0
	for idx < len(ts) && !ts[idx].After(cutoff) {
		idx++
	}

	return ts[idx:]
}
