package session

import "sync"

// History is a bounded, chronologically ordered buffer of turns.
// When an append pushes it past its limit the oldest turns are evicted.
// It is safe for concurrent use; Snapshot always returns a copy.
type History struct {
	limit int
	turns []Turn
	mu    sync.RWMutex
}

// NewHistory creates a history holding at most limit turns.
// A limit below one is treated as one.
func NewHistory(limit int) *History {
	if limit < 1 {
		limit = 1
	}
	return &History{
		limit: limit,
		turns: make([]Turn, 0, limit),
	}
}

// Limit returns the maximum number of turns kept
func (h *History) Limit() int {
	return h.limit
}

// Append adds a turn to the end, evicting from the front when over the limit.
// It returns the number of evicted turns.
func (h *History) Append(turn Turn) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.turns = append(h.turns, turn)
	evicted := len(h.turns) - h.limit
	if evicted <= 0 {
		return 0
	}

	// Shift in place so the backing array does not grow without bound.
	n := copy(h.turns, h.turns[evicted:])
	clear(h.turns[n:])
	h.turns = h.turns[:n]
	return evicted
}

// Load replaces the contents with the most recent turns of the given slice
func (h *History) Load(turns []Turn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(turns) > h.limit {
		turns = turns[len(turns)-h.limit:]
	}
	h.turns = append(h.turns[:0], turns...)
}

// Clear empties the history
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.turns)
	h.turns = h.turns[:0]
}

// Snapshot returns a copy of the turns in chronological order
func (h *History) Snapshot() []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	copied := make([]Turn, len(h.turns))
	copy(copied, h.turns)
	return copied
}

// Len returns the current number of turns
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}
