// Package memory keeps the bounded conversation history that unprivileged
// sessions feed back into SQL generation.
package memory

import "time"

// DefaultWindowSize is the number of turns kept per session.
const DefaultWindowSize = 5

// Turn is one recorded exchange. It is never modified after Append.
type Turn struct {
	Question  string    `json:"question"`
	SQL       string    `json:"sql"`
	Timestamp time.Time `json:"timestamp"`
}

// Window is a fixed-capacity ring buffer of turns with FIFO eviction.
// It is not safe for concurrent use; Store serializes access per session.
type Window struct {
	turns []Turn
	head  int // index of the oldest turn
	size  int
}

// NewWindow creates a window holding at most capacity turns.
func NewWindow(capacity int) *Window {
	if capacity < 1 {
		capacity = DefaultWindowSize
	}
	return &Window{turns: make([]Turn, capacity)}
}

// Append records a turn, evicting the oldest one when full.
func (w *Window) Append(turn Turn) {
	capacity := len(w.turns)
	if w.size < capacity {
		w.turns[(w.head+w.size)%capacity] = turn
		w.size++
		return
	}
	w.turns[w.head] = turn
	w.head = (w.head + 1) % capacity
}

// Snapshot returns the retained turns, oldest first.
func (w *Window) Snapshot() []Turn {
	out := make([]Turn, w.size)
	for i := 0; i < w.size; i++ {
		out[i] = w.turns[(w.head+i)%len(w.turns)]
	}
	return out
}

// Len returns the number of retained turns.
func (w *Window) Len() int { return w.size }

// Cap returns the window capacity.
func (w *Window) Cap() int { return len(w.turns) }
