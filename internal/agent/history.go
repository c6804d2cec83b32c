package agent

import (
	"sync"
	"time"
)

// Role tags a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry in the conversation log.
type Turn struct {
	Role      Role
	Content   string
	Timestamp time.Time
}

// History is the append-only conversation log for one session. The loop
// is the single writer; readers get consistent snapshots. Tool turns
// carry masked content only.
type History struct {
	mu    sync.RWMutex
	turns []Turn
}

// NewHistory returns an empty log.
func NewHistory() *History {
	return &History{}
}

// Append records a turn. Entries are never mutated or removed.
func (h *History) Append(role Role, content string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = append(h.turns, Turn{Role: role, Content: content, Timestamp: time.Now()})
}

// Len reports the number of turns.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.turns)
}

// LastK returns up to k most recent turns, oldest first.
func (h *History) LastK(k int) []Turn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if k <= 0 || k > len(h.turns) {
		k = len(h.turns)
	}
	out := make([]Turn, k)
	copy(out, h.turns[len(h.turns)-k:])
	return out
}

// Snapshot returns a copy of the full log.
func (h *History) Snapshot() []Turn {
	return h.LastK(0)
}
