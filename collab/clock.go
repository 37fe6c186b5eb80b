package collab

import (
	"fmt"
	"sync"
)

// Stamp is a Lamport timestamp: a counter plus the session that issued it,
// which breaks ties so that every pair of stamps is ordered.
type Stamp struct {
	Counter   uint64 `json:"c,omitempty"`
	SessionID string `json:"s,omitempty"`
}

// IsZero reports an unversioned stamp. Unversioned operations apply in
// arrival order.
func (s Stamp) IsZero() bool { return s.Counter == 0 }

// After reports whether s wins against o under last-writer-wins.
func (s Stamp) After(o Stamp) bool {
	if s.Counter != o.Counter {
		return s.Counter > o.Counter
	}
	return s.SessionID > o.SessionID
}

func (s Stamp) String() string {
	if s.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%d:%s", s.Counter, s.SessionID)
}

// Clock is a Lamport clock owned by one session.
type Clock struct {
	mu        sync.Mutex
	counter   uint64
	sessionID string
}

func NewClock(sessionID string) *Clock {
	return &Clock{sessionID: sessionID}
}

// Tick advances the clock for a local event.
func (c *Clock) Tick() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counter++
	return Stamp{Counter: c.counter, SessionID: c.sessionID}
}

// Observe folds in a stamp seen on an inbound operation.
func (c *Clock) Observe(s Stamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Counter > c.counter {
		c.counter = s.Counter
	}
}

func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counter
}

// Field names one independently versioned attribute of a cell.
type Field string

const (
	FieldCell     Field = "cell" // existence, set by add
	FieldPosition Field = "position"
	FieldSize     Field = "size"
	FieldAngle    Field = "angle"
	FieldData     Field = "data"
)

// FieldStamps holds the stamp of the last accepted write per field.
type FieldStamps map[Field]Stamp

// accept records s for f if it wins, and reports whether it did. Zero
// stamps always win; they carry no ordering information.
func (fs FieldStamps) accept(f Field, s Stamp) bool {
	if s.IsZero() {
		return true
	}
	if cur, ok := fs[f]; ok && !cur.IsZero() && !s.After(cur) {
		return false
	}
	fs[f] = s
	return true
}

// Latest is the newest stamp across all fields.
func (fs FieldStamps) Latest() Stamp {
	var out Stamp
	for _, s := range fs {
		if s.After(out) {
			out = s
		}
	}
	return out
}

func (fs FieldStamps) clone() FieldStamps {
	out := make(FieldStamps, len(fs))
	for k, v := range fs {
		out[k] = v
	}
	return out
}
