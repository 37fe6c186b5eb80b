package editor

import "github.com/panyam/classdraw/collab"

const DefaultHistorySize = 50

// Entry is one undoable user action. Inverse is already in the order it
// must be applied.
type Entry struct {
	Label   string
	Forward []collab.Operation
	Inverse []collab.Operation
}

// History keeps the most recent entries in a ring buffer. Pushing after an
// undo discards everything that could have been redone.
type History struct {
	entries []Entry
	start   int // oldest entry
	size    int // stored entries
	cursor  int // entries currently applied, <= size
}

func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{entries: make([]Entry, capacity)}
}

func (h *History) at(i int) int { return (h.start + i) % len(h.entries) }

func (h *History) Push(e Entry) {
	for i := h.cursor; i < h.size; i++ {
		h.entries[h.at(i)] = Entry{}
	}
	h.size = h.cursor
	if h.size == len(h.entries) {
		h.entries[h.start] = Entry{}
		h.start = h.at(1)
		h.size--
	}
	h.entries[h.at(h.size)] = e
	h.size++
	h.cursor = h.size
}

func (h *History) CanUndo() bool { return h.cursor > 0 }
func (h *History) CanRedo() bool { return h.cursor < h.size }

// Undo steps back and returns the entry to revert.
func (h *History) Undo() (Entry, bool) {
	if !h.CanUndo() {
		return Entry{}, false
	}
	h.cursor--
	return h.entries[h.at(h.cursor)], true
}

// Redo steps forward and returns the entry to reapply.
func (h *History) Redo() (Entry, bool) {
	if !h.CanRedo() {
		return Entry{}, false
	}
	e := h.entries[h.at(h.cursor)]
	h.cursor++
	return e, true
}

func (h *History) Clear() {
	clear(h.entries)
	h.start, h.size, h.cursor = 0, 0, 0
}

// Stats returns the current position and the number of stored entries.
func (h *History) Stats() (current, total int) {
	return h.cursor, h.size
}
