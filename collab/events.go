package collab

import (
	"sync"

	"github.com/panyam/classdraw/diagram"
)

// Provenance records where a mutation came from. It travels with every
// event so listeners never have to infer it from call-site flags.
type Provenance int

const (
	// Local mutations come from this session's user and are broadcast.
	Local Provenance = iota
	// Remote mutations were received from another session and are never
	// re-broadcast.
	Remote
	// History mutations are undo/redo replays. They stay local unless the
	// bridge is attached with WithHistorySync.
	History
	// Hydrate mutations load or repair state from a snapshot.
	Hydrate
)

func (p Provenance) String() string {
	switch p {
	case Local:
		return "local"
	case Remote:
		return "remote"
	case History:
		return "history"
	case Hydrate:
		return "hydrate"
	}
	return "unknown"
}

// Event is the sealed set of graph mutation notifications.
type Event interface {
	CellID() string
	Provenance() Provenance
	Stamp() Stamp
	isEvent()
}

type eventBase struct {
	ID     string
	Origin Provenance
	At     Stamp
}

func (e eventBase) CellID() string         { return e.ID }
func (e eventBase) Provenance() Provenance { return e.Origin }
func (e eventBase) Stamp() Stamp           { return e.At }
func (eventBase) isEvent()                 {}

// CellAdded fires when a node or edge is inserted (or re-asserted by an
// idempotent add). Exactly one of Node and Edge is set.
type CellAdded struct {
	eventBase
	Shape string
	Node  *diagram.Node
	Edge  *diagram.Edge
}

type CellRemoved struct {
	eventBase
	Cell diagram.Cell
}

// NodeMoving fires continuously while a node is dragged.
type NodeMoving struct {
	eventBase
	Position diagram.Point
}

// NodeMoved fires once when a move ends; Node is the full resulting state.
type NodeMoved struct {
	eventBase
	Node *diagram.Node
}

type NodeResized struct {
	eventBase
	Size diagram.Size
}

type NodeRotated struct {
	eventBase
	Angle float64
}

type NodeDataChanged struct {
	eventBase
	Data diagram.NodeData
}

// Hydrated fires after the whole graph was replaced or merged from a
// snapshot.
type Hydrated struct {
	eventBase
	Cells int
}

type Handler func(Event)

// Bus fans events out to subscribers, synchronously and in subscription
// order.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers map[int]Handler
	order    []int
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe registers h for every event variant and returns the single
// handle that removes it again. Calling the handle twice is harmless.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

func (b *Bus) Publish(events ...Event) {
	if len(events) == 0 {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()
	for _, ev := range events {
		for _, h := range handlers {
			h(ev)
		}
	}
}

// Len is the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
