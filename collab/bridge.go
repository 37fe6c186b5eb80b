package collab

import (
	"log/slog"
	"sync"

	"github.com/panyam/classdraw/diagram"
)

// Sender accepts outbound operations. Channel implements it.
type Sender interface {
	Send(op Operation) error
}

// Bridge turns a session's local mutations into outbound operations. It
// subscribes to the session bus once and ignores anything that did not
// originate locally, which is what keeps inbound operations from echoing.
type Bridge struct {
	session     *Session
	out         Sender
	syncHistory bool
	logger      *slog.Logger

	mu     sync.Mutex
	cancel func()
}

type BridgeOption func(*Bridge)

// WithHistorySync broadcasts undo/redo as ordinary operations. Without it
// history replays stay local to the session.
func WithHistorySync() BridgeOption {
	return func(b *Bridge) { b.syncHistory = true }
}

func NewBridge(s *Session, out Sender, opts ...BridgeOption) *Bridge {
	b := &Bridge{session: s, out: out, logger: s.logger}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Attach subscribes the bridge and returns its teardown handle, which is
// the same as calling Detach. Attaching twice keeps the first subscription.
func (b *Bridge) Attach() (detach func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel == nil {
		b.cancel = b.session.Bus().Subscribe(b.handle)
	}
	return b.Detach
}

func (b *Bridge) Detach() {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (b *Bridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cancel != nil
}

func (b *Bridge) handle(ev Event) {
	switch ev.Provenance() {
	case Local:
	case History:
		if !b.syncHistory {
			return
		}
	default:
		return
	}
	op, ok := Translate(ev)
	if !ok {
		return
	}
	op.SessionID = b.session.ID
	if err := b.out.Send(op); err != nil {
		b.logger.Warn("Failed to send operation", "op", op.String(), "error", err)
	}
}

// Translate maps an event to the operation that reproduces it elsewhere.
// It returns false for events that have no wire form.
func Translate(ev Event) (Operation, bool) {
	var op Operation
	switch e := ev.(type) {
	case CellAdded:
		if diagram.IsEdge(e.Shape) {
			if e.Edge == nil {
				return op, false
			}
			op = NewAddEdge(e.Edge)
		} else {
			if e.Node == nil {
				return op, false
			}
			op = NewAddNode(e.Node)
		}
	case CellRemoved:
		op = NewRemove(e.CellID())
	case NodeMoving:
		op = NewMoving(e.CellID(), e.Position)
	case NodeMoved:
		op = NewMoved(e.Node)
	case NodeResized:
		op = NewResize(e.CellID(), e.Size)
	case NodeRotated:
		op = NewRotate(e.CellID(), e.Angle)
	case NodeDataChanged:
		op = NewUpdateData(e.CellID(), e.Data)
	default:
		return op, false
	}
	op.Stamp = ev.Stamp()
	return op, true
}
