package collab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panyam/classdraw/diagram"
)

// StateStore persists the state a room starts from and flushes to. Field
// versions and tombstones are saved with the snapshot, so a reopened room
// still rejects cells removed before it closed. A diagram that was never
// saved loads as nil.
type StateStore interface {
	LoadState(ctx context.Context, diagramID string) (*SyncState, error)
	SaveState(ctx context.Context, diagramID string, state *SyncState) error
}

const peerBuffer = 256

type peer struct {
	sessionID string
	conn      Conn
	send      chan Operation
}

// Room relays operations between the sessions editing one diagram. It
// holds the authoritative Session: every inbound operation is applied there
// first and then broadcast to every other peer, so all peers see the same
// order.
type Room struct {
	ID      string
	session *Session
	logger  *slog.Logger

	mu    sync.Mutex
	peers map[*peer]struct{}
	dirty bool
}

func newRoom(id string, state *SyncState, logger *slog.Logger) (*Room, error) {
	s := NewSession(diagram.NewDiagram(id, ""), WithSessionID("server:"+id), WithLogger(logger))
	if state != nil {
		if err := s.Restore(state); err != nil {
			return nil, err
		}
	}
	return &Room{ID: id, session: s, logger: logger, peers: make(map[*peer]struct{})}, nil
}

func (r *Room) Session() *Session { return r.session }

func (r *Room) Peers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}

func (r *Room) Dirty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dirty
}

// add registers p and queues the current state as its first message.
func (r *Room) add(p *peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peers[p] = struct{}{}
	p.send <- NewSnapshotMessage(r.session.SyncState())
}

// drop must be called with r.mu held.
func (r *Room) drop(p *peer) {
	if _, ok := r.peers[p]; ok {
		delete(r.peers, p)
		close(p.send)
	}
}

func (r *Room) remove(p *peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drop(p)
	return len(r.peers)
}

func (r *Room) handle(p *peer, op Operation) {
	switch op.Type {
	case MsgResync:
		r.mu.Lock()
		r.deliver(p, NewSnapshotMessage(r.session.SyncState()))
		r.mu.Unlock()
		return
	case MsgSnapshot:
		r.logger.Warn("Ignoring snapshot sent by client", "diagramId", r.ID, "sessionId", p.sessionID)
		return
	}
	if op.SessionID == "" {
		op.SessionID = p.sessionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	out, err := r.session.ApplyOperation(op, Remote)
	if err != nil {
		r.logger.Warn("Dropping operation", "diagramId", r.ID, "op", op.String(), "from", op.SessionID, "error", err)
		return
	}
	if out.Applied {
		r.dirty = true
	}
	for other := range r.peers {
		if other != p {
			r.deliver(other, op)
		}
	}
}

// deliver must be called with r.mu held. A peer too slow to keep up is
// disconnected; it will resync when it reconnects.
func (r *Room) deliver(p *peer, op Operation) {
	if _, ok := r.peers[p]; !ok {
		return
	}
	select {
	case p.send <- op:
	default:
		r.logger.Warn("Peer send buffer full, disconnecting", "diagramId", r.ID, "sessionId", p.sessionID)
		r.drop(p)
		p.conn.Close()
	}
}

func (r *Room) flush(ctx context.Context, store StateStore) error {
	r.mu.Lock()
	if !r.dirty {
		r.mu.Unlock()
		return nil
	}
	r.dirty = false
	state := r.session.SyncState()
	r.mu.Unlock()

	if err := store.SaveState(ctx, r.ID, state); err != nil {
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		return fmt.Errorf("failed to flush diagram %s: %w", r.ID, err)
	}
	return nil
}

func (r *Room) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for p := range r.peers {
		p.conn.Close()
	}
}

// Hub owns the open rooms, creating one on first join and flushing and
// discarding it when its last peer leaves.
type Hub struct {
	store  StateStore
	logger *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

func NewHub(store StateStore, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{store: store, logger: logger, rooms: make(map[string]*Room)}
}

// Room returns the open room for a diagram, if any.
func (h *Hub) Room(diagramID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[diagramID]
	return r, ok
}

func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

func (h *Hub) join(ctx context.Context, diagramID string, p *peer) (*Room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[diagramID]
	if !ok {
		state, err := h.store.LoadState(ctx, diagramID)
		if err != nil {
			return nil, fmt.Errorf("failed to load diagram %s: %w", diagramID, err)
		}
		if r, err = newRoom(diagramID, state, h.logger); err != nil {
			return nil, err
		}
		h.rooms[diagramID] = r
		h.logger.Info("Opened room", "diagramId", diagramID)
	}
	r.add(p)
	return r, nil
}

// leave removes p; the last one out flushes and closes the room. The flush
// happens under the hub lock so a rejoin cannot load a stale snapshot.
func (h *Hub) leave(r *Room, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r.remove(p) > 0 {
		return
	}
	if err := r.flush(context.Background(), h.store); err != nil {
		h.logger.Error("Failed to save diagram on close", "diagramId", r.ID, "error", err)
	}
	if h.rooms[r.ID] == r {
		delete(h.rooms, r.ID)
	}
	h.logger.Info("Closed room", "diagramId", r.ID)
}

// Serve relays conn in the diagram's room until the connection ends or ctx
// is done. sessionID tags operations that arrive without one.
func (h *Hub) Serve(ctx context.Context, diagramID, sessionID string, conn Conn) error {
	p := &peer{sessionID: sessionID, conn: conn, send: make(chan Operation, peerBuffer)}
	room, err := h.join(ctx, diagramID, p)
	if err != nil {
		conn.Close()
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for op := range p.send {
			if err := conn.WriteOperation(ctx, op); err != nil {
				conn.Close()
				// keep draining so close(p.send) is observed
				for range p.send {
				}
				return
			}
		}
	}()

	err = h.read(ctx, room, p)
	h.leave(room, p)
	<-writerDone
	conn.Close()
	if errors.Is(err, ErrChannelClosed) || ctx.Err() != nil {
		return nil
	}
	return err
}

func (h *Hub) read(ctx context.Context, room *Room, p *peer) error {
	for {
		op, err := p.conn.ReadOperation(ctx)
		if errors.Is(err, ErrMalformedPayload) {
			h.logger.Warn("Skipping malformed message", "diagramId", room.ID, "sessionId", p.sessionID, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		room.handle(p, op)
	}
}

// Flush saves every dirty room.
func (h *Hub) Flush(ctx context.Context) error {
	h.mu.Lock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		if err := r.flush(ctx, h.store); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run flushes dirty rooms every interval. When ctx is done it disconnects
// every peer and flushes one last time.
func (h *Hub) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, r := range h.rooms {
				r.closeAll()
			}
			h.mu.Unlock()
			return h.Flush(context.Background())
		case <-ticker.C:
			if err := h.Flush(ctx); err != nil {
				h.logger.Error("Periodic flush failed", "error", err)
			}
		}
	}
}
