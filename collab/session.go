package collab

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/panyam/classdraw/diagram"
)

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
)

func (c ConnectionState) String() string {
	switch c {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// SyncState is a snapshot plus the version information needed to merge it
// into a session that kept editing while disconnected.
type SyncState struct {
	Snapshot   *diagram.Snapshot      `json:"snapshot"`
	Versions   map[string]FieldStamps `json:"versions,omitempty"`
	Tombstones map[string]Stamp       `json:"tombstones,omitempty"`
	Clock      uint64                 `json:"clock"`
}

// Outcome describes what ApplyOperation did.
type Outcome struct {
	// Applied is false when the operation was a no-op: unknown target cell,
	// stale stamp, or removal of an absent cell.
	Applied bool
	// Op is the operation as applied, stamped and tagged for local ones.
	Op Operation
	// Inverse undoes the operation when applied in order.
	Inverse []Operation
}

// Session owns one diagram graph for one connection. Every mutation, local
// or remote, enters through ApplyOperation, which versions it, mutates the
// graph and publishes the matching event with its provenance.
type Session struct {
	ID     string
	logger *slog.Logger
	clock  *Clock
	bus    *Bus

	mu         sync.RWMutex
	graph      *diagram.Diagram
	versions   map[string]FieldStamps
	tombstones map[string]Stamp
	selection  []string
	state      ConnectionState
}

type SessionOption func(*Session)

func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.ID = id }
}

func WithLogger(l *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = l }
}

func NewSession(d *diagram.Diagram, opts ...SessionOption) *Session {
	s := &Session{
		bus:        NewBus(),
		graph:      d,
		versions:   make(map[string]FieldStamps),
		tombstones: make(map[string]Stamp),
	}
	for _, o := range opts {
		o(s)
	}
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.graph == nil {
		s.graph = diagram.NewDiagram("", "")
	}
	s.clock = NewClock(s.ID)
	return s
}

func (s *Session) Bus() *Bus     { return s.bus }
func (s *Session) Clock() *Clock { return s.clock }

func (s *Session) State() ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) SetState(st ConnectionState) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	if prev != st {
		s.logger.Debug("Session connection state changed", "sessionId", s.ID, "from", prev.String(), "to", st.String())
	}
}

// ApplyOperation is the single entry point for graph mutation. Local and
// History operations are tagged with this session's id and a fresh stamp;
// Remote and Hydrate ones keep theirs and advance the clock past them.
func (s *Session) ApplyOperation(op Operation, prov Provenance) (Outcome, error) {
	if op.Type.IsControl() {
		return Outcome{Op: op}, fmt.Errorf("%w: %s is a control message", ErrUnknownOperation, op.Type)
	}
	if op.CellID == "" {
		return Outcome{Op: op}, fmt.Errorf("%w: %s without cell id", ErrMalformedPayload, op.Type)
	}
	switch prov {
	case Local, History:
		op.SessionID = s.ID
		op.Stamp = s.clock.Tick()
	default:
		s.clock.Observe(op.Stamp)
	}

	s.mu.Lock()
	out, events, err := s.apply(op, prov)
	s.mu.Unlock()
	out.Op = op
	if err != nil {
		return out, err
	}
	s.bus.Publish(events...)
	return out, nil
}

func (s *Session) apply(op Operation, prov Provenance) (Outcome, []Event, error) {
	base := eventBase{ID: op.CellID, Origin: prov, At: op.Stamp}
	switch op.Type {
	case OpAdd:
		p, err := op.DecodeAdd()
		if err != nil {
			return Outcome{}, nil, err
		}
		if ts, ok := s.tombstones[op.CellID]; ok && !op.Stamp.IsZero() && !op.Stamp.After(ts) {
			return Outcome{}, nil, nil
		}
		if p.Edge != nil {
			return s.addEdge(op, p.Edge, base)
		}
		return s.addNode(op, p.Node, base)

	case OpRemove:
		return s.remove(op, base)

	case OpUpdatePosition:
		p, err := op.DecodePosition()
		if err != nil {
			return Outcome{}, nil, err
		}
		n, fs, ok := s.target(op.CellID)
		if !ok || !fs.accept(FieldPosition, op.Stamp) {
			return Outcome{}, nil, nil
		}
		prev := n.Clone()
		n.Position = p.Position
		if !p.Final {
			return Outcome{Applied: true, Inverse: []Operation{NewPlaced(n.ID, prev.Position)}},
				[]Event{NodeMoving{eventBase: base, Position: p.Position}}, nil
		}
		inverse := NewPlaced(n.ID, prev.Position)
		if p.Node != nil {
			inverse = NewMoved(prev)
			if fs.accept(FieldSize, op.Stamp) {
				n.Size = p.Node.Size
			}
			if fs.accept(FieldAngle, op.Stamp) {
				n.Angle = p.Node.Angle
			}
			if fs.accept(FieldData, op.Stamp) {
				n.Data = p.Node.Data.Clone()
			}
		}
		return Outcome{Applied: true, Inverse: []Operation{inverse}},
			[]Event{NodeMoved{eventBase: base, Node: n.Clone()}}, nil

	case OpUpdateSize:
		p, err := op.DecodeSize()
		if err != nil {
			return Outcome{}, nil, err
		}
		n, fs, ok := s.target(op.CellID)
		if !ok || !fs.accept(FieldSize, op.Stamp) {
			return Outcome{}, nil, nil
		}
		prev := n.Size
		n.Size = p.Size
		return Outcome{Applied: true, Inverse: []Operation{NewResize(n.ID, prev)}},
			[]Event{NodeResized{eventBase: base, Size: p.Size}}, nil

	case OpUpdateAngle:
		p, err := op.DecodeAngle()
		if err != nil {
			return Outcome{}, nil, err
		}
		n, fs, ok := s.target(op.CellID)
		if !ok || !fs.accept(FieldAngle, op.Stamp) {
			return Outcome{}, nil, nil
		}
		prev := n.Angle
		n.Angle = p.Angle
		return Outcome{Applied: true, Inverse: []Operation{NewRotate(n.ID, prev)}},
			[]Event{NodeRotated{eventBase: base, Angle: p.Angle}}, nil

	case OpUpdateData:
		p, err := op.DecodeData()
		if err != nil {
			return Outcome{}, nil, err
		}
		n, fs, ok := s.target(op.CellID)
		if !ok || !fs.accept(FieldData, op.Stamp) {
			return Outcome{}, nil, nil
		}
		prev := n.Data.Clone()
		n.Data = p.Data.Clone()
		return Outcome{Applied: true, Inverse: []Operation{NewUpdateData(n.ID, prev)}},
			[]Event{NodeDataChanged{eventBase: base, Data: p.Data.Clone()}}, nil
	}
	return Outcome{}, nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op.Type)
}

// target resolves the node an update names. A missing node is not an error:
// it may have been deleted locally while the update was in flight.
func (s *Session) target(id string) (*diagram.Node, FieldStamps, bool) {
	n, ok := s.graph.Node(id)
	if !ok {
		return nil, nil, false
	}
	return n, s.fields(id), true
}

func (s *Session) fields(id string) FieldStamps {
	fs, ok := s.versions[id]
	if !ok {
		fs = FieldStamps{}
		s.versions[id] = fs
	}
	return fs
}

func stampAll(st Stamp, fields ...Field) FieldStamps {
	fs := FieldStamps{}
	if st.IsZero() {
		return fs
	}
	for _, f := range fields {
		fs[f] = st
	}
	return fs
}

func (s *Session) addNode(op Operation, in *diagram.Node, base eventBase) (Outcome, []Event, error) {
	existing, ok := s.graph.Node(in.ID)
	if !ok {
		if s.graph.Has(in.ID) {
			return Outcome{}, nil, fmt.Errorf("%w: %s already exists as an edge", ErrMalformedPayload, in.ID)
		}
		n := in.Clone()
		if err := s.graph.AddNode(n); err != nil {
			return Outcome{}, nil, err
		}
		s.versions[n.ID] = stampAll(op.Stamp, FieldCell, FieldPosition, FieldSize, FieldAngle, FieldData)
		delete(s.tombstones, n.ID)
		return Outcome{Applied: true, Inverse: []Operation{NewRemove(n.ID)}},
			[]Event{CellAdded{eventBase: base, Shape: n.ShapeName(), Node: n.Clone()}}, nil
	}

	// Already present: treat as an update of every field the stamp wins.
	prev := existing.Clone()
	fs := s.fields(in.ID)
	changed := false
	if fs.accept(FieldPosition, op.Stamp) {
		existing.Position, changed = in.Position, true
	}
	if fs.accept(FieldSize, op.Stamp) {
		existing.Size, changed = in.Size, true
	}
	if fs.accept(FieldAngle, op.Stamp) {
		existing.Angle, changed = in.Angle, true
	}
	if fs.accept(FieldData, op.Stamp) {
		existing.Data, existing.Shape, changed = in.Data.Clone(), in.Shape, true
	}
	fs.accept(FieldCell, op.Stamp)
	if !changed {
		return Outcome{}, nil, nil
	}
	return Outcome{Applied: true, Inverse: []Operation{NewAddNode(prev)}},
		[]Event{CellAdded{eventBase: base, Shape: existing.ShapeName(), Node: existing.Clone()}}, nil
}

func (s *Session) addEdge(op Operation, in *diagram.Edge, base eventBase) (Outcome, []Event, error) {
	existing, ok := s.graph.Edge(in.ID)
	if !ok {
		if s.graph.Has(in.ID) {
			return Outcome{}, nil, fmt.Errorf("%w: %s already exists as a node", ErrMalformedPayload, in.ID)
		}
		e := in.Clone()
		if err := s.graph.AddEdge(e); err != nil {
			return Outcome{}, nil, err
		}
		s.versions[e.ID] = stampAll(op.Stamp, FieldCell, FieldData)
		delete(s.tombstones, e.ID)
		return Outcome{Applied: true, Inverse: []Operation{NewRemove(e.ID)}},
			[]Event{CellAdded{eventBase: base, Shape: e.ShapeName(), Edge: e.Clone()}}, nil
	}
	fs := s.fields(in.ID)
	fs.accept(FieldCell, op.Stamp)
	if !fs.accept(FieldData, op.Stamp) {
		return Outcome{}, nil, nil
	}
	prev := existing.Clone()
	*existing = *in.Clone()
	return Outcome{Applied: true, Inverse: []Operation{NewAddEdge(prev)}},
		[]Event{CellAdded{eventBase: base, Shape: existing.ShapeName(), Edge: existing.Clone()}}, nil
}

// remove deletes a cell and the edges attached to it. Removal wins over
// concurrent updates; the tombstone only rejects adds that are older.
func (s *Session) remove(op Operation, base eventBase) (Outcome, []Event, error) {
	if !op.Stamp.IsZero() {
		if ts, ok := s.tombstones[op.CellID]; !ok || op.Stamp.After(ts) {
			s.tombstones[op.CellID] = op.Stamp
		}
	}
	removed, cascaded := s.graph.Remove(op.CellID)
	if removed == nil {
		return Outcome{}, nil, nil
	}
	delete(s.versions, op.CellID)

	var inverse []Operation
	switch c := removed.(type) {
	case *diagram.Node:
		inverse = append(inverse, NewAddNode(c.Clone()))
	case *diagram.Edge:
		inverse = append(inverse, NewAddEdge(c.Clone()))
	}
	events := []Event{CellRemoved{eventBase: base, Cell: removed}}
	for _, e := range cascaded {
		delete(s.versions, e.ID)
		if !op.Stamp.IsZero() {
			s.tombstones[e.ID] = op.Stamp
		}
		inverse = append(inverse, NewAddEdge(e.Clone()))
		events = append(events, CellRemoved{eventBase: eventBase{ID: e.ID, Origin: base.Origin, At: base.At}, Cell: e})
	}
	s.pruneSelection()
	return Outcome{Applied: true, Inverse: inverse}, events, nil
}

// Hydrate replaces the graph with a snapshot. It is used once at session
// start; reconnect repair uses Merge.
func (s *Session) Hydrate(snap *diagram.Snapshot) error {
	return s.Restore(&SyncState{Snapshot: snap})
}

// Restore is Hydrate for a saved SyncState: the graph comes back with its
// field versions and tombstones, and the clock moves past every saved stamp.
func (s *Session) Restore(state *SyncState) error {
	if state == nil || state.Snapshot == nil {
		return fmt.Errorf("failed to hydrate session %s: %w: empty state", s.ID, ErrMalformedPayload)
	}
	d, err := diagram.FromSnapshot(state.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to hydrate session %s: %w", s.ID, err)
	}
	versions := make(map[string]FieldStamps, len(state.Versions))
	tombstones := make(map[string]Stamp, len(state.Tombstones))
	s.clock.Observe(Stamp{Counter: state.Clock})
	for id, fs := range state.Versions {
		if d.Has(id) {
			versions[id] = fs.clone()
			s.clock.Observe(fs.Latest())
		}
	}
	for id, ts := range state.Tombstones {
		tombstones[id] = ts
		s.clock.Observe(ts)
	}

	s.mu.Lock()
	s.graph = d
	s.versions = versions
	s.tombstones = tombstones
	s.selection = nil
	s.mu.Unlock()
	s.bus.Publish(Hydrated{eventBase: eventBase{ID: state.Snapshot.ID, Origin: Hydrate}, Cells: d.Len()})
	return nil
}

// SyncState captures the graph with its versions, for answering resync.
func (s *Session) SyncState() *SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := &SyncState{
		Snapshot:   s.graph.Snapshot(),
		Versions:   make(map[string]FieldStamps, len(s.versions)),
		Tombstones: make(map[string]Stamp, len(s.tombstones)),
		Clock:      s.clock.Now(),
	}
	for id, fs := range s.versions {
		out.Versions[id] = fs.clone()
	}
	for id, ts := range s.tombstones {
		out.Tombstones[id] = ts
	}
	return out
}

// remoteWins decides a merge: a remote stamp wins over an unversioned local
// field, and otherwise only if it is newer. An unversioned remote field never
// overrides a versioned local one.
func remoteWins(remote, local Stamp) bool {
	if local.IsZero() {
		return true
	}
	return remote.After(local)
}

// Merge repairs the graph after a reconnect. Each field takes whichever side
// wrote last, remote tombstones delete cells created before them, and cells
// only this session knows about are kept.
func (s *Session) Merge(state *SyncState) error {
	if state == nil || state.Snapshot == nil {
		return fmt.Errorf("%w: empty sync state", ErrMalformedPayload)
	}
	s.clock.Observe(Stamp{Counter: state.Clock})

	s.mu.Lock()
	for _, n := range state.Snapshot.Nodes {
		if n != nil {
			s.mergeNode(n, state.Versions[n.ID])
		}
	}
	for _, e := range state.Snapshot.Edges {
		if e != nil {
			s.mergeEdge(e, state.Versions[e.ID])
		}
	}
	for id, ts := range state.Tombstones {
		local := s.versions[id]
		if s.graph.Has(id) && remoteWins(ts, local[FieldCell]) {
			_, cascaded := s.graph.Remove(id)
			delete(s.versions, id)
			for _, e := range cascaded {
				delete(s.versions, e.ID)
			}
		}
		if cur, ok := s.tombstones[id]; !ok || ts.After(cur) {
			s.tombstones[id] = ts
		}
	}
	s.pruneSelection()
	cells := s.graph.Len()
	s.mu.Unlock()

	s.bus.Publish(Hydrated{eventBase: eventBase{ID: state.Snapshot.ID, Origin: Hydrate}, Cells: cells})
	return nil
}

func (s *Session) mergeNode(in *diagram.Node, remote FieldStamps) {
	existing, ok := s.graph.Node(in.ID)
	if !ok {
		if s.graph.Has(in.ID) {
			s.logger.Warn("Skipping merged node that collides with an edge", "cellId", in.ID)
			return
		}
		if ts, dead := s.tombstones[in.ID]; dead && !remote.Latest().After(ts) {
			return
		}
		if err := s.graph.AddNode(in.Clone()); err != nil {
			s.logger.Warn("Failed to merge node", "cellId", in.ID, "error", err)
			return
		}
		s.versions[in.ID] = remote.clone()
		return
	}
	local := s.fields(in.ID)
	if remoteWins(remote[FieldPosition], local[FieldPosition]) {
		existing.Position = in.Position
		local.set(FieldPosition, remote[FieldPosition])
	}
	if remoteWins(remote[FieldSize], local[FieldSize]) {
		existing.Size = in.Size
		local.set(FieldSize, remote[FieldSize])
	}
	if remoteWins(remote[FieldAngle], local[FieldAngle]) {
		existing.Angle = in.Angle
		local.set(FieldAngle, remote[FieldAngle])
	}
	if remoteWins(remote[FieldData], local[FieldData]) {
		existing.Data = in.Data.Clone()
		existing.Shape = in.Shape
		local.set(FieldData, remote[FieldData])
	}
}

func (s *Session) mergeEdge(in *diagram.Edge, remote FieldStamps) {
	existing, ok := s.graph.Edge(in.ID)
	if !ok {
		if s.graph.Has(in.ID) {
			s.logger.Warn("Skipping merged edge that collides with a node", "cellId", in.ID)
			return
		}
		if ts, dead := s.tombstones[in.ID]; dead && !remote.Latest().After(ts) {
			return
		}
		if err := s.graph.AddEdge(in.Clone()); err != nil {
			s.logger.Warn("Failed to merge edge", "cellId", in.ID, "error", err)
			return
		}
		s.versions[in.ID] = remote.clone()
		return
	}
	local := s.fields(in.ID)
	if remoteWins(remote[FieldData], local[FieldData]) {
		*existing = *in.Clone()
		local.set(FieldData, remote[FieldData])
	}
}

func (fs FieldStamps) set(f Field, st Stamp) {
	if !st.IsZero() {
		fs[f] = st
	}
}

// Snapshot copies the current graph.
func (s *Session) Snapshot() *diagram.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Snapshot()
}

// Read runs fn against the live graph under the read lock. fn must not
// mutate the graph or call back into the session.
func (s *Session) Read(fn func(d *diagram.Diagram)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.graph)
}

func (s *Session) Node(id string) (*diagram.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.graph.Node(id)
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

func (s *Session) Edge(id string) (*diagram.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.graph.Edge(id)
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

func (s *Session) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Has(id)
}

// Versions returns a copy of the field stamps recorded for a cell.
func (s *Session) Versions(id string) FieldStamps {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versions[id].clone()
}

// Select replaces the selection. Unknown ids are dropped.
func (s *Session) Select(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = s.selection[:0]
	for _, id := range ids {
		if s.graph.Has(id) && !slices.Contains(s.selection, id) {
			s.selection = append(s.selection, id)
		}
	}
}

func (s *Session) Selection() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.selection)
}

func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = nil
}

func (s *Session) pruneSelection() {
	s.selection = slices.DeleteFunc(s.selection, func(id string) bool { return !s.graph.Has(id) })
}
