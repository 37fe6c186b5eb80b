// Package editor maps discrete user commands onto a collab.Session: delete,
// copy, paste, undo and redo of the current selection, plus the drag
// gesture. Every mutation goes through Session.ApplyOperation.
package editor

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"
	"github.com/panyam/classdraw/collab"
	"github.com/panyam/classdraw/diagram"
)

var ErrUnknownCommand = errors.New("unknown command")

type Editor struct {
	session *collab.Session
	history *History
	keys    KeyMap
	newID   func() string
	logger  *slog.Logger

	clipNodes []*diagram.Node
	clipEdges []*diagram.Edge

	// nodes being dragged and where each started
	dragStart map[string]diagram.Point
}

type Option func(*Editor)

func WithHistorySize(n int) Option {
	return func(e *Editor) { e.history = NewHistory(n) }
}

func WithKeyMap(km KeyMap) Option {
	return func(e *Editor) { e.keys = km }
}

func WithIDGenerator(gen func() string) Option {
	return func(e *Editor) { e.newID = gen }
}

func New(s *collab.Session, opts ...Option) *Editor {
	e := &Editor{
		session: s,
		history: NewHistory(DefaultHistorySize),
		keys:    DefaultKeyMap(),
		newID:   uuid.NewString,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Editor) History() *History { return e.history }

// HandleKey runs the command bound to chord. It reports false for unbound
// chords.
func (e *Editor) HandleKey(chord string) (bool, error) {
	cmd, ok := e.keys.Lookup(chord)
	if !ok {
		return false, nil
	}
	return true, e.Execute(cmd)
}

func (e *Editor) Execute(cmd Command) error {
	switch cmd {
	case CmdDelete:
		return e.Delete()
	case CmdCopy:
		e.Copy()
		return nil
	case CmdPaste:
		return e.Paste()
	case CmdUndo:
		_, err := e.Undo()
		return err
	case CmdRedo:
		_, err := e.Redo()
		return err
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

// Do applies ops locally as one undoable action.
func (e *Editor) Do(label string, ops ...collab.Operation) error {
	entry := Entry{Label: label}
	var inverses [][]collab.Operation
	var errs []error
	for _, op := range ops {
		out, err := e.session.ApplyOperation(op, collab.Local)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if out.Applied {
			entry.Forward = append(entry.Forward, op)
			inverses = append(inverses, out.Inverse)
		}
	}
	for i := len(inverses) - 1; i >= 0; i-- {
		entry.Inverse = append(entry.Inverse, inverses[i]...)
	}
	if len(entry.Forward) > 0 {
		e.history.Push(entry)
	}
	return errors.Join(errs...)
}

func (e *Editor) AddNode(n *diagram.Node) error {
	if n.ID == "" {
		n.ID = e.newID()
	}
	return e.Do("add "+n.Data.Name, collab.NewAddNode(n))
}

// Connect draws an edge between two nodes.
func (e *Editor) Connect(source, target string, kind diagram.EdgeKind) (*diagram.Edge, error) {
	if _, ok := diagram.StyleFor(kind); !ok {
		return nil, fmt.Errorf("unknown edge kind %q", kind)
	}
	edge := &diagram.Edge{ID: e.newID(), Source: source, Target: target, Kind: kind}
	return edge, e.Do("connect", collab.NewAddEdge(edge))
}

func (e *Editor) Delete() error {
	sel := e.session.Selection()
	if len(sel) == 0 {
		return nil
	}
	ops := make([]collab.Operation, len(sel))
	for i, id := range sel {
		ops[i] = collab.NewRemove(id)
	}
	return e.Do("delete", ops...)
}

// Copy puts the selected nodes, and the edges running between them, on the
// clipboard. It returns the number of cells copied.
func (e *Editor) Copy() int {
	sel := e.session.Selection()
	e.clipNodes, e.clipEdges = nil, nil
	e.session.Read(func(d *diagram.Diagram) {
		for _, id := range sel {
			if n, ok := d.Node(id); ok {
				e.clipNodes = append(e.clipNodes, n.Clone())
			}
		}
		for _, edge := range d.Edges() {
			if slices.Contains(sel, edge.Source) && slices.Contains(sel, edge.Target) {
				e.clipEdges = append(e.clipEdges, edge.Clone())
			}
		}
	})
	return len(e.clipNodes) + len(e.clipEdges)
}

// Paste inserts fresh copies of the clipboard at the positions they were
// copied from and selects them.
func (e *Editor) Paste() error {
	if len(e.clipNodes) == 0 {
		return nil
	}
	ids := make(map[string]string, len(e.clipNodes))
	var ops []collab.Operation
	var pasted []string
	for _, n := range e.clipNodes {
		c := n.Clone()
		c.ID = e.newID()
		ids[n.ID] = c.ID
		pasted = append(pasted, c.ID)
		ops = append(ops, collab.NewAddNode(c))
	}
	for _, edge := range e.clipEdges {
		src, okSrc := ids[edge.Source]
		dst, okDst := ids[edge.Target]
		if !okSrc || !okDst {
			continue
		}
		c := edge.Clone()
		c.ID, c.Source, c.Target = e.newID(), src, dst
		pasted = append(pasted, c.ID)
		ops = append(ops, collab.NewAddEdge(c))
	}
	err := e.Do("paste", ops...)
	e.session.Select(pasted...)
	return err
}

// DragSelection moves every selected node by (dx, dy) with lightweight
// updates. The first call of a gesture remembers where each node started.
func (e *Editor) DragSelection(dx, dy float64) error {
	if e.dragStart == nil {
		e.dragStart = make(map[string]diagram.Point)
	}
	var errs []error
	for _, id := range e.session.Selection() {
		n, ok := e.session.Node(id)
		if !ok {
			continue
		}
		if _, seen := e.dragStart[id]; !seen {
			e.dragStart[id] = n.Position
		}
		pos := diagram.Point{X: n.Position.X + dx, Y: n.Position.Y + dy}
		if _, err := e.session.ApplyOperation(collab.NewMoving(id, pos), collab.Local); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EndDrag finishes the gesture with one terminal update per dragged node
// and records the whole drag as a single history entry.
func (e *Editor) EndDrag() error {
	start := e.dragStart
	e.dragStart = nil
	if len(start) == 0 {
		return nil
	}
	entry := Entry{Label: "move"}
	var errs []error
	for _, id := range e.session.Selection() {
		from, ok := start[id]
		if !ok {
			continue
		}
		n, ok := e.session.Node(id)
		if !ok {
			continue
		}
		op := collab.NewMoved(n)
		if _, err := e.session.ApplyOperation(op, collab.Local); err != nil {
			errs = append(errs, err)
			continue
		}
		entry.Forward = append(entry.Forward, collab.NewPlaced(id, n.Position))
		entry.Inverse = append(entry.Inverse, collab.NewPlaced(id, from))
	}
	if len(entry.Forward) > 0 {
		e.history.Push(entry)
	}
	return errors.Join(errs...)
}

// Undo reverts the last entry. Replays use History provenance, so they only
// reach other sessions when the bridge syncs history.
func (e *Editor) Undo() (bool, error) {
	entry, ok := e.history.Undo()
	if !ok {
		return false, nil
	}
	return true, e.replay(entry.Inverse)
}

func (e *Editor) Redo() (bool, error) {
	entry, ok := e.history.Redo()
	if !ok {
		return false, nil
	}
	return true, e.replay(entry.Forward)
}

func (e *Editor) replay(ops []collab.Operation) error {
	var errs []error
	for _, op := range ops {
		if _, err := e.session.ApplyOperation(op, collab.History); err != nil {
			e.logger.Warn("History replay failed", "op", op.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
