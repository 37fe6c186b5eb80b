// Package collab keeps one diagram consistent across the sessions editing
// it. Every mutation is an Operation; a Session applies operations to its
// graph, a Bridge turns local mutations into outbound operations, an
// Applier feeds inbound ones back in, and a Channel carries them over a
// reconnecting duplex connection.
package collab

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/panyam/classdraw/diagram"
)

var (
	ErrMalformedPayload = errors.New("malformed operation payload")
	ErrUnknownOperation = errors.New("unknown operation type")
)

type OpType string

const (
	OpAdd            OpType = "add"
	OpRemove         OpType = "remove"
	OpUpdatePosition OpType = "updatePosition"
	OpUpdateSize     OpType = "updateSize"
	OpUpdateAngle    OpType = "updateAngle"
	OpUpdateData     OpType = "updateData"

	// Control messages share the envelope but never mutate a graph directly.
	MsgResync   OpType = "resync"
	MsgSnapshot OpType = "snapshot"
)

// IsControl reports whether t is a control message rather than a mutation.
func (t OpType) IsControl() bool {
	return t == MsgResync || t == MsgSnapshot
}

// Operation is one mutation of a diagram and also the wire envelope:
// {type, cellId, sessionId, payload, stamp}.
type Operation struct {
	Type      OpType          `json:"type"`
	CellID    string          `json:"cellId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Stamp     Stamp           `json:"stamp"`
}

func (op Operation) String() string {
	return fmt.Sprintf("%s(%s)@%s", op.Type, op.CellID, op.Stamp)
}

// AddPayload carries exactly one of Node or Edge; Shape routes it.
type AddPayload struct {
	Shape string        `json:"shape"`
	Node  *diagram.Node `json:"node,omitempty"`
	Edge  *diagram.Edge `json:"edge,omitempty"`
}

// PositionPayload is either a lightweight update (Final unset, position
// only, sent while dragging) or the terminal update of a move, which is
// canonical and may carry the full node state.
type PositionPayload struct {
	Position diagram.Point `json:"position"`
	Final    bool          `json:"final,omitempty"`
	Node     *diagram.Node `json:"node,omitempty"`
}

type SizePayload struct {
	Size diagram.Size `json:"size"`
}

type AnglePayload struct {
	Angle float64 `json:"angle"`
}

type DataPayload struct {
	Data diagram.NodeData `json:"data"`
}

func mustPayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// payload types are plain data; a failure here is a programming error
		panic(fmt.Sprintf("collab: cannot marshal payload: %v", err))
	}
	return b
}

func NewAddNode(n *diagram.Node) Operation {
	return Operation{Type: OpAdd, CellID: n.ID, Payload: mustPayload(AddPayload{Shape: n.ShapeName(), Node: n})}
}

func NewAddEdge(e *diagram.Edge) Operation {
	return Operation{Type: OpAdd, CellID: e.ID, Payload: mustPayload(AddPayload{Shape: e.ShapeName(), Edge: e})}
}

func NewRemove(cellID string) Operation {
	return Operation{Type: OpRemove, CellID: cellID}
}

// NewMoving is the lightweight, droppable position update.
func NewMoving(cellID string, pos diagram.Point) Operation {
	return Operation{Type: OpUpdatePosition, CellID: cellID, Payload: mustPayload(PositionPayload{Position: pos})}
}

// NewMoved is the terminal position update carrying the node's full state.
func NewMoved(n *diagram.Node) Operation {
	return Operation{Type: OpUpdatePosition, CellID: n.ID, Payload: mustPayload(PositionPayload{Position: n.Position, Final: true, Node: n})}
}

// NewPlaced is a terminal position-only update, used to undo moves.
func NewPlaced(cellID string, pos diagram.Point) Operation {
	return Operation{Type: OpUpdatePosition, CellID: cellID, Payload: mustPayload(PositionPayload{Position: pos, Final: true})}
}

func NewResize(cellID string, size diagram.Size) Operation {
	return Operation{Type: OpUpdateSize, CellID: cellID, Payload: mustPayload(SizePayload{Size: size})}
}

func NewRotate(cellID string, angle float64) Operation {
	return Operation{Type: OpUpdateAngle, CellID: cellID, Payload: mustPayload(AnglePayload{Angle: angle})}
}

func NewUpdateData(cellID string, data diagram.NodeData) Operation {
	return Operation{Type: OpUpdateData, CellID: cellID, Payload: mustPayload(DataPayload{Data: data})}
}

// NewResync asks the server for its full state.
func NewResync() Operation {
	return Operation{Type: MsgResync}
}

// NewSnapshotMessage wraps a SyncState for the wire.
func NewSnapshotMessage(state *SyncState) Operation {
	return Operation{Type: MsgSnapshot, Payload: mustPayload(state)}
}

func decode[T any](op Operation) (T, error) {
	var out T
	if len(op.Payload) == 0 {
		return out, fmt.Errorf("%w: %s has no payload", ErrMalformedPayload, op.Type)
	}
	if err := json.Unmarshal(op.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, op.Type, err)
	}
	return out, nil
}

// DecodeAdd validates an add payload: the shape must agree with the cell
// family it carries and the cell id must match the envelope.
func (op Operation) DecodeAdd() (AddPayload, error) {
	p, err := decode[AddPayload](op)
	if err != nil {
		return p, err
	}
	if diagram.IsEdge(p.Shape) {
		if p.Edge == nil || p.Edge.ID != op.CellID {
			return p, fmt.Errorf("%w: edge add for %s", ErrMalformedPayload, op.CellID)
		}
		p.Node = nil
		return p, nil
	}
	if p.Node == nil || p.Node.ID != op.CellID {
		return p, fmt.Errorf("%w: node add for %s", ErrMalformedPayload, op.CellID)
	}
	p.Edge = nil
	return p, nil
}

func (op Operation) DecodePosition() (PositionPayload, error) { return decode[PositionPayload](op) }
func (op Operation) DecodeSize() (SizePayload, error)         { return decode[SizePayload](op) }
func (op Operation) DecodeAngle() (AnglePayload, error)       { return decode[AnglePayload](op) }
func (op Operation) DecodeData() (DataPayload, error)         { return decode[DataPayload](op) }
func (op Operation) DecodeSnapshot() (*SyncState, error) {
	s, err := decode[SyncState](op)
	return &s, err
}
