package diagram

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Snapshot is the persisted form of a diagram, used to hydrate a session
// and to answer resync requests.
type Snapshot struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Snapshot copies the diagram into its persisted form.
func (d *Diagram) Snapshot() *Snapshot {
	out := &Snapshot{ID: d.ID, Name: d.Name, Nodes: []*Node{}, Edges: []*Edge{}}
	for _, n := range d.Nodes() {
		out.Nodes = append(out.Nodes, n.Clone())
	}
	for _, e := range d.Edges() {
		out.Edges = append(out.Edges, e.Clone())
	}
	return out
}

// FromSnapshot rebuilds a diagram. Nodes are inserted before edges so edge
// endpoints resolve whenever the snapshot is complete. Null entries are
// rejected like cells without an id.
func FromSnapshot(s *Snapshot) (*Diagram, error) {
	if s == nil {
		return nil, errors.New("snapshot is null")
	}
	d := NewDiagram(s.ID, s.Name)
	for i, n := range s.Nodes {
		if n == nil {
			return nil, fmt.Errorf("%w: node %d is null", ErrEmptyID, i)
		}
		if err := d.AddNode(n.Clone()); err != nil {
			return nil, err
		}
	}
	for i, e := range s.Edges {
		if e == nil {
			return nil, fmt.Errorf("%w: edge %d is null", ErrEmptyID, i)
		}
		if err := d.AddEdge(e.Clone()); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DecodeSnapshot reads a JSON snapshot.
func DecodeSnapshot(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode diagram snapshot: %w", err)
	}
	return &s, nil
}
