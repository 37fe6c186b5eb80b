// Package diagram holds the in-memory model of a UML class diagram: nodes
// (classes, interfaces, enums), edges (relationships between them) and the
// pure projections used to draw them.
package diagram

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrDuplicateID = errors.New("duplicate cell id")
	ErrEmptyID     = errors.New("cell id cannot be empty")
)

// CellKind separates the two families of cells in a diagram.
type CellKind string

const (
	KindNode CellKind = "node"
	KindEdge CellKind = "edge"
)

// DefaultNodeShape is the surface shape name used for class-like nodes.
const DefaultNodeShape = "uml-class"

type NodeType string

const (
	TypeClass     NodeType = "class"
	TypeAbstract  NodeType = "abstract"
	TypeInterface NodeType = "interface"
	TypeEnum      NodeType = "enum"
)

// Valid reports whether t is one of the known node types.
func (t NodeType) Valid() bool {
	switch t {
	case TypeClass, TypeAbstract, TypeInterface, TypeEnum:
		return true
	}
	return false
}

type AccessModifier string

const (
	Public    AccessModifier = "public"
	Private   AccessModifier = "private"
	Protected AccessModifier = "protected"
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type Variable struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	AccessModifier AccessModifier `json:"accessModifier,omitempty"`
	Static         bool           `json:"static,omitempty"`
	Final          bool           `json:"final,omitempty"`
	Value          string         `json:"value,omitempty"`
}

type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type Method struct {
	Name           string         `json:"name"`
	Type           string         `json:"type"`
	AccessModifier AccessModifier `json:"accessModifier,omitempty"`
	Parameters     []Parameter    `json:"parameters,omitempty"`
	Static         bool           `json:"static,omitempty"`
	Final          bool           `json:"final,omitempty"`
	Abstract       bool           `json:"abstract,omitempty"`
}

// NodeData is the user-edited payload of a class-like node.
//
// Extends and Implements are the textual inheritance fields. They are what
// the code exporter reads; extend/implement edges drawn between nodes do not
// populate them.
type NodeData struct {
	Package    string     `json:"package,omitempty"`
	Name       string     `json:"name"`
	Type       NodeType   `json:"type"`
	Extends    string     `json:"extends,omitempty"`
	Implements []string   `json:"implements,omitempty"`
	Variables  []Variable `json:"variables"`
	Methods    []Method   `json:"methods"`
}

// Clone returns a deep copy of the data.
func (d NodeData) Clone() NodeData {
	out := d
	out.Implements = slices.Clone(d.Implements)
	out.Variables = slices.Clone(d.Variables)
	out.Methods = make([]Method, len(d.Methods))
	for i, m := range d.Methods {
		m.Parameters = slices.Clone(m.Parameters)
		out.Methods[i] = m
	}
	if d.Methods == nil {
		out.Methods = nil
	}
	return out
}

// Cell is implemented by Node and Edge.
type Cell interface {
	CellID() string
	CellKind() CellKind
	ShapeName() string
}

type Node struct {
	ID       string   `json:"id"`
	Shape    string   `json:"shape,omitempty"`
	Position Point    `json:"position"`
	Size     Size     `json:"size"`
	Angle    float64  `json:"angle,omitempty"`
	Data     NodeData `json:"data"`
}

func (n *Node) CellID() string { return n.ID }
func (n *Node) CellKind() CellKind { return KindNode }

func (n *Node) ShapeName() string {
	if n.Shape == "" {
		return DefaultNodeShape
	}
	return n.Shape
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	out := *n
	out.Data = n.Data.Clone()
	return &out
}

type Edge struct {
	ID     string   `json:"id"`
	Source string   `json:"source"`
	Target string   `json:"target"`
	Kind   EdgeKind `json:"kind"`
	Label  string   `json:"label,omitempty"`
}

func (e *Edge) CellID() string     { return e.ID }
func (e *Edge) CellKind() CellKind { return KindEdge }

// ShapeName of an edge is its relationship kind; the registry is keyed on it.
func (e *Edge) ShapeName() string { return string(e.Kind) }

func (e *Edge) Clone() *Edge {
	out := *e
	return &out
}

// Diagram is the set of nodes and edges of one document. Ids are unique
// across both families. Insertion order is preserved so that snapshots and
// exports are deterministic.
type Diagram struct {
	ID    string
	Name  string
	nodes map[string]*Node
	edges map[string]*Edge
	order []string
}

func NewDiagram(id, name string) *Diagram {
	return &Diagram{
		ID:    id,
		Name:  name,
		nodes: make(map[string]*Node),
		edges: make(map[string]*Edge),
	}
}

// Has reports whether a cell (node or edge) with the id exists.
func (d *Diagram) Has(id string) bool {
	_, isNode := d.nodes[id]
	_, isEdge := d.edges[id]
	return isNode || isEdge
}

// Node returns the live node with the id. Callers must not retain it across
// mutations they do not own.
func (d *Diagram) Node(id string) (*Node, bool) {
	n, ok := d.nodes[id]
	return n, ok
}

func (d *Diagram) Edge(id string) (*Edge, bool) {
	e, ok := d.edges[id]
	return e, ok
}

// Cell looks an id up in both families.
func (d *Diagram) Cell(id string) (Cell, bool) {
	if n, ok := d.nodes[id]; ok {
		return n, true
	}
	if e, ok := d.edges[id]; ok {
		return e, true
	}
	return nil, false
}

func (d *Diagram) AddNode(n *Node) error {
	if n.ID == "" {
		return ErrEmptyID
	}
	if d.Has(n.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, n.ID)
	}
	d.nodes[n.ID] = n
	d.order = append(d.order, n.ID)
	return nil
}

// AddEdge inserts an edge. Dangling endpoints are tolerated here; they only
// need to resolve before the edge is rendered (see RenderableEdges).
func (d *Diagram) AddEdge(e *Edge) error {
	if e.ID == "" {
		return ErrEmptyID
	}
	if d.Has(e.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateID, e.ID)
	}
	d.edges[e.ID] = e
	d.order = append(d.order, e.ID)
	return nil
}

// Remove deletes the cell with the id. Removing a node also removes every
// edge attached to it; those edges are returned so callers can report them.
// Removing an absent id is a no-op.
func (d *Diagram) Remove(id string) (removed Cell, cascaded []*Edge) {
	if e, ok := d.edges[id]; ok {
		delete(d.edges, id)
		d.dropOrder(id)
		return e, nil
	}
	n, ok := d.nodes[id]
	if !ok {
		return nil, nil
	}
	for _, eid := range slices.Clone(d.order) {
		if e, ok := d.edges[eid]; ok && (e.Source == id || e.Target == id) {
			delete(d.edges, eid)
			d.dropOrder(eid)
			cascaded = append(cascaded, e)
		}
	}
	delete(d.nodes, id)
	d.dropOrder(id)
	return n, cascaded
}

func (d *Diagram) dropOrder(id string) {
	if i := slices.Index(d.order, id); i >= 0 {
		d.order = slices.Delete(d.order, i, i+1)
	}
}

// Nodes returns nodes in insertion order.
func (d *Diagram) Nodes() []*Node {
	out := make([]*Node, 0, len(d.nodes))
	for _, id := range d.order {
		if n, ok := d.nodes[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Edges returns edges in insertion order, dangling ones included.
func (d *Diagram) Edges() []*Edge {
	out := make([]*Edge, 0, len(d.edges))
	for _, id := range d.order {
		if e, ok := d.edges[id]; ok {
			out = append(out, e)
		}
	}
	return out
}

// RenderableEdges returns the edges whose source and target both resolve.
func (d *Diagram) RenderableEdges() []*Edge {
	var out []*Edge
	for _, e := range d.Edges() {
		_, hasSource := d.nodes[e.Source]
		_, hasTarget := d.nodes[e.Target]
		if hasSource && hasTarget {
			out = append(out, e)
		}
	}
	return out
}

// EdgesOf returns edges that touch the node id.
func (d *Diagram) EdgesOf(nodeID string) []*Edge {
	var out []*Edge
	for _, e := range d.Edges() {
		if e.Source == nodeID || e.Target == nodeID {
			out = append(out, e)
		}
	}
	return out
}

func (d *Diagram) Len() int { return len(d.order) }

// Clone returns a deep copy.
func (d *Diagram) Clone() *Diagram {
	out := NewDiagram(d.ID, d.Name)
	for _, id := range d.order {
		if n, ok := d.nodes[id]; ok {
			out.nodes[id] = n.Clone()
		} else if e, ok := d.edges[id]; ok {
			out.edges[id] = e.Clone()
		}
		out.order = append(out.order, id)
	}
	return out
}

// Validate reports structural problems: unknown node types, unknown edge
// kinds and edges that do not resolve. Duplicate ids cannot occur in a
// Diagram built through AddNode/AddEdge.
func (d *Diagram) Validate() error {
	var errs []error
	for _, n := range d.Nodes() {
		if !n.Data.Type.Valid() {
			errs = append(errs, fmt.Errorf("node %s: unknown type %q", n.ID, n.Data.Type))
		}
	}
	for _, e := range d.Edges() {
		if _, ok := StyleFor(e.Kind); !ok {
			errs = append(errs, fmt.Errorf("edge %s: unknown kind %q", e.ID, e.Kind))
		}
		if _, ok := d.nodes[e.Source]; !ok {
			errs = append(errs, fmt.Errorf("edge %s: dangling source %q", e.ID, e.Source))
		}
		if _, ok := d.nodes[e.Target]; !ok {
			errs = append(errs, fmt.Errorf("edge %s: dangling target %q", e.ID, e.Target))
		}
	}
	return errors.Join(errs...)
}
