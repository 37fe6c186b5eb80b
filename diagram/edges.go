package diagram

import "slices"

type EdgeKind string

const (
	Association EdgeKind = "association"
	Aggregation EdgeKind = "aggregation"
	Composition EdgeKind = "composition"
	Extend      EdgeKind = "extend"
	Implement   EdgeKind = "implement"
)

// Marker describes the glyph drawn at one end of an edge. A zero Marker
// means the end is bare.
type Marker struct {
	Name   string  `json:"name,omitempty"`
	Filled bool    `json:"filled,omitempty"`
	Path   string  `json:"path,omitempty"` // svg path, origin at the line end
	Size   Size    `json:"size"`
	Offset float64 `json:"offset,omitempty"`
}

func (m Marker) IsZero() bool { return m.Name == "" }

// EdgeStyle is how the surface draws one relationship kind. Markers sit at
// the target end: the arrow points at the associated class, the triangle at
// the parent, the diamond at the whole.
type EdgeStyle struct {
	Kind         EdgeKind `json:"kind"`
	SourceMarker Marker   `json:"sourceMarker"`
	TargetMarker Marker   `json:"targetMarker"`
	Dashed       bool     `json:"dashed,omitempty"`
	StrokeWidth  float64  `json:"strokeWidth"`
}

var (
	openArrow = Marker{
		Name: "open-arrow",
		Path: "M 10 -5 L 0 0 L 10 5",
		Size: Size{Width: 10, Height: 10},
	}
	hollowDiamond = Marker{
		Name: "diamond",
		Path: "M 0 0 L 10 -5 L 20 0 L 10 5 z",
		Size: Size{Width: 20, Height: 10},
	}
	filledDiamond = Marker{
		Name:   "diamond",
		Filled: true,
		Path:   "M 0 0 L 10 -5 L 20 0 L 10 5 z",
		Size:   Size{Width: 20, Height: 10},
	}
	hollowTriangle = Marker{
		Name: "triangle",
		Path: "M 0 0 L 14 -8 L 14 8 z",
		Size: Size{Width: 14, Height: 16},
	}
)

var edgeRegistry = map[EdgeKind]EdgeStyle{
	Association: {Kind: Association, TargetMarker: openArrow, StrokeWidth: 1},
	Aggregation: {Kind: Aggregation, TargetMarker: hollowDiamond, StrokeWidth: 1},
	Composition: {Kind: Composition, TargetMarker: filledDiamond, StrokeWidth: 1},
	Extend:      {Kind: Extend, TargetMarker: hollowTriangle, StrokeWidth: 1},
	Implement:   {Kind: Implement, TargetMarker: hollowTriangle, Dashed: true, StrokeWidth: 1},
}

// StyleFor returns the registered style of a relationship kind.
func StyleFor(kind EdgeKind) (EdgeStyle, bool) {
	s, ok := edgeRegistry[kind]
	return s, ok
}

// IsEdge reports whether a surface shape name denotes an edge. Cells are
// routed to node or edge handling on this alone.
func IsEdge(shapeName string) bool {
	_, ok := edgeRegistry[EdgeKind(shapeName)]
	return ok
}

// EdgeKinds lists the registered kinds in a stable order.
func EdgeKinds() []EdgeKind {
	out := make([]EdgeKind, 0, len(edgeRegistry))
	for k := range edgeRegistry {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// IsInheritance reports whether the kind expresses a type relationship
// (extend or implement) rather than an object relationship.
func (k EdgeKind) IsInheritance() bool {
	return k == Extend || k == Implement
}
