package export

import (
	"fmt"
	"slices"

	"github.com/panyam/classdraw/diagram"
)

// Divergence is an extend or implement edge whose relationship is missing
// from the source node's own inheritance fields. Node fields are what the
// code exporters use, so such an edge has no effect on generated code.
type Divergence struct {
	EdgeID string
	Kind   diagram.EdgeKind
	Source string
	Target string
}

func (d Divergence) String() string {
	if d.Kind == diagram.Implement {
		return fmt.Sprintf("%s is drawn implementing %s but does not list it in implements", d.Source, d.Target)
	}
	return fmt.Sprintf("%s is drawn extending %s but does not name it in extends", d.Source, d.Target)
}

// Divergences lists inheritance edges not mirrored in node data. It only
// reports; nothing is merged.
func Divergences(d *diagram.Diagram) []Divergence {
	var out []Divergence
	for _, e := range d.RenderableEdges() {
		if !e.Kind.IsInheritance() {
			continue
		}
		src, _ := d.Node(e.Source)
		tgt, _ := d.Node(e.Target)
		parent := tgt.Data.Name
		var mirrored bool
		switch e.Kind {
		case diagram.Extend:
			mirrored = src.Data.Extends == parent ||
				(src.Data.Type == diagram.TypeInterface && slices.Contains(src.Data.Implements, parent))
		case diagram.Implement:
			mirrored = slices.Contains(src.Data.Implements, parent)
		}
		if !mirrored {
			out = append(out, Divergence{EdgeID: e.ID, Kind: e.Kind, Source: src.Data.Name, Target: parent})
		}
	}
	return out
}
