package export

import (
	"fmt"
	"strings"

	"github.com/panyam/classdraw/diagram"
)

// MermaidExporter writes the whole diagram as one Mermaid classDiagram.
// Unlike the Java stubs it draws relationships from edges.
type MermaidExporter struct{}

func NewMermaidExporter() *MermaidExporter { return &MermaidExporter{} }

func (e *MermaidExporter) FileExtension() string { return ".mmd" }
func (e *MermaidExporter) FormatName() string    { return "Mermaid" }

var mermaidStereotypes = map[diagram.NodeType]string{
	diagram.TypeAbstract:  "abstract",
	diagram.TypeInterface: "interface",
	diagram.TypeEnum:      "enumeration",
}

func (e *MermaidExporter) Export(d *diagram.Diagram) ([]File, error) {
	nodes := d.Nodes()
	if len(nodes) == 0 {
		return nil, ErrNoClasses
	}
	return []File{{Name: "diagram" + e.FileExtension(), Content: []byte(Mermaid(d))}}, nil
}

// Mermaid renders the classDiagram text.
func Mermaid(d *diagram.Diagram) string {
	var sb strings.Builder
	sb.WriteString("classDiagram\n")

	ids := make(map[string]string)
	for _, n := range d.Nodes() {
		id := Identifier(n.Data.Name)
		ids[n.ID] = id
		sb.WriteString(fmt.Sprintf("    class %s {\n", id))
		if st, ok := mermaidStereotypes[n.Data.Type]; ok {
			sb.WriteString(fmt.Sprintf("        <<%s>>\n", st))
		}
		for _, v := range n.Data.Variables {
			sb.WriteString(fmt.Sprintf("        %s%s %s\n", diagram.Glyph(v.AccessModifier), v.Type, v.Name))
		}
		for _, m := range n.Data.Methods {
			var params []string
			for _, p := range m.Parameters {
				params = append(params, p.Type+" "+p.Name)
			}
			line := fmt.Sprintf("        %s%s(%s)", diagram.Glyph(m.AccessModifier), m.Name, strings.Join(params, ", "))
			if m.Type != "" && m.Type != "void" {
				line += " " + m.Type
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("    }\n")
	}

	for _, edge := range d.RenderableEdges() {
		src, tgt := ids[edge.Source], ids[edge.Target]
		var line string
		switch edge.Kind {
		case diagram.Extend:
			line = tgt + " <|-- " + src
		case diagram.Implement:
			line = tgt + " <|.. " + src
		case diagram.Aggregation:
			line = tgt + " o-- " + src
		case diagram.Composition:
			line = tgt + " *-- " + src
		default:
			line = src + " --> " + tgt
		}
		if edge.Label != "" {
			line += " : " + edge.Label
		}
		sb.WriteString("    " + line + "\n")
	}
	return sb.String()
}
