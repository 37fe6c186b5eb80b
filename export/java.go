package export

import (
	"strings"

	"github.com/panyam/classdraw/diagram"
)

// JavaExporter writes one .java stub per class-like node. Inheritance is
// taken from the node's own Extends and Implements fields only; edges are
// not consulted (see Divergences).
type JavaExporter struct{}

func NewJavaExporter() *JavaExporter { return &JavaExporter{} }

func (e *JavaExporter) FileExtension() string { return ".java" }
func (e *JavaExporter) FormatName() string    { return "Java" }

func (e *JavaExporter) Export(d *diagram.Diagram) ([]File, error) {
	names := uniqueNames{}
	var files []File
	for _, n := range d.Nodes() {
		if !n.Data.Type.Valid() {
			continue
		}
		files = append(files, File{
			Name:    names.next(Identifier(n.Data.Name), e.FileExtension()),
			Content: []byte(JavaSource(n.Data)),
		})
	}
	if len(files) == 0 {
		return nil, ErrNoClasses
	}
	return files, nil
}

// JavaSource renders the stub for one node. The output is not checked for
// being valid Java.
func JavaSource(data diagram.NodeData) string {
	var b strings.Builder
	if pkg := strings.TrimSpace(data.Package); pkg != "" && pkg != "default" {
		b.WriteString("package " + pkg + ";\n\n")
	}
	b.WriteString(javaHeader(data) + " {\n")

	if data.Type == diagram.TypeEnum {
		var constants []string
		for _, v := range data.Variables {
			constants = append(constants, v.Name)
		}
		if len(constants) > 0 {
			b.WriteString("    " + strings.Join(constants, ", ") + ";\n")
		}
	} else {
		for _, v := range data.Variables {
			b.WriteString("    " + javaField(v) + "\n")
		}
	}
	if len(data.Variables) > 0 && len(data.Methods) > 0 {
		b.WriteString("\n")
	}
	for _, m := range data.Methods {
		b.WriteString("    " + javaMethod(m) + "\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func javaHeader(data diagram.NodeData) string {
	name := Identifier(data.Name)
	switch data.Type {
	case diagram.TypeInterface:
		// interfaces extend, never implement
		var parents []string
		if data.Extends != "" {
			parents = append(parents, data.Extends)
		}
		parents = append(parents, data.Implements...)
		return "public interface " + name + inheritance("extends", parents)
	case diagram.TypeEnum:
		return "public enum " + name + inheritance("implements", data.Implements)
	}
	kw := "public class "
	if data.Type == diagram.TypeAbstract {
		kw = "public abstract class "
	}
	out := kw + name
	if data.Extends != "" {
		out += " extends " + data.Extends
	}
	return out + inheritance("implements", data.Implements)
}

func inheritance(keyword string, names []string) string {
	if len(names) == 0 {
		return ""
	}
	return " " + keyword + " " + strings.Join(names, ", ")
}

func modifiers(access diagram.AccessModifier, static, final bool) string {
	parts := []string{string(access)}
	if access == "" {
		parts[0] = string(diagram.Public)
	}
	if static {
		parts = append(parts, "static")
	}
	if final {
		parts = append(parts, "final")
	}
	return strings.Join(parts, " ")
}

func javaField(v diagram.Variable) string {
	typ := v.Type
	if typ == "" {
		typ = "Object"
	}
	out := modifiers(v.AccessModifier, v.Static, v.Final) + " " + typ + " " + v.Name
	if v.Value != "" {
		out += " = " + diagram.FormatLiteral(v.Type, v.Value)
	}
	return out + ";"
}

func javaMethod(m diagram.Method) string {
	ret := m.Type
	if ret == "" {
		ret = "void"
	}
	return modifiers(m.AccessModifier, m.Static, m.Final) + " " + ret + " " + m.Name + "() {}"
}
