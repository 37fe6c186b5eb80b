package diagram

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Layout constants for the class block, in surface units.
const (
	charWidth     = 7.0
	lineHeight    = 18.0
	blockPadding  = 8.0
	minBlockWidth = 120.0
)

// ClassBlock is the visual projection of a node's data: a header band with
// an optional stereotype, a field compartment and a method compartment.
type ClassBlock struct {
	Stereotype string
	Header     string
	Fields     []string
	Methods    []string
}

// RenderClass projects node data into a ClassBlock. It is a pure function
// of data; nothing derived from it is stored on the node.
func RenderClass(data NodeData) ClassBlock {
	block := ClassBlock{
		Stereotype: stereotype(data.Type),
		Header:     data.Name,
	}
	for _, v := range data.Variables {
		block.Fields = append(block.Fields, renderField(v))
	}
	for _, m := range data.Methods {
		block.Methods = append(block.Methods, renderMethod(m))
	}
	return block
}

// Lines flattens the block top to bottom, with "--" between compartments.
func (b ClassBlock) Lines() []string {
	var out []string
	if b.Stereotype != "" {
		out = append(out, b.Stereotype)
	}
	out = append(out, b.Header, "--")
	out = append(out, b.Fields...)
	out = append(out, "--")
	out = append(out, b.Methods...)
	return out
}

// MinSize is the smallest box that fits every line. It is recomputed from
// the block each call.
func (b ClassBlock) MinSize() Size {
	widest := 0
	lines := b.Lines()
	for _, l := range lines {
		if n := utf8.RuneCountInString(l); n > widest {
			widest = n
		}
	}
	w := float64(widest)*charWidth + 2*blockPadding
	if w < minBlockWidth {
		w = minBlockWidth
	}
	return Size{Width: w, Height: float64(len(lines))*lineHeight + 2*blockPadding}
}

func (b ClassBlock) String() string {
	return strings.Join(b.Lines(), "\n")
}

func stereotype(t NodeType) string {
	switch t {
	case TypeInterface:
		return "«interface»"
	case TypeAbstract:
		return "«abstract»"
	case TypeEnum:
		return "«enumeration»"
	}
	return ""
}

// Glyph maps an access modifier to its UML visibility glyph. Unset reads
// as public.
func Glyph(m AccessModifier) string {
	switch m {
	case Private:
		return "-"
	case Protected:
		return "#"
	}
	return "+"
}

func renderField(v Variable) string {
	out := fmt.Sprintf("%s %s: %s", Glyph(v.AccessModifier), v.Name, v.Type)
	if v.Value != "" {
		out += " = " + FormatLiteral(v.Type, v.Value)
	}
	return out
}

func renderMethod(m Method) string {
	params := make([]string, len(m.Parameters))
	for i, p := range m.Parameters {
		params[i] = fmt.Sprintf("%s: %s", p.Name, p.Type)
	}
	ret := m.Type
	if ret == "" {
		ret = "void"
	}
	return fmt.Sprintf("%s %s(%s): %s", Glyph(m.AccessModifier), m.Name, strings.Join(params, ", "), ret)
}

// IsStringType reports whether a declared type holds text.
func IsStringType(typ string) bool {
	switch strings.ToLower(strings.TrimSpace(typ)) {
	case "string", "java.lang.string", "charsequence":
		return true
	}
	return false
}

// FormatLiteral renders an initial value for display or code. Text-typed
// values are quoted unless already quoted; numbers and everything else are
// left verbatim.
func FormatLiteral(typ, value string) string {
	if !IsStringType(typ) {
		return value
	}
	if len(value) >= 2 && strings.HasPrefix(value, `"`) && strings.HasSuffix(value, `"`) {
		return value
	}
	return strconv.Quote(value)
}
