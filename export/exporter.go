// Package export turns a diagram into downloadable artifacts: Java class
// stubs, a Mermaid class diagram, or a re-importable project archive.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/panyam/classdraw/diagram"
)

var ErrNoClasses = errors.New("diagram has no class-like nodes to export")

type Format string

const (
	FormatJava    Format = "java"
	FormatMermaid Format = "mermaid"
	FormatProject Format = "project"
)

// File is one generated file, named relative to the archive directory.
type File struct {
	Name    string
	Content []byte
}

type Exporter interface {
	// Export renders the diagram into one or more files.
	Export(d *diagram.Diagram) ([]File, error)
	FileExtension() string
	FormatName() string
}

func NewExporter(format Format) (Exporter, error) {
	switch format {
	case FormatJava:
		return NewJavaExporter(), nil
	case FormatMermaid:
		return NewMermaidExporter(), nil
	case FormatProject:
		return NewProjectExporter(), nil
	}
	return nil, fmt.Errorf("unsupported export format: %s", format)
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "java":
		return FormatJava, nil
	case "mermaid", "mmd":
		return FormatMermaid, nil
	case "project", "json", "zip":
		return FormatProject, nil
	}
	return "", fmt.Errorf("unknown format: %s", s)
}

func AvailableFormats() []Format {
	return []Format{FormatJava, FormatMermaid, FormatProject}
}

// Bundle exports d in the given format and writes it as a zip with a single
// top-level directory named after the diagram.
func Bundle(w io.Writer, d *diagram.Diagram, format Format) error {
	ex, err := NewExporter(format)
	if err != nil {
		return err
	}
	files, err := ex.Export(d)
	if err != nil {
		return fmt.Errorf("%s export failed: %w", ex.FormatName(), err)
	}
	return WriteArchive(w, ArchiveDir(d.Name), files)
}
