package export

import (
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/klauspost/compress/zip"
	"github.com/panyam/classdraw/diagram"
)

// ProjectFile is the name of the snapshot inside a project archive.
const ProjectFile = "diagram.json"

// WriteArchive zips files under a single top-level directory.
func WriteArchive(w io.Writer, dir string, files []File) error {
	zw := zip.NewWriter(w)
	for _, f := range files {
		fw, err := zw.Create(path.Join(dir, f.Name))
		if err != nil {
			return fmt.Errorf("failed to add %s to archive: %w", f.Name, err)
		}
		if _, err := fw.Write(f.Content); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

// ProjectExporter writes the diagram snapshot itself, which the importer
// reads back.
type ProjectExporter struct{}

func NewProjectExporter() *ProjectExporter { return &ProjectExporter{} }

func (e *ProjectExporter) FileExtension() string { return ".json" }
func (e *ProjectExporter) FormatName() string    { return "Project" }

func (e *ProjectExporter) Export(d *diagram.Diagram) ([]File, error) {
	data, err := json.MarshalIndent(d.Snapshot(), "", "  ")
	if err != nil {
		return nil, err
	}
	return []File{{Name: ProjectFile, Content: data}}, nil
}

// WriteProjectArchive writes <name>/diagram.json for a snapshot.
func WriteProjectArchive(w io.Writer, snap *diagram.Snapshot) error {
	d, err := diagram.FromSnapshot(snap)
	if err != nil {
		return err
	}
	files, err := NewProjectExporter().Export(d)
	if err != nil {
		return err
	}
	return WriteArchive(w, ArchiveDir(snap.Name), files)
}
