package services

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/panyam/classdraw/diagram"
)

const defaultDataDir = "./data"

// FileStore keeps everything as JSON files below a base directory:
//
//	<base>/projects/<id>.json
//	<base>/diagrams/<id>/diagram.json
//	<base>/diagrams/<id>/snapshot.json
//	<base>/diagrams/<id>/versions.json
type FileStore struct {
	basePath string
}

func NewFileStore(basePath string) (*FileStore, error) {
	resolvedPath := basePath
	if resolvedPath == "" {
		resolvedPath = defaultDataDir
	}
	absPath, err := filepath.Abs(resolvedPath)
	if err != nil {
		slog.Error("Failed to resolve absolute path", "path", resolvedPath, "error", err)
		return nil, fmt.Errorf("could not resolve data path '%s': %w", resolvedPath, err)
	}
	resolvedPath = absPath
	for _, dir := range []string{resolvedPath, filepath.Join(resolvedPath, "projects"), filepath.Join(resolvedPath, "diagrams")} {
		if err := ensureDir(dir); err != nil {
			return nil, fmt.Errorf("could not create data directory '%s': %w", dir, err)
		}
	}
	return &FileStore{basePath: resolvedPath}, nil
}

func (fs *FileStore) Close() error { return nil }

// --- Path Generation Methods ---

func (fs *FileStore) getProjectPath(projectId string) string {
	return filepath.Join(fs.basePath, "projects", sanitizeFilename(projectId)+".json")
}

func (fs *FileStore) getDiagramPath(diagramId string) string {
	return filepath.Join(fs.basePath, "diagrams", sanitizeFilename(diagramId))
}

func (fs *FileStore) getDiagramMetadataPath(diagramId string) string {
	return filepath.Join(fs.getDiagramPath(diagramId), "diagram.json")
}

func (fs *FileStore) getSnapshotPath(diagramId string) string {
	return filepath.Join(fs.getDiagramPath(diagramId), "snapshot.json")
}

func (fs *FileStore) getVersionsPath(diagramId string) string {
	return filepath.Join(fs.getDiagramPath(diagramId), "versions.json")
}

// --- Projects ---

func (fs *FileStore) SaveProject(ctx context.Context, p *Project) error {
	if p.Id == "" {
		return fmt.Errorf("project id cannot be empty")
	}
	return writeJSON(fs.getProjectPath(p.Id), p)
}

func (fs *FileStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := readJSON(fs.getProjectPath(id), &p); err != nil {
		return nil, err
	}
	if p.Id == "" {
		p.Id = id
	}
	return &p, nil
}

func (fs *FileStore) ListProjects(ctx context.Context) ([]*Project, error) {
	entries, err := os.ReadDir(filepath.Join(fs.basePath, "projects"))
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	var out []*Project
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		p, err := fs.GetProject(ctx, strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			slog.Warn("Skipping unreadable project", "file", entry.Name(), "error", err)
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b *Project) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Id, b.Id))
	})
	return out, nil
}

// --- Diagrams ---

func (fs *FileStore) SaveDiagram(ctx context.Context, d *Diagram) error {
	if d.Id == "" {
		return fmt.Errorf("diagram id cannot be empty")
	}
	return writeJSON(fs.getDiagramMetadataPath(d.Id), d)
}

// Reads the diagram metadata file (diagram.json).
func (fs *FileStore) GetDiagram(ctx context.Context, id string) (*Diagram, error) {
	var d Diagram
	if err := readJSON(fs.getDiagramMetadataPath(id), &d); err != nil {
		return nil, err
	}
	// Ensure ID from file matches expected ID
	if d.Id == "" {
		d.Id = id
	} else if d.Id != id {
		slog.Error("Diagram ID mismatch between directory and metadata file", "dirId", id, "fileId", d.Id)
		return nil, fmt.Errorf("diagram ID mismatch for %s", id)
	}
	return &d, nil
}

func (fs *FileStore) ListDiagrams(ctx context.Context, projectId string) ([]*Diagram, error) {
	entries, err := os.ReadDir(filepath.Join(fs.basePath, "diagrams"))
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}
	var out []*Diagram
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		d, err := fs.GetDiagram(ctx, entry.Name())
		if errors.Is(err, ErrNoSuchEntity) {
			continue
		} else if err != nil {
			slog.Warn("Skipping unreadable diagram", "dir", entry.Name(), "error", err)
			continue
		}
		if projectId != "" && d.ProjectId != projectId {
			continue
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *Diagram) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.Id, b.Id))
	})
	return out, nil
}

// Deletes the entire directory for a diagram.
func (fs *FileStore) DeleteDiagram(ctx context.Context, id string) error {
	diagramPath := fs.getDiagramPath(id)
	slog.Info("Attempting to delete diagram directory", "diagramId", id, "path", diagramPath)
	if err := os.RemoveAll(diagramPath); err != nil {
		if _, statErr := os.Stat(diagramPath); errors.Is(statErr, os.ErrNotExist) {
			return nil
		}
		slog.Error("Failed to delete diagram directory", "diagramId", id, "path", diagramPath, "error", err)
		return fmt.Errorf("failed to delete diagram %s: %w", id, err)
	}
	return nil
}

// --- Snapshots ---

func (fs *FileStore) SaveSnapshot(ctx context.Context, diagramId string, snap *diagram.Snapshot) error {
	return writeJSON(fs.getSnapshotPath(diagramId), snap)
}

func (fs *FileStore) LoadSnapshot(ctx context.Context, diagramId string) (*diagram.Snapshot, error) {
	f, err := os.Open(fs.getSnapshotPath(diagramId))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSuchEntity
		}
		return nil, fmt.Errorf("failed to open snapshot %s: %w", diagramId, err)
	}
	defer f.Close()
	return diagram.DecodeSnapshot(f)
}

func (fs *FileStore) SaveVersions(ctx context.Context, diagramId string, data []byte) error {
	path := fs.getVersionsPath(diagramId)
	if data == nil {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
		return nil
	}
	return writeFile(path, data)
}

func (fs *FileStore) LoadVersions(ctx context.Context, diagramId string) ([]byte, error) {
	data, err := os.ReadFile(fs.getVersionsPath(diagramId))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoSuchEntity
	} else if err != nil {
		return nil, fmt.Errorf("failed to read versions %s: %w", diagramId, err)
	}
	return data, nil
}

// --- Helpers ---

func readJSON(path string, out any) error {
	jsonData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrNoSuchEntity
		}
		slog.Error("Failed to read file", "path", path, "error", err)
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err = json.Unmarshal(jsonData, out); err != nil {
		slog.Error("Failed to unmarshal file", "path", path, "error", err)
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}

func writeJSON(path string, value any) error {
	jsonData, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize %s: %w", path, err)
	}
	return writeFile(path, jsonData)
}

// writeFile writes through a temp file and a rename so readers never see a
// half written file.
func writeFile(path string, data []byte) error {
	err := ensureDir(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("failed to ensure directory for %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err = os.WriteFile(tmp, data, 0644); err != nil {
		slog.Error("Failed to write file", "path", tmp, "error", err)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Creates a directory if it doesn't exist.
func ensureDir(path string) error {
	err := os.MkdirAll(path, 0755)
	if err != nil && !errors.Is(err, os.ErrExist) {
		slog.Error("Failed to create directory", "path", path, "error", err)
		return err
	}
	return nil
}

// Basic filename sanitizer
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	return name
}
