package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/panyam/classdraw/diagram"
)

var (
	ErrNoSuchEntity = errors.New("entity not found")
	ErrIDsExhausted = errors.New("could not find a free id")
)

// Store persists projects, diagram catalog entries and diagram snapshots.
// Lookups of missing entities return ErrNoSuchEntity.
type Store interface {
	SaveProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	SaveDiagram(ctx context.Context, d *Diagram) error
	GetDiagram(ctx context.Context, id string) (*Diagram, error)
	// ListDiagrams returns every diagram, or only those of projectId when it
	// is not empty, oldest first.
	ListDiagrams(ctx context.Context, projectId string) ([]*Diagram, error)
	// DeleteDiagram removes the diagram and its snapshot. Deleting a missing
	// diagram is not an error.
	DeleteDiagram(ctx context.Context, id string) error

	SaveSnapshot(ctx context.Context, diagramId string, snap *diagram.Snapshot) error
	LoadSnapshot(ctx context.Context, diagramId string) (*diagram.Snapshot, error)

	// SaveVersions keeps opaque collaboration metadata next to a snapshot;
	// nil data removes it.
	SaveVersions(ctx context.Context, diagramId string, data []byte) error
	LoadVersions(ctx context.Context, diagramId string) ([]byte, error)

	Close() error
}

// Store backends accepted by OpenStore.
const (
	BackendFS        = "fs"
	BackendSQLite    = "sqlite"
	BackendDatastore = "datastore"
)

type StoreOptions struct {
	Backend          string
	DataDir          string
	SQLitePath       string
	DatastoreProject string
}

// OpenStore opens the backend named by opts.Backend.
func OpenStore(ctx context.Context, opts StoreOptions) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", BackendFS:
		return NewFileStore(opts.DataDir)
	case BackendSQLite:
		path := opts.SQLitePath
		if path == "" && opts.DataDir != "" {
			path = filepath.Join(opts.DataDir, "classdraw.db")
		}
		return OpenSQLiteStore(path)
	case BackendDatastore:
		return NewDatastoreStore(ctx, opts.DatastoreProject)
	}
	return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
}
