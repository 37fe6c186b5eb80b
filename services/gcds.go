package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/panyam/classdraw/diagram"
)

// DataStore is a typed view over one Datastore kind whose entities are keyed
// by name.
type DataStore[T any] struct {
	DSClient *datastore.Client
	kind     string
}

func NewDataStore[T any](client *datastore.Client, kind string) *DataStore[T] {
	return &DataStore[T]{DSClient: client, kind: kind}
}

func (ds *DataStore[T]) Kind() string {
	return ds.kind
}

func (ds *DataStore[T]) Key(id string) *datastore.Key {
	return datastore.NameKey(ds.kind, id, nil)
}

func (ds *DataStore[T]) GetByID(ctx context.Context, id string) (*T, error) {
	var out T
	err := ds.DSClient.Get(ctx, ds.Key(id), &out)
	if err != nil {
		if errors.Is(err, datastore.ErrNoSuchEntity) {
			return nil, ErrNoSuchEntity
		}
		slog.Error("Error getting by ID", "kind", ds.kind, "id", id, "err", err)
		return nil, err
	}
	return &out, nil
}

func (ds *DataStore[T]) DeleteByID(ctx context.Context, id string) error {
	return ds.DSClient.Delete(ctx, ds.Key(id))
}

func (ds *DataStore[T]) Put(ctx context.Context, id string, entity *T) error {
	_, err := ds.DSClient.Put(ctx, ds.Key(id), entity)
	return err
}

func (ds *DataStore[T]) NewQuery() *datastore.Query {
	return datastore.NewQuery(ds.kind)
}

func (ds *DataStore[T]) Select(ctx context.Context, query *datastore.Query) (out []*T, err error) {
	_, err = ds.DSClient.GetAll(ctx, query, &out)
	if err != nil {
		slog.Error("error selecting with query", "kind", ds.kind, "err", err)
		return nil, err
	}
	return
}

type snapshotEntity struct {
	Data    []byte    `datastore:"data,noindex"`
	SavedAt time.Time `datastore:"savedAt"`
}

type versionsEntity struct {
	Data []byte `datastore:"data,noindex"`
}

// DatastoreStore is the Cloud Datastore backend. Projects, diagrams,
// snapshots and versions are kinds keyed by diagram or project id.
type DatastoreStore struct {
	client    *datastore.Client
	projects  *DataStore[Project]
	diagrams  *DataStore[Diagram]
	snapshots *DataStore[snapshotEntity]
	versions  *DataStore[versionsEntity]
}

// NewDatastoreStore connects to projectId, or to the emulator when
// DATASTORE_EMULATOR_HOST is set.
func NewDatastoreStore(ctx context.Context, projectId string) (*DatastoreStore, error) {
	if projectId == "" {
		projectId = datastore.DetectProjectID
	}
	client, err := datastore.NewClient(ctx, projectId)
	if err != nil {
		return nil, fmt.Errorf("failed to create datastore client: %w", err)
	}
	return &DatastoreStore{
		client:    client,
		projects:  NewDataStore[Project](client, "Project"),
		diagrams:  NewDataStore[Diagram](client, "Diagram"),
		snapshots: NewDataStore[snapshotEntity](client, "Snapshot"),
		versions:  NewDataStore[versionsEntity](client, "Versions"),
	}, nil
}

func (s *DatastoreStore) Close() error {
	return s.client.Close()
}

func (s *DatastoreStore) SaveProject(ctx context.Context, p *Project) error {
	return s.projects.Put(ctx, p.Id, p)
}

func (s *DatastoreStore) GetProject(ctx context.Context, id string) (*Project, error) {
	return s.projects.GetByID(ctx, id)
}

func (s *DatastoreStore) ListProjects(ctx context.Context) ([]*Project, error) {
	return s.projects.Select(ctx, s.projects.NewQuery().Order("createdAt"))
}

func (s *DatastoreStore) SaveDiagram(ctx context.Context, d *Diagram) error {
	return s.diagrams.Put(ctx, d.Id, d)
}

func (s *DatastoreStore) GetDiagram(ctx context.Context, id string) (*Diagram, error) {
	return s.diagrams.GetByID(ctx, id)
}

func (s *DatastoreStore) ListDiagrams(ctx context.Context, projectId string) ([]*Diagram, error) {
	query := s.diagrams.NewQuery()
	if projectId != "" {
		query = query.FilterField("projectId", "=", projectId)
	}
	return s.diagrams.Select(ctx, query.Order("createdAt"))
}

func (s *DatastoreStore) DeleteDiagram(ctx context.Context, id string) error {
	err := s.client.DeleteMulti(ctx, []*datastore.Key{s.versions.Key(id), s.snapshots.Key(id), s.diagrams.Key(id)})
	if err != nil {
		return fmt.Errorf("failed to delete diagram %s: %w", id, err)
	}
	return nil
}

func (s *DatastoreStore) SaveSnapshot(ctx context.Context, diagramId string, snap *diagram.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot %s: %w", diagramId, err)
	}
	return s.snapshots.Put(ctx, diagramId, &snapshotEntity{Data: data, SavedAt: time.Now()})
}

func (s *DatastoreStore) LoadSnapshot(ctx context.Context, diagramId string) (*diagram.Snapshot, error) {
	ent, err := s.snapshots.GetByID(ctx, diagramId)
	if err != nil {
		return nil, err
	}
	var snap diagram.Snapshot
	if err := json.Unmarshal(ent.Data, &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", diagramId, err)
	}
	return &snap, nil
}

func (s *DatastoreStore) SaveVersions(ctx context.Context, diagramId string, data []byte) error {
	if data == nil {
		return s.versions.DeleteByID(ctx, diagramId)
	}
	return s.versions.Put(ctx, diagramId, &versionsEntity{Data: data})
}

func (s *DatastoreStore) LoadVersions(ctx context.Context, diagramId string) ([]byte, error) {
	ent, err := s.versions.GetByID(ctx, diagramId)
	if err != nil {
		return nil, err
	}
	return ent.Data, nil
}
