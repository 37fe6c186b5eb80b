package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/panyam/classdraw/collab"
	"github.com/panyam/classdraw/diagram"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DiagramService is the CRUD layer over a Store. Every method returns gRPC
// status errors so transports can map them uniformly. It also serves as the
// state store of the live collaboration hub.
type DiagramService struct {
	store    Store
	idgen    IDGen
	mutexMap sync.Map // Mutex map keyed by diagram ID
	now      func() time.Time
}

func NewDiagramService(store Store) *DiagramService {
	out := &DiagramService{store: store, now: time.Now}
	out.idgen = IDGen{
		MaxRetries: 10,
		NextIDFunc: (&SimpleIDGen{}).NextID,
		GetID:      out.getGenID,
	}
	return out
}

func (s *DiagramService) Store() Store { return s.store }

func (s *DiagramService) getGenID(ctx context.Context, kind, id string) (*GenID, error) {
	var err error
	if kind == "project" {
		_, err = s.store.GetProject(ctx, id)
	} else {
		_, err = s.store.GetDiagram(ctx, id)
	}
	if errors.Is(err, ErrNoSuchEntity) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &GenID{Id: id, Kind: kind}, nil
}

// Helper to get or create a mutex for a specific diagram ID
func (s *DiagramService) getDiagramMutex(diagramId string) *sync.Mutex {
	mutex, _ := s.mutexMap.LoadOrStore(diagramId, &sync.Mutex{})
	return mutex.(*sync.Mutex)
}

func storeError(err error, kind, id string) error {
	if errors.Is(err, ErrNoSuchEntity) {
		return status.Errorf(codes.NotFound, "%s '%s' not found", kind, id)
	}
	slog.Error("Store operation failed", "kind", kind, "id", id, "error", err)
	return status.Errorf(codes.Internal, "failed to access %s '%s': %v", kind, id, err)
}

// --- Projects ---

func (s *DiagramService) CreateProject(ctx context.Context, project *Project) (*Project, error) {
	if project == nil {
		return nil, status.Error(codes.InvalidArgument, "Project payload cannot be nil")
	}
	name := strings.TrimSpace(project.Name)
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "A project name MUST be specified")
	}
	out := &Project{Id: project.Id, Name: name, Description: project.Description}
	if out.Id == "" {
		genid, err := s.idgen.NextID(ctx, "project")
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to generate project id: %v", err)
		}
		out.Id = genid.Id
	} else if _, err := s.store.GetProject(ctx, out.Id); err == nil {
		return nil, status.Errorf(codes.AlreadyExists, "project '%s' already exists", out.Id)
	} else if !errors.Is(err, ErrNoSuchEntity) {
		return nil, storeError(err, "project", out.Id)
	}
	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	if err := s.store.SaveProject(ctx, out); err != nil {
		return nil, storeError(err, "project", out.Id)
	}
	slog.Info("Created project", "projectId", out.Id, "name", out.Name)
	return out, nil
}

func (s *DiagramService) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, storeError(err, "project", id)
	}
	return p, nil
}

func (s *DiagramService) ListProjects(ctx context.Context) ([]*Project, error) {
	out, err := s.store.ListProjects(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list projects: %v", err)
	}
	return out, nil
}

// --- Diagrams ---

// CreateDiagram registers a new diagram. When snap is not nil it becomes the
// diagram's initial content; its cells are validated first.
func (s *DiagramService) CreateDiagram(ctx context.Context, d *Diagram, snap *diagram.Snapshot) (*Diagram, error) {
	if d == nil {
		return nil, status.Error(codes.InvalidArgument, "Diagram payload cannot be nil")
	}
	name := strings.TrimSpace(d.Name)
	if name == "" && snap != nil {
		name = strings.TrimSpace(snap.Name)
	}
	if name == "" {
		return nil, status.Error(codes.InvalidArgument, "A diagram name MUST be specified")
	}
	if d.ProjectId != "" {
		if _, err := s.store.GetProject(ctx, d.ProjectId); err != nil {
			if errors.Is(err, ErrNoSuchEntity) {
				return nil, status.Errorf(codes.InvalidArgument, "project '%s' does not exist", d.ProjectId)
			}
			return nil, storeError(err, "project", d.ProjectId)
		}
	}

	out := &Diagram{Id: d.Id, ProjectId: d.ProjectId, Name: name, Description: d.Description}
	if out.Id == "" {
		genid, err := s.idgen.NextID(ctx, "diagram")
		if err != nil {
			return nil, status.Errorf(codes.Internal, "failed to generate diagram id: %v", err)
		}
		out.Id = genid.Id
	}

	mutex := s.getDiagramMutex(out.Id)
	mutex.Lock()
	defer mutex.Unlock()

	if _, err := s.store.GetDiagram(ctx, out.Id); err == nil {
		return nil, status.Errorf(codes.AlreadyExists, "diagram '%s' already exists", out.Id)
	} else if !errors.Is(err, ErrNoSuchEntity) {
		return nil, storeError(err, "diagram", out.Id)
	}

	var initial *diagram.Snapshot
	if snap != nil {
		var err error
		if initial, err = normalize(out, snap, true); err != nil {
			return nil, err
		}
	}

	out.CreatedAt = s.now()
	out.UpdatedAt = out.CreatedAt
	if err := s.store.SaveDiagram(ctx, out); err != nil {
		return nil, storeError(err, "diagram", out.Id)
	}
	if initial != nil {
		if err := s.store.SaveSnapshot(ctx, out.Id, initial); err != nil {
			return nil, storeError(err, "diagram", out.Id)
		}
	}
	slog.Info("Created diagram", "diagramId", out.Id, "name", out.Name, "projectId", out.ProjectId)
	return out, nil
}

func (s *DiagramService) GetDiagram(ctx context.Context, id string) (*Diagram, error) {
	d, err := s.store.GetDiagram(ctx, id)
	if err != nil {
		return nil, storeError(err, "diagram", id)
	}
	return d, nil
}

func (s *DiagramService) ListDiagrams(ctx context.Context, projectId string) ([]*Diagram, error) {
	out, err := s.store.ListDiagrams(ctx, projectId)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to list diagrams: %v", err)
	}
	return out, nil
}

func (s *DiagramService) DeleteDiagram(ctx context.Context, id string) error {
	mutex := s.getDiagramMutex(id)
	mutex.Lock()
	defer mutex.Unlock()

	if _, err := s.store.GetDiagram(ctx, id); err != nil {
		return storeError(err, "diagram", id)
	}
	if err := s.store.DeleteDiagram(ctx, id); err != nil {
		return storeError(err, "diagram", id)
	}
	s.mutexMap.Delete(id)
	slog.Info("Deleted diagram", "diagramId", id)
	return nil
}

// --- Snapshots ---

// GetSnapshot returns the diagram's content. A diagram that was never saved
// has an empty snapshot.
func (s *DiagramService) GetSnapshot(ctx context.Context, id string) (*diagram.Snapshot, error) {
	d, err := s.store.GetDiagram(ctx, id)
	if err != nil {
		return nil, storeError(err, "diagram", id)
	}
	snap, err := s.store.LoadSnapshot(ctx, id)
	if errors.Is(err, ErrNoSuchEntity) {
		return diagram.NewDiagram(d.Id, d.Name).Snapshot(), nil
	} else if err != nil {
		return nil, storeError(err, "diagram", id)
	}
	return snap, nil
}

// LoadSnapshot is GetSnapshot except that a diagram that was never saved
// loads as nil.
func (s *DiagramService) LoadSnapshot(ctx context.Context, id string) (*diagram.Snapshot, error) {
	if _, err := s.store.GetDiagram(ctx, id); err != nil {
		return nil, storeError(err, "diagram", id)
	}
	snap, err := s.store.LoadSnapshot(ctx, id)
	if errors.Is(err, ErrNoSuchEntity) {
		return nil, nil
	} else if err != nil {
		return nil, storeError(err, "diagram", id)
	}
	return snap, nil
}

// ReplaceSnapshot validates snap and makes it the diagram's content. Any
// versions a live room saved are dropped with the old content.
func (s *DiagramService) ReplaceSnapshot(ctx context.Context, id string, snap *diagram.Snapshot) error {
	return s.saveSnapshot(ctx, id, snap, true, nil)
}

// SaveSnapshot stores snap without validating it and without versions. Edges
// whose endpoints are not there yet are kept, as a live room keeps them.
func (s *DiagramService) SaveSnapshot(ctx context.Context, id string, snap *diagram.Snapshot) error {
	return s.saveSnapshot(ctx, id, snap, false, nil)
}

// roomVersions is the part of a room's state saved next to its snapshot.
type roomVersions struct {
	Versions   map[string]collab.FieldStamps `json:"versions,omitempty"`
	Tombstones map[string]collab.Stamp       `json:"tombstones,omitempty"`
	Clock      uint64                        `json:"clock"`
}

// LoadState is the hub's view of a diagram: its snapshot with the field
// versions and tombstones the last room saved. A diagram that was never saved
// loads as nil.
func (s *DiagramService) LoadState(ctx context.Context, id string) (*collab.SyncState, error) {
	snap, err := s.LoadSnapshot(ctx, id)
	if err != nil || snap == nil {
		return nil, err
	}
	state := &collab.SyncState{Snapshot: snap}
	data, err := s.store.LoadVersions(ctx, id)
	if errors.Is(err, ErrNoSuchEntity) {
		return state, nil
	} else if err != nil {
		return nil, storeError(err, "diagram", id)
	}
	var saved roomVersions
	if err := json.Unmarshal(data, &saved); err != nil {
		slog.Warn("Ignoring unreadable diagram versions", "diagramId", id, "error", err)
		return state, nil
	}
	state.Versions, state.Tombstones, state.Clock = saved.Versions, saved.Tombstones, saved.Clock
	return state, nil
}

// SaveState stores what a live room holds, leniently like SaveSnapshot, and
// keeps its versions so the room can be reopened without losing removals.
func (s *DiagramService) SaveState(ctx context.Context, id string, state *collab.SyncState) error {
	if state == nil {
		return status.Error(codes.InvalidArgument, "State payload cannot be nil")
	}
	data, err := json.Marshal(roomVersions{Versions: state.Versions, Tombstones: state.Tombstones, Clock: state.Clock})
	if err != nil {
		return status.Errorf(codes.Internal, "failed to serialize versions of %s: %v", id, err)
	}
	return s.saveSnapshot(ctx, id, state.Snapshot, false, data)
}

func (s *DiagramService) saveSnapshot(ctx context.Context, id string, snap *diagram.Snapshot, strict bool, versions []byte) error {
	if snap == nil {
		return status.Error(codes.InvalidArgument, "Snapshot payload cannot be nil")
	}
	mutex := s.getDiagramMutex(id)
	mutex.Lock()
	defer mutex.Unlock()

	d, err := s.store.GetDiagram(ctx, id)
	if err != nil {
		return storeError(err, "diagram", id)
	}
	normalized, err := normalize(d, snap, strict)
	if err != nil {
		return err
	}
	if err := s.store.SaveSnapshot(ctx, id, normalized); err != nil {
		return storeError(err, "diagram", id)
	}
	if err := s.store.SaveVersions(ctx, id, versions); err != nil {
		return storeError(err, "diagram", id)
	}
	d.Version++
	d.UpdatedAt = s.now()
	if err := s.store.SaveDiagram(ctx, d); err != nil {
		return storeError(err, "diagram", id)
	}
	slog.Debug("Saved snapshot", "diagramId", id, "version", d.Version, "nodes", len(normalized.Nodes), "edges", len(normalized.Edges))
	return nil
}

// normalize rebuilds snap under the catalog entry's identity. Strict mode
// also rejects unknown types, unknown edge kinds and dangling edges.
func normalize(d *Diagram, snap *diagram.Snapshot, strict bool) (*diagram.Snapshot, error) {
	copied := *snap
	copied.ID = d.Id
	if copied.Name == "" {
		copied.Name = d.Name
	}
	g, err := diagram.FromSnapshot(&copied)
	if err == nil && strict {
		err = g.Validate()
	}
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("invalid diagram content: %v", err))
	}
	return g.Snapshot(), nil
}
