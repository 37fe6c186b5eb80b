package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/panyam/classdraw/diagram"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps projects and diagrams in tables and snapshots as JSON
// blobs in a single SQLite database.
type SQLiteStore struct {
	conn   *sql.DB
	dbPath string
}

func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = filepath.Join(defaultDataDir, "classdraw.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		conn.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	store := &SQLiteStore{conn: conn, dbPath: dbPath}
	if err := store.initializeSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	slog.Info("Opened sqlite store", "path", dbPath)
	return store, nil
}

func (s *SQLiteStore) initializeSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			description TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS diagrams (
			id TEXT PRIMARY KEY,
			project_id TEXT,
			name TEXT NOT NULL,
			description TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			version INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_diagrams_project ON diagrams(project_id);

		CREATE TABLE IF NOT EXISTS snapshots (
			diagram_id TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS versions (
			diagram_id TEXT PRIMARY KEY,
			data BLOB NOT NULL
		);
	`
	_, err := s.conn.Exec(schema)
	return err
}

func (s *SQLiteStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *SQLiteStore) SaveProject(ctx context.Context, p *Project) error {
	query := `
		INSERT INTO projects (id, name, description, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at,
			version = excluded.version
	`
	_, err := s.conn.ExecContext(ctx, query,
		p.Id, p.Name, p.Description,
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt), p.Version)
	if err != nil {
		return fmt.Errorf("failed to save project %s: %w", p.Id, err)
	}
	return nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, name, description, created_at, updated_at, version FROM projects WHERE id = ?`, id)
	p, err := scanProject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchEntity
	}
	return p, err
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, name, description, created_at, updated_at, version FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var out []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveDiagram(ctx context.Context, d *Diagram) error {
	query := `
		INSERT INTO diagrams (id, project_id, name, description, created_at, updated_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			project_id = excluded.project_id,
			name = excluded.name,
			description = excluded.description,
			updated_at = excluded.updated_at,
			version = excluded.version
	`
	_, err := s.conn.ExecContext(ctx, query,
		d.Id, nullString(d.ProjectId), d.Name, d.Description,
		formatTime(d.CreatedAt), formatTime(d.UpdatedAt), d.Version)
	if err != nil {
		return fmt.Errorf("failed to save diagram %s: %w", d.Id, err)
	}
	return nil
}

func (s *SQLiteStore) GetDiagram(ctx context.Context, id string) (*Diagram, error) {
	row := s.conn.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, created_at, updated_at, version FROM diagrams WHERE id = ?`, id)
	d, err := scanDiagram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchEntity
	}
	return d, err
}

func (s *SQLiteStore) ListDiagrams(ctx context.Context, projectId string) ([]*Diagram, error) {
	query := `SELECT id, project_id, name, description, created_at, updated_at, version FROM diagrams`
	var args []any
	if projectId != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectId)
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list diagrams: %w", err)
	}
	defer rows.Close()

	var out []*Diagram
	for rows.Next() {
		d, err := scanDiagram(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteDiagram(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM snapshots WHERE diagram_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM versions WHERE diagram_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete versions %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM diagrams WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete diagram %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, diagramId string, snap *diagram.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot %s: %w", diagramId, err)
	}
	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO snapshots (diagram_id, data, saved_at) VALUES (?, ?, ?)
		ON CONFLICT(diagram_id) DO UPDATE SET data = excluded.data, saved_at = excluded.saved_at
	`, diagramId, string(data), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", diagramId, err)
	}
	return nil
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context, diagramId string) (*diagram.Snapshot, error) {
	var data string
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM snapshots WHERE diagram_id = ?`, diagramId).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchEntity
	} else if err != nil {
		return nil, fmt.Errorf("failed to load snapshot %s: %w", diagramId, err)
	}
	var snap diagram.Snapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot %s: %w", diagramId, err)
	}
	return &snap, nil
}

func (s *SQLiteStore) SaveVersions(ctx context.Context, diagramId string, data []byte) error {
	var err error
	if data == nil {
		_, err = s.conn.ExecContext(ctx, `DELETE FROM versions WHERE diagram_id = ?`, diagramId)
	} else {
		_, err = s.conn.ExecContext(ctx, `
			INSERT INTO versions (diagram_id, data) VALUES (?, ?)
			ON CONFLICT(diagram_id) DO UPDATE SET data = excluded.data
		`, diagramId, data)
	}
	if err != nil {
		return fmt.Errorf("failed to save versions %s: %w", diagramId, err)
	}
	return nil
}

func (s *SQLiteStore) LoadVersions(ctx context.Context, diagramId string) ([]byte, error) {
	var data []byte
	err := s.conn.QueryRowContext(ctx, `SELECT data FROM versions WHERE diagram_id = ?`, diagramId).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSuchEntity
	} else if err != nil {
		return nil, fmt.Errorf("failed to load versions %s: %w", diagramId, err)
	}
	return data, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProject(row scanner) (*Project, error) {
	var p Project
	var description sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&p.Id, &p.Name, &description, &createdAt, &updatedAt, &p.Version); err != nil {
		return nil, err
	}
	p.Description = description.String
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

func scanDiagram(row scanner) (*Diagram, error) {
	var d Diagram
	var projectId, description sql.NullString
	var createdAt, updatedAt string
	if err := row.Scan(&d.Id, &projectId, &d.Name, &description, &createdAt, &updatedAt, &d.Version); err != nil {
		return nil, err
	}
	d.ProjectId = projectId.String
	d.Description = description.String
	d.CreatedAt = parseTime(createdAt)
	d.UpdatedAt = parseTime(updatedAt)
	return &d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// fixed width so that text ordering is time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}
