package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petervdpas/protobench/internal/content"
)

// ErrNoProject is returned when no project has been saved under a name.
var ErrNoProject = errors.New("project not found")

// ErrNoRevision is returned when a project has no revision with an id.
var ErrNoRevision = errors.New("revision not found")

// DefaultRevisions is how many saved revisions are kept per project.
const DefaultRevisions = 20

// DB wraps the SQLite database holding saved projects.
type DB struct {
	db        *sql.DB
	path      string
	mu        sync.RWMutex
	revisions int
}

// Open opens or creates the project database in the given directory.
func Open(dir string) (*DB, error) {
	dbPath := filepath.Join(dir, "projects.db")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode for concurrent readers during saves
	if _, err := db.Exec(`
		PRAGMA foreign_keys = ON;
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create meta table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS projects (
			name       TEXT PRIMARY KEY,
			document   TEXT NOT NULL,
			files      INTEGER DEFAULT 0,
			folders    INTEGER DEFAULT 0,
			saved_at   DATETIME DEFAULT CURRENT_TIMESTAMP
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create projects table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS project_revisions (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			project   TEXT NOT NULL REFERENCES projects(name) ON DELETE CASCADE,
			document  TEXT NOT NULL,
			saved_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_revisions_project ON project_revisions(project, id);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create revisions table: %w", err)
	}

	return &DB{db: db, path: dbPath, revisions: DefaultRevisions}, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the database file path
func (d *DB) Path() string {
	return d.path
}

// SetRevisionLimit changes how many revisions are kept per project.
func (d *DB) SetRevisionLimit(n int) {
	if n < 1 {
		n = 1
	}
	d.mu.Lock()
	d.revisions = n
	d.mu.Unlock()
}

// ProjectInfo describes a saved project.
type ProjectInfo struct {
	Name    string    `json:"name"`
	Files   int       `json:"files"`
	Folders int       `json:"folders"`
	SavedAt time.Time `json:"saved_at"`
}

// Revision is one saved state of a project.
type Revision struct {
	ID      int64     `json:"id"`
	SavedAt time.Time `json:"saved_at"`
}

// SaveProject stores the tree as the project's current state and appends a
// revision, pruning revisions beyond the limit.
func (d *DB) SaveProject(ctx context.Context, name string, t *content.Tree) error {
	doc, err := content.ExportProject(t, false)
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	files, folders := t.Count()

	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projects (name, document, files, folders, saved_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			document = excluded.document,
			files    = excluded.files,
			folders  = excluded.folders,
			saved_at = CURRENT_TIMESTAMP`,
		name, string(doc), files, folders,
	); err != nil {
		return fmt.Errorf("save project: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO project_revisions (project, document) VALUES (?, ?)`,
		name, string(doc),
	); err != nil {
		return fmt.Errorf("save revision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM project_revisions
		WHERE project = ? AND id NOT IN (
			SELECT id FROM project_revisions WHERE project = ? ORDER BY id DESC LIMIT ?
		)`, name, name, d.revisions,
	); err != nil {
		return fmt.Errorf("prune revisions: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("STORE: saved %q (%d files, %d folders)", name, files, folders)
	return nil
}

// LoadProject returns the project's current tree.
func (d *DB) LoadProject(ctx context.Context, name string, opts ...content.Option) (*content.Tree, error) {
	d.mu.RLock()
	var doc string
	err := d.db.QueryRowContext(ctx, `SELECT document FROM projects WHERE name = ?`, name).Scan(&doc)
	d.mu.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNoProject, name)
	}
	if err != nil {
		return nil, err
	}
	return content.ImportProject([]byte(doc), opts...)
}

// ListProjects returns all saved projects ordered by name.
func (d *DB) ListProjects(ctx context.Context) ([]ProjectInfo, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx, `SELECT name, files, folders, saved_at FROM projects ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ProjectInfo
	for rows.Next() {
		var p ProjectInfo
		var savedAt string
		if err := rows.Scan(&p.Name, &p.Files, &p.Folders, &savedAt); err != nil {
			return nil, err
		}
		p.SavedAt = parseTimestamp(savedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProject removes a project and its revisions.
func (d *DB) DeleteProject(ctx context.Context, name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// foreign_keys is per connection, so revisions are removed explicitly
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_revisions WHERE project = ?`, name); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM projects WHERE name = ?`, name)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNoProject, name)
	}
	return tx.Commit()
}

// Revisions lists a project's revisions, newest first.
func (d *DB) Revisions(ctx context.Context, name string) ([]Revision, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.QueryContext(ctx,
		`SELECT id, saved_at FROM project_revisions WHERE project = ? ORDER BY id DESC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var r Revision
		var savedAt string
		if err := rows.Scan(&r.ID, &savedAt); err != nil {
			return nil, err
		}
		r.SavedAt = parseTimestamp(savedAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// LoadRevision returns the tree stored in one revision of a project.
func (d *DB) LoadRevision(ctx context.Context, name string, id int64, opts ...content.Option) (*content.Tree, error) {
	d.mu.RLock()
	var doc string
	err := d.db.QueryRowContext(ctx,
		`SELECT document FROM project_revisions WHERE project = ? AND id = ?`, name, id).Scan(&doc)
	d.mu.RUnlock()
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s revision %d", ErrNoRevision, name, id)
	}
	if err != nil {
		return nil, err
	}
	return content.ImportProject([]byte(doc), opts...)
}

// parseTimestamp reads CURRENT_TIMESTAMP text, or RFC 3339 when the driver
// has already converted the column.
func parseTimestamp(s string) time.Time {
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

// Persister returns a save callback bound to one project name.
func (d *DB) Persister(name string) func(ctx context.Context, t *content.Tree) error {
	return func(ctx context.Context, t *content.Tree) error {
		return d.SaveProject(ctx, name, t)
	}
}

// GetMeta reads a value from the metadata table. Missing keys return "".
func (d *DB) GetMeta(key string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var v string
	err := d.db.QueryRow(`SELECT value FROM _meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func (d *DB) SetMeta(key, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, err := d.db.Exec(`INSERT OR REPLACE INTO _meta (key, value) VALUES (?, ?)`, key, value)
	return err
}
