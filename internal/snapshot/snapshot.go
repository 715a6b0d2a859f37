// Package snapshot exports a point-in-time copy of a world's node and
// situation replicas into a local SQLite file for offline inspection.
//
// This is a SUPPLEMENTED capability, not something spec.md calls for: a
// diagnostic export, not an offline operating mode, so it does not
// conflict with the "no offline operation" non-goal (§1) — the snapshot
// is read-only once written and is never read back into a live proxy.
//
// Grounded on the teacher's internal/state/schema.go (pragma'd SQLite
// open) and internal/state/migrate.go (golang-migrate with an embedded
// iofs source and the modernc.org/sqlite driver), adapted from the
// teacher's platform/subscription schema to this module's node/situation
// shape.
package snapshot

import (
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/uwrobotics/underworlds/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Writer appends nodes and situations to a snapshot SQLite file.
type Writer struct {
	db *sql.DB
}

// Open creates (or reuses) a snapshot database at path, migrates its
// schema, and records worldName/taken-at metadata.
func Open(path, worldName string) (*Writer, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("snapshot: exec %q on %s: %w", p, path, err)
		}
	}

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}

	now := float64(time.Now().UnixNano()) / 1e9
	if _, err := db.Exec(`
		INSERT INTO snapshot_meta (id, world_name, taken_at) VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET world_name=excluded.world_name, taken_at=excluded.taken_at`,
		worldName, now); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot: write meta: %w", err)
	}

	return &Writer{db: db}, nil
}

func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("snapshot: migrations source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("snapshot: migrations driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("snapshot: migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("snapshot: migrate up: %w", err)
	}
	return nil
}

// WriteNode upserts one node into the snapshot.
func (w *Writer) WriteNode(n model.Node) error {
	children, err := json.Marshal(n.Children)
	if err != nil {
		return fmt.Errorf("snapshot: marshal children for %s: %w", n.ID, err)
	}
	transform, err := json.Marshal(n.Transformation)
	if err != nil {
		return fmt.Errorf("snapshot: marshal transformation for %s: %w", n.ID, err)
	}
	props, err := json.Marshal(n.Properties)
	if err != nil {
		return fmt.Errorf("snapshot: marshal properties for %s: %w", n.ID, err)
	}

	_, err = w.db.Exec(`
		INSERT INTO nodes (id, name, type, parent, children_json, transformation_json, properties_json, last_update)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, type=excluded.type, parent=excluded.parent,
			children_json=excluded.children_json, transformation_json=excluded.transformation_json,
			properties_json=excluded.properties_json, last_update=excluded.last_update`,
		n.ID, n.Name, int(n.Type), n.Parent, string(children), string(transform), string(props), n.LastUpdate)
	if err != nil {
		return fmt.Errorf("snapshot: write node %s: %w", n.ID, err)
	}
	return nil
}

// WriteSituation upserts one situation into the snapshot.
func (w *Writer) WriteSituation(s model.Situation) error {
	_, err := w.db.Exec(`
		INSERT INTO situations (id, type, owner, description, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			type=excluded.type, owner=excluded.owner, description=excluded.description,
			start_time=excluded.start_time, end_time=excluded.end_time`,
		s.ID, string(s.Type), s.Owner, s.Description, s.StartTime, s.EndTime)
	if err != nil {
		return fmt.Errorf("snapshot: write situation %s: %w", s.ID, err)
	}
	return nil
}

// Close closes the underlying database handle.
func (w *Writer) Close() error {
	return w.db.Close()
}
