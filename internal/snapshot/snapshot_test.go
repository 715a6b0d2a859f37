package snapshot

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/uwrobotics/underworlds/internal/model"
)

func TestWriteNodeAndSituationPersist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "snapshot.db")

	w, err := Open(path, "w1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	n := model.NewNode("box", model.Entity)
	if err := w.WriteNode(n); err != nil {
		t.Fatalf("writeNode: %v", err)
	}

	sit := model.NewSituation("doing a thing", model.Generic)
	if err := w.WriteSituation(sit); err != nil {
		t.Fatalf("writeSituation: %v", err)
	}

	// Upserting the same node again must not error or duplicate the row.
	n.Name = "renamed-box"
	if err := w.WriteNode(n); err != nil {
		t.Fatalf("writeNode (update): %v", err)
	}

	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM nodes WHERE id = ?`, n.ID).Scan(&count); err != nil {
		t.Fatalf("count nodes: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one row for node %s, got %d", n.ID, count)
	}

	var name string
	if err := db.QueryRow(`SELECT name FROM nodes WHERE id = ?`, n.ID).Scan(&name); err != nil {
		t.Fatalf("read node name: %v", err)
	}
	if name != "renamed-box" {
		t.Fatalf("expected updated name %q, got %q", "renamed-box", name)
	}

	var worldName string
	if err := db.QueryRow(`SELECT world_name FROM snapshot_meta WHERE id = 1`).Scan(&worldName); err != nil {
		t.Fatalf("read snapshot_meta: %v", err)
	}
	if worldName != "w1" {
		t.Fatalf("expected world_name %q, got %q", "w1", worldName)
	}
}
