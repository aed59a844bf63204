// Package testutil provides helpers for building fixture backup containers
// and stores in tests.
package testutil

import (
	"crypto/sha1"
	"database/sql"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Container builds a fixture backup container in a temp directory: a
// Manifest.db index plus content-addressed blob files fanned out under
// two-character subdirectories.
type Container struct {
	t     *testing.T
	Root  string
	props map[string]string
	files map[string]string // relativePath -> fileID
}

// NewContainer creates an empty fixture container rooted in t.TempDir().
// Call Write after adding sources to materialize Manifest.db.
func NewContainer(t *testing.T) *Container {
	t.Helper()
	return &Container{
		t:    t,
		Root: t.TempDir(),
		props: map[string]string{
			"Version":           "3.3",
			"Date":              time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC).Format(time.RFC3339),
			"Device Name":       "Test iPhone",
			"Unique Identifier": "00008030-000000000000000T",
			"Product Version":   "17.3",
			"IsEncrypted":       "0",
		},
	}
}

// SetProperty overrides one manifest property (e.g. "IsEncrypted" -> "1").
func (c *Container) SetProperty(key, value string) *Container {
	c.props[key] = value
	return c
}

// CreateSource creates an embedded source database registered in the index
// at relativePath, runs build against it, and stores it as a blob. The
// fileID is the hex hash of the logical path, matching the container's
// content-addressing scheme.
func (c *Container) CreateSource(relativePath string, build func(t *testing.T, db *sql.DB)) *Container {
	c.t.Helper()

	sum := sha1.Sum([]byte(relativePath))
	fileID := hex.EncodeToString(sum[:])

	dir := filepath.Join(c.Root, fileID[:2])
	if err := os.MkdirAll(dir, 0755); err != nil {
		c.t.Fatalf("creating blob dir: %v", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, fileID))
	if err != nil {
		c.t.Fatalf("creating source db: %v", err)
	}
	defer db.Close()

	build(c.t, db)

	if c.files == nil {
		c.files = make(map[string]string)
	}
	c.files[relativePath] = fileID
	return c
}

// RegisterGhost adds an index entry whose blob is never created, for tests
// of missing-blob handling.
func (c *Container) RegisterGhost(relativePath string) *Container {
	sum := sha1.Sum([]byte(relativePath))
	if c.files == nil {
		c.files = make(map[string]string)
	}
	c.files[relativePath] = hex.EncodeToString(sum[:])
	return c
}

// Write materializes Manifest.db from the accumulated properties and files.
func (c *Container) Write() *Container {
	c.t.Helper()

	db, err := sql.Open("sqlite3", filepath.Join(c.Root, "Manifest.db"))
	if err != nil {
		c.t.Fatalf("creating manifest: %v", err)
	}
	defer db.Close()

	mustExec(c.t, db, `CREATE TABLE properties (key TEXT PRIMARY KEY, value TEXT NOT NULL)`)
	mustExec(c.t, db, `CREATE TABLE files (relativePath TEXT PRIMARY KEY, fileID TEXT NOT NULL)`)

	for k, v := range c.props {
		mustExec(c.t, db, `INSERT INTO properties (key, value) VALUES (?, ?)`, k, v)
	}
	for p, id := range c.files {
		mustExec(c.t, db, `INSERT INTO files (relativePath, fileID) VALUES (?, ?)`, p, id)
	}
	return c
}

func mustExec(t *testing.T, db *sql.DB, query string, args ...any) {
	t.Helper()
	if _, err := db.Exec(query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}
