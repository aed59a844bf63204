// Package backup reads a device backup container: a Manifest.db index plus a
// tree of content-addressed blobs fanned out under two-character
// subdirectories. The reader resolves logical file paths to blob locations;
// it never writes to the container.
package backup

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/model"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ManifestFileName is the index database at the root of a backup container.
const ManifestFileName = "Manifest.db"

var (
	// ErrManifestUnavailable means the container's index file is missing or
	// unreadable. This aborts the whole ingestion run.
	ErrManifestUnavailable = errors.New("backup manifest unavailable")

	// ErrBackupEncrypted means the manifest marks the container as
	// encrypted. Decryption is not supported; the container is rejected.
	ErrBackupEncrypted = errors.New("backup is encrypted")

	// ErrNotFound means no index entry matched the requested path suffix.
	ErrNotFound = errors.New("file not in backup index")
)

// Reader is an open handle to a backup container's index. It is created by
// Open, held read-only for the duration of one ingestion run, and must be
// released with Close.
type Reader struct {
	root     string
	db       *sql.DB
	manifest model.Manifest
}

// Open opens the manifest index under root and reads the container's
// self-description. It returns ErrManifestUnavailable if the index is
// missing or unreadable and ErrBackupEncrypted if the container is
// encrypted.
func Open(root string) (*Reader, error) {
	path := filepath.Join(root, ManifestFileName)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestUnavailable, path)
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("%w: opening index: %v", ErrManifestUnavailable, err)
	}

	r := &Reader{root: root, db: db}
	if err := r.readManifest(); err != nil {
		db.Close()
		return nil, err
	}
	if r.manifest.Encrypted {
		db.Close()
		return nil, ErrBackupEncrypted
	}
	return r, nil
}

// Manifest returns the container's self-description.
func (r *Reader) Manifest() model.Manifest {
	return r.manifest
}

// Resolve maps a logical path suffix (a well-known filename such as
// "AddressBook.sqlitedb", or a partial path) to the blob file holding its
// content. Matching is suffix-based because the full domain-qualified path
// varies by OS version. Returns ErrNotFound when no entry matches.
func (r *Reader) Resolve(suffix string) (string, error) {
	var fileID string
	err := r.db.QueryRow(
		`SELECT fileID FROM files WHERE relativePath LIKE '%' || ? ORDER BY relativePath LIMIT 1`,
		suffix,
	).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, suffix)
	}
	if err != nil {
		return "", fmt.Errorf("querying index for %s: %w", suffix, err)
	}

	fileID = strings.ToLower(fileID)
	if len(fileID) < 2 {
		return "", fmt.Errorf("%w: malformed file id %q", ErrNotFound, fileID)
	}

	// Blobs fan out under a subdirectory named by the id's first two chars.
	blob := filepath.Join(r.root, fileID[:2], fileID)
	if _, err := os.Stat(blob); err != nil {
		return "", fmt.Errorf("%w: blob missing for %s", ErrNotFound, suffix)
	}
	return blob, nil
}

// Close releases the index handle. Safe to call more than once.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// readManifest loads the key-value preference table into r.manifest.
func (r *Reader) readManifest() error {
	rows, err := r.db.Query(`SELECT key, value FROM properties`)
	if err != nil {
		return fmt.Errorf("%w: reading properties: %v", ErrManifestUnavailable, err)
	}
	defer rows.Close()

	props := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return fmt.Errorf("%w: scanning properties: %v", ErrManifestUnavailable, err)
		}
		props[k] = v
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: iterating properties: %v", ErrManifestUnavailable, err)
	}

	r.manifest = model.Manifest{
		Version:          props["Version"],
		DeviceName:       props["Device Name"],
		UniqueIdentifier: props["Unique Identifier"],
		ProductVersion:   props["Product Version"],
		Encrypted:        parseBool(props["IsEncrypted"]),
	}
	if d := props["Date"]; d != "" {
		if ts, err := time.Parse(time.RFC3339, d); err == nil {
			r.manifest.Date = ts
		}
	}
	return nil
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(s)
	return err == nil && b
}
