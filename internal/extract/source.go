// Package extract streams normalized records out of the embedded databases
// of a backup container. Each extractor resolves its well-known database
// through the container index, opens it read-only, and yields a lazy,
// non-restartable record sequence.
package extract

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/imthebreezy247/unison-sub001/internal/backup"
	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/unison"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Well-known filenames of the embedded source databases. The full
// domain-qualified paths vary by OS version, so resolution is suffix-based.
const (
	contactsDBName = "AddressBook.sqlitedb"
	messagesDBName = "sms.db"
	callsDBName    = "call_history.db"
)

// BackupSource produces record sequences from an opened backup container.
type BackupSource struct {
	reader *backup.Reader
}

// NewBackupSource opens the container at root. The caller must Close the
// source when the run completes or fails.
func NewBackupSource(root string) (*BackupSource, error) {
	r, err := backup.Open(root)
	if err != nil {
		return nil, err
	}
	return &BackupSource{reader: r}, nil
}

// Manifest returns the container's self-description.
func (s *BackupSource) Manifest() model.Manifest {
	return s.reader.Manifest()
}

// Contacts returns the contact sequence, or ErrSourceNotPresent when the
// backup omits the address book database.
func (s *BackupSource) Contacts(ctx context.Context) (unison.ContactIter, error) {
	db, err := s.openSource(contactsDBName)
	if err != nil {
		return nil, err
	}
	return newContactIter(ctx, db)
}

// Messages returns the message sequence, or ErrSourceNotPresent when the
// backup omits the message database.
func (s *BackupSource) Messages(ctx context.Context) (unison.MessageIter, error) {
	db, err := s.openSource(messagesDBName)
	if err != nil {
		return nil, err
	}
	return newMessageIter(ctx, db)
}

// Calls returns the call-history sequence, or ErrSourceNotPresent when the
// backup omits the call database.
func (s *BackupSource) Calls(ctx context.Context) (unison.CallIter, error) {
	db, err := s.openSource(callsDBName)
	if err != nil {
		return nil, err
	}
	return newCallIter(ctx, db)
}

// Close releases the container index handle.
func (s *BackupSource) Close() error {
	return s.reader.Close()
}

// openSource resolves an embedded database through the index and opens it
// read-only. An unresolvable or unopenable database maps to
// ErrSourceNotPresent: many backups simply omit optional data, and one
// missing category must not abort the whole run.
func (s *BackupSource) openSource(name string) (*sql.DB, error) {
	blob, err := s.reader.Resolve(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", unison.ErrSourceNotPresent, name)
	}
	return openReadOnly(blob)
}

func openReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", unison.ErrSourceNotPresent, path)
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("opening source database %s: %w", path, err)
	}
	// Force the lazy open so a corrupt file surfaces here, not mid-iteration.
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s (unreadable)", unison.ErrSourceNotPresent, path)
	}
	return db, nil
}

// FileSource serves a single embedded database file supplied directly
// (without a surrounding container), e.g. a bare AddressBook.sqlitedb.
// Categories other than the configured one report ErrSourceNotPresent.
type FileSource struct {
	path     string
	category model.Category
}

// NewFileSource wraps the single database file at path for the category.
func NewFileSource(path string, category model.Category) (*FileSource, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %s", unison.ErrUnknownCategory, category)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("source database not found: %s", path)
	}
	return &FileSource{path: path, category: category}, nil
}

func (s *FileSource) Manifest() model.Manifest { return model.Manifest{} }

func (s *FileSource) Contacts(ctx context.Context) (unison.ContactIter, error) {
	if s.category != model.CategoryContacts {
		return nil, unison.ErrSourceNotPresent
	}
	db, err := openReadOnly(s.path)
	if err != nil {
		return nil, err
	}
	return newContactIter(ctx, db)
}

func (s *FileSource) Messages(ctx context.Context) (unison.MessageIter, error) {
	if s.category != model.CategoryMessages {
		return nil, unison.ErrSourceNotPresent
	}
	db, err := openReadOnly(s.path)
	if err != nil {
		return nil, err
	}
	return newMessageIter(ctx, db)
}

func (s *FileSource) Calls(ctx context.Context) (unison.CallIter, error) {
	if s.category != model.CategoryCalls {
		return nil, unison.ErrSourceNotPresent
	}
	db, err := openReadOnly(s.path)
	if err != nil {
		return nil, err
	}
	return newCallIter(ctx, db)
}

func (s *FileSource) Close() error { return nil }

var (
	_ unison.Source = (*BackupSource)(nil)
	_ unison.Source = (*FileSource)(nil)
)
