package unison

import (
	"errors"
	"fmt"

	"github.com/imthebreezy247/unison-sub001/internal/model"
)

var (
	// ErrAlreadyRunning means a sync for the category is in progress.
	ErrAlreadyRunning = errors.New("sync already running")

	// ErrCooldownActive means the category's minimum interval since its
	// last completed run has not yet elapsed.
	ErrCooldownActive = errors.New("sync cooldown active")

	// ErrSourceNotPresent means the backup omits the category's database.
	// The category yields zero records; other categories proceed.
	ErrSourceNotPresent = errors.New("source database not present in backup")

	// ErrUnknownCategory means the caller named a category that does not exist.
	ErrUnknownCategory = errors.New("unknown sync category")
)

// RecordDecodeError reports a single source row that could not be decoded.
// It never aborts an extractor: the row is skipped and counted.
type RecordDecodeError struct {
	Category model.Category
	Row      int64
	Err      error
}

func (e *RecordDecodeError) Error() string {
	return fmt.Sprintf("decoding %s record (row %d): %v", e.Category, e.Row, e.Err)
}

func (e *RecordDecodeError) Unwrap() error { return e.Err }
