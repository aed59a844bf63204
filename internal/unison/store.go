// Package unison is the service layer for backup ingestion: it reconciles
// extracted records into the store and coordinates sync runs. It depends on
// small consumer-side interfaces; concrete implementations live in
// internal/store and internal/extract.
package unison

import (
	"context"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/model"
)

// Store is the persistence boundary for imported records and derived thread
// aggregates. Implementations must make InsertMessage transactional with its
// thread aggregate update, and must be safe for concurrent use across
// categories (each category import runs in its own transaction scope).
type Store interface {
	// Contact operations

	// ContactExists reports whether a contact with the source-native id is stored.
	ContactExists(ctx context.Context, id string) (bool, error)

	// InsertContact stores a contact with its phone and email attributes.
	InsertContact(ctx context.Context, c *model.Contact) error

	// Message operations

	// MessageExists reports whether a message with the source-native id is stored.
	MessageExists(ctx context.Context, id string) (bool, error)

	// HasDuplicateMessage reports whether the thread already holds a message
	// with the given dedup signature and a timestamp within the window
	// around sentAt.
	HasDuplicateMessage(ctx context.Context, threadKey, signature string, sentAt time.Time, window time.Duration) (bool, error)

	// InsertMessage stores a message and updates its thread's aggregate
	// fields in the same transaction, creating the thread if needed.
	InsertMessage(ctx context.Context, m *model.Message) error

	// Call operations

	// CallExists reports whether a call with the source-native id is stored.
	CallExists(ctx context.Context, id string) (bool, error)

	// InsertCall stores a call record.
	InsertCall(ctx context.Context, c *model.Call) error

	// Thread aggregate operations

	// RepairThreads recomputes last-message pointers and unread counts from
	// the messages table. A nil keys slice repairs every thread.
	RepairThreads(ctx context.Context, keys []string) error

	// SweepDuplicateMessages removes stored messages sharing a dedup
	// signature, keeping the earliest of each group. Returns the number of
	// rows removed.
	SweepDuplicateMessages(ctx context.Context) (int64, error)

	// Query operations (read-only surface for the view layer)

	GetThread(ctx context.Context, key string) (*model.Thread, error)
	ListThreads(ctx context.Context, limit, offset int) ([]*model.Thread, int64, error)
	ListMessages(ctx context.Context, threadKey string, limit, offset int) ([]*model.Message, int64, error)
	MarkThreadRead(ctx context.Context, key string) error

	// Sync run history

	CreateSyncRun(ctx context.Context, category model.Category, opID string, startedAt time.Time) (int64, error)
	FinishSyncRun(ctx context.Context, id int64, status string, result ImportResult, finishedAt time.Time) error
	ListSyncRuns(ctx context.Context, limit int) ([]*model.SyncRun, error)

	// Close closes the store connection.
	Close() error
}

// ContactIter is a lazy, finite, non-restartable sequence of contacts.
// Next returns (nil, nil) when the sequence is exhausted. A returned
// *RecordDecodeError refers to a single skipped row; iteration may continue.
type ContactIter interface {
	Next(ctx context.Context) (*model.Contact, error)
}

// MessageIter is a lazy, finite, non-restartable sequence of messages.
type MessageIter interface {
	Next(ctx context.Context) (*model.Message, error)
}

// CallIter is a lazy, finite, non-restartable sequence of calls.
type CallIter interface {
	Next(ctx context.Context) (*model.Call, error)
}

// Source produces record sequences from one opened backup container.
// Category accessors return ErrSourceNotPresent when the backup omits that
// category's database; this is a warning, not a failure.
type Source interface {
	Manifest() model.Manifest
	Contacts(ctx context.Context) (ContactIter, error)
	Messages(ctx context.Context) (MessageIter, error)
	Calls(ctx context.Context) (CallIter, error)
	Close() error
}
