// Package store implements the persistent message store on SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/imthebreezy247/unison-sub001/internal/codec"
	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/store/migrations"
	"github.com/imthebreezy247/unison-sub001/internal/unison"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Store implements the unison.Store interface on SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the store at path and brings its schema up to
// date. path can be a file path or ":memory:" for an in-memory store.
func Open(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection with appropriate
// PRAGMAs. Exported for tools and tests that need a raw configured handle.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign key constraints (SQLite default is OFF for backward compatibility)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// Category imports from different goroutines share this handle.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// Contact operations

func (s *Store) ContactExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM contacts WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking contact existence: %w", err)
	}
	return true, nil
}

func (s *Store) InsertContact(ctx context.Context, c *model.Contact) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO contacts (id, given_name, family_name, organization, notes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.GivenName, c.FamilyName, c.Organization, c.Notes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting contact: %w", err)
	}

	for _, p := range c.Phones {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contact_phones (contact_id, label, number) VALUES (?, ?, ?)`,
			c.ID, p.Label, p.Value)
		if err != nil {
			return fmt.Errorf("inserting contact phone: %w", err)
		}
	}
	for _, e := range c.Emails {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO contact_emails (contact_id, label, address) VALUES (?, ?, ?)`,
			c.ID, e.Label, e.Value)
		if err != nil {
			return fmt.Errorf("inserting contact email: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Message operations

func (s *Store) MessageExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM messages WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking message existence: %w", err)
	}
	return true, nil
}

func (s *Store) HasDuplicateMessage(ctx context.Context, threadKey, signature string, sentAt time.Time, window time.Duration) (bool, error) {
	from := sentAt.UTC().Add(-window)
	to := sentAt.UTC().Add(window)

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM messages
		 WHERE thread_key = ? AND dedup_signature = ? AND sent_at BETWEEN ? AND ?
		 LIMIT 1`,
		threadKey, signature, from, to).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking duplicate message: %w", err)
	}
	return true, nil
}

// InsertMessage stores a message and its attachments, and updates the
// owning thread's aggregates in the same transaction so the thread is never
// observably out of sync with its messages. The thread row is created
// implicitly if this is its first message.
func (s *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	sentAt := m.SentAt.UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO threads (key, display_name) VALUES (?, ?)
		 ON CONFLICT(key) DO NOTHING`,
		m.ThreadKey, m.Identity)
	if err != nil {
		return fmt.Errorf("ensuring thread: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, thread_key, body, channel, direction, sent_at,
		                       identity, dedup_signature, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ThreadKey, m.Body, string(m.Channel), string(m.Direction), sentAt,
		m.Identity, codec.DedupSignature(m.Identity, m.Body), m.Read, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}

	for _, a := range m.Attachments {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO message_attachments (message_id, filename) VALUES (?, ?)`,
			m.ID, a)
		if err != nil {
			return fmt.Errorf("inserting attachment: %w", err)
		}
	}

	// Advance the last-message pointer only for the most-recent message.
	_, err = tx.ExecContext(ctx,
		`UPDATE threads SET last_message_id = ?, last_activity_at = ?
		 WHERE key = ? AND (last_activity_at IS NULL OR last_activity_at <= ?)`,
		m.ID, sentAt, m.ThreadKey, sentAt)
	if err != nil {
		return fmt.Errorf("updating thread activity: %w", err)
	}

	if m.Direction == model.DirectionInbound && !m.Read {
		_, err = tx.ExecContext(ctx,
			`UPDATE threads SET unread_count = unread_count + 1 WHERE key = ?`,
			m.ThreadKey)
		if err != nil {
			return fmt.Errorf("updating thread unread count: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Call operations

func (s *Store) CallExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM calls WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking call existence: %w", err)
	}
	return true, nil
}

func (s *Store) InsertCall(ctx context.Context, c *model.Call) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO calls (id, identity, occurred_at, duration_seconds, direction, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.Identity, c.OccurredAt.UTC(), c.Duration, string(c.Direction), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("inserting call: %w", err)
	}
	return nil
}

// Thread aggregate operations

// RepairThreads recomputes each thread's last-message pointer and unread
// count from the messages table. Ties on sent_at break on the larger id so
// the result is deterministic.
func (s *Store) RepairThreads(ctx context.Context, keys []string) error {
	if keys == nil {
		rows, err := s.db.QueryContext(ctx, `SELECT key FROM threads`)
		if err != nil {
			return fmt.Errorf("listing threads: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var k string
			if err := rows.Scan(&k); err != nil {
				return fmt.Errorf("scanning thread key: %w", err)
			}
			keys = append(keys, k)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterating threads: %w", err)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, key := range keys {
		var lastID string
		var lastAt sql.NullTime
		err := tx.QueryRowContext(ctx,
			`SELECT id, sent_at FROM messages WHERE thread_key = ?
			 ORDER BY sent_at DESC, id DESC LIMIT 1`, key).Scan(&lastID, &lastAt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("finding last message for %s: %w", key, err)
		}

		var unread int64
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM messages
			 WHERE thread_key = ? AND direction = ? AND is_read = 0`,
			key, string(model.DirectionInbound)).Scan(&unread)
		if err != nil {
			return fmt.Errorf("counting unread for %s: %w", key, err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE threads SET last_message_id = ?, last_activity_at = ?, unread_count = ?
			 WHERE key = ?`,
			lastID, lastAt, unread, key)
		if err != nil {
			return fmt.Errorf("repairing thread %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SweepDuplicateMessages removes messages that share a dedup signature,
// keeping the earliest of each group (ties break on the smaller id).
// Attachment rows follow their message via ON DELETE CASCADE.
func (s *Store) SweepDuplicateMessages(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id IN (
		   SELECT id FROM (
		     SELECT id, ROW_NUMBER() OVER (
		       PARTITION BY dedup_signature ORDER BY sent_at ASC, id ASC
		     ) AS rn
		     FROM messages
		   ) WHERE rn > 1
		 )`)
	if err != nil {
		return 0, fmt.Errorf("deleting duplicate messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting removed messages: %w", err)
	}
	return removed, nil
}

// Query operations

func (s *Store) GetThread(ctx context.Context, key string) (*model.Thread, error) {
	t, err := scanThread(s.db.QueryRowContext(ctx,
		`SELECT key, display_name, last_message_id, last_activity_at,
		        unread_count, is_group, archived
		 FROM threads WHERE key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil // Not found
	}
	if err != nil {
		return nil, fmt.Errorf("loading thread: %w", err)
	}
	return t, nil
}

func (s *Store) ListThreads(ctx context.Context, limit, offset int) ([]*model.Thread, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM threads`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting threads: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT key, display_name, last_message_id, last_activity_at,
		        unread_count, is_group, archived
		 FROM threads
		 ORDER BY last_activity_at DESC, key ASC
		 LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var threads []*model.Thread
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning thread: %w", err)
		}
		threads = append(threads, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating threads: %w", err)
	}
	return threads, total, nil
}

func (s *Store) ListMessages(ctx context.Context, threadKey string, limit, offset int) ([]*model.Message, int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE thread_key = ?`, threadKey).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting messages: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_key, body, channel, direction, sent_at, identity, is_read
		 FROM messages WHERE thread_key = ?
		 ORDER BY sent_at ASC, id ASC
		 LIMIT ? OFFSET ?`, threadKey, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m := &model.Message{}
		var channel, direction string
		var sentAt time.Time
		if err := rows.Scan(&m.ID, &m.ThreadKey, &m.Body, &channel, &direction,
			&sentAt, &m.Identity, &m.Read); err != nil {
			return nil, 0, fmt.Errorf("scanning message: %w", err)
		}
		m.Channel = model.Channel(channel)
		m.Direction = model.Direction(direction)
		m.SentAt = sentAt
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating messages: %w", err)
	}

	for _, m := range msgs {
		if err := s.loadAttachments(ctx, m); err != nil {
			return nil, 0, err
		}
	}
	return msgs, total, nil
}

func (s *Store) loadAttachments(ctx context.Context, m *model.Message) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename FROM message_attachments WHERE message_id = ?`, m.ID)
	if err != nil {
		return fmt.Errorf("loading attachments: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return fmt.Errorf("scanning attachment: %w", err)
		}
		m.Attachments = append(m.Attachments, f)
	}
	return rows.Err()
}

// MarkThreadRead marks every inbound message in the thread read and zeroes
// the thread's unread count, in one transaction.
func (s *Store) MarkThreadRead(ctx context.Context, key string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`UPDATE messages SET is_read = 1 WHERE thread_key = ? AND direction = ?`,
		key, string(model.DirectionInbound))
	if err != nil {
		return fmt.Errorf("marking messages read: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE threads SET unread_count = 0 WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("zeroing unread count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Sync run history

func (s *Store) CreateSyncRun(ctx context.Context, category model.Category, opID string, startedAt time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_runs (op_id, category, started_at, status) VALUES (?, ?, ?, 'running')`,
		opID, string(category), startedAt.UTC())
	if err != nil {
		return 0, fmt.Errorf("creating sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading sync run id: %w", err)
	}
	return id, nil
}

func (s *Store) FinishSyncRun(ctx context.Context, id int64, status string, result unison.ImportResult, finishedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sync_runs
		 SET finished_at = ?, status = ?, imported = ?, skipped = ?, errors = ?
		 WHERE id = ?`,
		finishedAt.UTC(), status, result.Imported, result.Skipped, result.Errors, id)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	return nil
}

func (s *Store) ListSyncRuns(ctx context.Context, limit int) ([]*model.SyncRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, op_id, category, started_at, finished_at, status, imported, skipped, errors
		 FROM sync_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.SyncRun
	for rows.Next() {
		r := &model.SyncRun{}
		var category string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.OpID, &category, &r.StartedAt, &finished,
			&r.Status, &r.Imported, &r.Skipped, &r.Errors); err != nil {
			return nil, fmt.Errorf("scanning sync run: %w", err)
		}
		r.Category = model.Category(category)
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync runs: %w", err)
	}
	return runs, nil
}

// Path returns the database file path (or ":memory:" for in-memory stores).
func (s *Store) Path() string {
	return s.path
}

// CheckMigrations verifies the store schema is up-to-date.
func (s *Store) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanThread(sc scanner) (*model.Thread, error) {
	t := &model.Thread{}
	var lastActivity sql.NullTime
	if err := sc.Scan(&t.Key, &t.DisplayName, &t.LastMessageID, &lastActivity,
		&t.UnreadCount, &t.Group, &t.Archived); err != nil {
		return nil, err
	}
	if lastActivity.Valid {
		t.LastActivityAt = lastActivity.Time
	}
	return t, nil
}

// Compile-time check that Store implements the unison.Store interface.
var _ unison.Store = (*Store)(nil)
