package testutil

import (
	"database/sql"
	"testing"

	"github.com/imthebreezy247/unison-sub001/internal/store"
)

// NewTestStore opens an in-memory store with the full schema applied.
// It is closed automatically when the test finishes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// AddressBookSchema creates the address book source tables.
func AddressBookSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `CREATE TABLE ABPerson (
		ROWID INTEGER PRIMARY KEY,
		First TEXT, Last TEXT, Organization TEXT, Note TEXT
	)`)
	mustExec(t, db, `CREATE TABLE ABMultiValue (
		UID INTEGER PRIMARY KEY,
		record_id INTEGER NOT NULL,
		property INTEGER NOT NULL,
		label INTEGER,
		value TEXT
	)`)
}

// InsertPerson adds one address book row.
func InsertPerson(t *testing.T, db *sql.DB, rowID int64, first, last, org, note string) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO ABPerson (ROWID, First, Last, Organization, Note) VALUES (?, ?, ?, ?, ?)`,
		rowID, first, last, org, note)
}

// InsertMultiValue adds one multi-value attribute row (property 3 = phone,
// 4 = email).
func InsertMultiValue(t *testing.T, db *sql.DB, recordID, property, label int64, value string) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO ABMultiValue (record_id, property, label, value) VALUES (?, ?, ?, ?)`,
		recordID, property, label, value)
}

// MessageDBSchema creates the message source tables.
func MessageDBSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `CREATE TABLE handle (
		ROWID INTEGER PRIMARY KEY,
		id TEXT NOT NULL
	)`)
	mustExec(t, db, `CREATE TABLE message (
		ROWID INTEGER PRIMARY KEY,
		text TEXT,
		service TEXT,
		is_from_me INTEGER NOT NULL DEFAULT 0,
		is_read INTEGER NOT NULL DEFAULT 0,
		date INTEGER NOT NULL,
		handle_id INTEGER NOT NULL
	)`)
	mustExec(t, db, `CREATE TABLE attachment (
		ROWID INTEGER PRIMARY KEY,
		filename TEXT
	)`)
	mustExec(t, db, `CREATE TABLE message_attachment_join (
		message_id INTEGER NOT NULL,
		attachment_id INTEGER NOT NULL
	)`)
}

// InsertHandle adds one handle (remote identity) row.
func InsertHandle(t *testing.T, db *sql.DB, rowID int64, id string) {
	t.Helper()
	mustExec(t, db, `INSERT INTO handle (ROWID, id) VALUES (?, ?)`, rowID, id)
}

// InsertSourceMessage adds one message row. date is in vendor epoch seconds.
func InsertSourceMessage(t *testing.T, db *sql.DB, rowID int64, text, service string, fromMe, isRead bool, date, handleID int64) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO message (ROWID, text, service, is_from_me, is_read, date, handle_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rowID, text, service, boolInt(fromMe), boolInt(isRead), date, handleID)
}

// InsertAttachment adds an attachment joined to a message. A nil filename
// exercises the null-filename filter.
func InsertAttachment(t *testing.T, db *sql.DB, attachmentID, messageID int64, filename *string) {
	t.Helper()
	mustExec(t, db, `INSERT INTO attachment (ROWID, filename) VALUES (?, ?)`, attachmentID, filename)
	mustExec(t, db,
		`INSERT INTO message_attachment_join (message_id, attachment_id) VALUES (?, ?)`,
		messageID, attachmentID)
}

// CallDBSchema creates the call history source table.
func CallDBSchema(t *testing.T, db *sql.DB) {
	t.Helper()
	mustExec(t, db, `CREATE TABLE call (
		ROWID INTEGER PRIMARY KEY,
		address TEXT,
		date INTEGER NOT NULL,
		duration REAL NOT NULL DEFAULT 0,
		originated INTEGER NOT NULL DEFAULT 0,
		answered INTEGER NOT NULL DEFAULT 0
	)`)
}

// InsertCall adds one call row. date is in vendor epoch seconds.
func InsertCall(t *testing.T, db *sql.DB, rowID int64, address string, date int64, duration float64, originated, answered bool) {
	t.Helper()
	mustExec(t, db,
		`INSERT INTO call (ROWID, address, date, duration, originated, answered)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rowID, address, date, duration, boolInt(originated), boolInt(answered))
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
