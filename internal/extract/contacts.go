package extract

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/imthebreezy247/unison-sub001/internal/codec"
	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

// Multi-value property discriminators in the address book side table.
const (
	propertyPhone = 3
	propertyEmail = 4
)

// contactIter streams normalized contacts out of an address book database.
// The multi-valued attributes (phones, emails) live in a side table keyed
// by contact id and property discriminator, and are fetched per record.
type contactIter struct {
	db     *sql.DB
	rows   *sql.Rows
	multi  *sql.Stmt
	row    int64
	closed bool
}

func newContactIter(ctx context.Context, db *sql.DB) (*contactIter, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ROWID, First, Last, Organization, Note
		 FROM ABPerson ORDER BY ROWID`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("querying address book: %w", err)
	}

	multi, err := db.PrepareContext(ctx,
		`SELECT property, label, value FROM ABMultiValue
		 WHERE record_id = ? AND value IS NOT NULL ORDER BY UID`)
	if err != nil {
		rows.Close()
		db.Close()
		return nil, fmt.Errorf("preparing multi-value query: %w", err)
	}

	return &contactIter{db: db, rows: rows, multi: multi}, nil
}

// Next returns the next contact, (nil, nil) at the end of the sequence, or
// a *RecordDecodeError for a row that could not be decoded (iteration may
// continue past it).
func (it *contactIter) Next(ctx context.Context) (*model.Contact, error) {
	if it.closed {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		it.close()
		return nil, err
	}
	if !it.rows.Next() {
		err := it.rows.Err()
		it.close()
		if err != nil {
			return nil, fmt.Errorf("iterating address book: %w", err)
		}
		return nil, nil
	}
	it.row++

	var rowID int64
	var first, last, org, note sql.NullString
	if err := it.rows.Scan(&rowID, &first, &last, &org, &note); err != nil {
		return nil, &unison.RecordDecodeError{Category: model.CategoryContacts, Row: it.row, Err: err}
	}

	c := &model.Contact{
		ID:           strconv.FormatInt(rowID, 10),
		GivenName:    first.String,
		FamilyName:   last.String,
		Organization: org.String,
		Notes:        note.String,
	}

	if err := it.loadMultiValues(ctx, rowID, c); err != nil {
		return nil, &unison.RecordDecodeError{Category: model.CategoryContacts, Row: it.row, Err: err}
	}
	return c, nil
}

// loadMultiValues attaches the contact's phones and emails. Each attribute
// carries a numeric label code that maps to a human label, with "other" as
// the fallback for unrecognized codes.
func (it *contactIter) loadMultiValues(ctx context.Context, recordID int64, c *model.Contact) error {
	rows, err := it.multi.QueryContext(ctx, recordID)
	if err != nil {
		return fmt.Errorf("querying multi-values: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var property int64
		var label sql.NullInt64
		var value string
		if err := rows.Scan(&property, &label, &value); err != nil {
			return fmt.Errorf("scanning multi-value: %w", err)
		}
		switch property {
		case propertyPhone:
			c.Phones = append(c.Phones, model.LabeledValue{
				Label: codec.PhoneLabel(label.Int64),
				Value: value,
			})
		case propertyEmail:
			c.Emails = append(c.Emails, model.LabeledValue{
				Label: codec.EmailLabel(label.Int64),
				Value: value,
			})
		}
	}
	return rows.Err()
}

func (it *contactIter) close() {
	if it.closed {
		return
	}
	it.closed = true
	it.rows.Close()
	it.multi.Close()
	it.db.Close()
}
