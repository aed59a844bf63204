package extract

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strconv"

	"github.com/imthebreezy247/unison-sub001/internal/codec"
	"github.com/imthebreezy247/unison-sub001/internal/model"
	"github.com/imthebreezy247/unison-sub001/internal/unison"
)

// callIter streams normalized call records out of a call history database.
type callIter struct {
	db     *sql.DB
	rows   *sql.Rows
	row    int64
	closed bool
}

func newCallIter(ctx context.Context, db *sql.DB) (*callIter, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ROWID, address, date, duration, originated, answered
		 FROM call ORDER BY ROWID`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("querying call history: %w", err)
	}
	return &callIter{db: db, rows: rows}, nil
}

// Next returns the next call, (nil, nil) at the end of the sequence, or a
// *RecordDecodeError for a row that could not be decoded.
func (it *callIter) Next(ctx context.Context) (*model.Call, error) {
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
			return nil, fmt.Errorf("iterating call history: %w", err)
		}
		return nil, nil
	}
	it.row++

	var rowID, date, originated, answered int64
	var address sql.NullString
	var duration float64
	if err := it.rows.Scan(&rowID, &address, &date, &duration, &originated, &answered); err != nil {
		return nil, &unison.RecordDecodeError{Category: model.CategoryCalls, Row: it.row, Err: err}
	}

	return &model.Call{
		ID:         strconv.FormatInt(rowID, 10),
		Identity:   codec.NormalizePhone(address.String),
		OccurredAt: codec.FromAppleEpoch(date),
		Duration:   int64(math.Round(duration)),
		Direction:  callDirection(originated != 0, answered != 0),
	}, nil
}

// callDirection derives the classification from the source's two booleans:
// originated locally means outgoing; not originated and not answered means
// missed; everything else is incoming.
func callDirection(originated, answered bool) model.CallDirection {
	switch {
	case originated:
		return model.CallOutgoing
	case !answered:
		return model.CallMissed
	default:
		return model.CallIncoming
	}
}

func (it *callIter) close() {
	if it.closed {
		return
	}
	it.closed = true
	it.rows.Close()
	it.db.Close()
}
