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

// ipService is the message table's service tag for IP-channel messages.
// Every other service value is bucketed as carrier SMS.
const ipService = "iMessage"

// messageIter streams normalized messages out of a message database,
// joining each row to its remote handle (identity) and attachments.
type messageIter struct {
	db          *sql.DB
	rows        *sql.Rows
	attachments *sql.Stmt
	row         int64
	closed      bool
}

func newMessageIter(ctx context.Context, db *sql.DB) (*messageIter, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT m.ROWID, m.text, m.service, m.is_from_me, m.is_read, m.date, h.id
		 FROM message m
		 JOIN handle h ON m.handle_id = h.ROWID
		 ORDER BY m.ROWID`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("querying messages: %w", err)
	}

	// Attachment filenames resolve through a join table; rows with a null
	// filename are dropped.
	attachments, err := db.PrepareContext(ctx,
		`SELECT a.filename
		 FROM attachment a
		 JOIN message_attachment_join j ON j.attachment_id = a.ROWID
		 WHERE j.message_id = ? AND a.filename IS NOT NULL`)
	if err != nil {
		rows.Close()
		db.Close()
		return nil, fmt.Errorf("preparing attachment query: %w", err)
	}

	return &messageIter{db: db, rows: rows, attachments: attachments}, nil
}

// Next returns the next message, (nil, nil) at the end of the sequence, or
// a *RecordDecodeError for a row that could not be decoded.
func (it *messageIter) Next(ctx context.Context) (*model.Message, error) {
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
			return nil, fmt.Errorf("iterating messages: %w", err)
		}
		return nil, nil
	}
	it.row++

	var rowID, fromMe, isRead, date int64
	var text, service, handle sql.NullString
	if err := it.rows.Scan(&rowID, &text, &service, &fromMe, &isRead, &date, &handle); err != nil {
		return nil, &unison.RecordDecodeError{Category: model.CategoryMessages, Row: it.row, Err: err}
	}
	if !handle.Valid || handle.String == "" {
		return nil, &unison.RecordDecodeError{
			Category: model.CategoryMessages, Row: it.row,
			Err: fmt.Errorf("message %d has no handle identity", rowID),
		}
	}

	identity := codec.NormalizePhone(handle.String)

	channel := model.ChannelSMS
	if service.String == ipService {
		channel = model.ChannelIP
	}

	direction := model.DirectionInbound
	read := isRead != 0
	if fromMe != 0 {
		direction = model.DirectionOutbound
		read = true // outbound is read by definition
	}

	m := &model.Message{
		ID:        strconv.FormatInt(rowID, 10),
		ThreadKey: identity,
		Body:      text.String,
		Channel:   channel,
		Direction: direction,
		SentAt:    codec.FromAppleEpoch(date),
		Identity:  identity,
		Read:      read,
	}

	if err := it.loadAttachments(ctx, rowID, m); err != nil {
		return nil, &unison.RecordDecodeError{Category: model.CategoryMessages, Row: it.row, Err: err}
	}
	return m, nil
}

func (it *messageIter) loadAttachments(ctx context.Context, messageID int64, m *model.Message) error {
	rows, err := it.attachments.QueryContext(ctx, messageID)
	if err != nil {
		return fmt.Errorf("querying attachments: %w", err)
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

func (it *messageIter) close() {
	if it.closed {
		return
	}
	it.closed = true
	it.rows.Close()
	it.attachments.Close()
	it.db.Close()
}
