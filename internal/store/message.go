package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/matheus3301/threadline/internal/chatsdk"
	"github.com/matheus3301/threadline/internal/entity"
)

// DefaultPageSize is used when a window carries no limit.
const DefaultPageSize = 50

// payload holds the variant part of a record.
type payload struct {
	ReplyTo *entity.ReplyRecord   `json:"reply_to,omitempty"`
	Forward *entity.ForwardRecord `json:"forward,omitempty"`
	System  *entity.SystemRecord  `json:"system,omitempty"`
	Upload  *entity.UploadRecord  `json:"upload,omitempty"`
}

const messageColumns = `id, conversation_id, unique_token, external_id, participant_id, sender_name,
	kind, text, time, sent, delivered, seen, edited, pinned, pin_time, metadata, payload`

func scanMessage(row interface{ Scan(...any) error }) (*StoredMessage, error) {
	var (
		sm  StoredMessage
		raw string
		r   = &sm.Record
	)
	if err := row.Scan(&r.ServerID, &r.ConversationID, &r.UniqueToken, &sm.ExternalID, &r.ParticipantID, &r.SenderName,
		&r.Kind, &r.Text, &r.Time, &r.Sent, &r.Delivered, &r.Seen, &r.Edited, &r.Pinned, &r.PinTime, &r.Metadata, &raw); err != nil {
		return nil, err
	}
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decode payload of message %d: %w", r.ServerID, err)
	}
	r.ReplyTo, r.Forward, r.System, r.Upload = p.ReplyTo, p.Forward, p.System, p.Upload
	return &sm, nil
}

func collect(rows *sql.Rows) ([]entity.Record, error) {
	defer func() { _ = rows.Close() }()
	var out []entity.Record
	for rows.Next() {
		sm, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sm.Record)
	}
	return out, rows.Err()
}

func upsertMessage(q querier, r entity.Record, externalID string) (int64, error) {
	if r.ConversationID == "" || r.UniqueToken == "" {
		return 0, errors.New("upsert message: conversation id and unique token are required")
	}
	raw, err := json.Marshal(payload{ReplyTo: r.ReplyTo, Forward: r.Forward, System: r.System, Upload: r.Upload})
	if err != nil {
		return 0, fmt.Errorf("encode payload: %w", err)
	}
	d := entity.Delivery{Sent: r.Sent, Delivered: r.Delivered, Seen: r.Seen}.Merge(entity.Delivery{})
	if r.Kind == "" {
		r.Kind = entity.KindText.String()
	}

	var id int64
	err = q.QueryRow(`
		INSERT INTO messages (id, conversation_id, unique_token, external_id, participant_id, sender_name,
			kind, text, time, sent, delivered, seen, edited, pinned, pin_time, metadata, payload, created_at)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, unique_token) DO UPDATE SET
			external_id = CASE WHEN excluded.external_id != '' THEN excluded.external_id ELSE messages.external_id END,
			participant_id = CASE WHEN excluded.participant_id != '' THEN excluded.participant_id ELSE messages.participant_id END,
			sender_name = CASE WHEN excluded.sender_name != '' THEN excluded.sender_name ELSE messages.sender_name END,
			kind = excluded.kind,
			text = CASE WHEN excluded.text != '' AND (excluded.edited OR NOT messages.edited) THEN excluded.text ELSE messages.text END,
			time = CASE WHEN excluded.time != 0 THEN excluded.time ELSE messages.time END,
			sent = MAX(messages.sent, excluded.sent),
			delivered = MAX(messages.delivered, excluded.delivered),
			seen = MAX(messages.seen, excluded.seen),
			edited = MAX(messages.edited, excluded.edited),
			pinned = CASE WHEN excluded.pin_time > messages.pin_time THEN excluded.pinned ELSE messages.pinned END,
			pin_time = MAX(messages.pin_time, excluded.pin_time),
			metadata = CASE WHEN excluded.metadata != '' THEN excluded.metadata ELSE messages.metadata END,
			payload = excluded.payload
		RETURNING id`,
		r.ServerID, r.ConversationID, r.UniqueToken, externalID, r.ParticipantID, r.SenderName,
		r.Kind, r.Text, r.Time, d.Sent, d.Delivered, d.Seen, r.Edited, r.Pinned, r.PinTime, r.Metadata, string(raw),
		time.Now().UnixMilli()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert message %s: %w", r.UniqueToken, err)
	}
	return id, nil
}

// UpsertMessage inserts or updates a message (idempotent on conversation id +
// unique token) and returns its row id. A record carrying a server id keeps
// it as row id. Delivery flags and the edited flag never regress.
func (db *DB) UpsertMessage(r entity.Record, externalID string) (int64, error) {
	return upsertMessage(db, r, externalID)
}

// UpsertMessage is UpsertMessage inside the transaction.
func (t *Tx) UpsertMessage(r entity.Record, externalID string) (int64, error) {
	return upsertMessage(t.tx, r, externalID)
}

func messageWhere(q querier, where string, args ...any) (*StoredMessage, error) {
	sm, err := scanMessage(q.QueryRow(`SELECT `+messageColumns+` FROM messages WHERE `+where, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sm, nil
}

// MessageByID returns a message by row id, or nil when missing.
func (db *DB) MessageByID(id int64) (*StoredMessage, error) {
	return messageWhere(db, `id = ?`, id)
}

// MessageByExternalID returns the message stored under a network id.
func (db *DB) MessageByExternalID(conversationID, externalID string) (*StoredMessage, error) {
	return messageByExternalID(db, conversationID, externalID)
}

// MessageByExternalID is MessageByExternalID inside the transaction.
func (t *Tx) MessageByExternalID(conversationID, externalID string) (*StoredMessage, error) {
	return messageByExternalID(t.tx, conversationID, externalID)
}

func messageByExternalID(q querier, conversationID, externalID string) (*StoredMessage, error) {
	if externalID == "" {
		return nil, nil
	}
	return messageWhere(q, `conversation_id = ? AND external_id = ?`, conversationID, externalID)
}

// MessageByToken returns the message with a client token.
func (db *DB) MessageByToken(conversationID, token string) (*StoredMessage, error) {
	return messageWhere(db, `conversation_id = ? AND unique_token = ?`, conversationID, token)
}

// MessageByRef resolves a reference by server id first, then by token.
func (db *DB) MessageByRef(conversationID string, ref entity.Ref) (*StoredMessage, error) {
	if ref.ServerID != 0 {
		sm, err := messageWhere(db, `conversation_id = ? AND id = ?`, conversationID, ref.ServerID)
		if sm != nil || err != nil {
			return sm, err
		}
	}
	if ref.Token == "" {
		return nil, nil
	}
	return db.MessageByToken(conversationID, ref.Token)
}

// LastMessage returns the newest message of a conversation.
func (db *DB) LastMessage(conversationID string) (*StoredMessage, error) {
	return messageWhere(db, `conversation_id = ? ORDER BY time DESC, id DESC LIMIT 1`, conversationID)
}

// ListWindow returns one page of a conversation. The window bounds are
// inclusive unless a keyset id is set; Newest takes the page from the To
// end. Records are returned oldest first.
func (db *DB) ListWindow(conversationID string, w chatsdk.Window) (*Page, error) {
	limit := w.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id = ?`
	args := []any{conversationID}
	switch {
	case w.From != 0 && w.FromID != 0:
		q += ` AND (time > ? OR (time = ? AND id > ?))`
		args = append(args, w.From, w.From, w.FromID)
	case w.From != 0:
		q += ` AND time >= ?`
		args = append(args, w.From)
	}
	switch {
	case w.To != 0 && w.ToID != 0:
		q += ` AND (time < ? OR (time = ? AND id < ?))`
		args = append(args, w.To, w.To, w.ToID)
	case w.To != 0:
		q += ` AND time <= ?`
		args = append(args, w.To)
	}
	if w.Newest {
		q += ` ORDER BY time DESC, id DESC`
	} else {
		q += ` ORDER BY time ASC, id ASC`
	}
	q += ` LIMIT ?`
	args = append(args, limit+1)

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	recs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	page := &Page{HasMore: len(recs) > limit}
	if page.HasMore {
		recs = recs[:limit]
	}
	if w.Newest {
		slices.Reverse(recs)
	}
	page.Records = recs
	return page, nil
}

// ListLatest returns the newest page of a conversation.
func (db *DB) ListLatest(conversationID string, limit int) (*Page, error) {
	return db.ListWindow(conversationID, chatsdk.Window{Limit: limit, Newest: true})
}

// ListBefore returns the page ending at ts, inclusive.
func (db *DB) ListBefore(conversationID string, ts int64, limit int) (*Page, error) {
	return db.ListWindow(conversationID, chatsdk.Window{To: ts, Limit: limit, Newest: true})
}

// ListAfter returns the page starting at ts, inclusive.
func (db *DB) ListAfter(conversationID string, ts int64, limit int) (*Page, error) {
	return db.ListWindow(conversationID, chatsdk.Window{From: ts, Limit: limit})
}

// ApplyDelivery raises the delivery flags of a message. Flags never regress.
func (db *DB) ApplyDelivery(id int64, d entity.Delivery) error {
	d = d.Merge(entity.Delivery{})
	_, err := db.Exec(`
		UPDATE messages SET
			sent = MAX(sent, ?), delivered = MAX(delivered, ?), seen = MAX(seen, ?)
		WHERE id = ?`, d.Sent, d.Delivered, d.Seen, id)
	return err
}

// ApplyEdit replaces the text of a message and marks it edited.
func (db *DB) ApplyEdit(id int64, text string) error {
	_, err := db.Exec(`UPDATE messages SET text = ?, edited = 1 WHERE id = ?`, text, id)
	return err
}

// SetPinned records a pin change. Older pin changes are ignored.
func (db *DB) SetPinned(id int64, pinned bool, at int64) error {
	_, err := db.Exec(`UPDATE messages SET pinned = ?, pin_time = ? WHERE id = ? AND pin_time <= ?`, pinned, at, id, at)
	return err
}

// DeleteMessage removes a message. It reports whether a row was removed.
func (db *DB) DeleteMessage(id int64) (bool, error) {
	res, err := db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SearchMessages returns messages of a conversation whose text contains
// query, newest matches first within the limit, ordered oldest first.
func (db *DB) SearchMessages(conversationID, query string, limit int) (*Page, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := db.Query(`
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ? AND text LIKE ? ESCAPE '\'
		ORDER BY time DESC, id DESC
		LIMIT ?`, conversationID, pattern, limit+1)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	recs, err := collect(rows)
	if err != nil {
		return nil, err
	}
	page := &Page{HasMore: len(recs) > limit}
	if page.HasMore {
		recs = recs[:limit]
	}
	slices.Reverse(recs)
	page.Records = recs
	return page, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// MessageCount returns the total number of messages.
func (db *DB) MessageCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&count)
	return count, err
}
