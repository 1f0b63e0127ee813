package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// OutboxStatus is the lifecycle state of a queued send.
type OutboxStatus string

const (
	OutboxQueued  OutboxStatus = "queued"
	OutboxSending OutboxStatus = "sending"
	OutboxSent    OutboxStatus = "sent"
	OutboxFailed  OutboxStatus = "failed"
)

// QueueOutbox records a send request. Tokens are unique, so queuing the
// same token twice fails.
func (db *DB) QueueOutbox(token, conversationID, body string, replyToID int64) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO outbox (unique_token, conversation_id, body, reply_to_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token, conversationID, body, replyToID, OutboxQueued, now, now)
	return err
}

// ClaimOutbox moves a queued entry to sending. It reports false when the
// entry was not queued, which means another pass already took it.
func (db *DB) ClaimOutbox(token string) (bool, error) {
	res, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE unique_token = ? AND status = ?`,
		OutboxSending, time.Now().UnixMilli(), token, OutboxQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkOutboxSent records the server id the sent message was stored under.
func (db *DB) MarkOutboxSent(token string, serverID int64) error {
	return db.finishOutbox(token, OutboxSent, "server_id = ?", serverID)
}

// MarkOutboxFailed records why a send failed.
func (db *DB) MarkOutboxFailed(token, reason string) error {
	return db.finishOutbox(token, OutboxFailed, "error_message = ?", reason)
}

func (db *DB) finishOutbox(token string, status OutboxStatus, set string, value any) error {
	q := fmt.Sprintf(`UPDATE outbox SET status = ?, %s, updated_at = ? WHERE unique_token = ?`, set)
	_, err := db.Exec(q, status, value, time.Now().UnixMilli(), token)
	return err
}

// RequeueSending returns entries stranded in sending, for example by a
// daemon that died mid-send, to the queue. It returns how many moved.
func (db *DB) RequeueSending() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE status = ?`,
		OutboxQueued, time.Now().UnixMilli(), OutboxSending)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// OutboxByToken returns one entry, or nil when the token is unknown.
func (db *DB) OutboxByToken(token string) (*OutboxEntry, error) {
	row := db.QueryRow(outboxSelect+` WHERE unique_token = ?`, token)
	e, err := scanOutbox(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// PendingOutbox returns queued entries in the order they were queued.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	rows, err := db.Query(outboxSelect+` WHERE status = ? ORDER BY created_at, id`, OutboxQueued)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		e, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

const outboxSelect = `SELECT id, unique_token, conversation_id, body, reply_to_id, status, error_message, server_id FROM outbox`

type scanner interface {
	Scan(dest ...any) error
}

func scanOutbox(s scanner) (OutboxEntry, error) {
	var e OutboxEntry
	err := s.Scan(&e.ID, &e.UniqueToken, &e.ConversationID, &e.Body, &e.ReplyToID, &e.Status, &e.ErrorMessage, &e.ServerID)
	return e, err
}
