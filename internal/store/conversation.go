package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/matheus3301/threadline/internal/entity"
)

func upsertConversation(q querier, c *Conversation) error {
	now := time.Now().UnixMilli()
	_, err := q.Exec(`
		INSERT INTO conversations (id, name, is_group, is_channel, unread_count, last_message_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE conversations.name END,
			is_group = excluded.is_group,
			is_channel = excluded.is_channel,
			unread_count = excluded.unread_count,
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`,
		c.ID, c.Name, c.IsGroup, c.IsChannel, c.UnreadCount, c.LastMessageAt, now)
	return err
}

// UpsertConversation inserts or updates a conversation. The read watermark
// is left alone; see SetLastSeen.
func (db *DB) UpsertConversation(c *Conversation) error {
	return upsertConversation(db, c)
}

// UpsertConversation is UpsertConversation inside the transaction.
func (t *Tx) UpsertConversation(c *Conversation) error {
	return upsertConversation(t.tx, c)
}

func touchConversation(q querier, id string, at int64) error {
	now := time.Now().UnixMilli()
	_, err := q.Exec(`
		INSERT INTO conversations (id, last_message_at, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
			updated_at = excluded.updated_at`, id, at, now)
	return err
}

// TouchConversation makes sure a conversation exists and advances its last
// message time.
func (db *DB) TouchConversation(id string, at int64) error {
	return touchConversation(db, id, at)
}

// TouchConversation is TouchConversation inside the transaction.
func (t *Tx) TouchConversation(id string, at int64) error {
	return touchConversation(t.tx, id, at)
}

const conversationColumns = `c.id,
	COALESCE(NULLIF(c.name,''), NULLIF(p.name,''), NULLIF(p.push_name,''), c.id) AS display_name,
	c.is_group, c.is_channel, c.unread_count, c.last_seen_id, c.last_seen_token, c.last_seen_time, c.last_message_at`

func scanConversation(row interface{ Scan(...any) error }) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(&c.ID, &c.Name, &c.IsGroup, &c.IsChannel, &c.UnreadCount,
		&c.LastSeen.ServerID, &c.LastSeen.Token, &c.LastSeenTime, &c.LastMessageAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversation returns a conversation by id, or nil when missing. Names
// fall back to the participant of the same id.
func (db *DB) GetConversation(id string) (*Conversation, error) {
	c, err := scanConversation(db.QueryRow(`
		SELECT `+conversationColumns+`
		FROM conversations c
		LEFT JOIN participants p ON c.id = p.id
		WHERE c.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListConversations returns conversations sorted by last message time,
// newest first.
func (db *DB) ListConversations(limit, offset int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT `+conversationColumns+`
		FROM conversations c
		LEFT JOIN participants p ON c.id = p.id
		WHERE c.id NOT IN (SELECT alias FROM aliases)
		ORDER BY c.last_message_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// SetLastSeen moves the read watermark. Older watermarks are ignored.
func (db *DB) SetLastSeen(id string, ref entity.Ref, at int64) error {
	_, err := db.Exec(`
		UPDATE conversations SET last_seen_id = ?, last_seen_token = ?, last_seen_time = ?, updated_at = ?
		WHERE id = ? AND last_seen_time <= ?`,
		ref.ServerID, ref.Token, at, time.Now().UnixMilli(), id, at)
	return err
}

// SetUnreadCount stores the unread counter of a conversation.
func (db *DB) SetUnreadCount(id string, count int) error {
	_, err := db.Exec(`UPDATE conversations SET unread_count = ?, updated_at = ? WHERE id = ?`,
		count, time.Now().UnixMilli(), id)
	return err
}

// ConversationCount returns the total number of conversations.
func (db *DB) ConversationCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&count)
	return count, err
}
