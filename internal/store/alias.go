package store

import "fmt"

// SyncAliases replaces the alias table with the given mappings.
func (db *DB) SyncAliases(aliases []Alias) error {
	return db.InTx(func(t *Tx) error {
		if _, err := t.tx.Exec(`DELETE FROM aliases`); err != nil {
			return fmt.Errorf("clear aliases: %w", err)
		}
		for _, a := range aliases {
			if _, err := t.tx.Exec(`INSERT INTO aliases (alias, canonical) VALUES (?, ?)`, a.Alias, a.Canonical); err != nil {
				return fmt.Errorf("insert alias %q: %w", a.Alias, err)
			}
		}
		return nil
	})
}

// Canonical returns the canonical conversation id for id.
func (db *DB) Canonical(id string) (string, error) {
	var canonical string
	err := db.QueryRow(`SELECT COALESCE((SELECT canonical FROM aliases WHERE alias = ?), ?)`, id, id).Scan(&canonical)
	return canonical, err
}

// ReconcileAliases merges aliased conversations into their canonical ones:
// messages and senders move over, and the alias conversation is removed.
// Messages whose token already exists in the canonical conversation are
// dropped. Returns the number of conversations merged.
func (db *DB) ReconcileAliases() (int64, error) {
	var merged int64
	err := db.InTx(func(t *Tx) error {
		if _, err := t.tx.Exec(`
			INSERT INTO conversations (id, name, is_group, is_channel, unread_count, last_message_at, updated_at)
			SELECT a.canonical, c.name, c.is_group, c.is_channel, c.unread_count, c.last_message_at, c.updated_at
			FROM conversations c
			JOIN aliases a ON c.id = a.alias
			WHERE true
			ON CONFLICT(id) DO UPDATE SET
				last_message_at = MAX(conversations.last_message_at, excluded.last_message_at),
				name = CASE WHEN conversations.name = '' THEN excluded.name ELSE conversations.name END,
				updated_at = excluded.updated_at
		`); err != nil {
			return fmt.Errorf("ensure canonical conversations: %w", err)
		}

		if _, err := t.tx.Exec(`
			DELETE FROM messages
			WHERE conversation_id IN (SELECT alias FROM aliases)
			AND EXISTS (
				SELECT 1 FROM messages m2, aliases a
				WHERE a.alias = messages.conversation_id
				AND m2.conversation_id = a.canonical
				AND m2.unique_token = messages.unique_token
			)
		`); err != nil {
			return fmt.Errorf("drop duplicate messages: %w", err)
		}

		if _, err := t.tx.Exec(`
			UPDATE messages SET
				conversation_id = (SELECT a.canonical FROM aliases a WHERE a.alias = messages.conversation_id),
				participant_id = COALESCE(
					(SELECT a2.canonical FROM aliases a2 WHERE a2.alias = messages.participant_id),
					messages.participant_id
				)
			WHERE conversation_id IN (SELECT alias FROM aliases)
		`); err != nil {
			return fmt.Errorf("reassign messages: %w", err)
		}

		res, err := t.tx.Exec(`DELETE FROM conversations WHERE id IN (SELECT alias FROM aliases)`)
		if err != nil {
			return fmt.Errorf("delete alias conversations: %w", err)
		}
		merged, err = res.RowsAffected()
		return err
	})
	return merged, err
}
