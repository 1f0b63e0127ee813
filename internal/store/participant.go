package store

import (
	"database/sql"
	"errors"
	"time"
)

func upsertParticipant(q querier, p *Participant) error {
	now := time.Now().UnixMilli()
	_, err := q.Exec(`
		INSERT INTO participants (id, name, push_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = CASE WHEN excluded.name != '' THEN excluded.name ELSE participants.name END,
			push_name = CASE WHEN excluded.push_name != '' THEN excluded.push_name ELSE participants.push_name END,
			updated_at = excluded.updated_at`,
		p.ID, p.Name, p.PushName, now)
	return err
}

// UpsertParticipant inserts or updates a participant. Empty names never
// overwrite known ones.
func (db *DB) UpsertParticipant(p *Participant) error {
	return upsertParticipant(db, p)
}

// UpsertParticipant is UpsertParticipant inside the transaction.
func (t *Tx) UpsertParticipant(p *Participant) error {
	return upsertParticipant(t.tx, p)
}

// GetParticipant returns a participant by id, or nil when missing.
func (db *DB) GetParticipant(id string) (*Participant, error) {
	var p Participant
	err := db.QueryRow(`SELECT id, name, push_name FROM participants WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.PushName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
