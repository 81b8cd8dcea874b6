package store

import (
	"database/sql"
	"errors"
	"time"
)

// SaveDraft stores composer text for a conversation. An empty body deletes it.
func (db *DB) SaveDraft(senderUUID, recipientUUID, body string) error {
	if body == "" {
		_, err := db.Exec(`DELETE FROM drafts WHERE sender_uuid = ? AND recipient_uuid = ?`, senderUUID, recipientUUID)
		return err
	}
	_, err := db.Exec(`
		INSERT INTO drafts (sender_uuid, recipient_uuid, body, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sender_uuid, recipient_uuid) DO UPDATE SET
			body = excluded.body,
			updated_at = excluded.updated_at`,
		senderUUID, recipientUUID, body, time.Now().UnixMilli())
	return err
}

// GetDraft returns the saved draft body, or "" if there is none.
func (db *DB) GetDraft(senderUUID, recipientUUID string) (string, error) {
	var body string
	err := db.QueryRow(`SELECT body FROM drafts WHERE sender_uuid = ? AND recipient_uuid = ?`,
		senderUUID, recipientUUID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return body, err
}
