package store

import "time"

// QueueOutbox adds a message to the send outbox.
func (db *DB) QueueOutbox(e *OutboxEntry) error {
	now := time.Now().UnixMilli()
	kind := e.Kind
	if kind == "" {
		kind = "text"
	}
	_, err := db.Exec(`
		INSERT INTO outbox (client_msg_id, recipient_uuid, kind, body, status, audio_uuid, created_at, updated_at)
		VALUES (?, ?, ?, ?, 'queued', ?, ?, ?)`,
		e.ClientMsgID, e.RecipientUUID, kind, e.Body, e.AudioUUID, now, now)
	return err
}

// MarkOutboxSending updates an outbox entry to 'sending' and counts the attempt.
func (db *DB) MarkOutboxSending(clientMsgID string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = 'sending', attempts = attempts + 1, updated_at = ? WHERE client_msg_id = ?`, now, clientMsgID)
	return err
}

// MarkOutboxDone records the final delivery status of an outbox entry.
func (db *DB) MarkOutboxDone(clientMsgID, status string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`UPDATE outbox SET status = ?, updated_at = ? WHERE client_msg_id = ?`, status, now, clientMsgID)
	return err
}

// RequeueInterrupted returns entries left in 'sending' by a previous run to
// the queue.
func (db *DB) RequeueInterrupted() (int64, error) {
	res, err := db.Exec(`UPDATE outbox SET status = 'queued' WHERE status = 'sending'`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetOutbox returns one outbox entry, or nil if it does not exist.
func (db *DB) GetOutbox(clientMsgID string) (*OutboxEntry, error) {
	entries, err := db.queryOutbox(`WHERE client_msg_id = ?`, clientMsgID)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

// PendingOutbox returns outbox entries that are still queued, oldest first.
func (db *DB) PendingOutbox() ([]OutboxEntry, error) {
	return db.queryOutbox(`WHERE status = 'queued' ORDER BY created_at ASC, id ASC`)
}

func (db *DB) queryOutbox(where string, args ...any) ([]OutboxEntry, error) {
	rows, err := db.Query(`
		SELECT id, client_msg_id, recipient_uuid, kind, body, status, attempts, audio_uuid, created_at
		FROM outbox `+where, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []OutboxEntry
	for rows.Next() {
		var e OutboxEntry
		if err := rows.Scan(&e.ID, &e.ClientMsgID, &e.RecipientUUID, &e.Kind, &e.Body, &e.Status, &e.Attempts, &e.AudioUUID, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
