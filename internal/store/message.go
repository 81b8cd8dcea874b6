package store

import (
	"fmt"
	"time"
)

const messageColumns = `id, peer_uuid, msg_id, mam_id, from_me, body, audio_uuid, status, timestamp`

// UpsertMessage inserts or updates a message (idempotent on peer_uuid + msg_id).
func (db *DB) UpsertMessage(m *Message) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO messages (peer_uuid, msg_id, mam_id, from_me, body, audio_uuid, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_uuid, msg_id) DO UPDATE SET
			mam_id = CASE WHEN excluded.mam_id != '' THEN excluded.mam_id ELSE messages.mam_id END,
			body = excluded.body,
			audio_uuid = excluded.audio_uuid,
			status = CASE WHEN excluded.status != '' THEN excluded.status ELSE messages.status END`,
		m.PeerUUID, m.MsgID, m.MamID, m.FromMe, m.Body, m.AudioUUID, m.Status, m.Timestamp, now)
	return err
}

// UpsertMessages writes a batch of messages in a single transaction.
func (db *DB) UpsertMessages(msgs []Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.Prepare(`
		INSERT INTO messages (peer_uuid, msg_id, mam_id, from_me, body, audio_uuid, status, timestamp, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(peer_uuid, msg_id) DO UPDATE SET
			mam_id = CASE WHEN excluded.mam_id != '' THEN excluded.mam_id ELSE messages.mam_id END`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		if _, err := stmt.Exec(m.PeerUUID, m.MsgID, m.MamID, m.FromMe, m.Body, m.AudioUUID, m.Status, m.Timestamp, now); err != nil {
			return fmt.Errorf("upsert message %s: %w", m.MsgID, err)
		}
	}
	return tx.Commit()
}

// SetMessageStatus records the delivery status of an outgoing message.
func (db *DB) SetMessageStatus(peerUUID, msgID, status string) error {
	_, err := db.Exec(`UPDATE messages SET status = ? WHERE peer_uuid = ? AND msg_id = ?`, status, peerUUID, msgID)
	return err
}

// ListMessages returns messages with a peer using keyset pagination by timestamp.
func (db *DB) ListMessages(peerUUID string, beforeTs int64, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if beforeTs <= 0 {
		beforeTs = time.Now().UnixMilli() + 1
	}
	rows, err := db.Query(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE peer_uuid = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT ?`, peerUUID, beforeTs, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MessageCount returns the total number of stored messages.
func (db *DB) MessageCount() (int64, error) {
	var n int64
	err := db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n)
	return n, err
}

func scanMessage(s scanner) (Message, error) {
	var m Message
	err := s.Scan(&m.ID, &m.PeerUUID, &m.MsgID, &m.MamID, &m.FromMe, &m.Body, &m.AudioUUID, &m.Status, &m.Timestamp)
	return m, err
}
