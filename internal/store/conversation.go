package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const conversationColumns = `person_uuid, name, match_percentage, image_uuid, image_blurhash,
	last_message, last_message_read, last_message_at, is_available, is_verified, location`

// ReplaceConversations swaps the persisted inbox snapshot for convs in one
// transaction.
func (db *DB) ReplaceConversations(convs []Conversation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	stmt, err := tx.Prepare(`INSERT INTO conversations (` + conversationColumns + `, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UnixMilli()
	for _, c := range convs {
		if _, err := stmt.Exec(c.PersonUUID, c.Name, c.MatchPercentage, c.ImageUUID, c.ImageBlurhash,
			c.LastMessage, c.LastMessageRead, c.LastMessageTimestamp, c.IsAvailableUser, c.IsVerified,
			c.Location, now); err != nil {
			return fmt.Errorf("insert conversation %s: %w", c.PersonUUID, err)
		}
	}
	return tx.Commit()
}

// ListConversations returns the persisted snapshot, newest first.
func (db *DB) ListConversations() ([]Conversation, error) {
	rows, err := db.Query(`SELECT ` + conversationColumns + ` FROM conversations ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var convs []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation returns one conversation, or nil if it is not persisted.
func (db *DB) GetConversation(personUUID string) (*Conversation, error) {
	row := db.QueryRow(`SELECT `+conversationColumns+` FROM conversations WHERE person_uuid = ?`, personUUID)
	c, err := scanConversation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (Conversation, error) {
	var c Conversation
	err := s.Scan(&c.PersonUUID, &c.Name, &c.MatchPercentage, &c.ImageUUID, &c.ImageBlurhash,
		&c.LastMessage, &c.LastMessageRead, &c.LastMessageTimestamp, &c.IsAvailableUser, &c.IsVerified,
		&c.Location)
	return c, err
}
