package db

import (
	"context"
	"fmt"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// PutQueueItem durably writes a queue item.
//
// A new item is placed after every item already persisted. Writing an item
// that already exists updates its attempts count and keeps its position.
func (db *DB) PutQueueItem(ctx context.Context, item *schema.QueueItem) error {
	if err := item.Validate(); err != nil {
		return fmt.Errorf("invalid queue item: %w", err)
	}

	query := `
	INSERT INTO queue (id, seq, user_id, action, payload, attempts, ts)
	VALUES (?, COALESCE((SELECT MAX(seq) FROM queue), 0) + 1, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		attempts = excluded.attempts
	`
	_, err := db.conn.ExecContext(ctx, query,
		item.ID,
		item.UserID,
		string(item.Action),
		string(item.Payload),
		item.Attempts,
		item.TS,
	)
	if err != nil {
		return fmt.Errorf("failed to put queue item %s: %w", item.ID, err)
	}
	return nil
}

// UpdateQueueAttempts persists a new attempts count for an item.
func (db *DB) UpdateQueueAttempts(ctx context.Context, id string, attempts int) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE queue SET attempts = ? WHERE id = ?`, attempts, id)
	if err != nil {
		return fmt.Errorf("failed to update attempts for queue item %s: %w", id, err)
	}
	return nil
}

// DeleteQueueItem removes an item. Returns nil if it doesn't exist.
func (db *DB) DeleteQueueItem(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete queue item %s: %w", id, err)
	}
	return nil
}

// ListQueueItems returns every persisted item in the order it was first
// written.
func (db *DB) ListQueueItems(ctx context.Context) ([]*schema.QueueItem, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, user_id, action, payload, attempts, ts
		FROM queue
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue: %w", err)
	}
	defer rows.Close()

	var items []*schema.QueueItem
	for rows.Next() {
		var (
			item    schema.QueueItem
			action  string
			payload string
		)
		if err := rows.Scan(&item.ID, &item.UserID, &action, &payload, &item.Attempts, &item.TS); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		item.Action = schema.Action(action)
		item.Payload = []byte(payload)
		items = append(items, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue: %w", err)
	}
	return items, nil
}

// CountQueueItems returns the number of persisted items.
func (db *DB) CountQueueItems(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count queue items: %w", err)
	}
	return count, nil
}
