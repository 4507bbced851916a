package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// GetUserStats returns the user's counters. A user with no row yet gets
// zeroed stats.
func (db *DB) GetUserStats(ctx context.Context, userID string) (*schema.UserStats, error) {
	stats := &schema.UserStats{UserID: userID}
	err := db.conn.QueryRowContext(ctx, `
		SELECT words_learned, notes_created, last_active
		FROM user_stats WHERE user_id = ?
	`, userID).Scan(&stats.WordsLearned, &stats.NotesCreated, &stats.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return stats, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stats for %s: %w", userID, err)
	}
	return stats, nil
}

// BumpUserStats adds to the user's counters and moves lastActive forward to
// at (milliseconds). lastActive never moves backwards.
func (db *DB) BumpUserStats(ctx context.Context, userID string, words, notes int, at int64) error {
	query := `
	INSERT INTO user_stats (user_id, words_learned, notes_created, last_active)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		words_learned = words_learned + excluded.words_learned,
		notes_created = notes_created + excluded.notes_created,
		last_active = MAX(last_active, excluded.last_active)
	`
	if _, err := db.conn.ExecContext(ctx, query, userID, words, notes, at); err != nil {
		return fmt.Errorf("failed to bump stats for %s: %w", userID, err)
	}
	return nil
}
