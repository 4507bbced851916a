package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// ListOptions filters range reads by user.
type ListOptions struct {
	// Since keeps only records with ts >= Since (milliseconds). Zero means
	// no lower bound.
	Since int64
	// Limit caps the number of rows returned. Zero means no limit.
	Limit int
}

// UpsertRecord inserts or replaces a record of any kind.
func (db *DB) UpsertRecord(rec schema.Record) error {
	return db.UpsertRecordContext(context.Background(), rec)
}

// UpsertRecordContext inserts or replaces a record with context support.
//
// Same (userId, id) overwrites. The owner must be set.
func (db *DB) UpsertRecordContext(ctx context.Context, rec schema.Record) error {
	switch r := rec.(type) {
	case *schema.Word:
		return db.UpsertWord(ctx, r)
	case *schema.Note:
		return db.UpsertNote(ctx, r)
	case *schema.ChatMessage:
		return db.UpsertChat(ctx, r)
	default:
		return fmt.Errorf("%w: %T", schema.ErrUnknownKind, rec)
	}
}

// UpsertWord inserts or replaces a word.
func (db *DB) UpsertWord(ctx context.Context, w *schema.Word) error {
	if err := validateOwned(w); err != nil {
		return err
	}

	query := `
	INSERT INTO words (user_id, id, term, definition, ts)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, id) DO UPDATE SET
		term = excluded.term,
		definition = excluded.definition,
		ts = excluded.ts
	`
	if _, err := db.conn.ExecContext(ctx, query, w.UserID, w.ID, w.Term, w.Definition, w.TS); err != nil {
		return fmt.Errorf("failed to upsert word %s: %w", w.ID, err)
	}

	db.publish(schema.Change{Kind: schema.KindWord, Op: schema.ChangeModified, ID: w.ID, UserID: w.UserID})
	return nil
}

// UpsertNote inserts or replaces a note.
func (db *DB) UpsertNote(ctx context.Context, n *schema.Note) error {
	if err := validateOwned(n); err != nil {
		return err
	}

	query := `
	INSERT INTO notes (user_id, id, content, ts)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(user_id, id) DO UPDATE SET
		content = excluded.content,
		ts = excluded.ts
	`
	if _, err := db.conn.ExecContext(ctx, query, n.UserID, n.ID, n.Content, n.TS); err != nil {
		return fmt.Errorf("failed to upsert note %s: %w", n.ID, err)
	}

	db.publish(schema.Change{Kind: schema.KindNote, Op: schema.ChangeModified, ID: n.ID, UserID: n.UserID})
	return nil
}

// UpsertChat inserts or replaces a chat message.
func (db *DB) UpsertChat(ctx context.Context, c *schema.ChatMessage) error {
	if c.Role == "" {
		c.Role = schema.RoleUser
	}
	if err := validateOwned(c); err != nil {
		return err
	}

	query := `
	INSERT INTO chat_messages (user_id, id, content, role, ts)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id, id) DO UPDATE SET
		content = excluded.content,
		role = excluded.role,
		ts = excluded.ts
	`
	if _, err := db.conn.ExecContext(ctx, query, c.UserID, c.ID, c.Content, c.Role, c.TS); err != nil {
		return fmt.Errorf("failed to upsert chat message %s: %w", c.ID, err)
	}

	db.publish(schema.Change{Kind: schema.KindChat, Op: schema.ChangeModified, ID: c.ID, UserID: c.UserID})
	return nil
}

// validateOwned checks the key of a record. Content rules belong to the
// enqueue path; rows written here may hold whatever the remote store sent.
func validateOwned(rec schema.Record) error {
	if err := schema.CheckOwned(rec); err != nil {
		return fmt.Errorf("invalid %s: %w", rec.RecordKind(), err)
	}
	return nil
}

// DeleteRecord removes a record.
//
// Returns nil if the record doesn't exist (idempotent).
func (db *DB) DeleteRecord(kind schema.Kind, userID, id string) error {
	return db.DeleteRecordContext(context.Background(), kind, userID, id)
}

// DeleteRecordContext removes a record with context support. It reports
// nothing to subscribers when no row matched.
func (db *DB) DeleteRecordContext(ctx context.Context, kind schema.Kind, userID, id string) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", schema.ErrUnknownKind, kind)
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE user_id = ? AND id = ?`, kind.Table())
	res, err := db.conn.ExecContext(ctx, query, userID, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		db.publish(schema.Change{Kind: kind, Op: schema.ChangeRemoved, ID: id, UserID: userID})
	}
	return nil
}

// GetWord returns a single word, or nil if it doesn't exist.
func (db *DB) GetWord(ctx context.Context, userID, id string) (*schema.Word, error) {
	var w schema.Word
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, term, definition, ts FROM words WHERE user_id = ? AND id = ?`,
		userID, id,
	).Scan(&w.ID, &w.UserID, &w.Term, &w.Definition, &w.TS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get word %s: %w", id, err)
	}
	return &w, nil
}

// GetNote returns a single note, or nil if it doesn't exist.
func (db *DB) GetNote(ctx context.Context, userID, id string) (*schema.Note, error) {
	var n schema.Note
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, content, ts FROM notes WHERE user_id = ? AND id = ?`,
		userID, id,
	).Scan(&n.ID, &n.UserID, &n.Content, &n.TS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get note %s: %w", id, err)
	}
	return &n, nil
}

// GetChat returns a single chat message, or nil if it doesn't exist.
func (db *DB) GetChat(ctx context.Context, userID, id string) (*schema.ChatMessage, error) {
	var c schema.ChatMessage
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, user_id, content, role, ts FROM chat_messages WHERE user_id = ? AND id = ?`,
		userID, id,
	).Scan(&c.ID, &c.UserID, &c.Content, &c.Role, &c.TS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat message %s: %w", id, err)
	}
	return &c, nil
}

// listQuery builds the ranged SELECT shared by the List methods.
func listQuery(columns, table string, opts ListOptions) (string, []any) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE user_id = ?`, columns, table)
	args := []any{}
	if opts.Since > 0 {
		query += ` AND ts >= ?`
		args = append(args, opts.Since)
	}
	query += ` ORDER BY ts DESC, id`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}
	return query, args
}

// ListWords returns the user's words, newest first.
func (db *DB) ListWords(ctx context.Context, userID string, opts ListOptions) ([]schema.Word, error) {
	query, args := listQuery("id, user_id, term, definition, ts", "words", opts)
	rows, err := db.conn.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query words: %w", err)
	}
	defer rows.Close()

	words := []schema.Word{}
	for rows.Next() {
		var w schema.Word
		if err := rows.Scan(&w.ID, &w.UserID, &w.Term, &w.Definition, &w.TS); err != nil {
			return nil, fmt.Errorf("failed to scan word: %w", err)
		}
		words = append(words, w)
	}
	return words, rows.Err()
}

// ListNotes returns the user's notes, newest first.
func (db *DB) ListNotes(ctx context.Context, userID string, opts ListOptions) ([]schema.Note, error) {
	query, args := listQuery("id, user_id, content, ts", "notes", opts)
	rows, err := db.conn.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notes: %w", err)
	}
	defer rows.Close()

	notes := []schema.Note{}
	for rows.Next() {
		var n schema.Note
		if err := rows.Scan(&n.ID, &n.UserID, &n.Content, &n.TS); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// ListChats returns the user's chat messages, newest first.
func (db *DB) ListChats(ctx context.Context, userID string, opts ListOptions) ([]schema.ChatMessage, error) {
	query, args := listQuery("id, user_id, content, role, ts", "chat_messages", opts)
	rows, err := db.conn.QueryContext(ctx, query, append([]any{userID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat messages: %w", err)
	}
	defer rows.Close()

	chats := []schema.ChatMessage{}
	for rows.Next() {
		var c schema.ChatMessage
		if err := rows.Scan(&c.ID, &c.UserID, &c.Content, &c.Role, &c.TS); err != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DumpCache returns every record stored for the user.
func (db *DB) DumpCache(userID string) (*schema.Cache, error) {
	return db.DumpCacheContext(context.Background(), userID)
}

// DumpCacheContext returns every record stored for the user with context
// support.
func (db *DB) DumpCacheContext(ctx context.Context, userID string) (*schema.Cache, error) {
	words, err := db.ListWords(ctx, userID, ListOptions{})
	if err != nil {
		return nil, err
	}
	notes, err := db.ListNotes(ctx, userID, ListOptions{})
	if err != nil {
		return nil, err
	}
	chats, err := db.ListChats(ctx, userID, ListOptions{})
	if err != nil {
		return nil, err
	}
	return &schema.Cache{Words: words, Notes: notes, Chats: chats}, nil
}

// CountRecords returns the number of records of a kind stored for a user.
func (db *DB) CountRecords(ctx context.Context, kind schema.Kind, userID string) (int, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: %q", schema.ErrUnknownKind, kind)
	}
	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE user_id = ?`, kind.Table())
	if err := db.conn.QueryRowContext(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind.Table(), err)
	}
	return count, nil
}
