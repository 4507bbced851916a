package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// maxContentLen bounds the size of any text field.
const maxContentLen = 64 * 1024

// Record is implemented by Word, Note and ChatMessage.
type Record interface {
	RecordKind() Kind
	RecordID() string
	Owner() string
	Timestamp() int64
	Validate() error
}

// Word is a vocabulary entry.
type Word struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Term       string `json:"term"`
	Definition string `json:"definition,omitempty"`
	TS         int64  `json:"ts"`
}

func (w *Word) RecordKind() Kind { return KindWord }
func (w *Word) RecordID() string { return w.ID }
func (w *Word) Owner() string { return w.UserID }
func (w *Word) Timestamp() int64 { return w.TS }

// Validate checks if the Word has valid field values.
func (w *Word) Validate() error {
	if err := ValidateID(w.ID); err != nil {
		return err
	}
	if w.Term == "" {
		return invalid("term is required")
	}
	if len(w.Term) > 500 {
		return invalid("term must be 500 characters or less (got %d)", len(w.Term))
	}
	if len(w.Definition) > maxContentLen {
		return invalid("definition too long (got %d bytes)", len(w.Definition))
	}
	return nil
}

// Note is a free-form note.
type Note struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Content string `json:"content"`
	TS      int64  `json:"ts"`
}

func (n *Note) RecordKind() Kind { return KindNote }
func (n *Note) RecordID() string { return n.ID }
func (n *Note) Owner() string { return n.UserID }
func (n *Note) Timestamp() int64 { return n.TS }

// Validate checks if the Note has valid field values.
func (n *Note) Validate() error {
	if err := ValidateID(n.ID); err != nil {
		return err
	}
	if len(n.Content) > maxContentLen {
		return invalid("content too long (got %d bytes)", len(n.Content))
	}
	return nil
}

// ChatMessage is one message of a chat conversation.
type ChatMessage struct {
	ID      string `json:"id"`
	UserID  string `json:"userId"`
	Content string `json:"content"`
	Role    string `json:"role"`
	TS      int64  `json:"ts"`
}

func (c *ChatMessage) RecordKind() Kind { return KindChat }
func (c *ChatMessage) RecordID() string { return c.ID }
func (c *ChatMessage) Owner() string { return c.UserID }
func (c *ChatMessage) Timestamp() int64 { return c.TS }

// Validate checks if the ChatMessage has valid field values.
func (c *ChatMessage) Validate() error {
	if err := ValidateID(c.ID); err != nil {
		return err
	}
	if c.Role != RoleUser && c.Role != RoleAssistant {
		return invalid("role must be %q or %q (got %q)", RoleUser, RoleAssistant, c.Role)
	}
	if len(c.Content) > maxContentLen {
		return invalid("content too long (got %d bytes)", len(c.Content))
	}
	return nil
}

// ValidateID checks that id can be used as a single remote path segment.
func ValidateID(id string) error {
	switch {
	case id == "":
		return invalid("id is required")
	case id == "." || id == "..":
		return invalid("id %q is reserved", id)
	case strings.ContainsAny(id, "/\\"):
		return invalid("id %q must not contain a path separator", id)
	}
	return nil
}

// CheckOwned checks only what the Local Store needs to key a record: an id
// and an owner. Field contents are not checked, so documents arriving from
// the remote store are kept as they are.
func CheckOwned(r Record) error {
	if err := ValidateID(r.RecordID()); err != nil {
		return err
	}
	if r.Owner() == "" {
		return invalid("userId is required")
	}
	return nil
}

// Millis converts t into the millisecond timestamps stored on records.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// Fields returns the remote document field set for a record.
func Fields(r Record) (map[string]any, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s: %w", r.RecordKind(), err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s fields: %w", r.RecordKind(), err)
	}
	return fields, nil
}

// RecordFromFields builds a record of the given kind from a remote document.
//
// The id and owner always come from the document location, never from the
// field set. A missing or zero ts is replaced by now, and chat messages
// without a role default to RoleUser.
func RecordFromFields(kind Kind, uid, id string, fields map[string]any, now time.Time) (Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fields: %w", err)
	}

	var rec Record
	switch kind {
	case KindWord:
		rec = &Word{}
	case KindNote:
		rec = &Note{}
	case KindChat:
		rec = &ChatMessage{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("failed to decode %s %s: %w", kind, id, err)
	}

	switch r := rec.(type) {
	case *Word:
		r.ID, r.UserID = id, uid
		if r.TS == 0 {
			r.TS = Millis(now)
		}
	case *Note:
		r.ID, r.UserID = id, uid
		if r.TS == 0 {
			r.TS = Millis(now)
		}
	case *ChatMessage:
		r.ID, r.UserID = id, uid
		if r.TS == 0 {
			r.TS = Millis(now)
		}
		if r.Role == "" {
			r.Role = RoleUser
		}
	}
	return rec, nil
}
