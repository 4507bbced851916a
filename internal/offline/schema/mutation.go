package schema

import (
	"encoding/json"
	"fmt"
)

// Action names a queued mutation on the wire and in the queue table.
type Action string

const (
	ActionAddWord    Action = "ADD_WORD"
	ActionDeleteWord Action = "DELETE_WORD"
	ActionAddNote    Action = "ADD_NOTE"
	ActionDeleteNote Action = "DELETE_NOTE"
	ActionAddChat    Action = "ADD_CHAT"
	ActionDeleteChat Action = "DELETE_CHAT"
)

// Actions lists every queue action.
var Actions = []Action{
	ActionAddWord, ActionDeleteWord,
	ActionAddNote, ActionDeleteNote,
	ActionAddChat, ActionDeleteChat,
}

// ParseAction validates an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == s {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Mutation is a pending change to one record.
//
// The set of variants is closed: AddWord, DeleteWord, AddNote, DeleteNote,
// AddChat and DeleteChat. Code that handles mutations should switch on the
// concrete type.
type Mutation interface {
	Action() Action
	Kind() Kind
	RecordID() string
	Validate() error

	mutation()
}

// AddWord upserts a word.
type AddWord struct{ Word Word }

// DeleteWord removes a word.
type DeleteWord struct{ ID string }

// AddNote upserts a note.
type AddNote struct{ Note Note }

// DeleteNote removes a note.
type DeleteNote struct{ ID string }

// AddChat upserts a chat message.
type AddChat struct{ Message ChatMessage }

// DeleteChat removes a chat message.
type DeleteChat struct{ ID string }

func (AddWord) Action() Action    { return ActionAddWord }
func (DeleteWord) Action() Action { return ActionDeleteWord }
func (AddNote) Action() Action    { return ActionAddNote }
func (DeleteNote) Action() Action { return ActionDeleteNote }
func (AddChat) Action() Action    { return ActionAddChat }
func (DeleteChat) Action() Action { return ActionDeleteChat }

func (AddWord) Kind() Kind    { return KindWord }
func (DeleteWord) Kind() Kind { return KindWord }
func (AddNote) Kind() Kind    { return KindNote }
func (DeleteNote) Kind() Kind { return KindNote }
func (AddChat) Kind() Kind    { return KindChat }
func (DeleteChat) Kind() Kind { return KindChat }

func (m AddWord) RecordID() string    { return m.Word.ID }
func (m DeleteWord) RecordID() string { return m.ID }
func (m AddNote) RecordID() string    { return m.Note.ID }
func (m DeleteNote) RecordID() string { return m.ID }
func (m AddChat) RecordID() string    { return m.Message.ID }
func (m DeleteChat) RecordID() string { return m.ID }

func (m AddWord) Validate() error    { return m.Word.Validate() }
func (m DeleteWord) Validate() error { return ValidateID(m.ID) }
func (m AddNote) Validate() error    { return m.Note.Validate() }
func (m DeleteNote) Validate() error { return ValidateID(m.ID) }
func (m AddChat) Validate() error    { return m.Message.Validate() }
func (m DeleteChat) Validate() error { return ValidateID(m.ID) }

func (AddWord) mutation()    {}
func (DeleteWord) mutation() {}
func (AddNote) mutation()    {}
func (DeleteNote) mutation() {}
func (AddChat) mutation()    {}
func (DeleteChat) mutation() {}

// IsDelete reports whether m removes a record.
func IsDelete(m Mutation) bool {
	switch m.(type) {
	case DeleteWord, DeleteNote, DeleteChat:
		return true
	default:
		return false
	}
}

// RecordOf returns the record carried by an add mutation, or nil for deletes.
func RecordOf(m Mutation) Record {
	switch v := m.(type) {
	case AddWord:
		return &v.Word
	case AddNote:
		return &v.Note
	case AddChat:
		return &v.Message
	default:
		return nil
	}
}

// NewAdd wraps a record into the matching add mutation.
func NewAdd(r Record) (Mutation, error) {
	switch v := r.(type) {
	case *Word:
		return AddWord{Word: *v}, nil
	case *Note:
		return AddNote{Note: *v}, nil
	case *ChatMessage:
		return AddChat{Message: *v}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, r)
	}
}

// NewDelete builds the delete mutation for a record of the given kind.
func NewDelete(kind Kind, id string) (Mutation, error) {
	switch kind {
	case KindWord:
		return DeleteWord{ID: id}, nil
	case KindNote:
		return DeleteNote{ID: id}, nil
	case KindChat:
		return DeleteChat{ID: id}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

type idPayload struct {
	ID string `json:"id"`
}

// EncodeMutation returns the queue payload for m.
func EncodeMutation(m Mutation) (json.RawMessage, error) {
	var v any
	switch m := m.(type) {
	case AddWord:
		v = m.Word
	case AddNote:
		v = m.Note
	case AddChat:
		v = m.Message
	case DeleteWord:
		v = idPayload{ID: m.ID}
	case DeleteNote:
		v = idPayload{ID: m.ID}
	case DeleteChat:
		v = idPayload{ID: m.ID}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownAction, m)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", m.Action(), err)
	}
	return data, nil
}

// DecodeMutation parses a stored queue payload back into its variant.
func DecodeMutation(action Action, payload json.RawMessage) (Mutation, error) {
	var m Mutation
	var err error

	switch action {
	case ActionAddWord:
		var v AddWord
		err = json.Unmarshal(payload, &v.Word)
		m = v
	case ActionAddNote:
		var v AddNote
		err = json.Unmarshal(payload, &v.Note)
		m = v
	case ActionAddChat:
		var v AddChat
		err = json.Unmarshal(payload, &v.Message)
		if v.Message.Role == "" {
			v.Message.Role = RoleUser
		}
		m = v
	case ActionDeleteWord, ActionDeleteNote, ActionDeleteChat:
		var p idPayload
		err = json.Unmarshal(payload, &p)
		switch action {
		case ActionDeleteWord:
			m = DeleteWord{ID: p.ID}
		case ActionDeleteNote:
			m = DeleteNote{ID: p.ID}
		default:
			m = DeleteChat{ID: p.ID}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", action, err)
	}
	return m, nil
}
