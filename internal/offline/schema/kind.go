package schema

import (
	"fmt"
	"strings"
)

// Kind identifies one of the record types.
type Kind string

const (
	// KindWord is a vocabulary entry.
	KindWord Kind = "word"
	// KindNote is a note.
	KindNote Kind = "note"
	// KindChat is a chat message.
	KindChat Kind = "chat"
)

// Kinds lists every tracked record kind in sync order.
var Kinds = []Kind{KindWord, KindNote, KindChat}

// Table returns the Local Store table holding records of this kind.
func (k Kind) Table() string {
	switch k {
	case KindWord:
		return "words"
	case KindNote:
		return "notes"
	case KindChat:
		return "chat_messages"
	default:
		return ""
	}
}

// Collection returns the remote collection name for this kind.
func (k Kind) Collection() string {
	switch k {
	case KindWord:
		return "words"
	case KindNote:
		return "notes"
	case KindChat:
		return "chats"
	default:
		return ""
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k.Table() != ""
}

// ParseKind accepts a kind in singular or plural form ("word", "words",
// "chat", "chats", "chat_messages").
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "word", "words":
		return KindWord, nil
	case "note", "notes":
		return KindNote, nil
	case "chat", "chats", "chat_messages":
		return KindChat, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// CollectionPath returns the remote collection path for a user's records
// of the given kind: users/{uid}/{collection}.
func CollectionPath(uid string, kind Kind) string {
	return "users/" + uid + "/" + kind.Collection()
}

// DocPath returns the remote document path for one record:
// users/{uid}/{collection}/{id}.
func DocPath(uid string, kind Kind, id string) string {
	return CollectionPath(uid, kind) + "/" + id
}

// ParseCollectionPath splits users/{uid}/{collection} into its uid and kind.
func ParseCollectionPath(path string) (uid string, kind Kind, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 3 || parts[0] != "users" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed collection path %q", path)
	}
	kind, err = ParseKind(parts[2])
	if err != nil {
		return "", "", err
	}
	return parts[1], kind, nil
}
