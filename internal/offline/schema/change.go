package schema

// ChangeKind tags a change-stream event or a Local Store write.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// Change announces that a record was written or removed.
//
// It carries no record data. Consumers re-read the Local Store. External is
// set when the write was committed by another process and the exact record
// is unknown, in which case Kind and ID are empty.
type Change struct {
	Kind     Kind       `json:"entityKind,omitempty"`
	Op       ChangeKind `json:"changeKind,omitempty"`
	ID       string     `json:"id,omitempty"`
	UserID   string     `json:"userId,omitempty"`
	External bool       `json:"external,omitempty"`
}

// UserStats holds per-user activity counters.
type UserStats struct {
	UserID       string `json:"userId"`
	WordsLearned int    `json:"wordsLearned"`
	NotesCreated int    `json:"notesCreated"`
	LastActive   int64  `json:"lastActive"`
}

// UserSettings holds user preferences stored in the durable flag file.
type UserSettings struct {
	TargetLanguage string `json:"targetLanguage"`
}

// DefaultUserSettings returns the settings used before the user saves any.
func DefaultUserSettings() UserSettings {
	return UserSettings{TargetLanguage: "en"}
}

// Cache is a snapshot of everything stored locally for one user.
type Cache struct {
	Words []Word        `json:"words"`
	Notes []Note        `json:"notes"`
	Chats []ChatMessage `json:"chats"`
}
