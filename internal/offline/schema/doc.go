// Package schema defines the records, mutations and queue items shared by the
// LearnFlow offline sync layer.
//
// # Records
//
// Every user-owned content item is one of three kinds:
//
//   - word: a vocabulary entry ({id, userId, term, definition, ts})
//   - note: a free-form note ({id, userId, content, ts})
//   - chat: a chat message ({id, userId, content, role, ts})
//
// Identity is the pair (userId, id). IDs are generated by the client and are
// globally unique, so the same id always addresses the same remote document.
// Timestamps are milliseconds since the Unix epoch.
//
// # Remote layout
//
// Records live in the remote document store under per-user collections:
//
//	users/{uid}/words/{id}
//	users/{uid}/notes/{id}
//	users/{uid}/chats/{id}
//
// # Mutations
//
// A Mutation is a pending change to one record. It is a closed set of
// variants, one per action:
//
//	schema.AddWord{Word: w}      // ADD_WORD
//	schema.DeleteWord{ID: "w1"}  // DELETE_WORD
//	schema.AddNote{Note: n}      // ADD_NOTE
//	schema.DeleteNote{ID: "n1"}  // DELETE_NOTE
//	schema.AddChat{Message: m}   // ADD_CHAT
//	schema.DeleteChat{ID: "c1"}  // DELETE_CHAT
//
// Mutations are persisted inside a QueueItem. The item's payload is the JSON
// form of the variant: the full record for ADD_* actions and {"id": ...} for
// DELETE_* actions. DecodeMutation turns a stored payload back into a variant.
package schema
