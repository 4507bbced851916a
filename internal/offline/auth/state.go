// Package auth propagates the signed-in identity to every process.
//
// The background process runs a Broadcaster: it watches a Provider and, for
// every login or logout, persists the new State to the authState flag,
// publishes it on the notifier's auth topic, and hands it to in-process
// observers. UI processes run a Listener, which reads the flag at startup and
// then follows both the notifier and the flag file so a missed notification
// is never fatal.
//
// States carry a sequence number. Listeners only move forward, so a
// late-arriving stale snapshot can never replace a newer one.
package auth

import (
	"time"
)

// Identity is what the auth provider issues for a signed-in user.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// State is the authenticated-identity snapshot shared between processes.
type State struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	UID             string `json:"uid,omitempty"`
	Email           string `json:"email,omitempty"`
	DisplayName     string `json:"displayName,omitempty"`

	// Seq increases by one with every transition and survives restarts.
	Seq uint64 `json:"seq"`

	// UpdatedAt is the transition time in milliseconds since the epoch.
	UpdatedAt int64 `json:"updatedAt"`
}

// newState builds the snapshot for id, which is nil when logged out.
func newState(id *Identity, seq uint64, now time.Time) *State {
	s := &State{Seq: seq, UpdatedAt: now.UnixMilli()}
	if id != nil {
		s.IsAuthenticated = true
		s.UID = id.UID
		s.Email = id.Email
		s.DisplayName = id.DisplayName
	}
	return s
}

// Identity returns the identity in s, or nil when logged out.
func (s *State) Identity() *Identity {
	if s == nil || !s.IsAuthenticated {
		return nil
	}
	return &Identity{UID: s.UID, Email: s.Email, DisplayName: s.DisplayName}
}

// Matches reports whether s already describes id.
func (s *State) Matches(id *Identity) bool {
	if s == nil {
		return false
	}
	if id == nil {
		return !s.IsAuthenticated
	}
	return s.IsAuthenticated && s.UID == id.UID && s.Email == id.Email && s.DisplayName == id.DisplayName
}

// Clone returns a copy of s.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Newer reports whether s should replace cur.
func (s *State) Newer(cur *State) bool {
	if s == nil {
		return false
	}
	return cur == nil || s.Seq > cur.Seq
}
