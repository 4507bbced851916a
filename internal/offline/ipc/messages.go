// Package ipc defines the message surface between UI processes and the
// background process, and the client UI processes use to reach it.
//
// Every request is a POST of {type, payload} to /v1/messages. Every reply is
// a Response with Success set, or Success false and Error describing why.
// Handler failures never surface as transport failures.
package ipc

import (
	"encoding/json"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/queue"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// Message types.
const (
	TypeEnqueue          = "ENQUEUE"
	TypeFlushQueue       = "FLUSH_QUEUE"
	TypeGetAuthState     = "GET_AUTH_STATE"
	TypeSyncReq          = "SYNC_REQ"
	TypeGetStats         = "GET_STATS"
	TypeQueueStatus      = "QUEUE_STATUS"
	TypeGetUserSettings  = "GET_USER_SETTINGS"
	TypeSaveUserSettings = "SAVE_USER_SETTINGS"
	TypeSignIn           = "SIGN_IN"
	TypeSignOut          = "SIGN_OUT"
)

// HTTP paths served by the background process.
const (
	PathMessages = "/v1/messages"
	PathNotifier = "/ws"
	PathHealth   = "/health"
)

// Request is the canonical message body.
type Request struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EnqueuePayload is the payload of an ENQUEUE request.
type EnqueuePayload struct {
	Action  schema.Action   `json:"action"`
	Payload json.RawMessage `json:"payload"`
}

// Response is the reply to every request. Only the fields relevant to the
// request type are set.
type Response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`

	// ID is the queue item id for enqueue requests.
	ID string `json:"id,omitempty"`

	// RecordID is the id of the record an enqueued mutation targets.
	RecordID string `json:"recordId,omitempty"`

	AuthState *auth.State          `json:"authState,omitempty"`
	Cache     *schema.Cache        `json:"cache,omitempty"`
	Stats     *schema.UserStats    `json:"stats,omitempty"`
	Queue     *queue.Stats         `json:"queue,omitempty"`
	Settings  *schema.UserSettings `json:"settings,omitempty"`
}

// Fail builds an error reply.
func Fail(err error) *Response {
	return &Response{Success: false, Error: err.Error()}
}
