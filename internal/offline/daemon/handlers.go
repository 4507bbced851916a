package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/auth"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/flags"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/ipc"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/queue"
	"github.com/SHAVIT-AMIRA/LearnFlow/internal/offline/schema"
)

// maxMessageSize caps a request body.
const maxMessageSize = 1 << 20

// authWaitTimeout bounds how long SIGN_IN and SIGN_OUT wait for the
// broadcaster to publish the transition.
var authWaitTimeout = 5 * time.Second

// HandlerFunc serves one message type. A returned error becomes
// {success:false, error}; otherwise success is set on the response.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (*ipc.Response, error)

// Handle registers a handler for a message type. It panics if the type is
// already registered.
func (d *Daemon) Handle(typ string, h HandlerFunc) {
	if h == nil {
		panic(fmt.Sprintf("daemon: Handle handler is nil for type %s", typ))
	}
	if _, exists := d.handlers[typ]; exists {
		panic(fmt.Sprintf("daemon: Handle called twice for type %s", typ))
	}
	d.handlers[typ] = h
}

// Types returns every registered message type, sorted.
func (d *Daemon) Types() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func (d *Daemon) registerHandlers() {
	d.Handle(ipc.TypeEnqueue, d.handleEnqueue)
	for _, action := range schema.Actions {
		d.Handle(string(action), d.enqueueAction(action))
	}
	d.Handle(ipc.TypeFlushQueue, d.handleFlush)
	d.Handle(ipc.TypeGetAuthState, d.handleGetAuthState)
	d.Handle(ipc.TypeSyncReq, d.handleSyncReq)
	d.Handle(ipc.TypeGetStats, d.handleGetStats)
	d.Handle(ipc.TypeQueueStatus, d.handleQueueStatus)
	d.Handle(ipc.TypeGetUserSettings, d.handleGetSettings)
	d.Handle(ipc.TypeSaveUserSettings, d.handleSaveSettings)
	d.Handle(ipc.TypeSignIn, d.handleSignIn)
	d.Handle(ipc.TypeSignOut, d.handleSignOut)
}

// decodeRequest parses a message body. Legacy {action, ...} bodies are
// rejected.
func decodeRequest(body []byte) (*ipc.Request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("invalid message body: %w", err)
	}
	if _, ok := fields["type"]; !ok {
		if _, legacy := fields["action"]; legacy {
			return nil, ErrLegacyMessage
		}
		return nil, fmt.Errorf("message type is required")
	}

	var req ipc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid message body: %w", err)
	}
	if req.Type == "" {
		return nil, fmt.Errorf("message type is required")
	}
	return &req, nil
}

// Dispatch runs the handler for one message body. It never returns nil.
func (d *Daemon) Dispatch(ctx context.Context, body []byte) *ipc.Response {
	req, err := decodeRequest(body)
	if err != nil {
		if IsLegacyMessage(err) {
			d.logger.Printf("Warning: rejected legacy message")
		}
		return ipc.Fail(err)
	}

	h, ok := d.handlers[req.Type]
	if !ok {
		return ipc.Fail(ErrUnhandledMessage)
	}

	resp, err := h(ctx, req.Payload)
	if err != nil {
		return ipc.Fail(err)
	}
	if resp == nil {
		resp = &ipc.Response{}
	}
	resp.Success = true
	return resp
}

func (d *Daemon) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		writeJSON(w, http.StatusOK, ipc.Fail(fmt.Errorf("failed to read message: %w", err)))
		return
	}
	writeJSON(w, http.StatusOK, d.Dispatch(r.Context(), body))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodePayload(typ string, payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return fmt.Errorf("%s payload is required", typ)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", typ, err)
	}
	return nil
}

func (d *Daemon) handleEnqueue(ctx context.Context, payload json.RawMessage) (*ipc.Response, error) {
	var p ipc.EnqueuePayload
	if err := decodePayload(ipc.TypeEnqueue, payload, &p); err != nil {
		return nil, err
	}
	action, err := schema.ParseAction(string(p.Action))
	if err != nil {
		return nil, err
	}
	return d.enqueue(ctx, action, p.Payload)
}

func (d *Daemon) enqueueAction(action schema.Action) HandlerFunc {
	return func(ctx context.Context, payload json.RawMessage) (*ipc.Response, error) {
		return d.enqueue(ctx, action, payload)
	}
}

func (d *Daemon) enqueue(ctx context.Context, action schema.Action, payload json.RawMessage) (*ipc.Response, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%s payload is required", action)
	}
	m, err := schema.DecodeMutation(action, payload)
	if err != nil {
		return nil, err
	}
	m = assignID(m)

	item, err := d.queue.Enqueue(ctx, m)
	if err != nil {
		return nil, err
	}
	return &ipc.Response{ID: item.ID, RecordID: m.RecordID()}, nil
}

// assignID gives an add mutation without a record id a fresh uuid.
func assignID(m schema.Mutation) schema.Mutation {
	if m.RecordID() != "" {
		return m
	}
	switch v := m.(type) {
	case schema.AddWord:
		v.Word.ID = uuid.NewString()
		return v
	case schema.AddNote:
		v.Note.ID = uuid.NewString()
		return v
	case schema.AddChat:
		v.Message.ID = uuid.NewString()
		return v
	default:
		return m
	}
}

func (d *Daemon) handleFlush(ctx context.Context, _ json.RawMessage) (*ipc.Response, error) {
	if err := d.queue.Flush(ctx); err != nil {
		return nil, err
	}
	return nil, nil
}

func (d *Daemon) handleGetAuthState(context.Context, json.RawMessage) (*ipc.Response, error) {
	return &ipc.Response{AuthState: d.broadcaster.Current()}, nil
}

func (d *Daemon) handleSyncReq(ctx context.Context, _ json.RawMessage) (*ipc.Response, error) {
	uid := d.broadcaster.UID()
	if uid == "" {
		return &ipc.Response{Cache: &schema.Cache{
			Words: []schema.Word{},
			Notes: []schema.Note{},
			Chats: []schema.ChatMessage{},
		}}, nil
	}
	cache, err := d.db.DumpCacheContext(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &ipc.Response{Cache: cache}, nil
}

func (d *Daemon) handleGetStats(ctx context.Context, _ json.RawMessage) (*ipc.Response, error) {
	uid := d.broadcaster.UID()
	if uid == "" {
		return nil, queue.ErrUnauthenticated
	}
	stats, err := d.db.GetUserStats(ctx, uid)
	if err != nil {
		return nil, err
	}
	return &ipc.Response{Stats: stats}, nil
}

func (d *Daemon) handleQueueStatus(context.Context, json.RawMessage) (*ipc.Response, error) {
	stats := d.queue.Stats()
	return &ipc.Response{Queue: &stats}, nil
}

func (d *Daemon) handleGetSettings(context.Context, json.RawMessage) (*ipc.Response, error) {
	settings := schema.DefaultUserSettings()
	if _, err := d.flags.Get(flags.KeyUserSettings, &settings); err != nil {
		return nil, fmt.Errorf("failed to load user settings: %w", err)
	}
	return &ipc.Response{Settings: &settings}, nil
}

func (d *Daemon) handleSaveSettings(_ context.Context, payload json.RawMessage) (*ipc.Response, error) {
	var settings schema.UserSettings
	if err := decodePayload(ipc.TypeSaveUserSettings, payload, &settings); err != nil {
		return nil, err
	}
	if settings.TargetLanguage == "" {
		return nil, fmt.Errorf("targetLanguage is required")
	}
	if err := d.flags.Set(flags.KeyUserSettings, settings); err != nil {
		return nil, fmt.Errorf("failed to save user settings: %w", err)
	}
	d.logger.Printf("Saved user settings (targetLanguage=%s)", settings.TargetLanguage)
	return &ipc.Response{Settings: &settings}, nil
}

func (d *Daemon) handleSignIn(ctx context.Context, payload json.RawMessage) (*ipc.Response, error) {
	var id auth.Identity
	if err := decodePayload(ipc.TypeSignIn, payload, &id); err != nil {
		return nil, err
	}

	observer := d.broadcaster.Subscribe()
	defer observer.Close()

	if err := d.provider.SignIn(id); err != nil {
		return nil, err
	}
	state, err := awaitAuth(ctx, observer, &id)
	if err != nil {
		return nil, err
	}
	return &ipc.Response{AuthState: state}, nil
}

func (d *Daemon) handleSignOut(ctx context.Context, _ json.RawMessage) (*ipc.Response, error) {
	observer := d.broadcaster.Subscribe()
	defer observer.Close()

	d.provider.SignOut()
	state, err := awaitAuth(ctx, observer, nil)
	if err != nil {
		return nil, err
	}
	return &ipc.Response{AuthState: state}, nil
}

// awaitAuth waits for the broadcaster to publish a snapshot describing id.
func awaitAuth(ctx context.Context, observer *auth.Observer, id *auth.Identity) (*auth.State, error) {
	timer := time.NewTimer(authWaitTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, errors.New("timed out waiting for auth state")
		case st, ok := <-observer.C:
			if !ok {
				return nil, errors.New("auth broadcaster stopped")
			}
			if st.Matches(id) {
				return st, nil
			}
		}
	}
}
