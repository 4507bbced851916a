package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Server exposes any Store over the /v1 HTTP API understood by HTTPClient:
//
//	PUT    /v1/docs/{path...}?merge=true   body {"fields": {...}}
//	DELETE /v1/docs/{path...}
//	GET    /v1/watch?collection=...        websocket stream of {"changes": [...]}
//	GET    /health
type Server struct {
	addr     string
	store    Store
	listener net.Listener
	server   *http.Server

	watchers   int
	watchersMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// ServerConfig holds document server configuration
type ServerConfig struct {
	// Addr to listen on (default: 127.0.0.1:8787)
	Addr string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultServerConfig returns sensible defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Addr:   "127.0.0.1:8787",
		Logger: log.Default(),
	}
}

// NewServer creates a document server in front of store.
func NewServer(store Store, config *ServerConfig) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if config == nil {
		config = DefaultServerConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   config.Addr,
		store:  store,
		ctx:    ctx,
		cancel: cancel,
		logger: config.Logger,
	}, nil
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("PUT /v1/docs/{path...}", s.handleUpsert)
	mux.HandleFunc("DELETE /v1/docs/{path...}", s.handleDelete)
	mux.HandleFunc("GET /v1/watch", s.handleWatch)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start begins serving on the configured address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.ctx },
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Document server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop shuts the server down. Open watch streams are closed.
func (s *Server) Stop() error {
	s.logger.Println("Stopping document server")
	s.cancel()

	var err error
	if s.server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = s.server.Shutdown(shutdownCtx)
	}
	s.wg.Wait()
	return err
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// WatchCount returns the number of open watch streams.
func (s *Server) WatchCount() int {
	s.watchersMu.Lock()
	defer s.watchersMu.Unlock()
	return s.watchers
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var body upsertBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if body.Fields == nil {
		body.Fields = map[string]any{}
	}

	merge := r.URL.Query().Get("merge") == "true"
	if err := s.store.Upsert(r.Context(), r.PathValue("path"), body.Fields, merge); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), r.PathValue("path")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleWatch(w http.ResponseWriter, r *http.Request) {
	collection := strings.Trim(r.URL.Query().Get("collection"), "/")
	if err := validCollection(collection); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	// CloseRead's context ends when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	s.watchersMu.Lock()
	s.watchers++
	s.watchersMu.Unlock()
	defer func() {
		s.watchersMu.Lock()
		s.watchers--
		s.watchersMu.Unlock()
	}()

	sub, err := s.store.Subscribe(ctx, collection,
		func(changes []DocChange) {
			data, err := json.Marshal(watchFrame{Changes: changes})
			if err != nil {
				s.logger.Printf("Failed to marshal watch frame: %v", err)
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := conn.Write(writeCtx, websocket.MessageText, data); err != nil {
				s.logger.Printf("Watch write error: %v", err)
				_ = conn.Close(websocket.StatusInternalError, "write failed")
			}
		},
		func(err error) {
			s.logger.Printf("Watch stream error on %s: %v", collection, err)
		})
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, err.Error())
		return
	}
	defer sub.Unsubscribe()

	<-ctx.Done()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":   "ok",
		"watchers": s.WatchCount(),
	})
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPath):
		writeError(w, http.StatusBadRequest, err)
	case IsTransient(err), errors.Is(err, ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
