package notify

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Server bridges a Hub to websocket clients in other processes.
//
// Every hub message is written to every connected client except the one it
// came from. Messages received from a client are stamped with that client's
// id and republished into the hub, which forwards them to everyone else.
type Server struct {
	hub *Hub

	clients   map[*websocket.Conn]string
	clientsMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewServer creates a server for hub. Call Start before serving requests.
func NewServer(hub *Hub, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(os.Stderr, "[notify] ", log.LstdFlags)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		hub:     hub,
		clients: make(map[*websocket.Conn]string),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logger,
	}
}

// Start launches the broadcast loop.
func (s *Server) Start() {
	sub := s.hub.Subscribe()
	s.wg.Add(1)
	go s.broadcastLoop(sub)
}

// Stop disconnects every client and waits for the broadcast loop.
func (s *Server) Stop() {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	s.wg.Wait()
}

// broadcastLoop writes hub messages to connected clients.
func (s *Server) broadcastLoop(sub *Subscription) {
	defer s.wg.Done()
	defer sub.Close()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg, ok := <-sub.C:
			if !ok {
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			targets := make([]*websocket.Conn, 0, len(s.clients))
			for conn, id := range s.clients {
				if id != msg.Origin {
					targets = append(targets, conn)
				}
			}
			s.clientsMu.RUnlock()

			// Send outside the lock so a slow client can't block attach/detach.
			for _, conn := range targets {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket and attaches the client.
// The optional "id" query parameter names the client; without it one is
// generated.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	id := r.URL.Query().Get("id")
	if id == "" {
		id = uuid.NewString()
	}

	s.clientsMu.Lock()
	s.clients[conn] = id
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client %s connected (total: %d)", id, clientCount)

	s.readLoop(conn, id)
}

// readLoop republishes client messages until the client disconnects.
func (s *Server) readLoop(conn *websocket.Conn, id string) {
	defer s.removeClient(conn)

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Printf("Ignoring malformed message from %s: %v", id, err)
			continue
		}
		if msg.Topic == "" {
			continue
		}
		// Only the background process publishes auth snapshots.
		if msg.Topic == TopicAuth {
			s.logger.Printf("Ignoring %s message from client %s", TopicAuth, id)
			continue
		}
		msg.Origin = id
		s.hub.PublishMessage(msg)
	}
}

// removeClient safely removes a client connection
func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if id, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.logger.Printf("Client %s disconnected (total: %d)", id, clientCount)
	} else {
		s.clientsMu.Unlock()
	}
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
