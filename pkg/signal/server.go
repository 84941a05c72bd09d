package signal

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/sparedes88/projector/pkg/broadcast"
	"go.uber.org/zap"
)

// commandTimeout bounds a single store operation triggered by a client
const commandTimeout = 10 * time.Second

// Client represents a connected WebSocket client
type Client struct {
	conn      *websocket.Conn
	tenant    string
	screen    string
	role      string // "control" or "viewer", empty until joined
	room      *Room
	send      chan []byte
	server    *Server
	closeOnce sync.Once
}

// Room holds the clients watching one screen and the single store
// subscription that feeds them
type Room struct {
	tenant  string
	screen  string
	clients map[*Client]bool
	sub     *broadcast.Subscription
	mu      sync.RWMutex
}

type roomKey struct {
	tenant string
	screen string
}

// Options configures a Server
type Options struct {
	// ControlKey, when set, is required to join as control and for REST writes
	ControlKey string
	// Assist backs the /assist endpoints; nil disables them
	Assist Assistant
	Logger *zap.Logger
}

// Server manages WebSocket connections and screen rooms
type Server struct {
	syncer     *broadcast.Synchronizer
	controlKey string
	assist     Assistant
	logger     *zap.Logger
	validate   *validator.Validate

	rooms    map[roomKey]*Room
	mu       sync.RWMutex
	upgrader websocket.Upgrader
}

// NewServer creates a new signal server over a synchronizer
func NewServer(syncer *broadcast.Synchronizer, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		syncer:     syncer,
		controlKey: opts.ControlKey,
		assist:     opts.Assist,
		logger:     logger,
		validate:   newValidator(),
		rooms:      make(map[roomKey]*Room),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // viewers are served from any host the screen is opened on
			},
		},
	}
}

// Synchronizer returns the synchronizer the server drives
func (s *Server) Synchronizer() *broadcast.Synchronizer {
	return s.syncer
}

func (s *Server) authorized(key string) bool {
	if s.controlKey == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(s.controlKey)) == 1
}

// joinRoom adds a client to the screen's room, subscribing the room to the
// store when it is the first member
func (s *Server) joinRoom(c *Client) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := roomKey{c.tenant, c.screen}
	room, exists := s.rooms[key]
	if !exists {
		room = &Room{
			tenant:  c.tenant,
			screen:  c.screen,
			clients: make(map[*Client]bool),
		}
		sub, err := s.syncer.Subscribe(context.Background(), c.tenant, c.screen, func(screen broadcast.Screen) {
			ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
			defer cancel()
			frame := s.syncer.FrameFor(ctx, screen)
			room.broadcast(Message{Type: TypeState, Frame: &frame})
		})
		if err != nil {
			return nil, err
		}
		room.sub = sub
		s.rooms[key] = room
		s.logger.Info("room opened", zap.String("tenant", c.tenant), zap.String("screen", c.screen))
	}

	room.mu.Lock()
	room.clients[c] = true
	count := len(room.clients)
	room.mu.Unlock()

	c.room = room
	s.logger.Info("client joined",
		zap.String("tenant", c.tenant),
		zap.String("screen", c.screen),
		zap.String("role", c.role),
		zap.Int("clients", count),
	)
	return room, nil
}

// removeClient removes a client from its room and closes the room's
// subscription when it empties
func (s *Server) removeClient(c *Client) {
	room := c.room
	if room == nil {
		c.closeSend()
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room.mu.Lock()
	delete(room.clients, c)
	c.closeSend()
	empty := len(room.clients) == 0
	room.mu.Unlock()

	// Clean up empty rooms
	if empty {
		room.sub.Close()
		key := roomKey{room.tenant, room.screen}
		if s.rooms[key] == room {
			delete(s.rooms, key)
		}
		s.logger.Info("room closed", zap.String("tenant", room.tenant), zap.String("screen", room.screen))
	}
}

// ClientCount returns number of clients watching a screen
func (s *Server) ClientCount(tenant, screen string) int {
	s.mu.RLock()
	room, exists := s.rooms[roomKey{tenant, broadcast.NormalizeScreenCode(screen)}]
	s.mu.RUnlock()
	if !exists {
		return 0
	}

	room.mu.RLock()
	defer room.mu.RUnlock()
	return len(room.clients)
}

// Close ends every room subscription. Connections drop when their
// reads fail.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, room := range s.rooms {
		room.sub.Close()
		delete(s.rooms, key)
	}
}

// HandleWebSocket handles WebSocket connections on /ws/{tenant}/{screen}
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	tenant := r.PathValue("tenant")
	screen := broadcast.NormalizeScreenCode(r.PathValue("screen"))
	if tenant == "" || !broadcast.ValidateScreenCode(screen) {
		ErrorResponse(w, http.StatusBadRequest, "invalid-screen", "invalid screen code")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		conn:   conn,
		tenant: tenant,
		screen: screen,
		send:   make(chan []byte, 256),
		server: s,
	}

	go client.writePump()
	go client.readPump()
}

// HandleViewer serves the viewer page for /{tenant}/{screen}
func (s *Server) HandleViewer(w http.ResponseWriter, r *http.Request) {
	if !broadcast.ValidateScreenCode(broadcast.NormalizeScreenCode(r.PathValue("screen"))) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	content, err := ViewerHTML.ReadFile("viewer.html")
	if err != nil {
		http.Error(w, "Viewer not found", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(content)
}

// broadcast sends a message to every client in the room. Slow clients
// drop messages; the next state supersedes them.
func (room *Room) broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	room.mu.RLock()
	defer room.mu.RUnlock()

	for client := range room.clients {
		select {
		case client.send <- data:
		default:
		}
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}
