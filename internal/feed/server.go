// Package feed streams controller events to renderer clients over WebSocket.
package feed

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/voxsprite/voxsprite/internal/bus"
)

// Wire message types
const (
	MessageTypeSprite = "sprite"
	MessageTypeLevel  = "level"
	MessageTypeStatus = "status"
	MessageTypeConfig = "config"
)

// SpriteMessage announces the active sprite. An empty handle is the
// explicit no-sprite marker.
type SpriteMessage struct {
	Type      string `json:"type"`
	Handle    string `json:"handle"`
	Mode      string `json:"mode"`
	Tier      int    `json:"tier"`
	IdleIndex int    `json:"idle_index"`
}

// LevelMessage carries a meter sample plus the tier thresholds for
// drawing markers.
type LevelMessage struct {
	Type       string    `json:"type"`
	Level      float64   `json:"level"`
	Thresholds []float64 `json:"thresholds"`
}

// StatusMessage reports capture device health.
type StatusMessage struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ConfigMessage notifies clients that settings were replaced.
type ConfigMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

const (
	writeWait      = 5 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 60 * time.Second
	clientQueueLen = 32
)

// Server accepts renderer clients and fans controller events out to
// them. Slow clients drop messages rather than stalling the bus.
type Server struct {
	logger   zerolog.Logger
	events   *bus.EventBus
	upgrader websocket.Upgrader
	server   *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewServer creates a feed server wired to the event bus.
func NewServer(events *bus.EventBus, logger zerolog.Logger) *Server {
	s := &Server{
		logger: logger.With().Str("component", "feed").Logger(),
		events: events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Renderer runs on the same host; cross-origin is fine here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
	s.subscribe()
	return s
}

// Start listens on addr and serves /feed until Close.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/feed", s.handleFeed)
	s.server = &http.Server{Handler: mux}

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Feed server terminated")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Feed listening")
	return nil
}

// Handler returns the /feed handler for embedding in another mux (tests).
func (s *Server) Handler() http.HandlerFunc {
	return s.handleFeed
}

// Close disconnects all clients and stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		close(c.send)
	}
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// subscribe wires bus events to broadcasts. Handlers marshal and enqueue
// only; they never block the controller loop.
func (s *Server) subscribe() {
	s.events.Subscribe(bus.EventTypeSpriteChanged, func(ev bus.Event) {
		s.broadcast(SpriteMessage{
			Type:      MessageTypeSprite,
			Handle:    asString(ev.Data["sprite"]),
			Mode:      asString(ev.Data["mode"]),
			Tier:      asInt(ev.Data["tier"]),
			IdleIndex: asInt(ev.Data["idle_index"]),
		})
	})
	s.events.Subscribe(bus.EventTypeLevelSample, func(ev bus.Event) {
		msg := LevelMessage{Type: MessageTypeLevel}
		if v, ok := ev.Data["level"].(float64); ok {
			msg.Level = v
		}
		if v, ok := ev.Data["thresholds"].([]float64); ok {
			msg.Thresholds = v
		}
		s.broadcast(msg)
	})
	s.events.Subscribe(bus.EventTypeDeviceStatus, func(ev bus.Event) {
		s.broadcast(StatusMessage{Type: MessageTypeStatus, Status: asString(ev.Data["status"])})
	})
	s.events.Subscribe(bus.EventTypeConfigApplied, func(ev bus.Event) {
		s.broadcast(ConfigMessage{Type: MessageTypeConfig, Data: ev.Data})
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Feed upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueueLen)}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	s.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("Renderer connected")
	go s.writeLoop(c)
	go s.readLoop(c)
}

func (s *Server) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Error().Err(err).Msg("Feed marshal failed")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client is not keeping up; drop the message.
		}
	}
}

func (s *Server) writeLoop(c *client) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeWait))
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop exists to service pongs and detect disconnects; the feed is
// one-way.
func (s *Server) readLoop(c *client) {
	defer s.drop(c)
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) drop(c *client) {
	s.mu.Lock()
	_, present := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if present {
		close(c.send)
		s.logger.Info().Str("remote", c.conn.RemoteAddr().String()).Msg("Renderer disconnected")
	}
	c.conn.Close()
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
