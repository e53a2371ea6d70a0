package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/logging"
	"github.com/KingOfTheAce2/BEAR-AI-sub000/internal/tracker"
)

const (
	// DefaultStreamInterval is the push period for host samples.
	DefaultStreamInterval = 2 * time.Second

	streamWriteTimeout = 10 * time.Second
	streamPongTimeout  = 60 * time.Second
	streamPingInterval = 54 * time.Second
)

// StreamFrame is one WebSocket push to a subscribed client.
type StreamFrame struct {
	Type             string      `json:"type"`
	Timestamp        time.Time   `json:"timestamp"`
	System           interface{} `json:"system,omitempty"`
	Emergency        bool        `json:"emergency"`
	ActiveOperations int64       `json:"active_operations"`
}

// Streamer pushes periodic host and guard state over WebSocket.
type Streamer struct {
	tracker  *tracker.Tracker
	upgrader websocket.Upgrader
	logger   logging.Logger

	clients map[string]*websocket.Conn
	mu      sync.Mutex
}

// NewStreamer creates a streamer for the given tracker.
func NewStreamer(t *tracker.Tracker, logger logging.Logger) *Streamer {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Streamer{
		tracker: t,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger.WithComponent("stream"),
		clients: make(map[string]*websocket.Conn),
	}
}

// ClientCount returns the number of connected stream clients.
func (s *Streamer) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// HandleUpgrade upgrades the request and serves the push loop until
// the client disconnects. The optional interval query parameter sets
// the push period in seconds.
func (s *Streamer) HandleUpgrade(w http.ResponseWriter, r *http.Request) {
	interval := DefaultStreamInterval
	if raw := r.URL.Query().Get("interval"); raw != "" {
		if seconds, err := strconv.Atoi(raw); err == nil && seconds > 0 {
			interval = time.Duration(seconds) * time.Second
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err.Error())
		return
	}

	id := uuid.New().String()
	s.mu.Lock()
	s.clients[id] = conn
	s.mu.Unlock()

	s.logger.Info("Stream client connected", "client_id", id, "remote", r.RemoteAddr)

	if err := conn.SetReadDeadline(time.Now().Add(streamPongTimeout)); err != nil {
		s.logger.Debug("Failed to set read deadline", "error", err.Error())
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(streamPongTimeout))
	})

	// Drain the reader so control frames are processed and closes are
	// observed.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.remove(id)
				return
			}
		}
	}()

	s.serve(r, conn, id, interval)
}

func (s *Streamer) serve(r *http.Request, conn *websocket.Conn, id string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	pinger := time.NewTicker(streamPingInterval)
	defer func() {
		ticker.Stop()
		pinger.Stop()
		s.remove(id)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-pinger.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-ticker.C:
			frame := StreamFrame{
				Type:             "system_sample",
				Timestamp:        time.Now().UTC(),
				System:           s.tracker.GetSystemMetrics(r.Context()),
				Emergency:        s.tracker.EmergencyActive(),
				ActiveOperations: s.tracker.ActiveOperations(),
			}
			if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
			if err := conn.WriteJSON(frame); err != nil {
				s.logger.Debug("Stream write failed", "client_id", id, "error", err.Error())
				return
			}
		}
	}
}

func (s *Streamer) remove(id string) {
	s.mu.Lock()
	conn, ok := s.clients[id]
	if ok {
		delete(s.clients, id)
	}
	s.mu.Unlock()

	if ok {
		_ = conn.Close()
		s.logger.Info("Stream client disconnected", "client_id", id)
	}
}
