package wu

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// HMREvent is one hot-reload notification delivered to connected clients.
type HMREvent struct {
	Type      string `json:"type"`
	App       string `json:"app,omitempty"`
	Dir       string `json:"dir,omitempty"`
	Framework string `json:"framework,omitempty"`
}

// hmr event types
const (
	hmrConnected  = "connected"
	hmrCSSUpdate  = "css-update"
	hmrAppUpdate  = "app-update"
	hmrFullReload = "full-reload"
)

// hmrSlot holds the most recent serialized event so that consumers that
// woke late still see it. The slot is always written before the reload
// counter is incremented, and read after observing an increment.
type hmrSlot struct {
	mutex sync.Mutex
	event []byte
}

// set stores a copy of the b as the current event.
func (sl *hmrSlot) set(b []byte) {
	sl.mutex.Lock()
	sl.event = append([]byte{}, b...)
	sl.mutex.Unlock()
}

// snapshot returns a copy of the current event.
func (sl *hmrSlot) snapshot() []byte {
	sl.mutex.Lock()
	b := append([]byte{}, sl.event...)
	sl.mutex.Unlock()
	return b
}

// publishHMREvent serializes the e into the shared slot, then increments
// the reload counter. The release store on the counter pairs with the
// acquire load in the stream handlers, so a woken client never reads an
// event older than the change that woke it.
func (s *Server) publishHMREvent(e HMREvent) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}

	s.slot.set(b)
	s.reloadCounter.Add(1)

	s.logger.Debugj(map[string]interface{}{
		"event": e.Type,
		"app":   e.App,
	})
}

// hmrPollInterval is how often stream handlers check the reload counter.
const hmrPollInterval = 100 * time.Millisecond

// hmrPingInterval is how often stream handlers emit a heartbeat.
const hmrPingInterval = 30 * time.Second

// upgrader upgrades HMR connections. The dev server is deliberately open:
// it already answers every request with permissive CORS.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(*http.Request) bool {
		return true
	},
}

// serveHMRWebSocket upgrades the request and streams reload events as text
// frames until the client goes away or the server shuts down.
func (s *Server) serveHMRWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		s.logger.Errorf("wu: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	greeting, _ := json.Marshal(HMREvent{Type: hmrConnected})
	if err := conn.WriteMessage(websocket.TextMessage, greeting); err != nil {
		return
	}

	// Drain client frames so pings and close frames are handled.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	lastSeen := s.reloadCounter.Load()
	poll := time.NewTicker(hmrPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(hmrPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-poll.C:
			if s.stopping.Load() {
				conn.WriteMessage(
					websocket.CloseMessage,
					websocket.FormatCloseMessage(
						websocket.CloseGoingAway,
						"server shutting down",
					),
				)
				return
			}

			n := s.reloadCounter.Load()
			if n == lastSeen {
				continue
			}

			lastSeen = n
			if err := conn.WriteMessage(
				websocket.TextMessage,
				s.slot.snapshot(),
			); err != nil {
				return
			}
		}
	}
}

// serveHMRSSE streams reload events as Server-Sent Events, the fallback
// transport for clients whose WebSocket connection cannot be established.
func (s *Server) serveHMRSSE(rw http.ResponseWriter, r *http.Request) {
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := rw.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	rw.WriteHeader(http.StatusOK)

	greeting, _ := json.Marshal(HMREvent{Type: hmrConnected})
	rw.Write([]byte("data: "))
	rw.Write(greeting)
	rw.Write([]byte("\n\n"))
	flusher.Flush()

	lastSeen := s.reloadCounter.Load()
	poll := time.NewTicker(hmrPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(hmrPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := rw.Write([]byte(": ping\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-poll.C:
			if s.stopping.Load() {
				return
			}

			n := s.reloadCounter.Load()
			if n == lastSeen {
				continue
			}

			lastSeen = n
			if _, err := rw.Write([]byte("data: ")); err != nil {
				return
			}
			rw.Write(s.slot.snapshot())
			rw.Write([]byte("\n\n"))
			flusher.Flush()
		}
	}
}
