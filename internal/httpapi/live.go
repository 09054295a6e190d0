package httpapi

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/colindt/wall-display/internal/record"
)

const (
	liveBuffer       = 16
	liveWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // any origin on the LAN
	},
}

// Hub fans newly archived readings out to live feed clients, per station.
// A client that falls behind loses readings rather than stalling ingest.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[chan Reading]struct{}
	closed bool
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{subs: make(map[string]map[chan Reading]struct{}), logger: logger}
}

// Publish hands r to every client watching station.
func (h *Hub) Publish(station string, r record.Reading) {
	msg := toReadings([]record.Reading{r})[0]

	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[station] {
		select {
		case ch <- msg:
		default:
			h.logger.Debug("live client lagging; reading dropped", "station_id", station)
		}
	}
}

// Subscribers returns the number of clients watching station.
func (h *Hub) Subscribers(station string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[station])
}

// Close ends every live feed. Later subscriptions are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for station, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, station)
	}
}

func (h *Hub) subscribe(station string) (chan Reading, func(), bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, false
	}
	ch := make(chan Reading, liveBuffer)
	set, ok := h.subs[station]
	if !ok {
		set = make(map[chan Reading]struct{})
		h.subs[station] = set
	}
	set[ch] = struct{}{}

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[station][ch]; !ok {
			return
		}
		delete(h.subs[station], ch)
		if len(h.subs[station]) == 0 {
			delete(h.subs, station)
		}
	}
	return ch, unsubscribe, true
}

// handleLive streams a station's readings over a websocket, starting with
// the newest archived one.
func (a *readingsAPI) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	// Subscribe before the handshake so nothing published after it is missed.
	ch, unsubscribe, ok := a.hub.subscribe(id)
	if !ok {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("live: websocket upgrade failed", "station_id", id, "error", err)
		return
	}
	defer conn.Close()

	latest, err := a.repo.GetLatestReadings(r.Context(), id, 1)
	if err != nil {
		a.logger.Error("live: failed to load latest reading", "station_id", id, "error", err)
	} else if len(latest) == 1 {
		if !a.send(conn, toReadings(latest)[0]) {
			return
		}
	}

	// The client only ever sends close frames; reading is what notices them.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					a.logger.Debug("live: read error", "station_id", id, "error", err)
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case msg, ok := <-ch:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(liveWriteTimeout))
				return
			}
			if !a.send(conn, msg) {
				return
			}
		}
	}
}

func (a *readingsAPI) send(conn *websocket.Conn, msg Reading) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		a.logger.Debug("live: write failed", "error", err)
		return false
	}
	return true
}
