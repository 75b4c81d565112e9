// Package realtime pushes live samples and the connected-client count to
// dashboard clients over websockets. Delivery is best-effort: a client whose
// send buffer is full misses the event.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/kristoforerickson/mkr1000/internal/logging"
	"github.com/kristoforerickson/mkr1000/internal/metrics"
	"github.com/kristoforerickson/mkr1000/internal/modules/measurements/types"
)

const (
	EventUsersCount = "usersCount"
	EventChartData  = "chart:data"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	maxMessage = 512
)

var ErrHubClosed = errors.New("realtime hub closed")

// Event is the JSON frame sent to clients.
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type UsersCount struct {
	TotalUsers int `json:"totalUsers"`
}

type ChartData struct {
	Date  int64  `json:"date"`
	Value [3]int `json:"value"`
}

type Options struct {
	// SendBuffer is the per-client queue length; events beyond it are dropped.
	SendBuffer int
	// AllowedOrigins lists the Origin values a browser may connect from.
	// Empty or "*" accepts any origin, so a dashboard hosted elsewhere works.
	AllowedOrigins []string
	Logger         *slog.Logger
	Metrics        *metrics.Metrics
}

type client struct {
	id   string
	send chan []byte
	once sync.Once
}

func (c *client) close() { c.once.Do(func() { close(c.send) }) }

type Hub struct {
	logger     *slog.Logger
	metrics    *metrics.Metrics
	sendBuffer int
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*client
	closed  bool

	wg sync.WaitGroup
}

func NewHub(opts Options) *Hub {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 16
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Hub{
		logger:     logging.Component(opts.Logger, "realtime"),
		metrics:    opts.Metrics,
		sendBuffer: opts.SendBuffer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		clients: make(map[string]*client),
	}
}

// originChecker accepts requests without an Origin header (non-browser
// clients) and those whose Origin is listed.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if strings.EqualFold(origin, a) {
				return true
			}
		}
		return false
	}
}

func (h *Hub) Name() string { return "realtime" }

// Deliver broadcasts s as a chart:data event.
func (h *Hub) Deliver(_ context.Context, s types.Sample) error {
	return h.BroadcastSample(s)
}

func (h *Hub) BroadcastSample(s types.Sample) error {
	return h.broadcast(Event{
		Event: EventChartData,
		Data:  ChartData{Date: s.Timestamp, Value: s.ChartValues()},
	})
}

func (h *Hub) BroadcastUserCount(n int) error {
	return h.broadcast(usersCountEvent(n))
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}
	h.fanOut(ev.Event, msg)
	return nil
}

// fanOut must be called with h.mu held.
func (h *Hub) fanOut(event string, msg []byte) {
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.logger.Debug("client buffer full, event dropped", "client", c.id, "event", event)
		}
	}
}

// register and unregister announce the new count while holding the write
// lock, so clients observe counts in connection order.
func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c.id] = c
	h.announceLocked()
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.id]; !ok {
		return
	}
	delete(h.clients, c.id)
	c.close()
	if !h.closed {
		h.announceLocked()
	}
}

func (h *Hub) announceLocked() {
	n := len(h.clients)
	h.metrics.SetRealtimeClients(n)
	msg, err := json.Marshal(usersCountEvent(n))
	if err != nil {
		h.logger.Error("encode users count", "error", err)
		return
	}
	h.fanOut(EventUsersCount, msg)
}

func usersCountEvent(n int) Event {
	return Event{Event: EventUsersCount, Data: UsersCount{TotalUsers: n}}
}

// ServeWS upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &client{id: uuid.NewString(), send: make(chan []byte, h.sendBuffer)}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}
	h.logger.Info("client connected", "client", c.id, "remote", r.RemoteAddr)

	h.wg.Add(1)
	go h.writePump(conn, c)
	h.readPump(conn, c)
	h.logger.Info("client disconnected", "client", c.id)
}

// readPump discards client frames; it exists to process control frames and
// detect disconnects.
func (h *Hub) readPump(conn *websocket.Conn, c *client) {
	defer func() {
		h.unregister(c)
		_ = conn.Close()
	}()
	conn.SetReadLimit(maxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
		h.wg.Done()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and waits for their writers to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for id, c := range h.clients {
		delete(h.clients, id)
		c.close()
	}
	h.metrics.SetRealtimeClients(0)
	h.mu.Unlock()
	h.wg.Wait()
}
