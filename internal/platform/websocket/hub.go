// Package websocket pushes session changes to open browser tabs so a tab
// signed out elsewhere, or whose session expired, re-navigates through the
// guard.
package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/session"
)

// Event is the message sent to every connected tab.
type Event struct {
	Type          string    `json:"type"`
	Status        string    `json:"status"`
	Authenticated bool      `json:"authenticated"`
	Message       string    `json:"message,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// EventSessionChanged is the only event type.
const EventSessionChanged = "session.changed"

// EventFromSession builds the event for s. Identity details are never sent.
func EventFromSession(s session.Session) Event {
	ev := Event{
		Type:          EventSessionChanged,
		Status:        s.Status.String(),
		Authenticated: s.Authenticated(),
		Timestamp:     time.Now().UTC(),
	}
	if s.LastError != nil {
		ev.Message = auth.Message(s.LastError)
	}
	return ev
}

// Client is one connected tab.
type Client struct {
	ID   string
	Send chan []byte
}

// NewClient returns a client with a buffered send queue.
func NewClient() *Client {
	return &Client{ID: uuid.New().String(), Send: make(chan []byte, 16)}
}

// Recorder receives the connected client count. *telemetry.Provider
// implements it.
type Recorder interface {
	WebsocketClients(n int)
}

// Hub tracks connected tabs.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rec     Recorder
	logger  zerolog.Logger
}

// NewHub returns an empty hub. rec may be nil.
func NewHub(logger zerolog.Logger, rec Recorder) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rec:     rec,
		logger:  logger.With().Str("component", "session-hub").Logger(),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.record(n)
}

// Unregister removes client and closes its Send channel. Unknown clients are
// ignored.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client)
	close(client.Send)
	n := len(h.clients)
	h.mu.Unlock()
	h.record(n)
}

// Broadcast queues event for every client. Clients with a full queue miss
// it; the next event carries the full state anyway.
func (h *Hub) Broadcast(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		select {
		case client.Send <- data:
		default:
		}
	}
}

// Follow broadcasts every status change of store until ctx is done.
// Refreshes that keep the status are not sent.
func (h *Hub) Follow(ctx context.Context, store *session.Store) {
	changes, cancel := store.Watch()
	last := store.Get().Status
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-changes:
				if !ok {
					return
				}
				if s.Status == last {
					continue
				}
				last = s.Status
				h.Broadcast(EventFromSession(s))
			}
		}
	}()
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) record(n int) {
	if h.rec != nil {
		h.rec.WebsocketClients(n)
	}
}

// ---------------------------------------------------------------------------
// Handler: Echo endpoint for browser tabs
// ---------------------------------------------------------------------------

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Handler upgrades requests and runs the per-connection pumps.
type Handler struct {
	hub      *Hub
	store    auth.SessionReader
	upgrader gorillawebsocket.Upgrader
}

// NewHandler accepts connections only from pages served by this portal.
func NewHandler(hub *Hub, store auth.SessionReader) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
		upgrader: gorillawebsocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     sameOrigin,
		},
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws/session", h.HandleConnect)
}

// HandleConnect upgrades the connection and sends the current state first.
func (h *Handler) HandleConnect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := NewClient()
	if data, err := json.Marshal(EventFromSession(h.store.Get())); err == nil {
		client.Send <- data
	}
	h.hub.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

// readPump only services control frames; tabs never send data.
func (h *Handler) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.hub.Unregister(client)
		ws.Close()
	}()

	ws.SetReadLimit(512)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) writePump(client *Client, ws *gorillawebsocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		ws.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				ws.WriteMessage(gorillawebsocket.CloseMessage, nil)
				return
			}
			if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(gorillawebsocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
