package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/tubedrift/tubedrift/pkg/types"
	"github.com/tubedrift/tubedrift/server/internal/dispatch"
	"github.com/tubedrift/tubedrift/server/internal/history"
	"github.com/tubedrift/tubedrift/server/internal/notify"
	"github.com/tubedrift/tubedrift/server/internal/view"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 16

	// maxInbound caps the size of one inbound frame.
	maxInbound = 4096
)

// Event names carried in Message.Event.
const (
	EventSession = "session"
	EventResult  = "result"
	EventHistory = "history"
	EventError   = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins; callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message is the JSON envelope of every frame sent to clients.
type Message struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// SessionData announces the session id a connection was bound to.
type SessionData struct {
	SessionID string `json:"session_id"`
}

// ResultData answers one inbound query.
type ResultData struct {
	ID      string             `json:"id"`
	Kind    dispatch.Kind      `json:"kind"`
	Query   string             `json:"query"`
	Channel *types.ChannelInfo `json:"channel,omitempty"`
	view.Result
}

// ErrorData reports a query that could not be answered.
type ErrorData struct {
	ID    string `json:"id,omitempty"`
	Query string `json:"query,omitempty"`
	dispatch.ErrorPayload
}

// inbound is the JSON form of a client frame. A frame that is not a JSON
// object is taken as a plain query.
type inbound struct {
	Query string `json:"query"`
	Kind  string `json:"kind"`
	Limit int    `json:"limit"`
}

// Dispatcher is the part of dispatch.Dispatcher the hub uses.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatch.Request) *dispatch.Pending
}

// Poller is the part of poller.Manager the hub uses.
type Poller interface {
	Start(ctx context.Context, sessionID string) bool
	Stop(sessionID string)
}

// Hub binds WebSocket connections to sessions. It answers each inbound query
// through the dispatcher, records it in the session history, and keeps the
// session polled while at least one connection for it is open.
type Hub struct {
	dispatcher Dispatcher
	history    *history.Store
	poller     Poller
	wordLimit  int

	// lifecycle serialises poller Start/Stop with the connection set
	// changes that trigger them. Lock order: lifecycle, then mu.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	sessions map[string]map[*client]struct{}
}

var _ notify.Sink = (*Hub)(nil)

// client represents one connected WebSocket client.
type client struct {
	sessionID string
	conn      *websocket.Conn
	send      chan []byte
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Hub.
func New(d Dispatcher, h *history.Store, p Poller) *Hub {
	return &Hub{
		dispatcher: d,
		history:    h,
		poller:     p,
		wordLimit:  view.DefaultWordLimit,
		sessions:   make(map[string]map[*client]struct{}),
	}
}

// Run blocks until ctx is cancelled, then closes all active connections and
// stops their pollers.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// ServeHTTP upgrades the HTTP connection to WebSocket and serves the client
// for the session named by the "session" query parameter, minting a new id
// when it is absent. It sends the session id and current history on
// connect, then answers queries until the connection closes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{
		sessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBufSize),
		ctx:       ctx,
		cancel:    cancel,
	}
	h.register(c)
	defer h.unregister(c)

	h.push(c, EventSession, SessionData{SessionID: sessionID})
	h.push(c, EventHistory, view.Build(h.history.Get(sessionID), h.wordLimit))

	go c.writePump()
	c.readPump(h.handleFrame) // blocks until connection closes
}

// Count returns the number of currently connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.sessions {
		n += len(clients)
	}
	return n
}

// Sessions returns the ids of sessions with at least one open connection.
func (h *Hub) Sessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions))
	for id := range h.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Name implements notify.Sink.
func (h *Hub) Name() string { return "session" }

// Send implements notify.Sink: it pushes the session's updated history to
// every connection of that session. A session with no open connection is
// not an error.
func (h *Hub) Send(_ context.Context, n notify.Notification) error {
	data, err := json.Marshal(Message{Event: EventHistory, Data: view.Build(n.Records, h.wordLimit)})
	if err != nil {
		return fmt.Errorf("ws: marshal history: %w", err)
	}
	h.mu.RLock()
	targets := make([]*client, 0, len(h.sessions[n.SessionID]))
	for c := range h.sessions[n.SessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.deliver(c, data)
	}
	return nil
}

// --- internal ---------------------------------------------------------------

func (h *Hub) register(c *client) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	clients, ok := h.sessions[c.sessionID]
	if !ok {
		clients = make(map[*client]struct{})
		h.sessions[c.sessionID] = clients
	}
	clients[c] = struct{}{}
	first := len(clients) == 1
	h.mu.Unlock()

	if first && h.poller != nil {
		h.poller.Start(context.Background(), c.sessionID)
	}
	slog.Debug("ws: client connected", "session", c.sessionID, "first", first)
}

func (h *Hub) unregister(c *client) {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	clients, ok := h.sessions[c.sessionID]
	_, present := clients[c]
	last := false
	if ok && present {
		delete(clients, c)
		close(c.send)
		if len(clients) == 0 {
			delete(h.sessions, c.sessionID)
			last = true
		}
	}
	h.mu.Unlock()

	c.cancel()
	if last && h.poller != nil {
		h.poller.Stop(c.sessionID)
	}
	if present {
		slog.Debug("ws: client disconnected", "session", c.sessionID, "last", last)
	}
}

func (h *Hub) closeAll() {
	h.lifecycle.Lock()
	defer h.lifecycle.Unlock()

	h.mu.Lock()
	var ids []string
	for id, clients := range h.sessions {
		for c := range clients {
			close(c.send)
			c.cancel()
		}
		delete(h.sessions, id)
		ids = append(ids, id)
	}
	h.mu.Unlock()

	if h.poller != nil {
		for _, id := range ids {
			h.poller.Stop(id)
		}
	}
}

// push marshals one envelope and queues it for c.
func (h *Hub) push(c *client, event string, data any) {
	msg, err := json.Marshal(Message{Event: event, Data: data})
	if err != nil {
		slog.Error("ws: marshal message", "event", event, "err", err)
		return
	}
	h.deliver(c, msg)
}

// deliver queues msg for c if it is still connected. A client whose buffer
// is full is disconnected.
func (h *Hub) deliver(c *client, msg []byte) {
	h.mu.RLock()
	_, live := h.sessions[c.sessionID][c]
	full := false
	if live {
		select {
		case c.send <- msg:
		default:
			full = true
		}
	}
	h.mu.RUnlock()

	if full {
		slog.Warn("ws: client send buffer full, disconnecting", "session", c.sessionID)
		// deliver may run on a poller loop that unregister would wait for.
		go h.unregister(c)
	}
}

// handleFrame answers one inbound frame without blocking the read loop.
func (h *Hub) handleFrame(c *client, frame []byte) {
	req, err := parseFrame(frame)
	if err != nil {
		h.push(c, EventError, ErrorData{ErrorPayload: dispatch.ErrorPayload{
			Code:    types.Code(err),
			Message: err.Error(),
		}})
		return
	}
	req.SessionID = c.sessionID

	pending := h.dispatcher.Dispatch(c.ctx, req)
	go h.awaitResult(c, pending)
}

func (h *Hub) awaitResult(c *client, pending *dispatch.Pending) {
	resp, err := pending.Wait(c.ctx)
	if err != nil {
		// Disconnected; the result is of no use to anyone.
		return
	}
	if !resp.OK() {
		h.push(c, EventError, ErrorData{ID: resp.ID, Query: resp.Query, ErrorPayload: *resp.Error})
		return
	}

	rec, _ := resp.Record(time.Now())
	h.history.Append(c.sessionID, rec)

	h.push(c, EventResult, ResultData{
		ID:      resp.ID,
		Kind:    resp.Kind,
		Query:   resp.Query,
		Channel: resp.Channel,
		Result:  view.Build([]types.SearchRecord{{Query: rec.Query, Kind: rec.Kind, Results: resp.Items, UpdatedAt: rec.UpdatedAt}}, h.wordLimit),
	})
}

// parseFrame turns a client frame into a dispatch request. A JSON object is
// decoded as {"query", "kind", "limit"}; anything else is a plain query.
func parseFrame(frame []byte) (dispatch.Request, error) {
	trimmed := bytes.TrimSpace(frame)
	in := inbound{Query: string(trimmed)}
	if len(trimmed) > 0 && trimmed[0] == '{' {
		in = inbound{}
		if err := json.Unmarshal(trimmed, &in); err != nil {
			return dispatch.Request{}, fmt.Errorf("ws: decode frame: %v: %w", err, types.ErrInvalidRequest)
		}
	}
	in.Query = strings.TrimSpace(in.Query)
	if in.Query == "" {
		return dispatch.Request{}, fmt.Errorf("ws: empty query: %w", types.ErrInvalidRequest)
	}
	kind, err := dispatch.ParseKind(in.Kind)
	if err != nil {
		return dispatch.Request{}, err
	}
	return dispatch.Request{Kind: kind, Payload: in.Query, Params: dispatch.Params{Limit: in.Limit}}, nil
}

// writePump drains the client's send channel and forwards messages to the
// WebSocket connection. It also sends periodic ping frames. Runs in its own
// goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub is shutting down or client removed).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads frames from the connection and hands text frames to handle.
// Blocks until the connection closes.
func (c *client) readPump(handle func(*client, []byte)) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxInbound)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		kind, frame, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if kind == websocket.TextMessage {
			handle(c, frame)
		}
	}
}
