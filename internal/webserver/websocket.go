package webserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ichi0g0y/giveaway-engine/internal/giveaway"
	"github.com/ichi0g0y/giveaway-engine/internal/shared/logger"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
)

// WebSocket メッセージ種別
const (
	MsgConnected       = "connected"
	MsgGiveawayStarted = "giveaway_started"
	MsgGiveawayEnded   = "giveaway_ended"
	MsgMemberNotice    = "member_notice"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
	maxInboundBytes = 4096
	sendBuffer      = 256
)

var errBroadcastQueueFull = errors.New("websocket broadcast queue full")

// WSMessage は配信する 1 メッセージ。Scope が 0 なら全スコープ向け
type WSMessage struct {
	Type  string          `json:"type"`
	Scope int64           `json:"scope,omitempty"`
	Data  json.RawMessage `json:"data"`
}

// WSClient is one subscriber connection.
type WSClient struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	clientID    string
	scope       int64
	connectedAt time.Time
}

// Hub はすべてのWebSocket接続を管理する。
// giveaway の告知・結果・個別通知はここからブロードキャストされる。
type Hub struct {
	clients    map[*WSClient]bool
	register   chan *WSClient
	unregister chan *WSClient
	broadcast  chan WSMessage
	done       chan struct{}
	mu         sync.RWMutex
	lastID     atomic.Int64
	now        func() time.Time
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*WSClient]bool),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		broadcast:  make(chan WSMessage, sendBuffer),
		done:       make(chan struct{}),
		now:        time.Now,
	}
}

// Run dispatches until ctx is cancelled, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()

			logger.Info("WebSocket client connected",
				zap.String("clientId", client.clientID),
				zap.Int64("scope", client.scope),
				zap.Int("total_clients", total))

			client.greet()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				remaining := len(h.clients)
				h.mu.Unlock()

				logger.Info("WebSocket client disconnected",
					zap.String("clientId", client.clientID),
					zap.Duration("connected_for", time.Since(client.connectedAt)),
					zap.Int("remaining_clients", remaining))
			} else {
				h.mu.Unlock()
			}

		case message := <-h.broadcast:
			data, err := json.Marshal(message)
			if err != nil {
				logger.Error("Failed to marshal WebSocket message", zap.Error(err))
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(message.Scope) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// クライアントのバッファがフルの場合は切断
					go h.drop(client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) drop(c *WSClient) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
	c.conn.Close()
}

// greet は接続直後に clientId を通知する
func (c *WSClient) greet() {
	hello, err := json.Marshal(WSMessage{
		Type:  MsgConnected,
		Scope: c.scope,
		Data:  mustJSON(map[string]string{"clientId": c.clientID}),
	})
	if err != nil {
		return
	}
	select {
	case c.send <- hello:
	default:
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("null")
	}
	return b
}

// wants reports whether a message of the given scope goes to this client.
// Scope 0 on either side means every scope.
func (c *WSClient) wants(scope int64) bool {
	return c.scope == 0 || scope == 0 || c.scope == scope
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) publish(msgType string, scope int64, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- WSMessage{Type: msgType, Scope: scope, Data: jsonData}:
		return nil
	default:
		return errBroadcastQueueFull
	}
}

// Broadcast sends a message to every client subscribed to the scope. Failures are logged.
func (h *Hub) Broadcast(msgType string, scope int64, data any) {
	if err := h.publish(msgType, scope, data); err != nil {
		logger.Warn("WebSocket broadcast dropped",
			zap.String("message_type", msgType),
			zap.Error(err))
	}
}

// nextID はスノーフレーク風の単調増加 ID を返す。再起動をまたいでも重複しない
func (h *Hub) nextID() int64 {
	for {
		last := h.lastID.Load()
		candidate := h.now().UnixMicro()
		if candidate <= last {
			candidate = last + 1
		}
		if h.lastID.CompareAndSwap(last, candidate) {
			return candidate
		}
	}
}

// Announce publishes a started giveaway and returns its id.
func (h *Hub) Announce(_ context.Context, view giveaway.EventView) (int64, error) {
	id := h.nextID()
	view.EventID = &id
	view.State = giveaway.StateActive
	if err := h.publish(MsgGiveawayStarted, view.ScopeID, view); err != nil {
		return 0, err
	}
	return id, nil
}

// AnnounceResult publishes the outcome of end, cancel or reroll.
func (h *Hub) AnnounceResult(_ context.Context, view giveaway.EventView, result giveaway.EndResult) error {
	return h.publish(MsgGiveawayEnded, view.ScopeID, newResultPayload(view, result))
}

// Notify publishes a notice addressed to one member.
func (h *Hub) Notify(_ context.Context, scopeID, memberID int64, message string) error {
	return h.publish(MsgMemberNotice, scopeID, map[string]any{
		"member_id": memberID,
		"message":   message,
	})
}

// ServeWS upgrades the request. ?scope= limits the messages the client receives.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = generateClientID()
	}
	var scope int64
	if raw := r.URL.Query().Get("scope"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "Invalid scope", http.StatusBadRequest)
			return
		}
		scope = parsed
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("Failed to upgrade to WebSocket", zap.Error(err))
		return
	}

	client := &WSClient{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		clientID:    clientID,
		scope:       scope,
		connectedAt: time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump は受信を読み捨て、pong で期限を延ばす。切断を検知したら登録を外す
func (c *WSClient) readPump() {
	defer c.hub.drop(c)

	c.conn.SetReadLimit(maxInboundBytes)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
	_ = extend()
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		if _, _, err := c.conn.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket closed unexpectedly",
					zap.String("clientId", c.clientID),
					zap.Error(err))
			}
			return
		}
	}
}

// writePump is the only writer of data frames for this connection.
func (c *WSClient) writePump() {
	pinger := time.NewTicker(pingPeriod)
	defer pinger.Stop()
	defer c.conn.Close()

	write := func(messageType int, payload []byte) error {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(messageType, payload)
	}

	for {
		select {
		case payload, open := <-c.send:
			if !open {
				_ = write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "hub stopped"))
				return
			}
			if err := write(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-pinger.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// generateClientID は ?clientId が無い接続に nanoid を割り当てる
func generateClientID() string {
	id, err := gonanoid.New()
	if err != nil {
		return "ws-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return "ws-" + id
}
