package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/game"
	"github.com/can61cebi/sorukayisi-backend/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	connPersistTimeout = 2 * time.Second
)

// MessageHandler consumes inbound frames and disconnect notifications. The
// websocket gateway implements it; the hub stays protocol-agnostic.
type MessageHandler interface {
	HandleMessage(c *Client, data []byte)
	HandleDisconnect(c *Client)
}

// ConnectionStore mirrors live connections into the database, best effort.
type ConnectionStore interface {
	SaveConnection(ctx context.Context, conn *models.ActiveConnection) error
	DeleteConnection(ctx context.Context, sessionID string) error
}

// Client is one websocket session. Binding fields and send-channel state are
// guarded by the client's own mutex; use Hub.Info for a consistent snapshot.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu          sync.Mutex
	sessionID   string
	userID      *uint
	username    string
	gameCode    string
	role        string
	playerID    string
	connectedAt time.Time
	closed      bool
	notified    bool
}

// markClosed closes the send channel exactly once and reports the game the
// client was bound to at that moment. Sends and close(send) both run under
// the client mutex.
func (c *Client) markClosed() (already bool, gameCode string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true, ""
	}
	c.closed = true
	close(c.send)
	return false, c.gameCode
}

// ClientInfo is a read-only snapshot of a client's binding.
type ClientInfo struct {
	SessionID string
	UserID    *uint
	Username  string
	GameCode  string
	Role      string
	PlayerID  string
}

// gamePartition holds the live sessions of one game behind its own lock, so
// traffic in one game never serializes against another.
type gamePartition struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// Hub is the connection registry, partitioned per game code. The session
// index and the partition table are read-mostly maps behind short locks;
// membership mutations serialize on the owning partition and client state on
// the client. Lock order: partition table, then partition, then client;
// never the reverse. The hub implements game.Registry, so engines drive
// delivery without ever holding a socket. No send here blocks; clients that
// cannot keep up are dropped.
type Hub struct {
	log   zerolog.Logger
	store ConnectionStore

	handlerMu sync.RWMutex
	handler   MessageHandler

	sessionMu sync.RWMutex
	sessions  map[string]*Client

	partMu sync.RWMutex
	parts  map[string]*gamePartition
}

func NewHub(log zerolog.Logger, store ConnectionStore) *Hub {
	return &Hub{
		log:      log.With().Str("component", "hub").Logger(),
		store:    store,
		sessions: make(map[string]*Client),
		parts:    make(map[string]*gamePartition),
	}
}

// SetHandler wires the gateway in after construction.
func (h *Hub) SetHandler(handler MessageHandler) {
	h.handlerMu.Lock()
	h.handler = handler
	h.handlerMu.Unlock()
}

func (h *Hub) messageHandler() MessageHandler {
	h.handlerMu.RLock()
	defer h.handlerMu.RUnlock()
	return h.handler
}

// Connect registers a fresh socket as a viewer session, greets it and starts
// the pumps. The optional user comes from the upgrade-time token.
func (h *Hub) Connect(conn *websocket.Conn, user *game.UserRef) *Client {
	c := &Client{
		hub:         h,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		sessionID:   uuid.NewString(),
		role:        models.ConnectionTypeViewer,
		connectedAt: time.Now(),
	}
	if user != nil {
		id := user.ID
		c.userID = &id
		c.username = user.Username
	}

	h.sessionMu.Lock()
	h.sessions[c.sessionID] = c
	total := len(h.sessions)
	h.sessionMu.Unlock()

	h.log.Info().Str("session_id", c.sessionID).Int("total", total).Msg("client connected")
	h.persistConnection(c)

	go c.writePump()
	go c.readPump()

	h.Send(c.sessionID, game.Message{Type: game.MsgWelcome, Payload: game.WelcomePayload{SessionID: c.sessionID}})
	h.broadcastCounter()
	return c
}

// Info snapshots the client's current binding.
func (h *Hub) Info(c *Client) ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ClientInfo{
		SessionID: c.sessionID,
		UserID:    c.userID,
		Username:  c.username,
		GameCode:  c.gameCode,
		Role:      c.role,
		PlayerID:  c.playerID,
	}
}

// Bind attaches a session to a game partition with a role, replacing any
// previous binding.
func (h *Hub) Bind(sessionID, gameCode, role, playerID string, userID *uint) {
	c := h.lookup(sessionID)
	if c == nil {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	oldCode := c.gameCode
	c.gameCode = gameCode
	c.role = role
	if playerID != "" {
		c.playerID = playerID
	}
	if userID != nil {
		c.userID = userID
	}
	c.mu.Unlock()

	if oldCode != "" && oldCode != gameCode {
		h.removeFromGame(oldCode, sessionID)
	}
	h.addToGame(gameCode, c)

	// a disconnect may have raced the insert; repair the partition
	c.mu.Lock()
	closedNow := c.closed
	c.mu.Unlock()
	if closedNow {
		h.removeFromGame(gameCode, sessionID)
		return
	}

	h.log.Debug().Str("session_id", sessionID).Str("game_code", gameCode).Str("role", role).Msg("session bound")
	h.persistConnection(c)
}

// Unbind detaches a session from its game but keeps the socket open.
func (h *Hub) Unbind(sessionID string) {
	c := h.lookup(sessionID)
	if c == nil {
		return
	}
	c.mu.Lock()
	oldCode := c.gameCode
	c.gameCode = ""
	c.role = models.ConnectionTypeViewer
	c.playerID = ""
	c.mu.Unlock()

	if oldCode != "" {
		h.removeFromGame(oldCode, sessionID)
	}
	h.persistConnection(c)
}

// CloseSession tears a session's socket down. Used when recovery replaces a
// zombie connection.
func (h *Hub) CloseSession(sessionID string) {
	c := h.lookup(sessionID)
	if c != nil && c.conn != nil {
		c.conn.Close()
	}
}

// Send delivers one message to one session.
func (h *Hub) Send(sessionID string, msg game.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("marshal failed")
		return
	}
	c := h.lookup(sessionID)
	if c == nil {
		return
	}
	if !h.trySend(c, data) {
		h.dropSlow(c)
	}
}

// Broadcast delivers a message to every session of a game, optionally
// restricted to roles.
func (h *Hub) Broadcast(gameCode string, roles []string, msg game.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.log.Error().Err(err).Str("type", msg.Type).Msg("marshal failed")
		return
	}

	p := h.partition(gameCode)
	if p == nil {
		return
	}
	p.mu.RLock()
	targets := make([]*Client, 0, len(p.clients))
	for _, c := range p.clients {
		targets = append(targets, c)
	}
	p.mu.RUnlock()

	var slow []*Client
	for _, c := range targets {
		if len(roles) > 0 && !roleMatch(h.clientRole(c), roles) {
			continue
		}
		if !h.trySend(c, data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.dropSlow(c)
	}
}

func (h *Hub) clientRole(c *Client) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func roleMatch(role string, roles []string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// SessionCount is the number of live sessions across all games.
func (h *Hub) SessionCount() int {
	h.sessionMu.RLock()
	defer h.sessionMu.RUnlock()
	return len(h.sessions)
}

// GameSessionCount is the number of live sessions bound to one game.
func (h *Hub) GameSessionCount(gameCode string) int {
	p := h.partition(gameCode)
	if p == nil {
		return 0
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

func (h *Hub) lookup(sessionID string) *Client {
	h.sessionMu.RLock()
	defer h.sessionMu.RUnlock()
	return h.sessions[sessionID]
}

func (h *Hub) partition(gameCode string) *gamePartition {
	h.partMu.RLock()
	defer h.partMu.RUnlock()
	return h.parts[gameCode]
}

// addToGame inserts under the partition lock while still holding the table
// lock, so a concurrent empty-partition removal cannot orphan the insert.
func (h *Hub) addToGame(gameCode string, c *Client) {
	h.partMu.Lock()
	p := h.parts[gameCode]
	if p == nil {
		p = &gamePartition{clients: make(map[string]*Client)}
		h.parts[gameCode] = p
	}
	p.mu.Lock()
	h.partMu.Unlock()
	p.clients[c.sessionID] = c
	p.mu.Unlock()
}

func (h *Hub) removeFromGame(gameCode, sessionID string) {
	h.partMu.Lock()
	p := h.parts[gameCode]
	if p == nil {
		h.partMu.Unlock()
		return
	}
	p.mu.Lock()
	delete(p.clients, sessionID)
	if len(p.clients) == 0 {
		delete(h.parts, gameCode)
	}
	p.mu.Unlock()
	h.partMu.Unlock()
}

func (h *Hub) trySend(c *Client, data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// dropSlow evicts a client whose send buffer stayed full. Closing the socket
// unblocks its read pump, which runs the normal unregister path.
func (h *Hub) dropSlow(c *Client) {
	already, gameCode := c.markClosed()
	if already {
		return
	}
	h.sessionMu.Lock()
	delete(h.sessions, c.sessionID)
	h.sessionMu.Unlock()
	if gameCode != "" {
		h.removeFromGame(gameCode, c.sessionID)
	}

	h.log.Warn().Str("session_id", c.sessionID).Msg("send buffer full, dropping client")
	if c.conn != nil {
		c.conn.Close()
	}
	h.deleteConnection(c.sessionID)
	h.broadcastCounter()
}

// unregister removes the client after its read pump exits and tells the
// gateway exactly once.
func (h *Hub) unregister(c *Client) {
	already, gameCode := c.markClosed()
	if !already {
		h.sessionMu.Lock()
		delete(h.sessions, c.sessionID)
		h.sessionMu.Unlock()
		if gameCode != "" {
			h.removeFromGame(gameCode, c.sessionID)
		}
	}

	c.mu.Lock()
	notify := !c.notified
	c.notified = true
	c.mu.Unlock()

	h.log.Info().Str("session_id", c.sessionID).Int("total", h.SessionCount()).Msg("client disconnected")
	h.deleteConnection(c.sessionID)
	if notify {
		if handler := h.messageHandler(); handler != nil {
			handler.HandleDisconnect(c)
		}
	}
	h.broadcastCounter()
}

func (h *Hub) broadcastCounter() {
	h.sessionMu.RLock()
	count := len(h.sessions)
	targets := make([]*Client, 0, count)
	for _, c := range h.sessions {
		targets = append(targets, c)
	}
	h.sessionMu.RUnlock()

	data, err := json.Marshal(game.Message{Type: game.MsgCounter, Payload: game.CounterPayload{ActiveConnections: count}})
	if err != nil {
		return
	}
	var slow []*Client
	for _, c := range targets {
		if !h.trySend(c, data) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		h.dropSlow(c)
	}
}

// Touch refreshes the connection's last-seen mark.
func (h *Hub) Touch(c *Client) {
	h.persistConnection(c)
}

func (h *Hub) persistConnection(c *Client) {
	if h.store == nil {
		return
	}
	row := h.connectionRow(c)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connPersistTimeout)
		defer cancel()
		if err := h.store.SaveConnection(ctx, row); err != nil {
			h.log.Debug().Err(err).Str("session_id", row.SessionID).Msg("connection persist failed")
		}
	}()
}

func (h *Hub) deleteConnection(sessionID string) {
	if h.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), connPersistTimeout)
		defer cancel()
		if err := h.store.DeleteConnection(ctx, sessionID); err != nil {
			h.log.Debug().Err(err).Str("session_id", sessionID).Msg("connection delete failed")
		}
	}()
}

func (h *Hub) connectionRow(c *Client) *models.ActiveConnection {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := &models.ActiveConnection{
		SessionID:      c.sessionID,
		UserID:         c.userID,
		GameCode:       c.gameCode,
		ConnectionType: c.role,
		ConnectedAt:    c.connectedAt,
		LastSeen:       time.Now(),
	}
	if c.playerID != "" {
		pid := c.playerID
		row.PlayerID = &pid
	}
	return row
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.Touch(c)
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.log.Debug().Err(err).Str("session_id", c.sessionID).Msg("read error")
			}
			break
		}
		if handler := c.hub.messageHandler(); handler != nil {
			handler.HandleMessage(c, message)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
