package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/can61cebi/sorukayisi-backend/game"
	"github.com/can61cebi/sorukayisi-backend/models"
)

type fakeConnStore struct {
	mu      sync.Mutex
	saves   []models.ActiveConnection
	deletes []string
}

func (s *fakeConnStore) SaveConnection(ctx context.Context, conn *models.ActiveConnection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, *conn)
	return nil
}

func (s *fakeConnStore) DeleteConnection(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes = append(s.deletes, sessionID)
	return nil
}

func (s *fakeConnStore) lastSave() (models.ActiveConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.saves) == 0 {
		return models.ActiveConnection{}, false
	}
	return s.saves[len(s.saves)-1], true
}

func (s *fakeConnStore) deleted(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.deletes {
		if id == sessionID {
			return true
		}
	}
	return false
}

type recordingHandler struct {
	mu          sync.Mutex
	messages    [][]byte
	disconnects []string
}

func (h *recordingHandler) HandleMessage(c *Client, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, data)
}

func (h *recordingHandler) HandleDisconnect(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects = append(h.disconnects, c.sessionID)
}

func (h *recordingHandler) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.disconnects)
}

// addTestClient registers a session without a socket; pumps never run, so
// frames pile up in the send buffer for assertions.
func addTestClient(h *Hub, sessionID string, userID *uint) *Client {
	c := &Client{
		hub:         h,
		send:        make(chan []byte, sendBufferSize),
		sessionID:   sessionID,
		userID:      userID,
		role:        models.ConnectionTypeViewer,
		connectedAt: time.Now(),
	}
	h.sessionMu.Lock()
	h.sessions[sessionID] = c
	h.sessionMu.Unlock()
	return c
}

type frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func nextFrame(t *testing.T, c *Client) frame {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var f frame
		require.NoError(t, json.Unmarshal(data, &f))
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("no frame delivered")
		return frame{}
	}
}

// waitFrame discards frames until one of the wanted type shows up.
func waitFrame(t *testing.T, c *Client, msgType string) frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-c.send:
			require.True(t, ok, "send channel closed while waiting for %s", msgType)
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			if f.Type == msgType {
				return f
			}
		case <-deadline:
			t.Fatalf("no %s frame delivered", msgType)
			return frame{}
		}
	}
}

func decodePayload[T any](t *testing.T, f frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(f.Payload, &v))
	return v
}

func TestHubSendDelivers(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	c := addTestClient(hub, "s1", nil)

	hub.Send("s1", game.Message{Type: game.MsgPong})
	f := nextFrame(t, c)
	assert.Equal(t, game.MsgPong, f.Type)

	hub.Send("nobody", game.Message{Type: game.MsgPong}) // no-op
	assert.Equal(t, 1, hub.SessionCount())
}

func TestHubBindMovesPartitions(t *testing.T) {
	store := &fakeConnStore{}
	hub := NewHub(zerolog.Nop(), store)
	c := addTestClient(hub, "s1", nil)

	hub.Bind("s1", "WS1234", models.ConnectionTypePlayer, "p1", nil)
	assert.Equal(t, 1, hub.GameSessionCount("WS1234"))

	info := hub.Info(c)
	assert.Equal(t, "WS1234", info.GameCode)
	assert.Equal(t, models.ConnectionTypePlayer, info.Role)
	assert.Equal(t, "p1", info.PlayerID)

	require.Eventually(t, func() bool {
		row, ok := store.lastSave()
		return ok && row.GameCode == "WS1234" && row.ConnectionType == models.ConnectionTypePlayer
	}, 2*time.Second, 10*time.Millisecond)

	// rebinding to another game vacates the old partition
	hub.Bind("s1", "WS5678", models.ConnectionTypePlayer, "p1", nil)
	assert.Equal(t, 0, hub.GameSessionCount("WS1234"))
	assert.Equal(t, 1, hub.GameSessionCount("WS5678"))

	hub.Bind("ghost", "WS1234", models.ConnectionTypePlayer, "", nil) // unknown session, no-op
	assert.Equal(t, 0, hub.GameSessionCount("WS1234"))
}

func TestHubUnbindResetsToViewer(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	c := addTestClient(hub, "s1", nil)

	hub.Bind("s1", "WS1234", models.ConnectionTypeHost, "", nil)
	hub.Unbind("s1")

	info := hub.Info(c)
	assert.Empty(t, info.GameCode)
	assert.Equal(t, models.ConnectionTypeViewer, info.Role)
	assert.Empty(t, info.PlayerID)
	assert.Equal(t, 0, hub.GameSessionCount("WS1234"))
	assert.Equal(t, 1, hub.SessionCount())
}

func TestHubBroadcastRoles(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	host := addTestClient(hub, "h1", nil)
	player := addTestClient(hub, "p1", nil)
	outsider := addTestClient(hub, "x1", nil)

	hub.Bind("h1", "WS1234", models.ConnectionTypeHost, "", nil)
	hub.Bind("p1", "WS1234", models.ConnectionTypePlayer, "pl-1", nil)

	hub.Broadcast("WS1234", nil, game.Message{Type: game.MsgGameStarted})
	assert.Equal(t, game.MsgGameStarted, nextFrame(t, host).Type)
	assert.Equal(t, game.MsgGameStarted, nextFrame(t, player).Type)
	assert.Empty(t, outsider.send)

	hub.Broadcast("WS1234", []string{models.ConnectionTypeHost}, game.Message{Type: game.MsgAnswerProgress})
	assert.Equal(t, game.MsgAnswerProgress, nextFrame(t, host).Type)
	assert.Empty(t, player.send)
}

func TestHubDropsSlowClient(t *testing.T) {
	store := &fakeConnStore{}
	hub := NewHub(zerolog.Nop(), store)
	slow := addTestClient(hub, "slow", nil)
	healthy := addTestClient(hub, "ok", nil)
	hub.Bind("slow", "WS1234", models.ConnectionTypePlayer, "p1", nil)

	for i := 0; i < sendBufferSize; i++ {
		slow.send <- []byte("{}")
	}

	hub.Send("slow", game.Message{Type: game.MsgPong})

	assert.Equal(t, 1, hub.SessionCount())
	assert.Equal(t, 0, hub.GameSessionCount("WS1234"))

	// the survivors hear the updated counter
	f := waitFrame(t, healthy, game.MsgCounter)
	counter := decodePayload[game.CounterPayload](t, f)
	assert.Equal(t, 1, counter.ActiveConnections)

	require.Eventually(t, func() bool { return store.deleted("slow") }, 2*time.Second, 10*time.Millisecond)

	// dropping twice is safe
	hub.dropSlow(slow)
	assert.Equal(t, 1, hub.SessionCount())
}

func TestHubUnregisterNotifiesOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	handler := &recordingHandler{}
	hub.SetHandler(handler)
	c := addTestClient(hub, "s1", nil)

	hub.unregister(c)
	hub.unregister(c)
	assert.Equal(t, 1, handler.disconnectCount())
	assert.Equal(t, 0, hub.SessionCount())
}

func TestHubDropThenUnregisterNotifiesOnce(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	handler := &recordingHandler{}
	hub.SetHandler(handler)
	c := addTestClient(hub, "s1", nil)

	hub.dropSlow(c)
	assert.Equal(t, 0, handler.disconnectCount()) // the read pump owns the notification

	hub.unregister(c)
	hub.unregister(c)
	assert.Equal(t, 1, handler.disconnectCount())
}

func TestHubCloseSessionWithoutSocket(t *testing.T) {
	hub := NewHub(zerolog.Nop(), nil)
	addTestClient(hub, "s1", nil)
	hub.CloseSession("s1")     // nil conn, nothing to close
	hub.CloseSession("nobody") // unknown session
	assert.Equal(t, 1, hub.SessionCount())
}
