package game

import (
	"context"
	"sync"

	"github.com/can61cebi/sorukayisi-backend/models"
)

// registryEvent is one recorded registry call, in application order.
type registryEvent struct {
	op        string
	sessionID string
	gameCode  string
	role      string
	playerID  string
	roles     []string
	msg       Message
}

type fakeRegistry struct {
	mu     sync.Mutex
	events []registryEvent
}

func (r *fakeRegistry) Bind(sessionID, gameCode, role, playerID string, userID *uint) {
	r.record(registryEvent{op: "bind", sessionID: sessionID, gameCode: gameCode, role: role, playerID: playerID})
}

func (r *fakeRegistry) Unbind(sessionID string) {
	r.record(registryEvent{op: "unbind", sessionID: sessionID})
}

func (r *fakeRegistry) CloseSession(sessionID string) {
	r.record(registryEvent{op: "close", sessionID: sessionID})
}

func (r *fakeRegistry) Send(sessionID string, msg Message) {
	r.record(registryEvent{op: "send", sessionID: sessionID, msg: msg})
}

func (r *fakeRegistry) Broadcast(gameCode string, roles []string, msg Message) {
	r.record(registryEvent{op: "broadcast", gameCode: gameCode, roles: roles, msg: msg})
}

func (r *fakeRegistry) record(ev registryEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *fakeRegistry) all() []registryEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]registryEvent, len(r.events))
	copy(out, r.events)
	return out
}

// broadcasts returns the broadcast events carrying the given message type.
func (r *fakeRegistry) broadcasts(msgType string) []registryEvent {
	var out []registryEvent
	for _, ev := range r.all() {
		if ev.op == "broadcast" && ev.msg.Type == msgType {
			out = append(out, ev)
		}
	}
	return out
}

// sentTo returns messages of one type delivered to one session.
func (r *fakeRegistry) sentTo(sessionID, msgType string) []Message {
	var out []Message
	for _, ev := range r.all() {
		if ev.op == "send" && ev.sessionID == sessionID && ev.msg.Type == msgType {
			out = append(out, ev.msg)
		}
	}
	return out
}

func (r *fakeRegistry) closedSessions() []string {
	var out []string
	for _, ev := range r.all() {
		if ev.op == "close" {
			out = append(out, ev.sessionID)
		}
	}
	return out
}

type fakeStore struct {
	mu      sync.Mutex
	players map[string]*models.Player
	states  map[string]playerStateWrite
	answers []models.PlayerAnswer
	games   []GameStateUpdate
}

type playerStateWrite struct {
	score     int
	sessionID string
	isActive  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		players: make(map[string]*models.Player),
		states:  make(map[string]playerStateWrite),
	}
}

func (s *fakeStore) CreatePlayer(ctx context.Context, player *models.Player) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.players[player.ID]; !exists {
		cp := *player
		s.players[player.ID] = &cp
	}
	return nil
}

func (s *fakeStore) SavePlayerState(ctx context.Context, playerID string, score int, sessionID string, isActive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[playerID] = playerStateWrite{score: score, sessionID: sessionID, isActive: isActive}
	return nil
}

func (s *fakeStore) CreateAnswer(ctx context.Context, answer *models.PlayerAnswer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.answers {
		if a.PlayerID == answer.PlayerID && a.QuestionID == answer.QuestionID {
			return nil
		}
	}
	s.answers = append(s.answers, *answer)
	return nil
}

func (s *fakeStore) SaveGameState(ctx context.Context, gameID uint, update GameStateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.games = append(s.games, update)
	return nil
}

func (s *fakeStore) answersFor(questionID uint) []models.PlayerAnswer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PlayerAnswer
	for _, a := range s.answers {
		if a.QuestionID == questionID {
			out = append(out, a)
		}
	}
	return out
}

func (s *fakeStore) playerState(playerID string) (playerStateWrite, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[playerID]
	return st, ok
}

func (s *fakeStore) player(playerID string) (models.Player, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.players[playerID]
	if !ok {
		return models.Player{}, false
	}
	return *p, true
}

func (s *fakeStore) gameUpdates() []GameStateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]GameStateUpdate, len(s.games))
	copy(out, s.games)
	return out
}

type fakeRecoveryStore struct {
	mu        sync.Mutex
	entries   map[string]RecoveryEntry
	snapshots map[string]GameSnapshot
}

func newFakeRecoveryStore() *fakeRecoveryStore {
	return &fakeRecoveryStore{
		entries:   make(map[string]RecoveryEntry),
		snapshots: make(map[string]GameSnapshot),
	}
}

func (s *fakeRecoveryStore) SaveEntry(ctx context.Context, entry RecoveryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.OldSessionID] = entry
	return nil
}

func (s *fakeRecoveryStore) GetEntry(ctx context.Context, oldSessionID string) (*RecoveryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[oldSessionID]
	if !ok {
		return nil, nil
	}
	cp := entry
	return &cp, nil
}

func (s *fakeRecoveryStore) SaveSnapshot(ctx context.Context, snap GameSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Code] = snap
	return nil
}

func (s *fakeRecoveryStore) GetSnapshot(ctx context.Context, code string) (*GameSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snapshots[code]
	if !ok {
		return nil, nil
	}
	cp := snap
	return &cp, nil
}

type fakePlayerLookup struct {
	mu      sync.Mutex
	entries map[string]lookupRow
}

type lookupRow struct {
	playerID string
	gameCode string
}

func newFakePlayerLookup() *fakePlayerLookup {
	return &fakePlayerLookup{entries: make(map[string]lookupRow)}
}

func (l *fakePlayerLookup) set(sessionID, playerID, gameCode string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[sessionID] = lookupRow{playerID: playerID, gameCode: gameCode}
}

func (l *fakePlayerLookup) FindPlayerBySession(ctx context.Context, sessionID string) (string, string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	row, ok := l.entries[sessionID]
	if !ok {
		return "", "", ErrPlayerNotFound
	}
	return row.playerID, row.gameCode, nil
}
