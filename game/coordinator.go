package game

import (
	"math/rand"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/can61cebi/sorukayisi-backend/models"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NormalizeCode canonicalizes a join code for lookups.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// GenerateGameCode produces an uppercase alphanumeric join code. Uniqueness
// is the caller's problem; collisions are retried against the database.
func GenerateGameCode(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = codeAlphabet[rand.Intn(len(codeAlphabet))]
	}
	return string(b)
}

// Coordinator owns every live game machine, exactly one per code. A janitor
// goroutine frees completed machines after a grace period and expires games
// abandoned in the lobby.
type Coordinator struct {
	log  zerolog.Logger
	deps Deps

	mu    sync.RWMutex
	games map[string]*Engine

	done   chan struct{}
	closer sync.Once
}

func NewCoordinator(deps Deps) *Coordinator {
	deps.Cfg = deps.Cfg.withDefaults()
	c := &Coordinator{
		log:   deps.Log.With().Str("component", "coordinator").Logger(),
		deps:  deps,
		games: make(map[string]*Engine),
		done:  make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// CreateGame registers a machine for a freshly persisted game row.
func (c *Coordinator) CreateGame(g *models.Game, questions []models.Question) (*Engine, error) {
	code := NormalizeCode(g.Code)
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.games[code]; exists {
		return nil, ErrDuplicateCode
	}
	eng := NewEngine(c.deps, g, questions)
	c.games[code] = eng
	c.log.Info().Str("game_code", code).Int("questions", len(questions)).Msg("game registered")
	return eng, nil
}

// Get returns the live machine for a code.
func (c *Coordinator) Get(code string) (*Engine, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	eng, ok := c.games[NormalizeCode(code)]
	if !ok {
		return nil, ErrGameNotFound
	}
	return eng, nil
}

// Remove shuts the machine down and frees its code.
func (c *Coordinator) Remove(code string) {
	code = NormalizeCode(code)
	c.mu.Lock()
	eng, ok := c.games[code]
	if ok {
		delete(c.games, code)
	}
	c.mu.Unlock()
	if ok {
		eng.Close()
		c.log.Info().Str("game_code", code).Msg("game removed")
	}
}

func (c *Coordinator) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.games)
}

// Close stops the janitor and every live machine.
func (c *Coordinator) Close() {
	c.closer.Do(func() {
		close(c.done)
		c.mu.Lock()
		for code, eng := range c.games {
			eng.Close()
			delete(c.games, code)
		}
		c.mu.Unlock()
	})
}

func (c *Coordinator) sweepLoop() {
	ticker := c.deps.Clock.NewTicker(c.deps.Cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.Chan():
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Coordinator) sweep() {
	now := c.deps.Clock.Now()

	var expired []*Engine
	var stale []string
	c.mu.RLock()
	for code, eng := range c.games {
		if completed := eng.CompletedAt(); !completed.IsZero() {
			if now.Sub(completed) >= c.deps.Cfg.CompletedTTL {
				stale = append(stale, code)
			}
			continue
		}
		if eng.Phase() == PhaseLobby && now.Sub(eng.CreatedAt()) >= c.deps.Cfg.LobbyTTL {
			expired = append(expired, eng)
		}
	}
	c.mu.RUnlock()

	for _, eng := range expired {
		c.log.Warn().Str("game_code", eng.Code()).Msg("expiring abandoned lobby")
		eng.Expire()
	}
	for _, code := range stale {
		c.Remove(code)
	}
}
