package game

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// RecoveryEntry maps an old session identifier to its replacement so a
// dropped client can reclaim its player within the recovery window, even
// across repeated reconnects.
type RecoveryEntry struct {
	OldSessionID string    `json:"old_session_id"`
	NewSessionID string    `json:"new_session_id"`
	PlayerID     string    `json:"player_id"`
	GameCode     string    `json:"game_code"`
	CreatedAt    time.Time `json:"created_at"`
}

// GameSnapshot is the cached live summary of a game, refreshed on every
// transition for the HTTP surface.
type GameSnapshot struct {
	Code            string    `json:"code"`
	Phase           string    `json:"phase"`
	CurrentQuestion int       `json:"current_question"`
	TotalQuestions  int       `json:"total_questions"`
	PlayerCount     int       `json:"player_count"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// RecoveryStore keeps recovery entries and snapshots with a bounded lifetime.
// GetEntry and GetSnapshot return (nil, nil) when nothing is stored.
type RecoveryStore interface {
	SaveEntry(ctx context.Context, entry RecoveryEntry) error
	GetEntry(ctx context.Context, oldSessionID string) (*RecoveryEntry, error)
	SaveSnapshot(ctx context.Context, snap GameSnapshot) error
	GetSnapshot(ctx context.Context, code string) (*GameSnapshot, error)
}

// PlayerLookup resolves a session id to its persisted player, the fallback
// when neither the roster nor the entry store knows an old session.
type PlayerLookup interface {
	FindPlayerBySession(ctx context.Context, sessionID string) (playerID, gameCode string, err error)
}

// RecoveryManager finds the game that owns an old session and hands the
// redemption to that game's serialized loop, which is what makes concurrent
// redemptions of one session yield exactly one winner.
type RecoveryManager struct {
	log     zerolog.Logger
	games   *Coordinator
	entries RecoveryStore
	players PlayerLookup
}

func NewRecoveryManager(log zerolog.Logger, games *Coordinator, entries RecoveryStore, players PlayerLookup) *RecoveryManager {
	return &RecoveryManager{
		log:     log.With().Str("component", "recovery").Logger(),
		games:   games,
		entries: entries,
		players: players,
	}
}

// Recover redeems oldSessionID onto newSessionID and returns the player's
// current full state.
func (m *RecoveryManager) Recover(ctx context.Context, oldSessionID, newSessionID string) (ReconnectSuccessPayload, error) {
	if oldSessionID == "" {
		return ReconnectSuccessPayload{}, ErrRecoveryExpired
	}

	var hint *RecoveryEntry
	entry, err := m.entries.GetEntry(ctx, oldSessionID)
	if err != nil {
		m.log.Warn().Err(err).Msg("recovery entry lookup failed, falling back to player store")
	} else {
		hint = entry
	}

	code := ""
	if hint != nil {
		code = hint.GameCode
	}
	if code == "" {
		_, gameCode, err := m.players.FindPlayerBySession(ctx, oldSessionID)
		if err != nil {
			if errors.Is(err, ErrPlayerNotFound) {
				return ReconnectSuccessPayload{}, ErrRecoveryExpired
			}
			return ReconnectSuccessPayload{}, err
		}
		code = gameCode
	}

	eng, err := m.games.Get(code)
	if err != nil {
		// the machine is gone, nothing live to recover into
		return ReconnectSuccessPayload{}, ErrRecoveryExpired
	}
	return eng.Recover(ctx, oldSessionID, newSessionID, hint)
}
