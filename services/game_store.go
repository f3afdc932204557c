package services

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/can61cebi/sorukayisi-backend/game"
	"github.com/can61cebi/sorukayisi-backend/models"
)

// GameStore is the database adapter the engines write through. Every method
// is called from a persister queue that retries, so all writes are
// idempotent: creates swallow conflicts, updates overwrite with the latest
// state.
type GameStore struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewGameStore(db *gorm.DB, log zerolog.Logger) *GameStore {
	return &GameStore{
		db:  db,
		log: log.With().Str("component", "game_store").Logger(),
	}
}

func (s *GameStore) CreatePlayer(ctx context.Context, player *models.Player) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(player).Error
}

func (s *GameStore) SavePlayerState(ctx context.Context, playerID string, score int, sessionID string, isActive bool) error {
	return s.db.WithContext(ctx).
		Model(&models.Player{}).
		Where("id = ?", playerID).
		Updates(map[string]interface{}{
			"score":      score,
			"session_id": sessionID,
			"is_active":  isActive,
		}).Error
}

func (s *GameStore) CreateAnswer(ctx context.Context, answer *models.PlayerAnswer) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "player_id"}, {Name: "question_id"}},
			DoNothing: true,
		}).
		Create(answer).Error
}

func (s *GameStore) SaveGameState(ctx context.Context, gameID uint, update game.GameStateUpdate) error {
	values := map[string]interface{}{
		"status":           update.Status,
		"current_question": update.CurrentQuestion,
	}
	if update.QuestionStartedAt != nil {
		values["question_started_at"] = update.QuestionStartedAt
	}
	if update.QuestionEndsAt != nil {
		values["question_ends_at"] = update.QuestionEndsAt
	}
	if update.ShowResultsUntil != nil {
		values["show_results_until"] = update.ShowResultsUntil
	}
	if update.StartedAt != nil {
		values["started_at"] = update.StartedAt
	}
	if update.EndedAt != nil {
		values["ended_at"] = update.EndedAt
	}
	return s.db.WithContext(ctx).
		Model(&models.Game{}).
		Where("id = ?", gameID).
		Updates(values).Error
}

// FindPlayerBySession resolves a session to its active player, the fallback
// path for recovery when the entry cache has expired or was never written.
func (s *GameStore) FindPlayerBySession(ctx context.Context, sessionID string) (string, string, error) {
	var row struct {
		PlayerID string
		GameCode string
	}
	err := s.db.WithContext(ctx).
		Model(&models.Player{}).
		Select("players.id as player_id, games.code as game_code").
		Joins("JOIN games ON games.id = players.game_id").
		Where("players.session_id = ? AND players.is_active = ?", sessionID, true).
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return "", "", err
	}
	if row.PlayerID == "" {
		return "", "", game.ErrPlayerNotFound
	}
	return row.PlayerID, row.GameCode, nil
}

func (s *GameStore) SaveConnection(ctx context.Context, conn *models.ActiveConnection) error {
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "game_code", "player_id", "connection_type", "last_seen"}),
		}).
		Create(conn).Error
}

func (s *GameStore) DeleteConnection(ctx context.Context, sessionID string) error {
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.ActiveConnection{}).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	return err
}
