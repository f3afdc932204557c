package services

import (
	"context"
	"errors"
	"math"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/can61cebi/sorukayisi-backend/game"
	"github.com/can61cebi/sorukayisi-backend/models"
)

var (
	ErrNotAllowed       = errors.New("not allowed")
	ErrQuestionSetEmpty = errors.New("question set has no questions")
	ErrCodeExhausted    = errors.New("could not allocate a unique game code")
)

const (
	gameCodeLength   = 6
	gameCodeAttempts = 5

	leaderboardLimit = 100
)

// GameService is the HTTP-side surface for games: creation, lookups,
// leaderboards and statistics. The live game itself runs inside the
// coordinator's engines; this service never touches in-flight state.
type GameService struct {
	db        *gorm.DB
	log       zerolog.Logger
	games     *game.Coordinator
	questions *QuestionService
	snapshots game.RecoveryStore
}

func NewGameService(db *gorm.DB, log zerolog.Logger, games *game.Coordinator, questions *QuestionService, snapshots game.RecoveryStore) *GameService {
	return &GameService{
		db:        db,
		log:       log.With().Str("component", "game_service").Logger(),
		games:     games,
		questions: questions,
		snapshots: snapshots,
	}
}

type CreateGameRequest struct {
	QuestionSetID uint `json:"question_set_id" binding:"required"`
}

type GameInfo struct {
	ID             uint               `json:"id"`
	Code           string             `json:"code"`
	Status         string             `json:"status"`
	QuestionSetID  uint               `json:"question_set_id"`
	Title          string             `json:"title"`
	HostID         uint               `json:"host_id"`
	PlayerCount    int64              `json:"player_count"`
	QuestionCount  int64              `json:"question_count"`
	CreatedAt      int64              `json:"created_at"`
	Live           *game.GameSnapshot `json:"live,omitempty"`
}

type LeaderboardRow struct {
	Rank     int    `json:"rank"`
	PlayerID string `json:"player_id"`
	Nickname string `json:"nickname"`
	Score    int    `json:"score"`
	IsGuest  bool   `json:"is_guest"`
}

type QuestionStatistics struct {
	QuestionID      uint    `json:"question_id"`
	Position        int     `json:"position"`
	Text            string  `json:"text"`
	TotalAnswers    int64   `json:"total_answers"`
	CorrectAnswers  int64   `json:"correct_answers"`
	Accuracy        float64 `json:"accuracy"`
	AvgResponseMs   int     `json:"avg_response_ms"`
	DifficultyScore float64 `json:"difficulty_score"`
}

type GameStatistics struct {
	GameID          uint                 `json:"game_id"`
	Code            string               `json:"code"`
	PlayerCount     int64                `json:"player_count"`
	AverageScore    float64              `json:"average_score"`
	OverallAccuracy float64              `json:"overall_accuracy"`
	Questions       []QuestionStatistics `json:"questions"`
}

// CreateGame opens a lobby for a question set the caller owns and registers
// its engine with the coordinator.
func (s *GameService) CreateGame(userID uint, role string, req *CreateGameRequest) (*models.Game, error) {
	if role != models.RoleTeacher && role != models.RoleAdmin {
		return nil, ErrNotAllowed
	}

	var set models.QuestionSet
	query := s.db.Where("id = ?", req.QuestionSetID)
	if role != models.RoleAdmin {
		query = query.Where("creator_id = ?", userID)
	}
	if err := query.First(&set).Error; err != nil {
		return nil, errors.New("question set not found")
	}

	questions, err := s.questions.LoadQuestions(set.ID)
	if err != nil {
		return nil, err
	}
	if len(questions) == 0 {
		return nil, ErrQuestionSetEmpty
	}

	code, err := s.allocateCode()
	if err != nil {
		return nil, err
	}

	g := models.Game{
		Code:            code,
		QuestionSetID:   set.ID,
		HostID:          userID,
		Status:          models.GameStatusLobby,
		CurrentQuestion: -1,
	}
	if err := s.db.Create(&g).Error; err != nil {
		return nil, err
	}

	if _, err := s.games.CreateGame(&g, questions); err != nil {
		s.db.Delete(&models.Game{}, g.ID)
		return nil, err
	}

	s.log.Info().Str("game_code", code).Uint("host_id", userID).Uint("question_set_id", set.ID).Msg("game created")
	return &g, nil
}

func (s *GameService) allocateCode() (string, error) {
	for i := 0; i < gameCodeAttempts; i++ {
		code := game.GenerateGameCode(gameCodeLength)
		var count int64
		if err := s.db.Model(&models.Game{}).Where("code = ?", code).Count(&count).Error; err != nil {
			return "", err
		}
		if count == 0 {
			return code, nil
		}
	}
	return "", ErrCodeExhausted
}

// GetGameInfo returns the persisted game joined with its live snapshot when
// one is cached.
func (s *GameService) GetGameInfo(code string) (*GameInfo, error) {
	g, err := s.getGameByCode(code)
	if err != nil {
		return nil, err
	}

	var set models.QuestionSet
	if err := s.db.Select("title").First(&set, g.QuestionSetID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	var playerCount int64
	if err := s.db.Model(&models.Player{}).Where("game_id = ? AND is_active = ?", g.ID, true).Count(&playerCount).Error; err != nil {
		return nil, err
	}
	var questionCount int64
	if err := s.db.Model(&models.Question{}).Where("question_set_id = ?", g.QuestionSetID).Count(&questionCount).Error; err != nil {
		return nil, err
	}

	info := &GameInfo{
		ID:            g.ID,
		Code:          g.Code,
		Status:        g.Status,
		QuestionSetID: g.QuestionSetID,
		Title:         set.Title,
		HostID:        g.HostID,
		PlayerCount:   playerCount,
		QuestionCount: questionCount,
		CreatedAt:     g.CreatedAt.UnixMilli(),
	}

	if s.snapshots != nil {
		snap, err := s.snapshots.GetSnapshot(context.Background(), g.Code)
		if err != nil {
			s.log.Debug().Err(err).Str("game_code", g.Code).Msg("snapshot lookup failed")
		} else {
			info.Live = snap
		}
	}
	return info, nil
}

// Leaderboard returns the persisted standings for a game, ordered by score
// with join order as tie break.
func (s *GameService) Leaderboard(code string) ([]LeaderboardRow, error) {
	g, err := s.getGameByCode(code)
	if err != nil {
		return nil, err
	}

	var players []models.Player
	if err := s.db.Where("game_id = ? AND is_active = ?", g.ID, true).
		Order("score DESC, joined_at ASC").
		Limit(leaderboardLimit).
		Find(&players).Error; err != nil {
		return nil, err
	}

	rows := make([]LeaderboardRow, len(players))
	for i, p := range players {
		rows[i] = LeaderboardRow{
			Rank:     i + 1,
			PlayerID: p.ID,
			Nickname: p.Nickname,
			Score:    p.Score,
			IsGuest:  p.IsGuest(),
		}
	}
	return rows, nil
}

// Statistics aggregates per-question results for a finished or running game.
// Only the host or an admin may read them.
func (s *GameService) Statistics(code string, userID uint, role string) (*GameStatistics, error) {
	g, err := s.getGameByCode(code)
	if err != nil {
		return nil, err
	}
	if g.HostID != userID && role != models.RoleAdmin {
		return nil, ErrNotAllowed
	}

	var questions []models.Question
	if err := s.db.Where("question_set_id = ?", g.QuestionSetID).
		Order("position").
		Find(&questions).Error; err != nil {
		return nil, err
	}

	type answerAgg struct {
		QuestionID uint
		Total      int64
		Correct    int64
		AvgMs      *float64
	}
	var aggs []answerAgg
	if err := s.db.Model(&models.PlayerAnswer{}).
		Select("question_id, count(*) as total, count(*) filter (where is_correct) as correct, avg(response_time_ms) filter (where answer <> '') as avg_ms").
		Where("game_id = ?", g.ID).
		Group("question_id").
		Scan(&aggs).Error; err != nil {
		return nil, err
	}
	byQuestion := make(map[uint]answerAgg, len(aggs))
	for _, a := range aggs {
		byQuestion[a.QuestionID] = a
	}

	stats := &GameStatistics{GameID: g.ID, Code: g.Code}
	var totalAnswers, totalCorrect int64
	for _, q := range questions {
		agg := byQuestion[q.ID]
		qs := QuestionStatistics{
			QuestionID:     q.ID,
			Position:       q.Position,
			Text:           q.Text,
			TotalAnswers:   agg.Total,
			CorrectAnswers: agg.Correct,
		}
		avgMs := 0.0
		if agg.AvgMs != nil {
			avgMs = *agg.AvgMs
		}
		qs.AvgResponseMs = int(math.Round(avgMs))
		if agg.Total > 0 {
			accuracy := float64(agg.Correct) / float64(agg.Total)
			qs.Accuracy = round1(accuracy * 100)
			qs.DifficultyScore = difficultyScore(accuracy, avgMs, q.TimeLimit)
		}
		stats.Questions = append(stats.Questions, qs)
		totalAnswers += agg.Total
		totalCorrect += agg.Correct
	}

	if err := s.db.Model(&models.Player{}).Where("game_id = ?", g.ID).Count(&stats.PlayerCount).Error; err != nil {
		return nil, err
	}
	if stats.PlayerCount > 0 {
		var avgScore float64
		if err := s.db.Model(&models.Player{}).
			Select("coalesce(avg(score), 0)").
			Where("game_id = ?", g.ID).
			Scan(&avgScore).Error; err != nil {
			return nil, err
		}
		stats.AverageScore = round1(avgScore)
	}
	if totalAnswers > 0 {
		stats.OverallAccuracy = round1(float64(totalCorrect) / float64(totalAnswers) * 100)
	}
	return stats, nil
}

// difficultyScore rates a question from 0 (trivial) to 10 (brutal), weighting
// how many got it wrong over how long the rest took.
func difficultyScore(accuracy, avgResponseMs float64, timeLimitSec int) float64 {
	accuracyFactor := 1.0 - accuracy
	timeFactor := 0.0
	if timeLimitSec > 0 {
		timeFactor = avgResponseMs / float64(timeLimitSec*1000)
		if timeFactor > 1 {
			timeFactor = 1
		}
	}
	return round1((accuracyFactor*0.7 + timeFactor*0.3) * 10)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func (s *GameService) getGameByCode(code string) (*models.Game, error) {
	var g models.Game
	if err := s.db.Where("code = ?", game.NormalizeCode(code)).First(&g).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, game.ErrGameNotFound
		}
		return nil, err
	}
	return &g, nil
}
