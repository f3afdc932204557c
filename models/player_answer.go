package models

import (
	"time"

	"gorm.io/gorm"
)

type PlayerAnswer struct {
	ID             uint           `json:"id" gorm:"primaryKey"`
	GameID         uint           `json:"game_id" gorm:"not null;index"`
	PlayerID       string         `json:"player_id" gorm:"not null;size:36;uniqueIndex:idx_player_question"`
	QuestionID     uint           `json:"question_id" gorm:"not null;uniqueIndex:idx_player_question"`
	Answer         string         `json:"answer"` // A, B, C, D or "" when the player never answered
	IsCorrect      bool           `json:"is_correct" gorm:"not null"`
	ResponseTimeMs int            `json:"response_time_ms" gorm:"not null"`
	PointsEarned   int            `json:"points_earned" gorm:"not null"`
	AnsweredAt     time.Time      `json:"answered_at"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	DeletedAt      gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Game     Game     `json:"game,omitempty"`
	Player   Player   `json:"player,omitempty"`
	Question Question `json:"question,omitempty"`
}
