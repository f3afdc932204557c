package models

import (
	"time"

	"gorm.io/gorm"
)

const (
	GameStatusLobby     = "lobby"
	GameStatusActive    = "active"
	GameStatusCompleted = "completed"
)

type Game struct {
	ID                uint           `json:"id" gorm:"primaryKey"`
	Code              string         `json:"code" gorm:"uniqueIndex;not null"`
	QuestionSetID     uint           `json:"question_set_id" gorm:"not null"`
	HostID            uint           `json:"host_id" gorm:"not null"`
	Status            string         `json:"status" gorm:"not null;default:'lobby'"` // lobby, active, completed
	CurrentQuestion   int            `json:"current_question" gorm:"not null;default:-1"` // 0-based, -1 before start
	QuestionStartedAt *time.Time     `json:"question_started_at"`
	QuestionEndsAt    *time.Time     `json:"question_ends_at"`
	ShowResultsUntil  *time.Time     `json:"show_results_until"`
	StartedAt         *time.Time     `json:"started_at"`
	EndedAt           *time.Time     `json:"ended_at"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	DeletedAt         gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	QuestionSet QuestionSet    `json:"question_set,omitempty"`
	Host        User           `json:"host,omitempty" gorm:"foreignKey:HostID"`
	Players     []Player       `json:"players,omitempty" gorm:"foreignKey:GameID"`
	Answers     []PlayerAnswer `json:"answers,omitempty" gorm:"foreignKey:GameID"`
}
