package models

import (
	"time"

	"gorm.io/gorm"
)

type Question struct {
	ID            uint           `json:"id" gorm:"primaryKey"`
	QuestionSetID uint           `json:"question_set_id" gorm:"not null;index"`
	Text          string         `json:"text" gorm:"not null"`
	OptionA       string         `json:"option_a" gorm:"not null"`
	OptionB       string         `json:"option_b" gorm:"not null"`
	OptionC       string         `json:"option_c" gorm:"not null"`
	OptionD       string         `json:"option_d" gorm:"not null"`
	CorrectOption string         `json:"correct_option" gorm:"not null"` // A, B, C or D
	Points        int            `json:"points" gorm:"not null;default:100"`
	TimeLimit     int            `json:"time_limit" gorm:"not null;default:30"` // seconds
	Position      int            `json:"position" gorm:"not null"`              // 0-based order within the set
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	QuestionSet QuestionSet `json:"question_set,omitempty"`
}

// Option returns the text of the given option letter, or "" for an unknown letter.
func (q *Question) Option(letter string) string {
	switch letter {
	case "A":
		return q.OptionA
	case "B":
		return q.OptionB
	case "C":
		return q.OptionC
	case "D":
		return q.OptionD
	}
	return ""
}
