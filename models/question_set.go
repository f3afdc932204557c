package models

import (
	"time"

	"gorm.io/gorm"
)

type QuestionSet struct {
	ID          uint           `json:"id" gorm:"primaryKey"`
	CreatorID   uint           `json:"creator_id" gorm:"not null"`
	Title       string         `json:"title" gorm:"not null"`
	Description string         `json:"description"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Creator   User       `json:"creator,omitempty" gorm:"foreignKey:CreatorID"`
	Questions []Question `json:"questions,omitempty" gorm:"foreignKey:QuestionSetID"`
	Games     []Game     `json:"games,omitempty" gorm:"foreignKey:QuestionSetID"`
}
