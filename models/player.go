package models

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// GuestPrefix marks nicknames chosen by players without an account.
const GuestPrefix = "**"

type Player struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	GameID    uint           `json:"game_id" gorm:"not null;index"`
	UserID    *uint          `json:"user_id" gorm:"index"`
	Nickname  string         `json:"nickname" gorm:"not null"`
	Score     int            `json:"score" gorm:"not null;default:0"`
	SessionID string         `json:"-" gorm:"index;size:36"`
	IsActive  bool           `json:"is_active" gorm:"not null;default:true"`
	JoinedAt  time.Time      `json:"joined_at"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relationships
	Game    Game           `json:"game,omitempty"`
	User    *User          `json:"user,omitempty"`
	Answers []PlayerAnswer `json:"answers,omitempty" gorm:"foreignKey:PlayerID"`
}

func (p *Player) IsGuest() bool {
	return strings.HasPrefix(p.Nickname, GuestPrefix)
}
