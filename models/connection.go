package models

import "time"

const (
	ConnectionTypeHost   = "host"
	ConnectionTypePlayer = "player"
	ConnectionTypeViewer = "viewer"
)

// ActiveConnection mirrors a live websocket session for monitoring and
// session recovery lookups. Rows are written best-effort and hard deleted
// when the socket goes away.
type ActiveConnection struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	SessionID      string    `json:"session_id" gorm:"uniqueIndex;not null;size:36"`
	UserID         *uint     `json:"user_id"`
	GameCode       string    `json:"game_code" gorm:"index;size:8"`
	PlayerID       *string   `json:"player_id" gorm:"size:36"`
	ConnectionType string    `json:"connection_type" gorm:"not null;default:'viewer'"` // host, player, viewer
	ConnectedAt    time.Time `json:"connected_at"`
	LastSeen       time.Time `json:"last_seen"`
}
