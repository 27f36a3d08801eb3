package room

import (
	"time"
)

const (
	StatusActive = "active"
	StatusClosed = "closed"
)

// Room is a short-lived LiveKit room record. The media server owns the
// realtime state; this row tracks ownership and lifecycle so tokens are
// only minted for rooms we opened.
type Room struct {
	ID        string     `gorm:"primaryKey" json:"id"`
	Name      string     `gorm:"uniqueIndex" json:"name"`
	OwnerID   string     `gorm:"index" json:"ownerId"`
	Status    string     `json:"status"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"-"`
}

func (Room) TableName() string {
	return "rooms"
}

func (r *Room) IsActive() bool {
	return r.Status == StatusActive
}
