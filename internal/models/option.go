package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Option is one selectable answer of a poll
type Option struct {
	ID        uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	PollID    uuid.UUID `gorm:"type:text;not null;index" json:"poll_id"`
	Text      string    `gorm:"size:255;not null" json:"text"`
	Position  int       `gorm:"not null;default:0" json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// BeforeCreate hook to generate UUID
func (o *Option) BeforeCreate(tx *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
