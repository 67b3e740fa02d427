package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Vote records one user's choice in one poll.
// The (user_id, poll_id) unique index enforces a single vote per user per poll.
type Vote struct {
	ID       uuid.UUID `gorm:"type:text;primary_key" json:"id"`
	UserID   uuid.UUID `gorm:"type:text;not null;uniqueIndex:idx_votes_user_poll,priority:1" json:"user_id"`
	User     *User     `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
	PollID   uuid.UUID `gorm:"type:text;not null;index;uniqueIndex:idx_votes_user_poll,priority:2" json:"poll_id"`
	Poll     *Poll     `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"-"`
	OptionID uuid.UUID `gorm:"type:text;not null;index" json:"option_id"`
	Option   *Option   `gorm:"foreignKey:OptionID;constraint:OnDelete:CASCADE" json:"-"`
	VotedAt  time.Time `gorm:"autoCreateTime;index" json:"voted_at"`
}

// BeforeCreate generates the UUID and, when PollID is unset, derives it
// from the chosen option so the vote always belongs to its option's poll.
func (v *Vote) BeforeCreate(tx *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if v.PollID != uuid.Nil {
		return nil
	}

	var opt Option
	err := tx.Session(&gorm.Session{NewDB: true}).
		Select("id", "poll_id").
		Where("id = ?", v.OptionID).
		First(&opt).Error
	if err != nil {
		return fmt.Errorf("resolve poll for option %s: %w", v.OptionID, err)
	}
	v.PollID = opt.PollID
	return nil
}
