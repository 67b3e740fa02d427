package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PollStatus represents the lifecycle state of a poll
type PollStatus string

const (
	PollStatusDraft  PollStatus = "draft"
	PollStatusActive PollStatus = "active"
	PollStatusClosed PollStatus = "closed"
)

// Valid reports whether s is a known status
func (s PollStatus) Valid() bool {
	switch s {
	case PollStatusDraft, PollStatusActive, PollStatusClosed:
		return true
	}
	return false
}

// CanTransition reports whether a stored status may move from s to next.
// Closed is terminal.
func (s PollStatus) CanTransition(next PollStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case PollStatusDraft:
		return next == PollStatusActive || next == PollStatusClosed
	case PollStatusActive:
		return next == PollStatusClosed
	}
	return false
}

// Poll represents a question with a set of options and a closing time
type Poll struct {
	ID          uuid.UUID  `gorm:"type:text;primary_key" json:"id"`
	Title       string     `gorm:"size:255;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	OwnerID     uuid.UUID  `gorm:"type:text;not null;index" json:"owner_id"`
	Owner       *User      `gorm:"foreignKey:OwnerID;constraint:OnDelete:CASCADE" json:"owner,omitempty"`
	Status      PollStatus `gorm:"size:16;not null;default:'draft';index" json:"status"`
	ClosesAt    time.Time  `gorm:"not null;index" json:"closes_at"`
	Options     []Option   `gorm:"foreignKey:PollID;constraint:OnDelete:CASCADE" json:"options"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// BeforeCreate hook to generate UUID
func (p *Poll) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.Status == "" {
		p.Status = PollStatusDraft
	}
	return nil
}

// EffectiveStatus returns the status as observed at now: a poll whose
// closing time has passed is closed regardless of the stored status.
func (p *Poll) EffectiveStatus(now time.Time) PollStatus {
	if p.Status == PollStatusClosed || !p.ClosesAt.After(now) {
		return PollStatusClosed
	}
	return p.Status
}

// IsOpen reports whether votes are accepted at now
func (p *Poll) IsOpen(now time.Time) bool {
	return p.EffectiveStatus(now) == PollStatusActive
}
