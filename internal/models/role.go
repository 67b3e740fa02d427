package models

import (
	"time"
)

// Role names known to the system. Every authenticated user is implicitly a RoleUser.
const (
	RoleAdmin   = "admin"
	RoleCreator = "creator"
	RoleUser    = "user"
)

// Role represents a named capability bundle (admin, creator, user)
type Role struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	Name        string    `gorm:"uniqueIndex;size:32;not null" json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultRoles returns the roles seeded on every migration
func DefaultRoles() []Role {
	return []Role{
		{Name: RoleAdmin, Description: "Full system access including user and role management"},
		{Name: RoleCreator, Description: "Can create polls and manage their own polls"},
		{Name: RoleUser, Description: "Can vote and manage their own account"},
	}
}

// IsKnownRole reports whether name is one of the default roles
func IsKnownRole(name string) bool {
	switch name {
	case RoleAdmin, RoleCreator, RoleUser:
		return true
	}
	return false
}
