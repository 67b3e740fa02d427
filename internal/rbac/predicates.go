package rbac

import (
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/models"
)

// IsAdmin reports whether u holds the admin role
func IsAdmin(u *models.User) bool {
	return u != nil && u.HasRole(models.RoleAdmin)
}

// IsCreator reports whether u holds the creator role
func IsCreator(u *models.User) bool {
	return u != nil && u.HasRole(models.RoleCreator)
}

// IsOwnerOrAdmin reports whether u owns the resource or is an admin
func IsOwnerOrAdmin(u *models.User, ownerID uuid.UUID) bool {
	if u == nil {
		return false
	}
	return u.ID == ownerID || IsAdmin(u)
}

// IsPollOwnerOrAdmin reports whether u owns p or is an admin
func IsPollOwnerOrAdmin(u *models.User, p *models.Poll) bool {
	return p != nil && IsOwnerOrAdmin(u, p.OwnerID)
}
