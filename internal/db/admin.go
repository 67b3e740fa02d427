package db

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/models"
	"gorm.io/gorm"
)

// CreateDefaultAdmin creates an admin from ADMIN_USERNAME and ADMIN_PASSWORD
// when both are set and the database has no users yet.
func CreateDefaultAdmin(db *gorm.DB) error {
	username := os.Getenv("ADMIN_USERNAME")
	password := os.Getenv("ADMIN_PASSWORD")
	email := os.Getenv("ADMIN_EMAIL")

	if username == "" || password == "" {
		slog.Info("No ADMIN_USERNAME or ADMIN_PASSWORD set, skipping default admin creation")
		return nil
	}

	var count int64
	if err := db.Model(&models.User{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count users: %w", err)
	}
	if count > 0 {
		slog.Info("Users already exist, skipping default admin creation")
		return nil
	}

	_, _, err := EnsureAdmin(db, username, email, password)
	return err
}

// EnsureAdmin creates an active staff user holding the admin role, or grants
// the admin role to the existing user with that username. The password is
// only applied to newly created users.
func EnsureAdmin(db *gorm.DB, username, email, password string) (*models.User, bool, error) {
	if email == "" {
		email = fmt.Sprintf("%s@kuranet.local", username)
	}

	roles, err := FindRoles(db, models.RoleAdmin, models.RoleUser)
	if err != nil {
		return nil, false, fmt.Errorf("failed to load roles: %w", err)
	}

	var user models.User
	created := false
	err = db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("username = ?", username).First(&user).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if len(password) < 8 {
				return fmt.Errorf("password must be at least 8 characters")
			}
			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			user = models.User{
				Username:     username,
				Email:        email,
				PasswordHash: hash,
				IsStaff:      true,
				IsActive:     true,
			}
			if err := tx.Omit("Roles").Create(&user).Error; err != nil {
				return fmt.Errorf("failed to create admin user: %w", err)
			}
			created = true
		case err != nil:
			return err
		default:
			if err := tx.Model(&user).Updates(map[string]any{"is_staff": true, "is_active": true}).Error; err != nil {
				return fmt.Errorf("failed to promote user: %w", err)
			}
		}
		return tx.Model(&user).Association("Roles").Append(roles)
	})
	if err != nil {
		return nil, false, err
	}

	if err := db.Preload("Roles").First(&user, "id = ?", user.ID).Error; err != nil {
		return nil, false, err
	}

	slog.Info("Admin user ensured", "username", user.Username, "created", created)
	return &user, created, nil
}
