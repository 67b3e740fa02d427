package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Audit actions constants
const (
	ActionRegister       = "register"
	ActionLogin          = "login"
	ActionLoginFailed    = "login_failed"
	ActionUpdateUser     = "update_user"
	ActionDeleteUser     = "delete_user"
	ActionDeactivateUser = "deactivate_user"
	ActionAssignRole     = "assign_role"
	ActionRevokeRole     = "revoke_role"
	ActionCreatePoll     = "create_poll"
	ActionUpdatePoll     = "update_poll"
	ActionDeletePoll     = "delete_poll"
	ActionAddOption      = "add_option"
	ActionUpdateOption   = "update_option"
	ActionDeleteOption   = "delete_option"
	ActionCastVote       = "cast_vote"
	ActionSeed           = "seed"
)

// Resource formats a resource reference such as "poll:<id>"
func Resource(kind string, id any) string {
	return fmt.Sprintf("%s:%v", kind, id)
}

// LogAction records an audit log entry. A nil userID is stored as NULL.
func LogAction(ctx context.Context, db *gorm.DB, userID uuid.UUID, action, resource string, details any) error {
	detailsJSON, err := json.Marshal(details)
	if err != nil || details == nil {
		detailsJSON = []byte("{}")
	}

	entry := models.AuditLog{
		Action:    action,
		Resource:  resource,
		Details:   datatypes.JSON(detailsJSON),
		Timestamp: time.Now().UTC(),
	}
	if userID != uuid.Nil {
		entry.UserID = &userID
	}

	return db.WithContext(ctx).Create(&entry).Error
}

// Record is LogAction for callers that must not fail on audit errors
func Record(ctx context.Context, db *gorm.DB, userID uuid.UUID, action, resource string, details any) {
	if err := LogAction(ctx, db, userID, action, resource, details); err != nil {
		slog.Warn("Failed to write audit log", "action", action, "resource", resource, "error", err)
	}
}

// Filter narrows an audit log listing
type Filter struct {
	UserID uuid.UUID
	Action string
	Since  time.Time
}

// List returns audit entries newest first along with the total count
func List(ctx context.Context, db *gorm.DB, f Filter, offset, limit int) ([]models.AuditLog, int64, error) {
	q := db.WithContext(ctx).Model(&models.AuditLog{})
	if f.UserID != uuid.Nil {
		q = q.Where("user_id = ?", f.UserID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if !f.Since.IsZero() {
		q = q.Where("timestamp >= ?", f.Since.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []models.AuditLog
	if err := q.Order("timestamp DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
