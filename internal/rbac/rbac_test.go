package rbac

import (
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupEnforcer(t *testing.T, creatorOnly bool) (*Enforcer, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "rbac.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	e, err := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)), creatorOnly)
	if err != nil {
		t.Fatalf("new enforcer: %v", err)
	}
	return e, db
}

func user(roles ...string) *models.User {
	u := &models.User{ID: uuid.New(), IsActive: true}
	for _, r := range roles {
		u.Roles = append(u.Roles, models.Role{Name: r})
	}
	return u
}

func TestPredicates(t *testing.T) {
	owner := user()
	other := user()
	admin := user(models.RoleAdmin)
	creator := user(models.RoleCreator)
	poll := &models.Poll{OwnerID: owner.ID}

	if !IsOwnerOrAdmin(owner, owner.ID) || IsOwnerOrAdmin(other, owner.ID) || !IsOwnerOrAdmin(admin, owner.ID) {
		t.Error("IsOwnerOrAdmin mismatch")
	}
	if IsOwnerOrAdmin(nil, owner.ID) {
		t.Error("nil user is never owner")
	}
	if !IsPollOwnerOrAdmin(owner, poll) || IsPollOwnerOrAdmin(other, poll) || !IsPollOwnerOrAdmin(admin, poll) {
		t.Error("IsPollOwnerOrAdmin mismatch")
	}
	if !IsCreator(creator) || IsCreator(other) || IsCreator(admin) {
		t.Error("IsCreator mismatch")
	}
	if !IsAdmin(admin) || IsAdmin(creator) {
		t.Error("IsAdmin mismatch")
	}
}

func TestAuthorize_Matrix(t *testing.T) {
	e, _ := setupEnforcer(t, false)

	owner := user()
	other := user()
	creator := user(models.RoleCreator)
	admin := user(models.RoleAdmin)

	tests := []struct {
		name    string
		actor   *models.User
		action  Action
		ownerID uuid.UUID
		want    bool
	}{
		{"owner updates own poll", owner, ActionPollUpdate, owner.ID, true},
		{"other updates poll", other, ActionPollUpdate, owner.ID, false},
		{"admin updates any poll", admin, ActionPollUpdate, owner.ID, true},
		{"creator updates other poll", creator, ActionPollUpdate, owner.ID, false},
		{"owner deletes own poll", owner, ActionPollDelete, owner.ID, true},
		{"other deletes poll", other, ActionPollDelete, owner.ID, false},
		{"user creates poll", other, ActionPollCreate, uuid.Nil, true},
		{"user votes", other, ActionVoteCast, uuid.Nil, true},
		{"user edits self", owner, ActionUserUpdate, owner.ID, true},
		{"user edits other", other, ActionUserUpdate, owner.ID, false},
		{"user administers users", owner, ActionUserAdminister, owner.ID, false},
		{"admin administers users", admin, ActionUserAdminister, owner.ID, true},
		{"creator assigns roles", creator, ActionRoleAssign, uuid.Nil, false},
		{"admin reads audit", admin, ActionAuditRead, uuid.Nil, true},
		{"nil actor", nil, ActionVoteCast, uuid.Nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Authorize(tt.actor, tt.action, tt.ownerID)
			if err != nil {
				t.Fatalf("Authorize: %v", err)
			}
			if got != tt.want {
				t.Errorf("Authorize() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthorize_InactiveUser(t *testing.T) {
	e, _ := setupEnforcer(t, false)
	u := user(models.RoleAdmin)
	u.IsActive = false

	ok, err := e.Authorize(u, ActionPollCreate, uuid.Nil)
	if err != nil || ok {
		t.Errorf("inactive user should be denied, got %v %v", ok, err)
	}
}

func TestAuthorize_CreatorOnlyPolls(t *testing.T) {
	e, db := setupEnforcer(t, true)

	if ok, _ := e.Authorize(user(), ActionPollCreate, uuid.Nil); ok {
		t.Error("plain user must not create polls when creation is restricted")
	}
	if ok, _ := e.Authorize(user(models.RoleCreator), ActionPollCreate, uuid.Nil); !ok {
		t.Error("creator must create polls")
	}
	if ok, _ := e.Authorize(user(models.RoleAdmin), ActionPollCreate, uuid.Nil); !ok {
		t.Error("admin inherits creator")
	}

	// Reopening restores the permission and the stored rows are reused
	reopened, err := New(db, slog.New(slog.NewTextHandler(io.Discard, nil)), false)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ok, _ := reopened.Authorize(user(), ActionPollCreate, uuid.Nil); !ok {
		t.Error("plain user should create polls once restriction is lifted")
	}

	policies, err := reopened.Policies()
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}
	if len(policies) != len(basePolicies)+1 {
		t.Errorf("expected %d policies, got %d", len(basePolicies)+1, len(policies))
	}
}
