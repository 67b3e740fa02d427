package db

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/models"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "test.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := Migrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func TestSQLiteDSN(t *testing.T) {
	got := SQLiteDSN("./kuranet.db")
	if !strings.HasPrefix(got, "./kuranet.db?") || !strings.Contains(got, "foreign_keys(1)") {
		t.Errorf("SQLiteDSN() = %q", got)
	}

	withQuery := SQLiteDSN("file:test.db?cache=shared")
	if !strings.Contains(withQuery, "cache=shared&_pragma=foreign_keys(1)") {
		t.Errorf("SQLiteDSN() = %q", withQuery)
	}

	if again := SQLiteDSN(got); again != got {
		t.Errorf("SQLiteDSN should be idempotent, got %q", again)
	}
}

func TestNew_UnsupportedDriver(t *testing.T) {
	if _, err := New(config.DatabaseConfig{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestMigrate_SeedsRolesOnce(t *testing.T) {
	db := setupTestDB(t)

	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}

	var count int64
	db.Model(&models.Role{}).Count(&count)
	if count != 3 {
		t.Errorf("expected 3 roles, got %d", count)
	}
}

func TestEnsureAdmin(t *testing.T) {
	db := setupTestDB(t)

	user, created, err := EnsureAdmin(db, "root", "", "supersecret")
	if err != nil {
		t.Fatalf("EnsureAdmin: %v", err)
	}
	if !created {
		t.Error("expected admin to be created")
	}
	if !user.HasRole(models.RoleAdmin) || !user.IsStaff {
		t.Errorf("expected staff admin, got roles %v staff=%v", user.RoleNames(), user.IsStaff)
	}
	if user.Email != "root@kuranet.local" {
		t.Errorf("email = %q", user.Email)
	}

	again, created, err := EnsureAdmin(db, "root", "", "")
	if err != nil {
		t.Fatalf("EnsureAdmin again: %v", err)
	}
	if created || again.ID != user.ID {
		t.Error("second call should reuse the existing user")
	}
	if len(again.Roles) != 2 {
		t.Errorf("roles should not be duplicated, got %v", again.RoleNames())
	}
}

func TestEnsureAdmin_ShortPassword(t *testing.T) {
	db := setupTestDB(t)
	if _, _, err := EnsureAdmin(db, "root", "", "short"); err == nil {
		t.Fatal("expected error for short password")
	}
}

func TestCreateDefaultAdmin_FromEnv(t *testing.T) {
	db := setupTestDB(t)
	t.Setenv("ADMIN_USERNAME", "boot")
	t.Setenv("ADMIN_PASSWORD", "bootstrap-pass")

	if err := CreateDefaultAdmin(db); err != nil {
		t.Fatalf("CreateDefaultAdmin: %v", err)
	}

	var user models.User
	if err := db.Preload("Roles").Where("username = ?", "boot").First(&user).Error; err != nil {
		t.Fatalf("admin not created: %v", err)
	}
	if !user.HasRole(models.RoleAdmin) {
		t.Error("expected admin role")
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := setupTestDB(t)

	u := models.User{Username: "dup", Email: "dup@example.com", PasswordHash: "x"}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	err := db.Create(&models.User{Username: "dup", Email: "other@example.com", PasswordHash: "x"}).Error
	if !IsUniqueViolation(err) {
		t.Errorf("expected unique violation, got %v", err)
	}
	if IsUniqueViolation(nil) {
		t.Error("nil is not a violation")
	}
}

func TestVoteHook_DerivesPollAndCascades(t *testing.T) {
	db := setupTestDB(t)

	owner := models.User{Username: "owner", Email: "owner@example.com", PasswordHash: "x"}
	voter := models.User{Username: "voter", Email: "voter@example.com", PasswordHash: "x"}
	db.Create(&owner)
	db.Create(&voter)

	poll := models.Poll{
		Title:    "Lunch?",
		OwnerID:  owner.ID,
		Status:   models.PollStatusActive,
		ClosesAt: time.Now().Add(time.Hour),
		Options:  []models.Option{{Text: "Pizza"}, {Text: "Sushi"}},
	}
	if err := db.Create(&poll).Error; err != nil {
		t.Fatalf("create poll: %v", err)
	}

	vote := models.Vote{UserID: voter.ID, OptionID: poll.Options[1].ID}
	if err := db.Create(&vote).Error; err != nil {
		t.Fatalf("create vote: %v", err)
	}
	if vote.PollID != poll.ID {
		t.Errorf("vote poll = %s, want %s", vote.PollID, poll.ID)
	}

	second := models.Vote{UserID: voter.ID, OptionID: poll.Options[0].ID}
	if err := db.Create(&second).Error; !IsUniqueViolation(err) {
		t.Errorf("expected unique violation for second vote, got %v", err)
	}

	// Deleting the owner removes the poll, its options and votes
	if err := db.Delete(&owner).Error; err != nil {
		t.Fatalf("delete owner: %v", err)
	}
	var polls, options, votes int64
	db.Model(&models.Poll{}).Count(&polls)
	db.Model(&models.Option{}).Count(&options)
	db.Model(&models.Vote{}).Count(&votes)
	if polls != 0 || options != 0 || votes != 0 {
		t.Errorf("expected cascade, got polls=%d options=%d votes=%d", polls, options, votes)
	}
}
