package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/cache"
	"github.com/kuranet/kuranet/internal/config"
	"github.com/kuranet/kuranet/internal/db"
	"github.com/kuranet/kuranet/internal/events"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/rbac"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// testEnv bundles the services under test over one SQLite database
type testEnv struct {
	db      *gorm.DB
	broker  *events.Broker
	results *ResultsService
	polls   *PollService
	options *OptionService
	votes   *VoteService
	users   *UserService
}

func testSetup(t *testing.T) *testEnv {
	t.Helper()
	return testSetupWith(t, false)
}

func testSetupWith(t *testing.T, creatorOnlyPolls bool) *testEnv {
	t.Helper()

	database, err := db.New(config.DatabaseConfig{
		Driver:   "sqlite",
		DSN:      filepath.Join(t.TempDir(), "service.db"),
		LogLevel: "silent",
	})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(database); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	enforcer, err := rbac.New(database, slog.New(slog.NewTextHandler(io.Discard, nil)), creatorOnlyPolls)
	if err != nil {
		t.Fatalf("failed to create enforcer: %v", err)
	}

	broker := events.NewBroker()
	results := NewResultsService(database, cache.NewMemoryCache(), broker, time.Minute)
	authenticator := auth.NewBasicAuthenticator(database, config.AuthConfig{JWTSecret: "test-secret"})
	paging := Paging{DefaultSize: 20, MaxSize: 100}

	return &testEnv{
		db:      database,
		broker:  broker,
		results: results,
		polls:   NewPollService(database, enforcer, results, paging),
		options: NewOptionService(database, enforcer, results),
		votes:   NewVoteService(database, enforcer, results, paging),
		users:   NewUserService(database, enforcer, authenticator, results, paging),
	}
}

// createTestUser inserts an active user holding the user role plus any extra roles
func createTestUser(t *testing.T, database *gorm.DB, username string, roles ...string) *models.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	found, err := db.FindRoles(database, append([]string{models.RoleUser}, roles...)...)
	if err != nil {
		t.Fatalf("failed to find roles: %v", err)
	}

	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
		Roles:        found,
	}
	if err := database.Create(user).Error; err != nil {
		t.Fatalf("failed to create user %s: %v", username, err)
	}
	return user
}

func createTestPoll(t *testing.T, env *testEnv, owner *models.User, status models.PollStatus, options ...string) *models.Poll {
	t.Helper()
	if len(options) == 0 {
		options = []string{"Yes", "No"}
	}
	poll, err := env.polls.Create(context.Background(), owner, CreatePollRequest{
		Title:    "Lunch?",
		ClosesAt: time.Now().Add(time.Hour),
		Status:   status,
		Options:  options,
	})
	if err != nil {
		t.Fatalf("failed to create poll: %v", err)
	}
	return poll
}

// expirePoll moves closes_at into the past, bypassing validation
func expirePoll(t *testing.T, env *testEnv, poll *models.Poll) {
	t.Helper()
	err := env.db.Model(&models.Poll{}).Where("id = ?", poll.ID).
		Update("closes_at", time.Now().UTC().Add(-time.Minute)).Error
	if err != nil {
		t.Fatalf("failed to expire poll: %v", err)
	}
}

func isValidationError(err error, target **ValidationError) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	if target != nil {
		*target = ve
	}
	return true
}

func isConflictError(err error, target **ConflictError) bool {
	var ce *ConflictError
	if !errors.As(err, &ce) {
		return false
	}
	if target != nil {
		*target = ce
	}
	return true
}

func TestPaging_Normalize(t *testing.T) {
	p := Paging{DefaultSize: 20, MaxSize: 100}

	tests := []struct {
		name               string
		req                PageRequest
		page, size, offset int
	}{
		{"defaults", PageRequest{}, 1, 20, 0},
		{"second page", PageRequest{Page: 2, PageSize: 10}, 2, 10, 10},
		{"clamped size", PageRequest{Page: 1, PageSize: 500}, 1, 100, 0},
		{"negative page", PageRequest{Page: -3, PageSize: 5}, 1, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, size, offset := p.normalize(tt.req)
			if page != tt.page || size != tt.size || offset != tt.offset {
				t.Errorf("normalize(%+v) = (%d, %d, %d), want (%d, %d, %d)",
					tt.req, page, size, offset, tt.page, tt.size, tt.offset)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := &ValidationError{Message: "invalid poll", Fields: map[string]string{
		"title":   "this field may not be blank",
		"options": "a poll needs at least 2 options",
	}}
	want := "invalid poll (options: a poll needs at least 2 options; title: this field may not be blank)"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}
