// Package seed fills a database with demo users, polls and votes described
// by YAML fixtures.
package seed

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"runtime"
	"time"

	"github.com/kuranet/kuranet/internal/audit"
	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/db"
	"github.com/kuranet/kuranet/internal/models"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

// ErrNotEmpty is returned when the database already has users and no reset was requested
var ErrNotEmpty = errors.New("database already contains users")

const voteBatchSize = 200

// UserFixture describes one account
type UserFixture struct {
	Username  string `yaml:"username"`
	Email     string `yaml:"email"`
	Password  string `yaml:"password"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

// UserBatch generates Count numbered regular users such as user1, user2...
type UserBatch struct {
	Count    int    `yaml:"count"`
	Prefix   string `yaml:"prefix"`
	LastName string `yaml:"last_name"`
}

// PollFixture is a poll template. An empty status is picked at random.
type PollFixture struct {
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	Status      models.PollStatus `yaml:"status"`
	Options     []string          `yaml:"options"`
}

// VotingFixture bounds the share of regular users voting in each poll
type VotingFixture struct {
	MinRatio float64 `yaml:"min_ratio"`
	MaxRatio float64 `yaml:"max_ratio"`
}

// DraftFixture generates numbered draft polls sharing one option list
type DraftFixture struct {
	Count   int      `yaml:"count"`
	Options []string `yaml:"options"`
}

// Fixtures is the full seed description
type Fixtures struct {
	Admin    UserFixture   `yaml:"admin"`
	Creators []UserFixture `yaml:"creators"`
	Users    UserBatch     `yaml:"users"`
	Voting   VotingFixture `yaml:"voting"`
	Polls    []PollFixture `yaml:"polls"`
	Drafts   DraftFixture  `yaml:"drafts"`
}

// Default returns the embedded fixtures
func Default() (*Fixtures, error) {
	return Parse(defaultFixtures)
}

// Load reads fixtures from a YAML file
func Load(path string) (*Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixtures: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates YAML fixtures
func Parse(data []byte) (*Fixtures, error) {
	var fx Fixtures
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixtures: %w", err)
	}
	if err := fx.validate(); err != nil {
		return nil, err
	}
	return &fx, nil
}

func (fx *Fixtures) validate() error {
	if fx.Admin.Username == "" || len(fx.Admin.Password) < 8 {
		return errors.New("fixtures: admin needs a username and a password of at least 8 characters")
	}
	for _, c := range fx.Creators {
		if c.Username == "" {
			return errors.New("fixtures: creator without username")
		}
	}
	if fx.Users.Count < 0 {
		return errors.New("fixtures: users.count must not be negative")
	}
	if fx.Voting.MinRatio < 0 || fx.Voting.MaxRatio > 1 || fx.Voting.MinRatio > fx.Voting.MaxRatio {
		return fmt.Errorf("fixtures: invalid voting ratios %.2f..%.2f", fx.Voting.MinRatio, fx.Voting.MaxRatio)
	}
	for _, p := range fx.Polls {
		if p.Title == "" || len(p.Options) < 2 {
			return fmt.Errorf("fixtures: poll %q needs a title and at least 2 options", p.Title)
		}
		if p.Status != "" && !p.Status.Valid() {
			return fmt.Errorf("fixtures: poll %q has unknown status %q", p.Title, p.Status)
		}
	}
	if fx.Drafts.Count > 0 && len(fx.Drafts.Options) < 2 {
		return errors.New("fixtures: drafts need at least 2 options")
	}
	return nil
}

// Options control a seed run
type Options struct {
	// Reset deletes existing users, polls, votes and audit logs first
	Reset bool
	// HashCost is the bcrypt cost; zero means bcrypt.DefaultCost
	HashCost int
	// Rand drives every random choice; nil uses a randomly seeded source
	Rand *rand.Rand
	// Now is the reference time for poll dates; zero means time.Now
	Now time.Time
}

// Summary counts the rows present after seeding
type Summary struct {
	Users   int64
	Roles   int64
	Polls   int64
	Options int64
	Votes   int64
}

// Seeder writes fixtures into a database
type Seeder struct {
	db *gorm.DB
}

// New creates a Seeder for an already migrated database
func New(db *gorm.DB) *Seeder {
	return &Seeder{db: db}
}

type account struct {
	user  models.User
	plain string
	roles []string
}

// Run seeds the database and returns the resulting row counts
func (s *Seeder) Run(ctx context.Context, fx *Fixtures, opts Options) (*Summary, error) {
	rng := opts.Rand
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}
	cost := opts.HashCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}

	if opts.Reset {
		slog.Info("Deleting old data...")
		if err := s.reset(ctx); err != nil {
			return nil, err
		}
	} else {
		var count int64
		if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("failed to count users: %w", err)
		}
		if count > 0 {
			return nil, ErrNotEmpty
		}
	}

	accounts := fx.accounts()
	if err := hashPasswords(ctx, accounts, cost); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slog.Info("Creating users...", "count", len(accounts))
		if err := createAccounts(tx, accounts); err != nil {
			return err
		}

		admin := &accounts[0].user
		creators := make([]*models.User, 0, len(fx.Creators))
		voters := make([]*models.User, 0, fx.Users.Count)
		for i := range accounts[1:] {
			a := &accounts[i+1]
			if i < len(fx.Creators) {
				creators = append(creators, &a.user)
			} else {
				voters = append(voters, &a.user)
			}
		}
		if len(creators) == 0 {
			creators = append(creators, admin)
		}

		slog.Info("Creating polls...", "count", len(fx.Polls))
		var votable []*models.Poll
		for _, tmpl := range fx.Polls {
			status := tmpl.Status
			if status == "" {
				status = pickStatus(rng)
			}
			poll, err := createPoll(tx, rng, now, creators, tmpl.Title, tmpl.Description, status, tmpl.Options)
			if err != nil {
				return err
			}
			if status != models.PollStatusDraft {
				votable = append(votable, poll)
			}
		}

		slog.Info("Creating votes...", "polls", len(votable))
		for _, poll := range votable {
			if err := castVotes(tx, rng, now, poll, voters, fx.Voting); err != nil {
				return err
			}
		}

		for i := range fx.Drafts.Count {
			title := fmt.Sprintf("Draft Poll %d", i+1)
			description := "This is a draft poll that hasn't been published yet"
			if _, err := createPoll(tx, rng, now, creators, title, description, models.PollStatusDraft, fx.Drafts.Options); err != nil {
				return err
			}
		}

		return audit.LogAction(ctx, tx, admin.ID, audit.ActionSeed, "database", map[string]any{
			"users": len(accounts),
			"polls": len(fx.Polls) + fx.Drafts.Count,
			"reset": opts.Reset,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to seed database: %w", err)
	}

	return s.summary(ctx)
}

// reset removes everything except roles and policies
func (s *Seeder) reset(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{&models.Vote{}, &models.Option{}, &models.Poll{}, &models.AuditLog{}} {
			if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
				return fmt.Errorf("failed to clear %T: %w", m, err)
			}
		}
		if err := tx.Exec("DELETE FROM user_roles").Error; err != nil {
			return fmt.Errorf("failed to clear user roles: %w", err)
		}
		if err := tx.Where("1 = 1").Delete(&models.User{}).Error; err != nil {
			return fmt.Errorf("failed to clear users: %w", err)
		}
		return nil
	})
}

func (s *Seeder) summary(ctx context.Context) (*Summary, error) {
	var sum Summary
	counts := []struct {
		model any
		dst   *int64
	}{
		{&models.User{}, &sum.Users},
		{&models.Role{}, &sum.Roles},
		{&models.Poll{}, &sum.Polls},
		{&models.Option{}, &sum.Options},
		{&models.Vote{}, &sum.Votes},
	}
	for _, c := range counts {
		if err := s.db.WithContext(ctx).Model(c.model).Count(c.dst).Error; err != nil {
			return nil, err
		}
	}
	return &sum, nil
}

// accounts lists the admin first, then creators, then regular users
func (fx *Fixtures) accounts() []account {
	out := make([]account, 0, 1+len(fx.Creators)+fx.Users.Count)
	out = append(out, newAccount(fx.Admin, models.RoleAdmin, models.RoleCreator, models.RoleUser))
	out[0].user.IsStaff = true

	for _, c := range fx.Creators {
		out = append(out, newAccount(c, models.RoleCreator, models.RoleUser))
	}

	prefix := fx.Users.Prefix
	if prefix == "" {
		prefix = "user"
	}
	for i := 1; i <= fx.Users.Count; i++ {
		name := fmt.Sprintf("%s%d", prefix, i)
		out = append(out, newAccount(UserFixture{
			Username:  name,
			FirstName: fmt.Sprintf("User%d", i),
			LastName:  fx.Users.LastName,
		}, models.RoleUser))
	}
	return out
}

func newAccount(f UserFixture, roles ...string) account {
	username := auth.NormalizeUsername(f.Username)
	email := f.Email
	if email == "" {
		email = username + "@example.com"
	}
	password := f.Password
	if password == "" {
		password = username + "123"
	}
	return account{
		user: models.User{
			Username:  username,
			Email:     auth.NormalizeEmail(email),
			FirstName: f.FirstName,
			LastName:  f.LastName,
			IsActive:  true,
		},
		plain: password,
		roles: roles,
	}
}

// hashPasswords runs bcrypt for every account, bounded by the number of CPUs
func hashPasswords(ctx context.Context, accounts []account, cost int) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range accounts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			hash, err := auth.HashPasswordCost(accounts[i].plain, cost)
			if err != nil {
				return fmt.Errorf("failed to hash password for %s: %w", accounts[i].user.Username, err)
			}
			accounts[i].user.PasswordHash = hash
			return nil
		})
	}
	return g.Wait()
}

func createAccounts(tx *gorm.DB, accounts []account) error {
	roleCache := make(map[string]models.Role)
	all, err := db.FindRoles(tx, models.RoleAdmin, models.RoleCreator, models.RoleUser)
	if err != nil {
		return fmt.Errorf("failed to load roles: %w", err)
	}
	for _, r := range all {
		roleCache[r.Name] = r
	}

	for i := range accounts {
		a := &accounts[i]
		if err := tx.Omit("Roles").Create(&a.user).Error; err != nil {
			return fmt.Errorf("failed to create user %s: %w", a.user.Username, err)
		}
		roles := make([]models.Role, 0, len(a.roles))
		for _, name := range a.roles {
			roles = append(roles, roleCache[name])
		}
		if err := tx.Model(&a.user).Association("Roles").Append(roles); err != nil {
			return fmt.Errorf("failed to assign roles to %s: %w", a.user.Username, err)
		}
	}
	return nil
}

// pickStatus favours active polls three to one over draft and closed
func pickStatus(rng *rand.Rand) models.PollStatus {
	choices := []models.PollStatus{
		models.PollStatusActive, models.PollStatusActive, models.PollStatusActive,
		models.PollStatusDraft, models.PollStatusClosed,
	}
	return choices[rng.IntN(len(choices))]
}

func createPoll(tx *gorm.DB, rng *rand.Rand, now time.Time, creators []*models.User, title, description string, status models.PollStatus, options []string) (*models.Poll, error) {
	owner := creators[rng.IntN(len(creators))]
	createdAt := now.Add(-days(1 + rng.IntN(30)))
	closesAt := createdAt.Add(days(3 + rng.IntN(58)))

	poll := models.Poll{
		Title:       title,
		Description: description,
		OwnerID:     owner.ID,
		Status:      status,
		ClosesAt:    closesAt,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	for i, text := range options {
		poll.Options = append(poll.Options, models.Option{Text: text, Position: i, CreatedAt: createdAt})
	}
	if err := tx.Create(&poll).Error; err != nil {
		return nil, fmt.Errorf("failed to create poll %q: %w", title, err)
	}
	return &poll, nil
}

// castVotes has a random share of voters vote once each at a time between
// the poll's creation and its close, capped at now.
func castVotes(tx *gorm.DB, rng *rand.Rand, now time.Time, poll *models.Poll, voters []*models.User, ratio VotingFixture) error {
	if len(voters) == 0 || len(poll.Options) == 0 {
		return nil
	}
	end := poll.ClosesAt
	if end.After(now) {
		end = now
	}
	window := end.Sub(poll.CreatedAt)
	if window <= 0 {
		return nil
	}

	lo := int(float64(len(voters)) * ratio.MinRatio)
	hi := int(float64(len(voters)) * ratio.MaxRatio)
	n := lo
	if hi > lo {
		n += rng.IntN(hi - lo + 1)
	}

	votes := make([]models.Vote, 0, n)
	for _, idx := range rng.Perm(len(voters))[:n] {
		opt := poll.Options[rng.IntN(len(poll.Options))]
		votes = append(votes, models.Vote{
			UserID:   voters[idx].ID,
			PollID:   poll.ID,
			OptionID: opt.ID,
			VotedAt:  poll.CreatedAt.Add(time.Duration(rng.Int64N(int64(window)))),
		})
	}
	if len(votes) == 0 {
		return nil
	}
	if err := tx.CreateInBatches(&votes, voteBatchSize).Error; err != nil {
		return fmt.Errorf("failed to create votes for %q: %w", poll.Title, err)
	}
	return nil
}

func days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
