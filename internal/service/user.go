package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/audit"
	"github.com/kuranet/kuranet/internal/auth"
	"github.com/kuranet/kuranet/internal/db"
	"github.com/kuranet/kuranet/internal/models"
	"github.com/kuranet/kuranet/internal/rbac"
	"gorm.io/gorm"
)

const (
	maxUsernameLength = 150
	maxNameLength     = 30
	minPasswordLength = 8
)

// usernamePattern allows letters, digits and @ . + - _
var usernamePattern = regexp.MustCompile(`^[\p{L}\p{N}_.@+-]+$`)

// UserService contains account, profile and role management logic.
type UserService struct {
	db      *gorm.DB
	rbac    *rbac.Enforcer
	auth    auth.Authenticator
	results *ResultsService
	paging  Paging
}

// NewUserService creates a new UserService.
func NewUserService(database *gorm.DB, enforcer *rbac.Enforcer, authenticator auth.Authenticator, results *ResultsService, paging Paging) *UserService {
	return &UserService{db: database, rbac: enforcer, auth: authenticator, results: results, paging: paging}
}

func validateUsername(raw string, fields fieldErrors) string {
	username := auth.NormalizeUsername(raw)
	switch {
	case username == "":
		fields.add("username", "this field may not be blank")
	case utf8.RuneCountInString(username) > maxUsernameLength:
		fields.add("username", fmt.Sprintf("must be at most %d characters", maxUsernameLength))
	case !usernamePattern.MatchString(username):
		fields.add("username", "may contain only letters, numbers, and @/./+/-/_ characters")
	}
	return username
}

func validateEmail(raw string, fields fieldErrors) string {
	email := auth.NormalizeEmail(raw)
	if email == "" {
		fields.add("email", "this field may not be blank")
		return email
	}
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		fields.add("email", "enter a valid email address")
	}
	return email
}

func validatePassword(password string, fields fieldErrors) {
	if utf8.RuneCountInString(password) < minPasswordLength {
		fields.add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
}

func validateName(field, value string, fields fieldErrors) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) > maxNameLength {
		fields.add(field, fmt.Sprintf("must be at most %d characters", maxNameLength))
	}
	return value
}

// duplicateFields reports which unique user fields are already taken
func (s *UserService) duplicateFields(ctx context.Context, username, email string, exclude uuid.UUID) map[string]string {
	fields := map[string]string{}
	var count int64
	if username != "" {
		err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ? AND id <> ?", username, exclude).Count(&count).Error
		if err != nil {
			slog.Warn("Failed to check username uniqueness", "username", username, "error", err)
		} else if count > 0 {
			fields["username"] = "a user with that username already exists"
		}
	}
	if email != "" {
		count = 0
		err := s.db.WithContext(ctx).Model(&models.User{}).Where("email = ? AND id <> ?", email, exclude).Count(&count).Error
		if err != nil {
			slog.Warn("Failed to check email uniqueness", "email", email, "error", err)
		} else if count > 0 {
			fields["email"] = "a user with that email already exists"
		}
	}
	return fields
}

func (s *UserService) conflict(ctx context.Context, username, email string, exclude uuid.UUID) error {
	return &ConflictError{
		Message: "a user with these details already exists",
		Fields:  s.duplicateFields(ctx, username, email, exclude),
	}
}

// Register creates an active account holding the user role and returns
// it with a fresh token pair.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*auth.LoginResponse, error) {
	fields := fieldErrors{}
	username := validateUsername(req.Username, fields)
	email := validateEmail(req.Email, fields)
	validatePassword(req.Password, fields)
	first := validateName("first_name", req.FirstName, fields)
	last := validateName("last_name", req.LastName, fields)
	if err := fields.err("invalid registration"); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username:     username,
		Email:        email,
		FirstName:    first,
		LastName:     last,
		PasswordHash: hash,
		IsActive:     true,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		roles, err := db.FindRoles(tx, models.RoleUser)
		if err != nil {
			return err
		}
		if err := tx.Omit("Roles").Create(&user).Error; err != nil {
			return err
		}
		return tx.Model(&user).Association("Roles").Append(roles)
	})
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, s.conflict(ctx, username, email, uuid.Nil)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	loaded, err := s.load(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	pair, err := s.auth.IssueTokens(loaded)
	if err != nil {
		return nil, err
	}

	audit.Record(ctx, s.db, loaded.ID, audit.ActionRegister, audit.Resource("user", loaded.ID), map[string]any{"username": loaded.Username})
	return &auth.LoginResponse{TokenPair: *pair, User: loaded}, nil
}

// Login checks credentials and records the attempt.
func (s *UserService) Login(ctx context.Context, username, password string) (*auth.LoginResponse, error) {
	resp, err := s.auth.Login(username, password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrInactiveUser) {
			audit.Record(ctx, s.db, uuid.Nil, audit.ActionLoginFailed, audit.Resource("user", auth.NormalizeUsername(username)), map[string]any{"reason": err.Error()})
		}
		return nil, err
	}
	audit.Record(ctx, s.db, resp.User.ID, audit.ActionLogin, audit.Resource("user", resp.User.ID), nil)
	return resp, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *UserService) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	return s.auth.Refresh(refreshToken)
}

func (s *UserService) load(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Preload("Roles").First(&user, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// Get returns a user by ID. Like List, inactive users are only visible to
// admins and to themselves.
func (s *UserService) Get(ctx context.Context, actor *models.User, id uuid.UUID) (*models.User, error) {
	user, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !user.IsActive && !rbac.IsOwnerOrAdmin(actor, user.ID) {
		return nil, ErrNotFound
	}
	return user, nil
}

// List returns a page of users ordered by username. Inactive users are
// only listed for admins.
func (s *UserService) List(ctx context.Context, actor *models.User, search string, pr PageRequest) (*Page[models.User], error) {
	page, size, offset := s.paging.normalize(pr)

	q := s.db.WithContext(ctx).Model(&models.User{})
	if !rbac.IsAdmin(actor) {
		q = q.Where("is_active = ?", true)
	}
	if search = strings.TrimSpace(search); search != "" {
		like := containsPattern(search)
		q = q.Where(`LOWER(username) LIKE ? ESCAPE '\' OR LOWER(email) LIKE ? ESCAPE '\'`, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}

	var users []models.User
	if err := q.Preload("Roles").Order("username ASC").Offset(offset).Limit(size).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return &Page[models.User]{Count: total, Page: page, PageSize: size, Results: users}, nil
}

// Update applies a partial profile update to the target user. Users may
// edit themselves; is_active and is_staff require an admin.
func (s *UserService) Update(ctx context.Context, actor *models.User, id uuid.UUID, req UpdateUserRequest) (*models.User, error) {
	target, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(s.rbac, actor, rbac.ActionUserUpdate, target.ID); err != nil {
		return nil, err
	}
	if req.IsActive != nil || req.IsStaff != nil {
		if err := authorize(s.rbac, actor, rbac.ActionUserAdminister, target.ID); err != nil {
			return nil, err
		}
	}

	fields := fieldErrors{}
	updates := map[string]any{}
	var username, email string

	if req.Username != nil {
		username = validateUsername(*req.Username, fields)
		updates["username"] = username
	}
	if req.Email != nil {
		email = validateEmail(*req.Email, fields)
		updates["email"] = email
	}
	if req.FirstName != nil {
		updates["first_name"] = validateName("first_name", *req.FirstName, fields)
	}
	if req.LastName != nil {
		updates["last_name"] = validateName("last_name", *req.LastName, fields)
	}
	if req.Password != nil {
		validatePassword(*req.Password, fields)
	}
	if req.IsActive != nil {
		updates["is_active"] = *req.IsActive
	}
	if req.IsStaff != nil {
		updates["is_staff"] = *req.IsStaff
	}
	if err := fields.err("invalid user"); err != nil {
		return nil, err
	}
	if req.Password != nil {
		hash, err := auth.HashPassword(*req.Password)
		if err != nil {
			return nil, err
		}
		updates["password_hash"] = hash
	}
	if len(updates) == 0 {
		return target, nil
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", target.ID).Updates(updates).Error; err != nil {
		if db.IsUniqueViolation(err) {
			return nil, s.conflict(ctx, username, email, target.ID)
		}
		return nil, fmt.Errorf("update user: %w", err)
	}

	changed := make([]string, 0, len(updates))
	for k := range updates {
		if k != "password_hash" {
			changed = append(changed, k)
		}
	}
	if req.Password != nil {
		changed = append(changed, "password")
	}
	audit.Record(ctx, s.db, actor.ID, audit.ActionUpdateUser, audit.Resource("user", target.ID), map[string]any{"fields": changed})

	return s.load(ctx, target.ID)
}

// Deactivate disables an account without deleting its data.
func (s *UserService) Deactivate(ctx context.Context, actor *models.User, id uuid.UUID) (*models.User, error) {
	target, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(s.rbac, actor, rbac.ActionUserDeactivate, target.ID); err != nil {
		return nil, err
	}

	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", target.ID).Update("is_active", false).Error; err != nil {
		return nil, fmt.Errorf("deactivate user: %w", err)
	}
	audit.Record(ctx, s.db, actor.ID, audit.ActionDeactivateUser, audit.Resource("user", target.ID), nil)

	target.IsActive = false
	return target, nil
}

// Delete removes a user with their polls, the votes on those polls, the
// user's own votes and role links, in one transaction.
func (s *UserService) Delete(ctx context.Context, actor *models.User, id uuid.UUID) error {
	target, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if err := authorize(s.rbac, actor, rbac.ActionUserDelete, target.ID); err != nil {
		return err
	}

	// Polls whose tallies change because this user's votes disappear
	var votedPolls []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.Vote{}).Where("user_id = ?", target.ID).Distinct().Pluck("poll_id", &votedPolls).Error; err != nil {
		return fmt.Errorf("load voted polls: %w", err)
	}

	var ownedPolls []uuid.UUID
	if err := s.db.WithContext(ctx).Model(&models.Poll{}).Where("owner_id = ?", target.ID).Pluck("id", &ownedPolls).Error; err != nil {
		return fmt.Errorf("load owned polls: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := deletePolls(ctx, tx, "owner_id = ?", target.ID); err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", target.ID).Delete(&models.Vote{}).Error; err != nil {
			return fmt.Errorf("delete votes: %w", err)
		}
		if err := tx.Model(target).Association("Roles").Clear(); err != nil {
			return fmt.Errorf("clear roles: %w", err)
		}
		if err := tx.Delete(&models.User{}, "id = ?", target.ID).Error; err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	audit.Record(ctx, s.db, actor.ID, audit.ActionDeleteUser, audit.Resource("user", target.ID), map[string]any{"username": target.Username})

	owned := make(map[uuid.UUID]bool, len(ownedPolls))
	for _, pid := range ownedPolls {
		owned[pid] = true
	}
	for _, pid := range votedPolls {
		if !owned[pid] {
			s.results.Refresh(ctx, pid)
		}
	}
	return nil
}

// ListRoles returns every role.
func (s *UserService) ListRoles(ctx context.Context) ([]models.Role, error) {
	var roles []models.Role
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

// AssignRole grants a role to a user. Admin only.
func (s *UserService) AssignRole(ctx context.Context, actor *models.User, userID uuid.UUID, roleName string) (*models.User, error) {
	return s.changeRole(ctx, actor, userID, roleName, true)
}

// RevokeRole removes a role from a user. Admin only; admins cannot drop
// their own admin role.
func (s *UserService) RevokeRole(ctx context.Context, actor *models.User, userID uuid.UUID, roleName string) (*models.User, error) {
	return s.changeRole(ctx, actor, userID, roleName, false)
}

func (s *UserService) changeRole(ctx context.Context, actor *models.User, userID uuid.UUID, roleName string, grant bool) (*models.User, error) {
	if err := authorize(s.rbac, actor, rbac.ActionRoleAssign, uuid.Nil); err != nil {
		return nil, err
	}
	if !models.IsKnownRole(roleName) {
		return nil, &ValidationError{Message: "invalid role", Fields: map[string]string{"role": fmt.Sprintf("unknown role %q", roleName)}}
	}
	if !grant && roleName == models.RoleAdmin && actor.ID == userID {
		return nil, &ValidationError{Message: "you cannot revoke your own admin role"}
	}

	target, err := s.load(ctx, userID)
	if err != nil {
		return nil, err
	}
	roles, err := db.FindRoles(s.db.WithContext(ctx), roleName)
	if err != nil {
		return nil, err
	}

	assoc := s.db.WithContext(ctx).Model(target).Association("Roles")
	action := audit.ActionAssignRole
	if grant {
		err = assoc.Append(roles)
	} else {
		err = assoc.Delete(roles)
		action = audit.ActionRevokeRole
	}
	if err != nil {
		return nil, fmt.Errorf("change role: %w", err)
	}

	audit.Record(ctx, s.db, actor.ID, action, audit.Resource("user", target.ID), map[string]any{"role": roleName})
	return s.load(ctx, target.ID)
}

// AuditLogs returns a page of audit entries. Admin only.
func (s *UserService) AuditLogs(ctx context.Context, actor *models.User, f audit.Filter, pr PageRequest) (*Page[models.AuditLog], error) {
	if err := authorize(s.rbac, actor, rbac.ActionAuditRead, uuid.Nil); err != nil {
		return nil, err
	}
	page, size, offset := s.paging.normalize(pr)
	logs, total, err := audit.List(ctx, s.db, f, offset, size)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return &Page[models.AuditLog]{Count: total, Page: page, PageSize: size, Results: logs}, nil
}
