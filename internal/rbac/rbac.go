package rbac

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/google/uuid"
	"github.com/kuranet/kuranet/internal/models"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelConf string

// Action names an operation checked against the policy table
type Action string

const (
	ActionAll            Action = "*"
	ActionPollCreate     Action = "poll:create"
	ActionPollUpdate     Action = "poll:update"
	ActionPollDelete     Action = "poll:delete"
	ActionOptionWrite    Action = "option:write"
	ActionVoteCast       Action = "vote:cast"
	ActionUserUpdate     Action = "user:update"
	ActionUserDelete     Action = "user:delete"
	ActionUserDeactivate Action = "user:deactivate"
	ActionUserAdminister Action = "user:administer"
	ActionRoleAssign     Action = "role:assign"
	ActionAuditRead      Action = "audit:read"
)

// Scopes compare the actor with the owner of the target resource
const (
	ScopeAny   = "any"
	ScopeOwn   = "own"
	ScopeOther = "other"
)

var basePolicies = [][]string{
	{models.RoleAdmin, string(ActionAll), ScopeAny},
	{models.RoleCreator, string(ActionPollCreate), ScopeAny},
	{models.RoleUser, string(ActionPollUpdate), ScopeOwn},
	{models.RoleUser, string(ActionPollDelete), ScopeOwn},
	{models.RoleUser, string(ActionOptionWrite), ScopeOwn},
	{models.RoleUser, string(ActionVoteCast), ScopeAny},
	{models.RoleUser, string(ActionUserUpdate), ScopeOwn},
	{models.RoleUser, string(ActionUserDelete), ScopeOwn},
	{models.RoleUser, string(ActionUserDeactivate), ScopeOwn},
}

// openPollCreation lets every user create polls unless creation is
// restricted to creators.
var openPollCreation = []string{models.RoleUser, string(ActionPollCreate), ScopeAny}

var roleHierarchy = [][]string{
	{models.RoleAdmin, models.RoleCreator},
	{models.RoleCreator, models.RoleUser},
}

// Enforcer answers "may this user perform this action on a resource owned
// by that user" from a casbin policy table persisted in the database.
type Enforcer struct {
	e      *casbin.SyncedEnforcer
	logger *slog.Logger
}

// New builds the enforcer, loads stored policies and ensures the default
// role policies exist.
func New(db *gorm.DB, logger *slog.Logger, creatorOnlyPolls bool) (*Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin adapter: %w", err)
	}

	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}

	e, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}

	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	enf := &Enforcer{e: e, logger: logger}
	if err := enf.ensureDefaults(creatorOnlyPolls); err != nil {
		return nil, err
	}

	logger.Info("RBAC enforcer initialized", "creator_only_polls", creatorOnlyPolls)
	return enf, nil
}

func (e *Enforcer) ensureDefaults(creatorOnlyPolls bool) error {
	for _, p := range basePolicies {
		if _, err := e.e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return fmt.Errorf("failed to add policy %v: %w", p, err)
		}
	}
	for _, g := range roleHierarchy {
		if _, err := e.e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return fmt.Errorf("failed to add role link %v: %w", g, err)
		}
	}

	open := openPollCreation
	if creatorOnlyPolls {
		if _, err := e.e.RemovePolicy(open[0], open[1], open[2]); err != nil {
			return fmt.Errorf("failed to restrict poll creation: %w", err)
		}
		return nil
	}
	if _, err := e.e.AddPolicy(open[0], open[1], open[2]); err != nil {
		return fmt.Errorf("failed to open poll creation: %w", err)
	}
	return nil
}

// Authorize reports whether actor may perform action on a resource owned by
// ownerID. Pass uuid.Nil for actions without an owned target.
// Every actor is evaluated as a "user" in addition to its stored roles.
func (e *Enforcer) Authorize(actor *models.User, action Action, ownerID uuid.UUID) (bool, error) {
	if actor == nil || !actor.IsActive {
		return false, nil
	}

	scope := ScopeOther
	if ownerID != uuid.Nil && ownerID == actor.ID {
		scope = ScopeOwn
	}

	subjects := append([]string{models.RoleUser}, actor.RoleNames()...)
	for _, sub := range subjects {
		ok, err := e.e.Enforce(sub, string(action), scope)
		if err != nil {
			return false, fmt.Errorf("enforce %s for %s: %w", action, sub, err)
		}
		if ok {
			return true, nil
		}
	}

	e.logger.Debug("Permission denied", "user_id", actor.ID, "action", action, "scope", scope)
	return false, nil
}

// Policies returns the stored policy rows
func (e *Enforcer) Policies() ([][]string, error) {
	return e.e.GetPolicy()
}
