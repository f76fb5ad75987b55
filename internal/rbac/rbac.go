// Package rbac maps user roles to API permissions through casbin. Subjects
// are role names; managers inherit engineer permissions and admins inherit
// manager permissions.
package rbac

import (
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/nebari-dev/labgate/internal/models"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelConf string

// Permission is an (object, action) pair checked against a role.
type Permission struct {
	Object string
	Action string
}

var (
	// SelfService covers engineer-facing endpoints: requests, acknowledgments, own documents.
	SelfService = Permission{"self", "use"}
	// ManageAccess covers approvals, autocheck, compliance views, metrics and reports.
	ManageAccess = Permission{"access", "manage"}
	// AdminCatalog covers catalog administration.
	AdminCatalog = Permission{"catalog", "admin"}
)

// Enforcer answers role permission checks.
type Enforcer struct {
	e *casbin.Enforcer
}

// NewEnforcer loads policies stored in db and adds the default role policies
// when missing.
func NewEnforcer(db *gorm.DB, logger *slog.Logger) (*Enforcer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin adapter: %w", err)
	}

	m, err := model.NewModelFromString(modelConf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse casbin model: %w", err)
	}

	e, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if err := e.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("failed to load policies: %w", err)
	}

	enf := &Enforcer{e: e}
	if err := enf.ensureDefaults(); err != nil {
		return nil, err
	}
	logger.Info("RBAC enforcer initialized")
	return enf, nil
}

func (enf *Enforcer) ensureDefaults() error {
	policies := [][]string{
		{models.RoleEngineer, SelfService.Object, SelfService.Action},
		{models.RoleManager, ManageAccess.Object, ManageAccess.Action},
		{models.RoleAdmin, AdminCatalog.Object, AdminCatalog.Action},
	}
	for _, p := range policies {
		if _, err := enf.e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return fmt.Errorf("failed to add policy %v: %w", p, err)
		}
	}
	inherits := [][2]string{
		{models.RoleManager, models.RoleEngineer},
		{models.RoleAdmin, models.RoleManager},
	}
	for _, g := range inherits {
		if _, err := enf.e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return fmt.Errorf("failed to add role inheritance %v: %w", g, err)
		}
	}
	return nil
}

// Allowed reports whether role holds perm.
func (enf *Enforcer) Allowed(role string, perm Permission) (bool, error) {
	if role == "" {
		return false, nil
	}
	return enf.e.Enforce(role, perm.Object, perm.Action)
}

// Grant adds perm to role and persists it.
func (enf *Enforcer) Grant(role string, perm Permission) error {
	_, err := enf.e.AddPolicy(role, perm.Object, perm.Action)
	return err
}

// Revoke removes perm from role.
func (enf *Enforcer) Revoke(role string, perm Permission) error {
	_, err := enf.e.RemovePolicy(role, perm.Object, perm.Action)
	return err
}
