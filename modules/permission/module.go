// Package permission publishes the permission checker that other modules
// use to gate their commands.
package permission

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GoCodeAlone/modubot"
	"github.com/GoCodeAlone/modubot/config"
)

// ModuleName is the catalog name of this module.
const ModuleName = "permission"

// Profiles shipped by default.
const (
	DefaultProfile    = "DefaultPerm"
	PermissiveProfile = "PermissivePerm"
)

// Flag controlling the perms command.
const FlagViewPerms = "canViewPerms"

var (
	ErrCheckerMissing = errors.New("permission checker is not published")
	ErrProfileMissing = errors.New("default permission profile has no flags")
	ErrEmptyDefault   = errors.New("default_profile must not be empty")
)

// Module is the permission module.
type Module struct {
	config  Config
	checker *Checker
	logger  modubot.Logger
	caps    *modubot.ScopedCapabilities
}

// New creates the module. It is the catalog factory.
func New() modubot.Module {
	return &Module{}
}

// Name returns the module name.
func (m *Module) Name() string {
	return ModuleName
}

// PreInit decodes the configuration and builds the checker.
func (m *Module) PreInit(_ context.Context, mc *modubot.ModuleContext) error {
	if err := mc.Config().Decode(&m.config); err != nil {
		return err
	}
	if err := config.ProcessDefaults(&m.config); err != nil {
		return err
	}
	if strings.TrimSpace(m.config.DefaultProfile) == "" {
		return ErrEmptyDefault
	}

	m.logger = mc.Logger()
	m.caps = mc.Capabilities()
	m.checker = NewChecker(m.caps, m.config.DefaultProfile, m.config.Grants)
	return nil
}

// Init publishes the checker and the base flags of the bundled profiles.
func (m *Module) Init(_ context.Context, mc *modubot.ModuleContext) error {
	caps := mc.Capabilities()
	caps.Publish(modubot.PermissionNamespace, modubot.PermissionCheckerKey, m.checker)
	caps.Publish(modubot.PermissionNamespace, "default_profile", m.config.DefaultProfile)

	caps.Publish(PermissiveProfile, FlagViewPerms, "True")
	caps.Publish(DefaultProfile, FlagViewPerms, "True")
	if m.config.DefaultProfile != DefaultProfile {
		caps.Publish(m.config.DefaultProfile, FlagViewPerms, "True")
	}

	m.logger.Debug("Published permission checker", "defaultProfile", m.config.DefaultProfile, "grants", len(m.config.Grants))
	return nil
}

// PostInit verifies that the checker is reachable and the default profile
// holds at least one flag.
func (m *Module) PostInit(_ context.Context, mc *modubot.ModuleContext) error {
	caps := mc.Capabilities()
	value, ok := caps.Lookup(modubot.PermissionNamespace, modubot.PermissionCheckerKey)
	if !ok {
		return ErrCheckerMissing
	}
	if _, ok = value.(modubot.PermissionChecker); !ok {
		return fmt.Errorf("%w: found %T", ErrCheckerMissing, value)
	}
	if len(caps.Namespace(m.config.DefaultProfile)) == 0 {
		return fmt.Errorf("%w: %s", ErrProfileMissing, m.config.DefaultProfile)
	}
	return nil
}

// Commands returns the perms command.
func (m *Module) Commands() []modubot.Command {
	return []modubot.Command{
		{
			Name:    "perms",
			Usage:   "{prefix}perms\n\nshow your permission profile and flags",
			Handler: modubot.RequirePermission(m.caps, FlagViewPerms, "True", m.perms),
		},
	}
}

func (m *Module) perms(ctx context.Context, inv *modubot.Invocation) error {
	profile := m.checker.Profile(inv.Actor)
	flags := m.checker.Flags(inv.Actor)
	return inv.Respond(ctx, fmt.Sprintf("Profile: %s\nFlags: %s", profile, strings.Join(flags, ", ")))
}

// Checker returns the module's checker. It is nil before PreInit.
func (m *Module) Checker() *Checker {
	return m.checker
}
