package authz

import "github.com/calder-iot/console-core/internal/infrastructure/config"

// Built-in role names. These ship with the platform and are protected:
// they can never be renamed or deleted, regardless of priority.
const (
	RoleSuperAdmin = "SuperAdmin"
	RoleAdmin      = "Admin"
	RoleScientist  = "Scientist"
	RoleViewer     = "Viewer"
)

// defaultPriorities is the built-in role hierarchy. Higher number wins.
// Used when the configuration does not supply its own table.
var defaultPriorities = map[string]int{
	RoleSuperAdmin: 4,
	RoleAdmin:      3,
	RoleScientist:  2,
	RoleViewer:     1,
}

// defaultProtected is the built-in set of undeletable roles.
var defaultProtected = []string{RoleSuperAdmin, RoleAdmin, RoleScientist, RoleViewer}

// Authorizer answers manage-permission questions from a static role
// priority table. It is pure and deterministic: safe to call on every
// authorisation-sensitive render or command.
type Authorizer struct {
	priorities map[string]int
	protected  map[string]struct{}
}

// New creates an Authorizer from configuration. Empty configuration
// sections fall back to the built-in hierarchy and protected set.
func New(cfg config.RolesConfig) *Authorizer {
	priorities := cfg.Priorities
	if len(priorities) == 0 {
		priorities = defaultPriorities
	}

	protectedNames := cfg.Protected
	if len(protectedNames) == 0 {
		protectedNames = defaultProtected
	}

	a := &Authorizer{
		priorities: make(map[string]int, len(priorities)),
		protected:  make(map[string]struct{}, len(protectedNames)),
	}
	for name, prio := range priorities {
		a.priorities[name] = prio
	}
	for _, name := range protectedNames {
		a.protected[name] = struct{}{}
	}
	return a
}

// PriorityOf returns the priority of a role name. Unknown roles map to
// priority 0 (lowest): unrecognised roles are unprivileged by default,
// never rejected.
func (a *Authorizer) PriorityOf(roleName string) int {
	return a.priorities[roleName]
}

// HighestOf returns the role with the maximum priority among the given
// names. Ties resolve to the first-encountered role. The second return
// is false when the set is empty.
func (a *Authorizer) HighestOf(roleNames []string) (string, bool) {
	if len(roleNames) == 0 {
		return "", false
	}

	highest := roleNames[0]
	for _, name := range roleNames[1:] {
		if a.PriorityOf(name) > a.PriorityOf(highest) {
			highest = name
		}
	}
	return highest, true
}

// CanManageRole reports whether an actor holding actingRoles may manage
// the target role. True iff the actor's highest priority is at least the
// target's. An actor with no roles manages nothing.
func (a *Authorizer) CanManageRole(actingRoles []string, targetRoleName string) bool {
	highest, ok := a.HighestOf(actingRoles)
	if !ok {
		return false
	}
	return a.PriorityOf(highest) >= a.PriorityOf(targetRoleName)
}

// CanManageUser reports whether an actor holding actingRoles may manage a
// user holding targetRoles. A roleless target is manageable by any
// role-bearing actor; a roleless actor manages no one.
func (a *Authorizer) CanManageUser(actingRoles, targetRoles []string) bool {
	actingHighest, ok := a.HighestOf(actingRoles)
	if !ok {
		return false
	}

	targetHighest, ok := a.HighestOf(targetRoles)
	if !ok {
		return true
	}

	return a.PriorityOf(actingHighest) >= a.PriorityOf(targetHighest)
}

// IsProtected reports whether the role is built-in and therefore can
// never be renamed or deleted. This is a separate axis from priority:
// mutating operations must check it independently of CanManageRole.
func (a *Authorizer) IsProtected(roleName string) bool {
	_, ok := a.protected[roleName]
	return ok
}
