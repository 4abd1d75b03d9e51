package authz

import (
	"testing"

	"github.com/calder-iot/console-core/internal/infrastructure/config"
)

func defaultAuthorizer() *Authorizer {
	return New(config.RolesConfig{})
}

func TestPriorityOf_Defaults(t *testing.T) {
	a := defaultAuthorizer()

	tests := []struct {
		role string
		want int
	}{
		{RoleSuperAdmin, 4},
		{RoleAdmin, 3},
		{RoleScientist, 2},
		{RoleViewer, 1},
		{"Unknown", 0},
		{"", 0},
	}

	for _, tt := range tests {
		if got := a.PriorityOf(tt.role); got != tt.want {
			t.Errorf("PriorityOf(%q) = %d, want %d", tt.role, got, tt.want)
		}
	}
}

func TestHighestOf(t *testing.T) {
	a := defaultAuthorizer()

	tests := []struct {
		name  string
		roles []string
		want  string
		ok    bool
	}{
		{"single", []string{RoleViewer}, RoleViewer, true},
		{"picks max", []string{RoleViewer, RoleAdmin, RoleScientist}, RoleAdmin, true},
		{"first wins on tie", []string{"Auditor", "Operator"}, "Auditor", true},
		{"unknown only", []string{"Ghost"}, "Ghost", true},
		{"empty", nil, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := a.HighestOf(tt.roles)
			if ok != tt.ok || got != tt.want {
				t.Errorf("HighestOf(%v) = (%q, %v), want (%q, %v)", tt.roles, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestCanManageRole(t *testing.T) {
	a := defaultAuthorizer()

	tests := []struct {
		name   string
		acting []string
		target string
		want   bool
	}{
		{"higher manages lower", []string{RoleAdmin}, RoleViewer, true},
		{"equal manages equal", []string{RoleAdmin}, RoleAdmin, true},
		{"lower cannot manage higher", []string{RoleViewer}, RoleAdmin, false},
		{"highest role decides", []string{RoleViewer, RoleSuperAdmin}, RoleAdmin, true},
		{"unknown target always manageable", []string{RoleViewer}, "Unknown", true},
		{"no roles manages nothing", nil, RoleViewer, false},
		{"unknown actor can manage unknown target", []string{"Ghost"}, "Phantom", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.CanManageRole(tt.acting, tt.target); got != tt.want {
				t.Errorf("CanManageRole(%v, %q) = %v, want %v", tt.acting, tt.target, got, tt.want)
			}
		})
	}
}

func TestCanManageUser(t *testing.T) {
	a := defaultAuthorizer()

	tests := []struct {
		name   string
		acting []string
		target []string
		want   bool
	}{
		{"higher manages lower", []string{RoleSuperAdmin}, []string{RoleAdmin}, true},
		{"lower cannot manage higher", []string{RoleScientist}, []string{RoleSuperAdmin}, false},
		{"roleless target manageable", []string{RoleViewer}, nil, true},
		{"roleless actor manages nothing", nil, nil, false},
		{"roleless actor vs roled target", nil, []string{RoleViewer}, false},
		{"target highest decides", []string{RoleAdmin}, []string{RoleViewer, RoleSuperAdmin}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.CanManageUser(tt.acting, tt.target); got != tt.want {
				t.Errorf("CanManageUser(%v, %v) = %v, want %v", tt.acting, tt.target, got, tt.want)
			}
		})
	}
}

func TestIsProtected(t *testing.T) {
	a := defaultAuthorizer()

	for _, role := range []string{RoleSuperAdmin, RoleAdmin, RoleScientist, RoleViewer} {
		if !a.IsProtected(role) {
			t.Errorf("built-in role %q should be protected", role)
		}
	}
	if a.IsProtected("CustomRole") {
		t.Error("custom role should not be protected")
	}
}

func TestNew_ConfigOverrides(t *testing.T) {
	a := New(config.RolesConfig{
		Priorities: map[string]int{"Operator": 10, "Watcher": 1},
		Protected:  []string{"Operator"},
	})

	if a.PriorityOf("Operator") != 10 {
		t.Errorf("PriorityOf(Operator) = %d, want 10", a.PriorityOf("Operator"))
	}
	// Configured table replaces the defaults entirely
	if a.PriorityOf(RoleSuperAdmin) != 0 {
		t.Errorf("PriorityOf(SuperAdmin) = %d, want 0 under custom table", a.PriorityOf(RoleSuperAdmin))
	}
	if !a.IsProtected("Operator") || a.IsProtected(RoleAdmin) {
		t.Error("protected set should follow configuration")
	}
}
