// Package security maps agent roles to permissions and guards the event
// hub with a shared token.
package security

import (
	"crypto/subtle"
	"slices"
	"sort"
	"strings"

	"github.com/HendryAvila/devteam/internal/config"
	"github.com/HendryAvila/devteam/internal/sdkerr"
)

// PermissionPhaseProgress allows advancing the development phase.
const PermissionPhaseProgress = "phase:progress"

// RoleTeamLeader is the role checked for team-level operations.
const RoleTeamLeader = "team_leader"

// TaskPermission is the permission needed to run tasks of taskType.
func TaskPermission(taskType string) string {
	return "task:" + taskType
}

// Context is the permission set granted to one agent. A nil *Context
// permits everything.
type Context struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// Has reports whether perm is granted. "task:*" grants every task
// permission and "*" grants everything.
func (c *Context) Has(perm string) bool {
	if c == nil {
		return true
	}
	for _, p := range c.Permissions {
		if p == "*" || p == perm {
			return true
		}
		if p == "task:*" && strings.HasPrefix(perm, "task:") {
			return true
		}
	}
	return false
}

// Require returns an authentication error when perm is missing.
func (c *Context) Require(perm string) error {
	if c.Has(perm) {
		return nil
	}
	return sdkerr.Authentication("permission %q not granted to role %q", perm, c.Role).
		WithCode("PERMISSION_DENIED").
		WithDetail("permission", perm)
}

// Policy resolves security contexts from configured roles.
type Policy struct {
	roles map[string][]string
	token string
}

// NewPolicy builds a policy. With no roles, ContextFor returns nil and
// agents run unchecked. An empty token disables hub authorization.
func NewPolicy(sec config.SecurityConfig, hubToken string) *Policy {
	roles := make(map[string][]string, len(sec.Roles))
	for role, perms := range sec.Roles {
		roles[role] = slices.Clone(perms)
	}
	return &Policy{roles: roles, token: hubToken}
}

// Enabled reports whether any roles are configured.
func (p *Policy) Enabled() bool { return len(p.roles) > 0 }

// ContextFor returns the security context for an agent type. An agent
// type without a role gets an empty permission set when the policy is
// enabled.
func (p *Policy) ContextFor(agentType string) *Context {
	if !p.Enabled() {
		return nil
	}
	perms := slices.Clone(p.roles[agentType])
	sort.Strings(perms)
	return &Context{Role: agentType, Permissions: perms}
}

// Authorize checks a hub bearer token.
func (p *Policy) Authorize(token string) error {
	if p.token == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(p.token)) != 1 {
		return sdkerr.Authentication("invalid hub token").WithCode("INVALID_TOKEN")
	}
	return nil
}

// TokenRequired reports whether Authorize checks anything.
func (p *Policy) TokenRequired() bool { return p.token != "" }
