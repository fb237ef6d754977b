package auth

import (
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
)

const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.obj == p.obj && r.act == p.act
`

// defaultPolicies grants customers their own orders and lets admins inherit
// that plus the back-office capabilities.
var defaultPolicies = [][]string{
	{RoleCustomer, "orders", "create"},
	{RoleCustomer, "orders", "read_own"},
	{RoleAdmin, "orders", "read_all"},
	{RoleAdmin, "orders", "set_status"},
}

var defaultGroupings = [][]string{
	{RoleAdmin, RoleCustomer},
	{"user", RoleCustomer},
}

// Authorizer resolves a role into capabilities with a Casbin RBAC enforcer.
type Authorizer struct {
	enforcer *casbin.Enforcer
}

// NewAuthorizer loads policies from policyFile (Casbin CSV format) or, when
// it is empty, from the built-in customer/admin policy.
func NewAuthorizer(policyFile string) (*Authorizer, error) {
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RBAC model: %w", err)
	}

	if policyFile != "" {
		e, err := casbin.NewEnforcer(m, fileadapter.NewAdapter(policyFile))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RBAC enforcer: %w", err)
		}
		return &Authorizer{enforcer: e}, nil
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize RBAC enforcer: %w", err)
	}
	for _, p := range defaultPolicies {
		if _, err := e.AddPolicy(p[0], p[1], p[2]); err != nil {
			return nil, fmt.Errorf("failed to add policy %v: %w", p, err)
		}
	}
	for _, g := range defaultGroupings {
		if _, err := e.AddGroupingPolicy(g[0], g[1]); err != nil {
			return nil, fmt.Errorf("failed to add role %v: %w", g, err)
		}
	}
	return &Authorizer{enforcer: e}, nil
}

// NormalizeRole lowercases the role; callers without one are customers.
func NormalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return RoleCustomer
	}
	return role
}

// Resolve builds the principal for an authenticated caller.
func (a *Authorizer) Resolve(userID, email, role string) (*Principal, error) {
	role = NormalizeRole(role)

	var caps []Capability
	for _, c := range AllCapabilities {
		obj, act, _ := strings.Cut(string(c), ":")
		allowed, err := a.enforcer.Enforce(role, obj, act)
		if err != nil {
			return nil, fmt.Errorf("RBAC permission check failed: %w", err)
		}
		if allowed {
			caps = append(caps, c)
		}
	}
	return NewPrincipal(userID, email, role, caps...), nil
}
