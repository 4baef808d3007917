package rules

import "strings"

func hasRole(id Identity, role string) bool {
	if id == nil {
		return false
	}
	return id.IsInRole(role)
}

func checkRoles(rule string, roles []string) error {
	if len(roles) == 0 {
		return &ArgumentError{Rule: rule, Param: "roles", Reason: "at least one role is required"}
	}
	for _, r := range roles {
		if strings.TrimSpace(r) == "" {
			return &ArgumentError{Rule: rule, Param: "roles", Reason: "role names must not be empty"}
		}
	}
	return nil
}

// IsInRoleRule allows identities that have Role.
type IsInRoleRule struct {
	AuthorizationBase
	Role string
}

func IsInRole(a Action, t Target, role string, message string, opts ...Option) (*IsInRoleRule, error) {
	if err := checkRoles("IsInRole", []string{role}); err != nil {
		return nil, err
	}
	b, err := NewAuthorizationBase("IsInRole", a, t, message, opts...)
	if err != nil {
		return nil, err
	}
	return &IsInRoleRule{AuthorizationBase: b, Role: role}, nil
}

func (r *IsInRoleRule) Execute(id Identity) *AuthorizationResult {
	if hasRole(id, r.Role) {
		return nil
	}
	return r.Result("")
}

// IsInAnyRoleRule allows identities that have at least one of Roles.
type IsInAnyRoleRule struct {
	AuthorizationBase
	Roles []string
}

func IsInAnyRole(a Action, t Target, roles []string, message string, opts ...Option) (*IsInAnyRoleRule, error) {
	if err := checkRoles("IsInAnyRole", roles); err != nil {
		return nil, err
	}
	b, err := NewAuthorizationBase("IsInAnyRole", a, t, message, opts...)
	if err != nil {
		return nil, err
	}
	return &IsInAnyRoleRule{AuthorizationBase: b, Roles: append([]string(nil), roles...)}, nil
}

func (r *IsInAnyRoleRule) Execute(id Identity) *AuthorizationResult {
	for _, role := range r.Roles {
		if hasRole(id, role) {
			return nil
		}
	}
	return r.Result("")
}

// IsInAllRolesRule allows identities that have every one of Roles.
type IsInAllRolesRule struct {
	AuthorizationBase
	Roles []string
}

func IsInAllRoles(a Action, t Target, roles []string, message string, opts ...Option) (*IsInAllRolesRule, error) {
	if err := checkRoles("IsInAllRoles", roles); err != nil {
		return nil, err
	}
	b, err := NewAuthorizationBase("IsInAllRoles", a, t, message, opts...)
	if err != nil {
		return nil, err
	}
	return &IsInAllRolesRule{AuthorizationBase: b, Roles: append([]string(nil), roles...)}, nil
}

func (r *IsInAllRolesRule) Execute(id Identity) *AuthorizationResult {
	for _, role := range r.Roles {
		if !hasRole(id, role) {
			return r.Result("")
		}
	}
	return nil
}

// IsNotInRoleRule denies identities that have Role.
type IsNotInRoleRule struct {
	AuthorizationBase
	Role string
}

func IsNotInRole(a Action, t Target, role string, message string, opts ...Option) (*IsNotInRoleRule, error) {
	if err := checkRoles("IsNotInRole", []string{role}); err != nil {
		return nil, err
	}
	b, err := NewAuthorizationBase("IsNotInRole", a, t, message, opts...)
	if err != nil {
		return nil, err
	}
	return &IsNotInRoleRule{AuthorizationBase: b, Role: role}, nil
}

func (r *IsNotInRoleRule) Execute(id Identity) *AuthorizationResult {
	if hasRole(id, r.Role) {
		return r.Result("")
	}
	return nil
}

// IsNotInAnyRoleRule denies identities that have any of Roles. An empty role
// list denies nobody.
type IsNotInAnyRoleRule struct {
	AuthorizationBase
	Roles []string
}

func IsNotInAnyRole(a Action, t Target, roles []string, message string, opts ...Option) (*IsNotInAnyRoleRule, error) {
	for _, r := range roles {
		if strings.TrimSpace(r) == "" {
			return nil, &ArgumentError{Rule: "IsNotInAnyRole", Param: "roles", Reason: "role names must not be empty"}
		}
	}
	b, err := NewAuthorizationBase("IsNotInAnyRole", a, t, message, opts...)
	if err != nil {
		return nil, err
	}
	return &IsNotInAnyRoleRule{AuthorizationBase: b, Roles: append([]string(nil), roles...)}, nil
}

func (r *IsNotInAnyRoleRule) Execute(id Identity) *AuthorizationResult {
	for _, role := range r.Roles {
		if hasRole(id, role) {
			return r.Result("")
		}
	}
	return nil
}
