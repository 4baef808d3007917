package metadata

// UserContext represents the authenticated user, set by auth middleware.
// A nil *UserContext is an anonymous caller with no roles.
type UserContext struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole checks whether the user has a specific role.
func (u *UserContext) HasRole(role string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsInRole lets a UserContext act as the identity of authorization rules.
func (u *UserContext) IsInRole(role string) bool { return u.HasRole(role) }

// IsAdmin checks whether the user has the admin role.
func (u *UserContext) IsAdmin() bool {
	return u.HasRole("admin")
}
