package auth

import "slices"

// Reserved argument keys. The gateway injects the resolved identity into every
// tool call under these keys; a client-supplied argument with the same key is
// silently shadowed, never honored.
var ReservedArgumentKeys = []string{"tenantId", "userId", "email"}

// Context is the resolved (tenant, user) tuple produced by the resolver. It is
// immutable for the lifetime of one request.
type Context struct {
	TenantID string
	UserID   string
	Email    string
	Roles    []string
	// Method names the strategy that produced this context.
	Method string
}

// adminRoles are the role names that satisfy a requiresAdmin tool annotation.
var adminRoles = []string{"admin", "owner"}

// IsAdmin reports whether the principal carries an admin-equivalent role.
func (c *Context) IsAdmin() bool {
	for _, r := range c.Roles {
		if slices.Contains(adminRoles, r) {
			return true
		}
	}
	return false
}
