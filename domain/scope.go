package domain

import (
	"errors"
	"strings"
)

// GlobalResource is the explicit "any resource" marker produced by [Scope.AsGlobal].
// It is distinct from an empty resource, which means the scope is unscoped.
const GlobalResource = "*"

// ErrInvalidScope is returned by [ParseScope] for strings that are not domain:action[:resource].
var ErrInvalidScope = errors.New("invalid scope")

// Scope is a capability triple. An empty Resource means unscoped for the domain/action pair.
type Scope struct {
	Domain   string
	Action   string
	Resource string
}

// Common scopes granted to legacy users.
var (
	ScopeEditProfile      = Scope{Domain: "profile", Action: "update"}
	ScopeViewProfile      = Scope{Domain: "profile", Action: "read"}
	ScopeCreateSubmission = Scope{Domain: "submission", Action: "create"}
	ScopeEditSubmission   = Scope{Domain: "submission", Action: "update"}
	ScopeViewSubmission   = Scope{Domain: "submission", Action: "read"}
	ScopeProxySubmission  = Scope{Domain: "submission", Action: "proxy"}
)

// GeneralUserScopes returns the scopes of an ordinary public user.
func GeneralUserScopes() []Scope {
	return []Scope{
		ScopeEditProfile,
		ScopeViewProfile,
		ScopeCreateSubmission,
		ScopeEditSubmission,
		ScopeViewSubmission,
	}
}

// AdminUserScopes returns the scopes of an administrator.
func AdminUserScopes() []Scope {
	return append(GeneralUserScopes(),
		ScopeProxySubmission,
		ScopeEditProfile.AsGlobal(),
		ScopeViewProfile.AsGlobal(),
		ScopeEditSubmission.AsGlobal(),
		ScopeViewSubmission.AsGlobal(),
	)
}

// ParseScope parses "domain:action" or "domain:action:resource".
func ParseScope(s string) (Scope, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Scope{}, ErrInvalidScope
	}
	scope := Scope{Domain: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		if parts[2] == "" {
			return Scope{}, ErrInvalidScope
		}
		scope.Resource = parts[2]
	}
	return scope, nil
}

// String renders the scope as domain:action or domain:action:resource.
func (s Scope) String() string {
	if s.Resource == "" {
		return s.Domain + ":" + s.Action
	}
	return s.Domain + ":" + s.Action + ":" + s.Resource
}

// AsGlobal returns the same domain/action with the explicit global resource.
func (s Scope) AsGlobal() Scope {
	return Scope{Domain: s.Domain, Action: s.Action, Resource: GlobalResource}
}

// ForResource returns the same domain/action bound to resource.
func (s Scope) ForResource(resource string) Scope {
	return Scope{Domain: s.Domain, Action: s.Action, Resource: resource}
}

// IsGlobal reports whether the scope carries the explicit global resource.
func (s Scope) IsGlobal() bool {
	return s.Resource == GlobalResource
}

// Grants reports whether holding s authorizes want. A global scope grants every
// resource of its domain/action; otherwise the triple must match exactly.
func (s Scope) Grants(want Scope) bool {
	if s.Domain != want.Domain || s.Action != want.Action {
		return false
	}
	if s.IsGlobal() {
		return true
	}
	return s.Resource == want.Resource
}
