package domain

import (
	"slices"
	"time"
)

// Legacy capability bits carried in [Authorizations.Classic].
const (
	CapEditUsers     = 2
	CapEmailVerified = 4
	CapEditSystem    = 8
)

// Category is a taxonomy category; Subject is empty for archive-wide categories.
type Category struct {
	Archive string
	Subject string
}

// String renders the category as archive.subject, or archive alone.
func (c Category) String() string {
	if c.Subject == "" {
		return c.Archive
	}
	return c.Archive + "." + c.Subject
}

// Authorizations are the claims that decide what a session may do.
type Authorizations struct {
	Classic      int
	Scopes       []Scope
	Endorsements []Category
}

// HasScope reports whether any held scope grants want.
func (a Authorizations) HasScope(want Scope) bool {
	for _, held := range a.Scopes {
		if held.Grants(want) {
			return true
		}
	}
	return false
}

// Endorsed reports whether the authorizations include an endorsement for cat,
// either exactly or through an archive-wide endorsement.
func (a Authorizations) Endorsed(cat Category) bool {
	for _, e := range a.Endorsements {
		if e == cat || (e.Archive == cat.Archive && e.Subject == "") {
			return true
		}
	}
	return false
}

// HasCapability reports whether the classic bitmask has every bit in capability set.
func (a Authorizations) HasCapability(capability int) bool {
	return a.Classic&capability == capability
}

// UserFullName is a user's display name.
type UserFullName struct {
	Forename string
	Surname  string
	Suffix   string
}

// UserProfile is optional profile data carried with a user.
type UserProfile struct {
	Organization     string
	Country          string
	Rank             int
	SubmissionGroups []string
	DefaultCategory  *Category
	HomepageURL      string
	RememberMe       bool
}

// User is an authenticated arXiv user.
type User struct {
	UserID   string
	Username string
	Email    string
	Name     *UserFullName
	Profile  *UserProfile
	Verified bool
}

// Client is an authenticated API client.
type Client struct {
	ClientID    string
	OwnerID     string
	Name        string
	URL         string
	Description string
	RedirectURI string
}

// Session is an authenticated principal and its authorizations. Exactly one of
// User and Client is normally set. EndTime nil means no expiry has been set.
type Session struct {
	SessionID      string
	StartTime      time.Time
	EndTime        *time.Time
	User           *User
	Client         *Client
	Authorizations Authorizations
	IPAddress      string
	RemoteHost     string
	Nonce          string
}

// Expired reports whether EndTime is set and now is at or after it.
func (s *Session) Expired(now time.Time) bool {
	return s.EndTime != nil && !now.Before(*s.EndTime)
}

// Anonymous reports whether the session has neither a user nor a client.
func (s *Session) Anonymous() bool {
	return s.User == nil && s.Client == nil
}

// Principal returns the user ID or client ID, and whether it is a client.
func (s *Session) Principal() (id string, client bool) {
	switch {
	case s.User != nil:
		return s.User.UserID, false
	case s.Client != nil:
		return s.Client.ClientID, true
	default:
		return "", false
	}
}

// Equal compares two sessions field by field. Times are compared as instants
// and nil slices equal empty slices.
func (s *Session) Equal(o *Session) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.SessionID != o.SessionID ||
		!s.StartTime.Equal(o.StartTime) ||
		s.IPAddress != o.IPAddress ||
		s.RemoteHost != o.RemoteHost ||
		s.Nonce != o.Nonce {
		return false
	}
	if (s.EndTime == nil) != (o.EndTime == nil) {
		return false
	}
	if s.EndTime != nil && !s.EndTime.Equal(*o.EndTime) {
		return false
	}
	if !equalPtr(s.User, o.User, (*User).equal) {
		return false
	}
	if !equalPtr(s.Client, o.Client, func(a, b *Client) bool { return *a == *b }) {
		return false
	}
	return s.Authorizations.equal(o.Authorizations)
}

func (a Authorizations) equal(o Authorizations) bool {
	return a.Classic == o.Classic &&
		slices.Equal(a.Scopes, o.Scopes) &&
		slices.Equal(a.Endorsements, o.Endorsements)
}

func (u *User) equal(o *User) bool {
	if u.UserID != o.UserID || u.Username != o.Username || u.Email != o.Email || u.Verified != o.Verified {
		return false
	}
	if !equalPtr(u.Name, o.Name, func(a, b *UserFullName) bool { return *a == *b }) {
		return false
	}
	return equalPtr(u.Profile, o.Profile, (*UserProfile).equal)
}

func (p *UserProfile) equal(o *UserProfile) bool {
	return p.Organization == o.Organization &&
		p.Country == o.Country &&
		p.Rank == o.Rank &&
		slices.Equal(p.SubmissionGroups, o.SubmissionGroups) &&
		equalPtr(p.DefaultCategory, o.DefaultCategory, func(a, b *Category) bool { return *a == *b }) &&
		p.HomepageURL == o.HomepageURL &&
		p.RememberMe == o.RememberMe
}

func equalPtr[T any](a, b *T, eq func(a, b *T) bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return eq(a, b)
}
