// Package domaintest provides rapid generators for domain values.
package domaintest

import (
	"time"
	"unicode"

	"github.com/arxiv/arxiv-auth/domain"
	"pgregory.net/rapid"
)

var (
	ident = rapid.StringMatching(`[a-z][a-z0-9_-]{0,11}`)
	text  = rapid.StringOf(rapid.RuneFrom(nil, unicode.L, unicode.N, unicode.P, unicode.Zs))
)

// Time draws a UTC instant with nanosecond precision.
func Time() *rapid.Generator[time.Time] {
	return rapid.Custom(func(t *rapid.T) time.Time {
		sec := rapid.Int64Range(0, 4_000_000_000).Draw(t, "sec")
		nsec := rapid.Int64Range(0, 999_999_999).Draw(t, "nsec")
		return time.Unix(sec, nsec).UTC()
	})
}

// Scope draws a scope that is unscoped, resource-bound or global.
func Scope() *rapid.Generator[domain.Scope] {
	return rapid.Custom(func(t *rapid.T) domain.Scope {
		s := domain.Scope{Domain: ident.Draw(t, "domain"), Action: ident.Draw(t, "action")}
		switch rapid.IntRange(0, 2).Draw(t, "resource_kind") {
		case 1:
			s.Resource = ident.Draw(t, "resource")
		case 2:
			s = s.AsGlobal()
		}
		return s
	})
}

// Category draws an archive-wide or subject category.
func Category() *rapid.Generator[domain.Category] {
	return rapid.Custom(func(t *rapid.T) domain.Category {
		c := domain.Category{Archive: ident.Draw(t, "archive")}
		if rapid.Bool().Draw(t, "has_subject") {
			c.Subject = ident.Draw(t, "subject")
		}
		return c
	})
}

// User draws a user with optional name and profile.
func User() *rapid.Generator[*domain.User] {
	return rapid.Custom(func(t *rapid.T) *domain.User {
		u := &domain.User{
			UserID:   rapid.StringMatching(`[1-9][0-9]{0,8}`).Draw(t, "user_id"),
			Username: text.Draw(t, "username"),
			Email:    text.Draw(t, "email"),
			Verified: rapid.Bool().Draw(t, "verified"),
		}
		if rapid.Bool().Draw(t, "has_name") {
			u.Name = &domain.UserFullName{
				Forename: text.Draw(t, "forename"),
				Surname:  text.Draw(t, "surname"),
				Suffix:   text.Draw(t, "suffix"),
			}
		}
		if rapid.Bool().Draw(t, "has_profile") {
			u.Profile = &domain.UserProfile{
				Organization:     text.Draw(t, "organization"),
				Country:          text.Draw(t, "country"),
				Rank:             rapid.IntRange(1, 5).Draw(t, "rank"),
				SubmissionGroups: rapid.SliceOf(ident).Draw(t, "groups"),
				HomepageURL:      text.Draw(t, "homepage"),
				RememberMe:       rapid.Bool().Draw(t, "remember_me"),
			}
			if rapid.Bool().Draw(t, "has_default_category") {
				cat := Category().Draw(t, "default_category")
				u.Profile.DefaultCategory = &cat
			}
		}
		return u
	})
}

// Client draws an API client.
func Client() *rapid.Generator[*domain.Client] {
	return rapid.Custom(func(t *rapid.T) *domain.Client {
		return &domain.Client{
			ClientID:    ident.Draw(t, "client_id"),
			OwnerID:     text.Draw(t, "owner_id"),
			Name:        text.Draw(t, "name"),
			URL:         text.Draw(t, "url"),
			Description: text.Draw(t, "description"),
			RedirectURI: text.Draw(t, "redirect_uri"),
		}
	})
}

// Session draws a user or client session with arbitrary authorizations.
func Session() *rapid.Generator[*domain.Session] {
	return rapid.Custom(func(t *rapid.T) *domain.Session {
		s := &domain.Session{
			SessionID:  rapid.StringMatching(`[0-9a-f-]{1,36}`).Draw(t, "session_id"),
			StartTime:  Time().Draw(t, "start_time"),
			IPAddress:  text.Draw(t, "ip"),
			RemoteHost: text.Draw(t, "remote_host"),
			Nonce:      rapid.StringMatching(`[0-9]{0,8}`).Draw(t, "nonce"),
			Authorizations: domain.Authorizations{
				Classic:      rapid.IntRange(0, 14).Draw(t, "classic"),
				Scopes:       rapid.SliceOf(Scope()).Draw(t, "scopes"),
				Endorsements: rapid.SliceOf(Category()).Draw(t, "endorsements"),
			},
		}
		if rapid.Bool().Draw(t, "has_end") {
			end := Time().Draw(t, "end_time")
			s.EndTime = &end
		}
		if rapid.Bool().Draw(t, "is_client") {
			s.Client = Client().Draw(t, "client")
		} else {
			s.User = User().Draw(t, "user")
		}
		return s
	})
}
