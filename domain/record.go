package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedRecord is returned by FromRecord when a record is structurally invalid.
var ErrMalformedRecord = errors.New("malformed session record")

// SessionRecord is the wire form of a Session. Timestamps are ISO-8601 strings.
type SessionRecord struct {
	SessionID      string               `json:"session_id"`
	StartTime      string               `json:"start_time"`
	EndTime        *string              `json:"end_time"`
	User           *UserRecord          `json:"user"`
	Client         *ClientRecord        `json:"client"`
	Authorizations AuthorizationsRecord `json:"authorizations"`
	IPAddress      string               `json:"ip_address,omitempty"`
	RemoteHost     string               `json:"remote_host,omitempty"`
	Nonce          string               `json:"nonce,omitempty"`
}

// UserRecord is the wire form of a User.
type UserRecord struct {
	UserID   string              `json:"user_id"`
	Username string              `json:"username"`
	Email    string              `json:"email"`
	Name     *UserFullNameRecord `json:"name,omitempty"`
	Profile  *UserProfileRecord  `json:"profile,omitempty"`
	Verified bool                `json:"verified"`
}

// UserFullNameRecord is the wire form of a UserFullName.
type UserFullNameRecord struct {
	Forename string `json:"forename"`
	Surname  string `json:"surname"`
	Suffix   string `json:"suffix"`
}

// UserProfileRecord is the wire form of a UserProfile.
type UserProfileRecord struct {
	Organization     string          `json:"organization"`
	Country          string          `json:"country"`
	Rank             int             `json:"rank"`
	SubmissionGroups []string        `json:"submission_groups"`
	DefaultCategory  *CategoryRecord `json:"default_category"`
	HomepageURL      string          `json:"homepage_url"`
	RememberMe       bool            `json:"remember_me"`
}

// ClientRecord is the wire form of a Client.
type ClientRecord struct {
	ClientID    string `json:"client_id"`
	OwnerID     string `json:"owner_id,omitempty"`
	Name        string `json:"name,omitempty"`
	URL         string `json:"url,omitempty"`
	Description string `json:"description,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

// AuthorizationsRecord is the wire form of Authorizations.
type AuthorizationsRecord struct {
	Classic      int              `json:"classic"`
	Scopes       []ScopeRecord    `json:"scopes"`
	Endorsements []CategoryRecord `json:"endorsements"`
}

// ScopeRecord is the wire form of a Scope. A nil Resource is an unscoped scope.
type ScopeRecord struct {
	Domain   string  `json:"domain"`
	Action   string  `json:"action"`
	Resource *string `json:"resource"`
}

// CategoryRecord is the wire form of a Category. A nil Subject is an archive-wide category.
type CategoryRecord struct {
	Archive string  `json:"archive"`
	Subject *string `json:"subject"`
}

// FormatTime renders t as ISO-8601 with sub-second precision.
func FormatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ParseTime parses an ISO-8601 timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", ErrMalformedRecord, s)
	}
	return t, nil
}

// ToRecord converts a Session to its wire form.
func ToRecord(s *Session) SessionRecord {
	rec := SessionRecord{
		SessionID:  s.SessionID,
		StartTime:  FormatTime(s.StartTime),
		IPAddress:  s.IPAddress,
		RemoteHost: s.RemoteHost,
		Nonce:      s.Nonce,
		Authorizations: AuthorizationsRecord{
			Classic:      s.Authorizations.Classic,
			Scopes:       make([]ScopeRecord, 0, len(s.Authorizations.Scopes)),
			Endorsements: make([]CategoryRecord, 0, len(s.Authorizations.Endorsements)),
		},
	}
	if s.EndTime != nil {
		end := FormatTime(*s.EndTime)
		rec.EndTime = &end
	}
	for _, scope := range s.Authorizations.Scopes {
		rec.Authorizations.Scopes = append(rec.Authorizations.Scopes, ScopeRecord{
			Domain:   scope.Domain,
			Action:   scope.Action,
			Resource: optional(scope.Resource),
		})
	}
	for _, cat := range s.Authorizations.Endorsements {
		rec.Authorizations.Endorsements = append(rec.Authorizations.Endorsements, categoryRecord(cat))
	}
	if s.User != nil {
		u := s.User
		rec.User = &UserRecord{
			UserID:   u.UserID,
			Username: u.Username,
			Email:    u.Email,
			Verified: u.Verified,
		}
		if u.Name != nil {
			rec.User.Name = &UserFullNameRecord{Forename: u.Name.Forename, Surname: u.Name.Surname, Suffix: u.Name.Suffix}
		}
		if u.Profile != nil {
			p := u.Profile
			rec.User.Profile = &UserProfileRecord{
				Organization:     p.Organization,
				Country:          p.Country,
				Rank:             p.Rank,
				SubmissionGroups: p.SubmissionGroups,
				HomepageURL:      p.HomepageURL,
				RememberMe:       p.RememberMe,
			}
			if p.DefaultCategory != nil {
				cat := categoryRecord(*p.DefaultCategory)
				rec.User.Profile.DefaultCategory = &cat
			}
		}
	}
	if s.Client != nil {
		c := ClientRecord(*s.Client)
		rec.Client = &c
	}
	return rec
}

// FromRecord reconstructs a Session from its wire form. Missing identifiers,
// unparseable timestamps and incomplete nested records yield ErrMalformedRecord.
func FromRecord(rec SessionRecord) (*Session, error) {
	if rec.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session_id", ErrMalformedRecord)
	}
	start, err := ParseTime(rec.StartTime)
	if err != nil {
		return nil, err
	}
	s := &Session{
		SessionID:  rec.SessionID,
		StartTime:  start,
		IPAddress:  rec.IPAddress,
		RemoteHost: rec.RemoteHost,
		Nonce:      rec.Nonce,
		Authorizations: Authorizations{
			Classic: rec.Authorizations.Classic,
		},
	}
	if rec.EndTime != nil {
		end, err := ParseTime(*rec.EndTime)
		if err != nil {
			return nil, err
		}
		s.EndTime = &end
	}
	for _, sr := range rec.Authorizations.Scopes {
		if sr.Domain == "" || sr.Action == "" {
			return nil, fmt.Errorf("%w: incomplete scope", ErrMalformedRecord)
		}
		s.Authorizations.Scopes = append(s.Authorizations.Scopes, Scope{
			Domain:   sr.Domain,
			Action:   sr.Action,
			Resource: deref(sr.Resource),
		})
	}
	for _, cr := range rec.Authorizations.Endorsements {
		cat, err := categoryFromRecord(cr)
		if err != nil {
			return nil, err
		}
		s.Authorizations.Endorsements = append(s.Authorizations.Endorsements, cat)
	}
	if rec.User != nil {
		ur := rec.User
		if ur.UserID == "" {
			return nil, fmt.Errorf("%w: user without user_id", ErrMalformedRecord)
		}
		s.User = &User{
			UserID:   ur.UserID,
			Username: ur.Username,
			Email:    ur.Email,
			Verified: ur.Verified,
		}
		if ur.Name != nil {
			s.User.Name = &UserFullName{Forename: ur.Name.Forename, Surname: ur.Name.Surname, Suffix: ur.Name.Suffix}
		}
		if ur.Profile != nil {
			pr := ur.Profile
			s.User.Profile = &UserProfile{
				Organization:     pr.Organization,
				Country:          pr.Country,
				Rank:             pr.Rank,
				SubmissionGroups: pr.SubmissionGroups,
				HomepageURL:      pr.HomepageURL,
				RememberMe:       pr.RememberMe,
			}
			if pr.DefaultCategory != nil {
				cat, err := categoryFromRecord(*pr.DefaultCategory)
				if err != nil {
					return nil, err
				}
				s.User.Profile.DefaultCategory = &cat
			}
		}
	}
	if rec.Client != nil {
		if rec.Client.ClientID == "" {
			return nil, fmt.Errorf("%w: client without client_id", ErrMalformedRecord)
		}
		c := Client(*rec.Client)
		s.Client = &c
	}
	return s, nil
}

func categoryRecord(c Category) CategoryRecord {
	return CategoryRecord{Archive: c.Archive, Subject: optional(c.Subject)}
}

func categoryFromRecord(r CategoryRecord) (Category, error) {
	if r.Archive == "" {
		return Category{}, fmt.Errorf("%w: category without archive", ErrMalformedRecord)
	}
	return Category{Archive: r.Archive, Subject: deref(r.Subject)}, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
