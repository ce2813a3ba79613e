package legacy

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Scheme selects the classic cookie signature convention.
type Scheme string

const (
	// SchemeSHA1 signs with SHA-1 and drops the trailing base64 padding character.
	SchemeSHA1 Scheme = "sha1"
	// SchemeSHA256 signs with SHA-256 and keeps the base64 padding.
	SchemeSHA256 Scheme = "sha256"
)

const cookieFields = 6

// ParseScheme validates a configured scheme name. Empty means SchemeSHA1.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(strings.ToLower(strings.TrimSpace(s))) {
	case "", SchemeSHA1:
		return SchemeSHA1, nil
	case SchemeSHA256:
		return SchemeSHA256, nil
	default:
		return "", fmt.Errorf("legacy: unknown signature scheme %q", s)
	}
}

// Cookie is the content of a classic session cookie. ExpiresAt is derived
// from IssuedAt and the configured session duration when unpacking.
type Cookie struct {
	SessionID    string
	UserID       string
	IP           string
	IssuedAt     time.Time
	ExpiresAt    time.Time
	Capabilities int
}

// CookieCodec packs and unpacks classic cookies.
type CookieCodec struct {
	secret   string
	duration time.Duration
	scheme   Scheme
}

// NewCookieCodec returns a codec signing with the classic session hash.
func NewCookieCodec(sessionHash string, duration time.Duration, scheme Scheme) (*CookieCodec, error) {
	if sessionHash == "" {
		return nil, errors.New("legacy: empty session hash")
	}
	if duration <= 0 {
		return nil, errors.New("legacy: session duration must be positive")
	}
	if scheme == "" {
		scheme = SchemeSHA1
	}
	if _, err := ParseScheme(string(scheme)); err != nil {
		return nil, err
	}
	return &CookieCodec{secret: sessionHash, duration: duration, scheme: scheme}, nil
}

// Duration returns the configured session duration.
func (c *CookieCodec) Duration() time.Duration {
	return c.duration
}

// Pack builds the signed cookie value. Identifier fields must not contain ':'.
func (c *CookieCodec) Pack(ck Cookie) (string, error) {
	if err := checkFields(ck.SessionID, ck.UserID, ck.IP); err != nil {
		return "", err
	}
	return c.pack(ck.SessionID, ck.UserID, ck.IP, Epoch(ck.IssuedAt), ck.Capabilities), nil
}

// Unpack verifies cookie and returns its fields.
func (c *CookieCodec) Unpack(cookie string) (Cookie, error) {
	parts := strings.Split(cookie, ":")
	if len(parts) != cookieFields {
		return Cookie{}, fmt.Errorf("%w: expected %d fields, got %d", ErrInvalidCookie, cookieFields, len(parts))
	}
	issued, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return Cookie{}, fmt.Errorf("%w: issued_at is not an integer", ErrInvalidCookie)
	}
	capabilities, err := strconv.Atoi(parts[4])
	if err != nil {
		return Cookie{}, fmt.Errorf("%w: capabilities is not an integer", ErrInvalidCookie)
	}

	expected := c.pack(parts[0], parts[1], parts[2], issued, capabilities)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(cookie)) != 1 {
		return Cookie{}, fmt.Errorf("%w: signature mismatch", ErrInvalidCookie)
	}

	issuedAt := FromEpoch(issued)
	return Cookie{
		SessionID:    parts[0],
		UserID:       parts[1],
		IP:           parts[2],
		IssuedAt:     issuedAt,
		ExpiresAt:    issuedAt.Add(c.duration),
		Capabilities: capabilities,
	}, nil
}

func (c *CookieCodec) pack(sessionID, userID, ip string, issued int64, capabilities int) string {
	value := strings.Join([]string{
		sessionID,
		userID,
		ip,
		strconv.FormatInt(issued, 10),
		strconv.Itoa(capabilities),
	}, ":")
	return value + ":" + c.sign(value)
}

func (c *CookieCodec) sign(value string) string {
	toSign := []byte(value + "-" + c.secret)
	switch c.scheme {
	case SchemeSHA256:
		sum := sha256.Sum256(toSign)
		return base64.StdEncoding.EncodeToString(sum[:])
	default:
		sum := sha1.Sum(toSign)
		encoded := base64.StdEncoding.EncodeToString(sum[:])
		return encoded[:len(encoded)-1]
	}
}

func checkFields(fields ...string) error {
	for _, f := range fields {
		if strings.Contains(f, ":") {
			return fmt.Errorf("%w: field %q contains ':'", ErrInvalidCookie, f)
		}
	}
	return nil
}
