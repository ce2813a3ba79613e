package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for any signature, algorithm or payload failure.
var ErrInvalidToken = errors.New("invalid token")

// Config holds the signing secret shared by every service.
type Config struct {
	Secret []byte
	// Now is the clock token expiry is checked against; nil means time.Now.
	Now func() time.Time
}

// Codec encodes and decodes session tokens. It is safe for concurrent use.
type Codec struct {
	secret []byte
	parser *jwt.Parser
}

// SessionClaims is the claims set of a full session token.
type SessionClaims struct {
	domain.SessionRecord
	jwt.RegisteredClaims
}

// PointerClaims is the claims set of a pointer cookie.
type PointerClaims struct {
	UserID    string `json:"user_id,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	SessionID string `json:"session_id"`
	Nonce     string `json:"nonce"`
	Expires   string `json:"expires"`
	jwt.RegisteredClaims
}

// Pointer identifies a stored session. Exactly one of UserID and ClientID is set.
type Pointer struct {
	UserID    string
	ClientID  string
	SessionID string
	Nonce     string
	Expires   time.Time
}

// NewCodec returns a Codec for cfg.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("jwt: empty secret")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithStrictDecoding(),
	}
	if cfg.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(cfg.Now))
	}
	return &Codec{
		secret: cfg.Secret,
		parser: jwt.NewParser(opts...),
	}, nil
}

// Encode signs the full claims of s. A session with an end time gets a
// matching "exp" claim.
func (c *Codec) Encode(s *domain.Session) (string, error) {
	if s == nil {
		return "", errors.New("jwt: nil session")
	}
	claims := SessionClaims{SessionRecord: domain.ToRecord(s)}
	if s.EndTime != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*s.EndTime)
	}
	return c.sign(claims)
}

// Decode verifies token and reconstructs the session it carries. A token
// past its "exp" fails with both ErrInvalidToken and domain.ErrSessionExpired.
func (c *Codec) Decode(token string) (*domain.Session, error) {
	var claims SessionClaims
	if err := c.parse(token, &claims); err != nil {
		return nil, err
	}
	s, err := domain.FromRecord(claims.SessionRecord)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return s, nil
}

// EncodePointer signs a pointer cookie.
func (c *Codec) EncodePointer(p Pointer) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	return c.sign(PointerClaims{
		UserID:    p.UserID,
		ClientID:  p.ClientID,
		SessionID: p.SessionID,
		Nonce:     p.Nonce,
		Expires:   domain.FormatTime(p.Expires),
	})
}

// DecodePointer verifies a pointer cookie. Expiry is parsed but not checked here.
func (c *Codec) DecodePointer(token string) (Pointer, error) {
	var claims PointerClaims
	if err := c.parse(token, &claims); err != nil {
		return Pointer{}, err
	}
	expires, err := domain.ParseTime(claims.Expires)
	if err != nil {
		return Pointer{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	p := Pointer{
		UserID:    claims.UserID,
		ClientID:  claims.ClientID,
		SessionID: claims.SessionID,
		Nonce:     claims.Nonce,
		Expires:   expires,
	}
	if err := p.validate(); err != nil {
		return Pointer{}, err
	}
	return p, nil
}

// Principal returns the user or client ID named by the pointer.
func (p Pointer) Principal() string {
	if p.UserID != "" {
		return p.UserID
	}
	return p.ClientID
}

func (p Pointer) validate() error {
	if p.SessionID == "" || p.Nonce == "" {
		return fmt.Errorf("%w: pointer missing session_id or nonce", ErrInvalidToken)
	}
	if (p.UserID == "") == (p.ClientID == "") {
		return fmt.Errorf("%w: pointer must name exactly one of user_id and client_id", ErrInvalidToken)
	}
	return nil
}

func (c *Codec) sign(claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
}

func (c *Codec) parse(token string, claims jwt.Claims) error {
	parsed, err := c.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.secret, nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return fmt.Errorf("%w: %w: %v", ErrInvalidToken, domain.ErrSessionExpired, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}
