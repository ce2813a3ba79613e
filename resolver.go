package arxivauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/internal/logging"
	"github.com/arxiv/arxiv-auth/jwt"
	"go.uber.org/zap"
)

// Store is the contract shared by the key-value and classic session stores.
type Store interface {
	Create(ctx context.Context, user *domain.User, auths domain.Authorizations, ip, remoteHost, trackingCookie string) (*domain.Session, string, error)
	Load(ctx context.Context, cookie string) (*domain.Session, error)
	Invalidate(ctx context.Context, cookie string) error
}

// Source says where a resolved session came from.
type Source int

const (
	SourceNone Source = iota
	SourceHeader
	SourceSession
	SourceClassic
)

func (s Source) String() string {
	switch s {
	case SourceHeader:
		return "header"
	case SourceSession:
		return "session"
	case SourceClassic:
		return "classic"
	default:
		return "none"
	}
}

// Credentials are the raw values a request presented.
type Credentials struct {
	// Bearer is the token from "Authorization: Bearer <token>".
	Bearer string
	// Session is the key-value session pointer cookie.
	Session string
	// Classic holds every classic cookie value in request order. Overlapping
	// cookie domains can produce more than one.
	Classic []string
}

// Empty reports whether no credential was presented.
func (c Credentials) Empty() bool {
	return c.Bearer == "" && c.Session == "" && len(c.Classic) == 0
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Session *domain.Session
	Source  Source
	// Rejection is the first failure seen when nothing validated. It is nil
	// for a request that presented no credentials.
	Rejection error
}

// Anonymous reports whether no session was resolved.
func (r Resolution) Anonymous() bool {
	return r.Session == nil
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Codec *jwt.Codec
	// Sessions is the key-value store. Required.
	Sessions Store
	// Classic is the classic store; nil disables classic cookies.
	Classic           Store
	SessionCookieName string
	ClassicCookieName string
	Metrics           *Metrics
	Logger            *zap.Logger
	Now               func() time.Time
}

// Resolver turns request credentials into a session.
type Resolver struct {
	codec         *jwt.Codec
	sessions      Store
	classic       Store
	sessionCookie string
	classicCookie string
	metrics       *Metrics
	logger        *zap.Logger
	now           func() time.Time
}

// NewResolver validates cfg and returns a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Codec == nil {
		return nil, fmt.Errorf("%w: resolver requires a codec", ErrConfig)
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("%w: resolver requires a session store", ErrConfig)
	}
	if cfg.SessionCookieName == "" {
		return nil, fmt.Errorf("%w: resolver requires a session cookie name", ErrConfig)
	}
	if cfg.Classic != nil && cfg.ClassicCookieName == "" {
		return nil, fmt.Errorf("%w: resolver requires a classic cookie name", ErrConfig)
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Resolver{
		codec:         cfg.Codec,
		sessions:      cfg.Sessions,
		classic:       cfg.Classic,
		sessionCookie: cfg.SessionCookieName,
		classicCookie: cfg.ClassicCookieName,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}, nil
}

// Credentials extracts the bearer token and cookies from r. Classic cookies
// are collected only when a classic store is configured.
func (rv *Resolver) Credentials(r *http.Request) Credentials {
	var c Credentials
	c.Bearer, _ = bearerToken(r.Header.Get("Authorization"))
	for _, ck := range r.Cookies() {
		switch {
		case ck.Name == rv.sessionCookie && c.Session == "":
			c.Session = ck.Value
		case rv.classic != nil && ck.Name == rv.classicCookie && ck.Value != "":
			c.Classic = append(c.Classic, ck.Value)
		}
	}
	return c
}

// ResolveRequest is Resolve with credentials taken from r.
func (rv *Resolver) ResolveRequest(r *http.Request) (Resolution, error) {
	return rv.Resolve(r.Context(), rv.Credentials(r))
}

// Resolve tries the header token, then the session cookie, then each classic
// cookie, and returns the first session that validates. An error attached
// with WithUpstreamError is returned as is. When nothing validates and a
// store was unreachable, the outage is returned as the error; otherwise a
// failed resolution is anonymous with Rejection set.
func (rv *Resolver) Resolve(ctx context.Context, c Credentials) (Resolution, error) {
	if err := UpstreamError(ctx); err != nil {
		return Resolution{}, err
	}
	start := time.Now()
	defer func() { rv.metrics.Observe(MetricResolveLatency, time.Since(start)) }()

	var rejection, outage error
	reject := func(err error) {
		rv.count(err)
		if IsUnavailable(err) {
			if outage == nil {
				outage = err
			}
			return
		}
		if rejection == nil {
			rejection = err
		}
	}

	if c.Bearer != "" {
		sess, err := rv.decodeHeader(c.Bearer)
		if err == nil {
			return rv.resolved(sess, SourceHeader), nil
		}
		rv.logger.Info("header token rejected", zap.Error(err))
		reject(err)
	}

	if c.Session != "" {
		sess, err := rv.sessions.Load(ctx, c.Session)
		if err == nil {
			return rv.resolved(sess, SourceSession), nil
		}
		rv.logger.Info("session cookie rejected", zap.Error(err))
		reject(err)
	}

	if rv.classic != nil {
		for i, cookie := range c.Classic {
			sess, err := rv.classic.Load(ctx, cookie)
			if err == nil {
				return rv.resolved(sess, SourceClassic), nil
			}
			rv.logger.Debug("classic cookie candidate rejected", zap.Int("candidate", i), zap.Error(err))
			reject(err)
		}
	}

	rv.metrics.Inc(MetricResolveAnonymous)
	if outage != nil {
		return Resolution{Rejection: rejection}, outage
	}
	return Resolution{Rejection: rejection}, nil
}

// decodeHeader verifies a full claims token. The token carries the whole
// session, so expiry and principal are checked here rather than in a store.
func (rv *Resolver) decodeHeader(token string) (*domain.Session, error) {
	sess, err := rv.codec.Decode(token)
	if err != nil {
		return nil, err
	}
	if sess.Anonymous() {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, ErrMissingPrincipal)
	}
	if sess.Expired(rv.now()) {
		return nil, fmt.Errorf("%w: %w: session %s", ErrInvalidToken, ErrSessionExpired, sess.SessionID)
	}
	return sess, nil
}

func (rv *Resolver) resolved(sess *domain.Session, src Source) Resolution {
	switch src {
	case SourceHeader:
		rv.metrics.Inc(MetricResolveHeader)
	case SourceSession:
		rv.metrics.Inc(MetricResolveSession)
	case SourceClassic:
		rv.metrics.Inc(MetricResolveClassic)
	}
	id, _ := sess.Principal()
	rv.logger.Debug("session resolved", zap.Stringer("source", src), zap.String("session_id", sess.SessionID), zap.String("principal", id))
	return Resolution{Session: sess, Source: src}
}

func (rv *Resolver) count(err error) {
	switch {
	case errors.Is(err, ErrUnavailable):
		rv.metrics.Inc(MetricClassicUnavailable)
	case errors.Is(err, ErrRedisUnavailable):
		rv.metrics.Inc(MetricRedisUnavailable)
	case errors.Is(err, ErrSessionExpired):
		rv.metrics.Inc(MetricSessionExpired)
	case errors.Is(err, ErrUnknownSession):
		rv.metrics.Inc(MetricUnknownSession)
	case errors.Is(err, ErrInvalidCookie):
		rv.metrics.Inc(MetricInvalidCookie)
	default:
		rv.metrics.Inc(MetricInvalidToken)
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
