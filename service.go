package arxivauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/internal/audit"
	"github.com/arxiv/arxiv-auth/internal/rate"
	"github.com/arxiv/arxiv-auth/jwt"
	"go.uber.org/zap"
)

// UserStore authenticates users. legacy.Users implements it.
type UserStore interface {
	Authenticate(ctx context.Context, usernameOrEmail, password string) (*domain.User, domain.Authorizations, error)
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)
}

// LoginRequest carries one login attempt.
type LoginRequest struct {
	Username       string
	Password       string
	IP             string
	RemoteHost     string
	TrackingCookie string
}

// CookieSpec describes a cookie to set on the response.
type CookieSpec struct {
	Name   string
	Value  string
	MaxAge int
	Domain string
	Secure bool
}

// HTTPCookie renders the spec. Session cookies are always HttpOnly.
func (c CookieSpec) HTTPCookie() *http.Cookie {
	return &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   c.MaxAge,
		Secure:   c.Secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// LoginResult is a completed login.
type LoginResult struct {
	Session       *domain.Session
	SessionCookie string
	// ClassicCookie is empty when the classic store is not configured.
	ClassicCookie string
	Cookies       []CookieSpec
}

// Service is the login/logout controller. It owns both session stores and
// the Resolver built over them. Safe for concurrent use.
type Service struct {
	config   Config
	codec    *jwt.Codec
	sessions Store
	classic  Store
	users    UserStore
	resolver *Resolver
	limiter  *rate.Limiter
	audit    *audit.Dispatcher
	metrics  *Metrics
	logger   *zap.Logger
	now      func() time.Time
	closers  []io.Closer
}

// Login authenticates req and creates a session in the key-value store and,
// when configured, the classic store. Both must succeed: if the classic
// session cannot be created the new key-value session is deleted again.
// Repeated failures for a username (and, optionally, an address) are
// refused with ErrLoginThrottled until the cooldown passes.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if s.users == nil {
		return LoginResult{}, fmt.Errorf("%w: no user store configured", ErrConfig)
	}
	ip := req.IP
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	if err := s.limiter.Check(ctx, req.Username, ip); err != nil {
		return LoginResult{}, s.throttled(ctx, req.Username, ip, err)
	}

	user, auths, err := s.users.Authenticate(ctx, req.Username, req.Password)
	if err != nil {
		s.metrics.Inc(MetricLoginFailure)
		s.logger.Info("login failed", zap.Error(err))
		s.emit(ctx, AuditEvent{EventType: AuditLoginFailure, Username: req.Username, IP: ip, Error: err.Error()})
		if errors.Is(err, ErrAuthenticationFailed) {
			if rerr := s.limiter.RecordFailure(ctx, req.Username, ip); rerr != nil && !errors.Is(rerr, rate.ErrRateLimited) {
				s.logger.Warn("could not record failed login", zap.Error(rerr))
			}
		}
		return LoginResult{}, err
	}
	if !user.Verified {
		s.metrics.Inc(MetricLoginFailure)
		s.logger.Info("login rejected for unverified account", zap.String("user_id", user.UserID))
		s.emit(ctx, AuditEvent{EventType: AuditLoginFailure, UserID: user.UserID, Username: req.Username, IP: ip, Error: ErrAccountUnverified.Error()})
		return LoginResult{}, ErrAccountUnverified
	}

	sess, cookie, err := s.sessions.Create(ctx, user, auths, ip, req.RemoteHost, req.TrackingCookie)
	if err != nil {
		s.metrics.Inc(MetricLoginFailure)
		return LoginResult{}, err
	}
	s.metrics.Inc(MetricSessionCreated)

	res := LoginResult{Session: sess, SessionCookie: cookie}
	res.Cookies = append(res.Cookies, s.sessionCookie(cookie))

	if s.classic != nil {
		_, classicCookie, err := s.classic.Create(ctx, user, auths, ip, req.RemoteHost, req.TrackingCookie)
		if err != nil {
			s.metrics.Inc(MetricLoginFailure)
			if rbErr := s.discard(ctx, sess.SessionID, cookie); rbErr != nil {
				s.logger.Warn("could not discard session after classic login failure",
					zap.String("session_id", sess.SessionID), zap.Error(rbErr))
			} else {
				s.metrics.Inc(MetricSessionDeleted)
			}
			return LoginResult{}, err
		}
		s.metrics.Inc(MetricClassicSessionCreated)
		res.ClassicCookie = classicCookie
		res.Cookies = append(res.Cookies, s.classicCookie(classicCookie))
	}

	if err := s.limiter.Reset(ctx, req.Username, ip); err != nil {
		s.logger.Warn("could not reset login failures", zap.Error(err))
	}
	s.metrics.Inc(MetricLoginSuccess)
	s.logger.Info("login succeeded", zap.String("user_id", user.UserID), zap.String("session_id", sess.SessionID))
	s.emit(ctx, AuditEvent{EventType: AuditLoginSuccess, UserID: user.UserID, Username: req.Username, SessionID: sess.SessionID, IP: ip, Success: true})
	return res, nil
}

func (s *Service) throttled(ctx context.Context, username, ip string, err error) error {
	if !errors.Is(err, rate.ErrRateLimited) {
		return fmt.Errorf("%w: login throttle: %v", ErrRedisUnavailable, err)
	}
	s.metrics.Inc(MetricLoginThrottled)
	s.logger.Info("login throttled", zap.String("username", username))
	s.emit(ctx, AuditEvent{EventType: AuditLoginThrottled, Username: username, IP: ip, Error: err.Error()})
	return err
}

func (s *Service) emit(ctx context.Context, event AuditEvent) {
	if s.audit == nil {
		return
	}
	event.Timestamp = s.now()
	s.audit.Emit(ctx, event)
}

// Logout invalidates every session named by c. Failures are logged and do
// not stop the remaining invalidations. The returned specs clear both cookies.
func (s *Service) Logout(ctx context.Context, c Credentials) []CookieSpec {
	if c.Session != "" {
		if err := s.sessions.Invalidate(ctx, c.Session); err != nil {
			s.logger.Warn("session logout failed", zap.Error(err))
		} else {
			s.metrics.Inc(MetricSessionInvalidated)
		}
	}
	if s.classic != nil {
		for _, cookie := range c.Classic {
			if err := s.classic.Invalidate(ctx, cookie); err != nil {
				s.logger.Warn("classic logout failed", zap.Error(err))
				continue
			}
			s.metrics.Inc(MetricClassicSessionInvalidated)
		}
	}
	s.metrics.Inc(MetricLogout)
	s.emit(ctx, AuditEvent{EventType: AuditLogout, IP: clientIPFromContext(ctx), Success: true})

	specs := []CookieSpec{s.clear(s.config.Session.CookieName)}
	if s.classic != nil {
		specs = append(specs, s.clear(s.config.Classic.CookieName))
	}
	return specs
}

// Resolver returns the resolver over the service's stores.
func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Codec returns the claims token codec.
func (s *Service) Codec() *jwt.Codec {
	return s.codec
}

// IssueToken signs the full claims of sess, as returned by the authenticator.
// The token ends no later than the session's start plus the configured
// session duration, the same bound the session cookies carry.
func (s *Service) IssueToken(sess *domain.Session) (string, error) {
	if sess == nil {
		return "", errors.New("issue token: nil session")
	}
	bounded := *sess
	end := sess.StartTime.Add(s.config.Session.Duration)
	if bounded.EndTime == nil || bounded.EndTime.After(end) {
		bounded.EndTime = &end
	}
	return s.codec.Encode(&bounded)
}

// Config returns the configuration the service was built with.
func (s *Service) Config() Config {
	return s.config
}

// Logger returns the service logger.
func (s *Service) Logger() *zap.Logger {
	return s.logger
}

// Metrics returns the service counters.
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// MetricsSnapshot implements the exporters' metrics source.
func (s *Service) MetricsSnapshot() MetricsSnapshot {
	return s.metrics.Snapshot()
}

// LegacyEnabled reports whether a classic store is attached.
func (s *Service) LegacyEnabled() bool {
	return s.classic != nil
}

type deleter interface {
	Delete(ctx context.Context, sessionID string) error
}

// discard removes a session that was never handed out. Stores without
// Delete get it invalidated instead.
func (s *Service) discard(ctx context.Context, sessionID, cookie string) error {
	if d, ok := s.sessions.(deleter); ok {
		return d.Delete(ctx, sessionID)
	}
	return s.sessions.Invalidate(ctx, cookie)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Health pings each store that supports it. The classic store is reported
// separately because its outage only degrades service.
func (s *Service) Health(ctx context.Context) (sessions, classic error) {
	if p, ok := s.sessions.(pinger); ok {
		sessions = p.Ping(ctx)
	}
	if s.classic != nil {
		if p, ok := s.classic.(pinger); ok {
			classic = p.Ping(ctx)
		}
	}
	return sessions, classic
}

// AuditDropped returns the number of audit events that never reached the sink.
func (s *Service) AuditDropped() uint64 {
	return s.audit.Dropped()
}

// auditFlushTimeout bounds how long Close waits for queued audit events.
const auditFlushTimeout = 5 * time.Second

// Close flushes pending audit events and releases connections the Builder opened.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), auditFlushTimeout)
	defer cancel()
	var errs []error
	if err := s.audit.Close(ctx); err != nil {
		s.logger.Warn("audit events lost on close", zap.Error(err))
		errs = append(errs, err)
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) sessionCookie(value string) CookieSpec {
	return CookieSpec{
		Name:   s.config.Session.CookieName,
		Value:  value,
		MaxAge: int(s.config.Session.Duration / time.Second),
		Domain: s.config.Session.CookieDomain,
		Secure: s.config.Session.CookieSecure,
	}
}

func (s *Service) classicCookie(value string) CookieSpec {
	spec := s.sessionCookie(value)
	spec.Name = s.config.Classic.CookieName
	return spec
}

func (s *Service) clear(name string) CookieSpec {
	return CookieSpec{
		Name:   name,
		MaxAge: -1,
		Domain: s.config.Session.CookieDomain,
		Secure: s.config.Session.CookieSecure,
	}
}
