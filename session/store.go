package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/internal"
	"github.com/arxiv/arxiv-auth/internal/logging"
	"github.com/arxiv/arxiv-auth/jwt"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrRedisUnavailable wraps transport failures talking to Redis.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionCorrupt is returned when a stored record cannot be decoded.
var ErrSessionCorrupt = errors.New("stored session corrupt")

const maxWatchRetries = 5

// Config configures a Store.
type Config struct {
	Redis    redis.UniversalClient
	Codec    *jwt.Codec
	Duration time.Duration
	// Prefix namespaces keys as "<prefix>:<session_id>". Empty stores bare session IDs.
	Prefix string
	Logger *zap.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Store persists sessions in Redis. It is safe for concurrent use.
type Store struct {
	redis    redis.UniversalClient
	codec    *jwt.Codec
	duration time.Duration
	prefix   string
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore validates cfg and returns a Store.
func NewStore(cfg Config) (*Store, error) {
	if cfg.Redis == nil {
		return nil, errors.New("session: nil redis client")
	}
	if cfg.Codec == nil {
		return nil, errors.New("session: nil codec")
	}
	if cfg.Duration <= 0 {
		return nil, errors.New("session: duration must be positive")
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		redis:    cfg.Redis,
		codec:    cfg.Codec,
		duration: cfg.Duration,
		prefix:   cfg.Prefix,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

func (s *Store) key(sessionID string) string {
	if s.prefix == "" {
		return sessionID
	}
	return s.prefix + ":" + sessionID
}

// Create starts a user session and returns it with its pointer cookie.
func (s *Store) Create(ctx context.Context, user *domain.User, auths domain.Authorizations, ip, remoteHost, trackingCookie string) (*domain.Session, string, error) {
	if user == nil || user.UserID == "" {
		return nil, "", errors.New("session: create requires a user")
	}
	return s.create(ctx, &domain.Session{User: user}, auths, ip, remoteHost)
}

// CreateForClient starts an API client session and returns it with its pointer cookie.
func (s *Store) CreateForClient(ctx context.Context, client *domain.Client, auths domain.Authorizations, ip, remoteHost string) (*domain.Session, string, error) {
	if client == nil || client.ClientID == "" {
		return nil, "", errors.New("session: create requires a client")
	}
	return s.create(ctx, &domain.Session{Client: client}, auths, ip, remoteHost)
}

func (s *Store) create(ctx context.Context, sess *domain.Session, auths domain.Authorizations, ip, remoteHost string) (*domain.Session, string, error) {
	nonce, err := internal.NewNonce(internal.NonceDigits)
	if err != nil {
		return nil, "", fmt.Errorf("%w: nonce: %v", domain.ErrSessionCreationFailed, err)
	}
	sess.SessionID = uuid.NewString()
	sess.StartTime = s.now()
	sess.Authorizations = auths
	sess.IPAddress = ip
	sess.RemoteHost = remoteHost
	sess.Nonce = nonce

	p := jwt.Pointer{
		SessionID: sess.SessionID,
		Nonce:     nonce,
		Expires:   sess.StartTime.Add(s.duration),
	}
	if sess.User != nil {
		p.UserID = sess.User.UserID
	} else {
		p.ClientID = sess.Client.ClientID
	}
	cookie, err := s.codec.EncodePointer(p)
	if err != nil {
		return nil, "", err
	}

	raw, err := json.Marshal(domain.ToRecord(sess))
	if err != nil {
		return nil, "", fmt.Errorf("%w: encode: %v", domain.ErrSessionCreationFailed, err)
	}
	if err := s.redis.Set(ctx, s.key(sess.SessionID), raw, 0).Err(); err != nil {
		return nil, "", fmt.Errorf("%w: %w: %v", domain.ErrSessionCreationFailed, ErrRedisUnavailable, err)
	}

	id, _ := sess.Principal()
	s.logger.Info("session created", zap.String("session_id", sess.SessionID), zap.String("principal", id))
	return sess, cookie, nil
}

// Load verifies a pointer cookie and returns the stored session.
func (s *Store) Load(ctx context.Context, cookie string) (*domain.Session, error) {
	p, err := s.codec.DecodePointer(cookie)
	if err != nil {
		return nil, err
	}
	data, err := s.redis.Get(ctx, s.key(p.SessionID)).Bytes()
	if err != nil {
		return nil, s.readErr(p.SessionID, err)
	}
	sess, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := verify(p, sess); err != nil {
		s.logger.Warn("session cookie does not match stored record", zap.String("session_id", p.SessionID))
		return nil, err
	}
	now := s.now()
	if sess.Expired(now) || !now.Before(p.Expires) {
		return nil, fmt.Errorf("%w: %w: session %s", jwt.ErrInvalidToken, domain.ErrSessionExpired, p.SessionID)
	}
	return sess, nil
}

// Invalidate verifies a pointer cookie and ends its session now. Expired
// sessions may be invalidated; an already-ended session keeps its end time.
func (s *Store) Invalidate(ctx context.Context, cookie string) error {
	p, err := s.codec.DecodePointer(cookie)
	if err != nil {
		return err
	}
	return s.invalidate(ctx, p.SessionID, func(sess *domain.Session) error { return verify(p, sess) })
}

// InvalidateByID ends a session without a cookie. Administrative use only.
func (s *Store) InvalidateByID(ctx context.Context, sessionID string) error {
	return s.invalidate(ctx, sessionID, nil)
}

func (s *Store) invalidate(ctx context.Context, sessionID string, check func(*domain.Session) error) error {
	key := s.key(sessionID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			return s.readErr(sessionID, err)
		}
		sess, err := decode(data)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(sess); err != nil {
				return err
			}
		}
		now := s.now()
		if sess.EndTime != nil && !sess.EndTime.After(now) {
			s.logger.Debug("session already ended", zap.String("session_id", sessionID))
			return nil
		}
		sess.EndTime = &now
		raw, err := json.Marshal(domain.ToRecord(sess))
		if err != nil {
			return fmt.Errorf("%w: encode: %v", domain.ErrSessionDeletionFailed, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.redis.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return s.writeErr(err)
		}
		s.logger.Info("session invalidated", zap.String("session_id", sessionID))
		return nil
	}
	return fmt.Errorf("%w: concurrent updates to session %s", domain.ErrSessionDeletionFailed, sessionID)
}

// Delete removes a session record unconditionally. Deleting a missing
// session is not an error.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.redis.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("%w: %w: %v", domain.ErrSessionDeletionFailed, ErrRedisUnavailable, err)
	}
	s.logger.Info("session deleted", zap.String("session_id", sessionID))
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (s *Store) readErr(sessionID string, err error) error {
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", domain.ErrUnknownSession, sessionID)
	}
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// writeErr passes classified errors through and wraps transport errors.
func (s *Store) writeErr(err error) error {
	for _, known := range []error{
		domain.ErrUnknownSession,
		domain.ErrSessionDeletionFailed,
		jwt.ErrInvalidToken,
		ErrSessionCorrupt,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, ErrRedisUnavailable) {
		return fmt.Errorf("%w: %w", domain.ErrSessionDeletionFailed, err)
	}
	return fmt.Errorf("%w: %w: %v", domain.ErrSessionDeletionFailed, ErrRedisUnavailable, err)
}

func decode(data []byte) (*domain.Session, error) {
	var rec domain.SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	sess, err := domain.FromRecord(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSessionCorrupt, err)
	}
	return sess, nil
}

// verify checks that the stored record is the one the cookie was issued for.
func verify(p jwt.Pointer, sess *domain.Session) error {
	if p.Nonce != sess.Nonce {
		return fmt.Errorf("%w: nonce mismatch for session %s", jwt.ErrInvalidToken, p.SessionID)
	}
	id, client := sess.Principal()
	wantClient := p.ClientID != ""
	if id != p.Principal() || client != wantClient {
		return fmt.Errorf("%w: principal mismatch for session %s", jwt.ErrInvalidToken, p.SessionID)
	}
	return nil
}
