package legacy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/internal/logging"
	"go.uber.org/zap"
)

// StoreConfig configures a Store.
type StoreConfig struct {
	DB     *sql.DB
	Codec  *CookieCodec
	Retry  RetryPolicy
	Logger *zap.Logger
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Store manages classic session rows. Each operation runs in its own transaction.
type Store struct {
	db     *sql.DB
	codec  *CookieCodec
	retry  RetryPolicy
	logger *zap.Logger
	now    func() time.Time
}

// NewStore validates cfg and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("legacy: nil database")
	}
	if cfg.Codec == nil {
		return nil, errors.New("legacy: nil cookie codec")
	}
	if cfg.Retry == (RetryPolicy{}) {
		cfg.Retry = DefaultRetryPolicy()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{db: cfg.DB, codec: cfg.Codec, retry: cfg.Retry, logger: cfg.Logger, now: cfg.Now}, nil
}

// Codec returns the cookie codec used by the store.
func (s *Store) Codec() *CookieCodec {
	return s.codec
}

// Create inserts a session row and its audit row in one transaction and
// returns the session with its cookie. The cookie is built only after commit.
func (s *Store) Create(ctx context.Context, user *domain.User, auths domain.Authorizations, ip, remoteHost, trackingCookie string) (*domain.Session, string, error) {
	if user == nil || user.UserID == "" {
		return nil, "", errors.New("legacy: create requires a user")
	}
	if err := checkFields(user.UserID, ip); err != nil {
		return nil, "", err
	}
	userID, err := strconv.ParseInt(user.UserID, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("legacy: user id %q is not numeric", user.UserID)
	}

	start := s.now()
	sessionID, err := s.insert(ctx, userID, start, ip, remoteHost, trackingCookie)
	if err != nil {
		return nil, "", classify(domain.ErrSessionCreationFailed, err)
	}

	cookie, err := s.codec.Pack(Cookie{
		SessionID:    strconv.FormatInt(sessionID, 10),
		UserID:       user.UserID,
		IP:           ip,
		IssuedAt:     start,
		Capabilities: auths.Classic,
	})
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("legacy session created",
		zap.Int64("session_id", sessionID),
		zap.String("user_id", user.UserID),
	)
	return &domain.Session{
		SessionID:      strconv.FormatInt(sessionID, 10),
		StartTime:      start,
		User:           user,
		Authorizations: auths,
		IPAddress:      ip,
		RemoteHost:     remoteHost,
	}, cookie, nil
}

func (s *Store) insert(ctx context.Context, userID int64, start time.Time, ip, remoteHost, trackingCookie string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO tapir_sessions (user_id, last_reissue, start_time, end_time) VALUES (?, 0, ?, 0)`,
		userID, Epoch(start))
	if err != nil {
		return 0, err
	}
	sessionID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tapir_sessions_audit (session_id, ip_addr, remote_host, tracking_cookie) VALUES (?, ?, ?, ?)`,
		sessionID, ip, remoteHost, trackingCookie); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return sessionID, nil
}

// Load verifies cookie and loads its session. The row is looked up by user ID
// and session ID together. Transient connection failures are retried per the
// store's RetryPolicy.
func (s *Store) Load(ctx context.Context, cookie string) (*domain.Session, error) {
	ck, err := s.codec.Unpack(cookie)
	if err != nil {
		return nil, err
	}

	var sess *domain.Session
	err = s.retry.retry(ctx, func(err error, wait time.Duration) {
		s.logger.Warn("legacy session load failed, retrying",
			zap.String("session_id", ck.SessionID),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}, func() error {
		var loadErr error
		sess, loadErr = s.load(ctx, ck)
		return loadErr
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

const loadQuery = `
SELECT u.email, u.first_name, u.last_name, u.suffix_name, u.policy_class,
       u.flag_edit_users, u.flag_email_verified, u.flag_edit_system,
       n.nickname, s.start_time, s.end_time
FROM tapir_users u
JOIN tapir_nicknames n ON n.user_id = u.user_id
JOIN tapir_sessions s ON s.user_id = u.user_id
WHERE u.user_id = ? AND s.session_id = ?
ORDER BY n.flag_primary DESC
LIMIT 1`

// load reads the session row and the user's endorsements in one read-only
// transaction.
func (s *Store) load(ctx context.Context, ck Cookie) (*domain.Session, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, readErr("begin load", err)
	}
	defer tx.Rollback()

	var (
		row        userRow
		nickname   string
		start, end int64
	)
	err = tx.QueryRowContext(ctx, loadQuery, ck.UserID, ck.SessionID).Scan(
		&row.email, &row.firstName, &row.lastName, &row.suffixName, &row.policyClass,
		&row.editUsers, &row.emailVerified, &row.editSystem,
		&nickname, &start, &end,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: session %s for user %s", domain.ErrUnknownSession, ck.SessionID, ck.UserID)
	}
	if err != nil {
		return nil, readErr("load session", err)
	}

	if end != 0 && end < Epoch(s.now()) {
		s.logger.Info("legacy session expired", zap.String("session_id", ck.SessionID))
		return nil, fmt.Errorf("%w: session %s", domain.ErrSessionExpired, ck.SessionID)
	}

	endorsements, err := loadEndorsements(ctx, tx, ck.UserID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, readErr("commit load", err)
	}
	row.userID = ck.UserID
	row.nickname = nickname
	return &domain.Session{
		SessionID: ck.SessionID,
		StartTime: FromEpoch(start),
		User:      row.user(),
		Authorizations: domain.Authorizations{
			Classic:      row.capabilities(),
			Scopes:       scopesFor(row.policyClass),
			Endorsements: endorsements,
		},
		IPAddress: ck.IP,
	}, nil
}

// Invalidate verifies cookie and ends its session one second in the past.
// A session that has already ended keeps its original end time.
func (s *Store) Invalidate(ctx context.Context, cookie string) error {
	ck, err := s.codec.Unpack(cookie)
	if err != nil {
		return err
	}
	return s.InvalidateByID(ctx, ck.SessionID)
}

// InvalidateByID ends a session without a cookie. Administrative use only.
func (s *Store) InvalidateByID(ctx context.Context, sessionID string) error {
	end := Epoch(s.now()) - 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(domain.ErrSessionDeletionFailed, err)
	}
	defer tx.Rollback()

	var current int64
	err = tx.QueryRowContext(ctx, `SELECT end_time FROM tapir_sessions WHERE session_id = ?`, sessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: session %s", domain.ErrUnknownSession, sessionID)
	}
	if err != nil {
		return classify(domain.ErrSessionDeletionFailed, err)
	}
	if current != 0 && current <= end {
		s.logger.Debug("legacy session already ended", zap.String("session_id", sessionID))
		return nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE tapir_sessions SET end_time = ? WHERE session_id = ?`, end, sessionID); err != nil {
		return classify(domain.ErrSessionDeletionFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(domain.ErrSessionDeletionFailed, err)
	}
	s.logger.Info("legacy session invalidated", zap.String("session_id", sessionID))
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
