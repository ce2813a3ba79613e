package arxivauth

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arxiv/arxiv-auth/internal/audit"
	"github.com/arxiv/arxiv-auth/internal/logging"
	"github.com/arxiv/arxiv-auth/internal/rate"
	"github.com/arxiv/arxiv-auth/jwt"
	"github.com/arxiv/arxiv-auth/legacy"
	"github.com/arxiv/arxiv-auth/session"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles a Service. Connections not supplied with WithRedis or
// WithClassicDB are opened from the Config and closed by Service.Close.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	classicDB *sql.DB
	users     UserStore
	auditSink AuditSink
	logger    *zap.Logger
	now       func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis supplies the session store client. The caller keeps ownership.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClassicDB supplies the classic database. The caller keeps ownership.
// It is used only when the Config has the classic store configured.
func (b *Builder) WithClassicDB(db *sql.DB) *Builder {
	b.classicDB = db
	return b
}

// WithUserStore overrides the user store. By default the classic user
// tables are used when the classic store is configured.
func (b *Builder) WithUserStore(users UserStore) *Builder {
	b.users = users
	return b
}

// WithAuditSink replaces the default sink, which logs events through the
// service logger. Events are delivered only when Audit.Enabled is set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now for every component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires the stores, codecs, resolver
// and metrics. A Builder can be used once.
func (b *Builder) Build() (*Service, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		l, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		logger = l
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	svc := &Service{
		config:  cfg,
		metrics: NewMetrics(cfg.Metrics),
		logger:  logger,
		now:     now,
	}

	// -------- CODEC --------
	codec, err := jwt.NewCodec(jwt.Config{Secret: []byte(cfg.Session.JWTSecret), Now: now})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	svc.codec = codec

	// -------- SESSION STORE --------
	rdb := b.redis
	if rdb == nil {
		rdb = newRedisClient(cfg.Redis)
		svc.closers = append(svc.closers, rdb)
	}
	sessions, err := session.NewStore(session.Config{
		Redis:    rdb,
		Codec:    codec,
		Duration: cfg.Session.Duration,
		Prefix:   cfg.Redis.Prefix,
		Logger:   logger.Named("session"),
		Now:      now,
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	svc.sessions = sessions
	svc.limiter = rate.New(rdb, rate.Config{
		MaxAttempts: cfg.Login.MaxAttempts,
		Cooldown:    cfg.Login.Cooldown,
		PerIP:       cfg.Login.PerIP,
		Prefix:      cfg.Redis.Prefix,
	})

	// -------- CLASSIC STORE --------
	svc.users = b.users
	if cfg.LegacyConfigured() {
		db := b.classicDB
		if db == nil {
			db, _, err = legacy.Open(cfg.Classic.DatabaseURI)
			if err != nil {
				svc.Close()
				return nil, fmt.Errorf("%w: %v", ErrConfig, err)
			}
			svc.closers = append(svc.closers, db)
		}
		classic, err := newClassicStore(cfg, db, logger.Named("legacy"), now)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.classic = classic
		if svc.users == nil {
			svc.users = legacy.NewUsers(db, logger.Named("users"))
		}
	}

	// -------- RESOLVER --------
	rcfg := ResolverConfig{
		Codec:             codec,
		Sessions:          svc.sessions,
		SessionCookieName: cfg.Session.CookieName,
		ClassicCookieName: cfg.Classic.CookieName,
		Metrics:           svc.metrics,
		Logger:            logger.Named("resolver"),
		Now:               now,
	}
	if svc.classic != nil {
		rcfg.Classic = svc.classic
	}
	resolver, err := NewResolver(rcfg)
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.resolver = resolver

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = audit.NewLogSink(logger.Named("audit"))
	}
	svc.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		OnDrop: func(e audit.Event) {
			svc.metrics.Inc(MetricAuditDropped)
			logger.Debug("audit event dropped", zap.String("event_type", e.EventType))
		},
	}, sink)

	b.built = true
	logger.Info("auth service built",
		zap.Bool("legacy", svc.classic != nil),
		zap.Bool("metrics", cfg.Metrics.Enabled),
		zap.Bool("audit", cfg.Audit.Enabled),
		zap.Int("login_max_attempts", cfg.Login.MaxAttempts),
		zap.Duration("session_duration", cfg.Session.Duration),
	)
	return svc, nil
}

func newRedisClient(cfg RedisConfig) redis.UniversalClient {
	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:    []string{cfg.Addr()},
			Password: cfg.Token,
		})
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.Addr()},
		DB:       cfg.Database,
		Password: cfg.Token,
	})
}

func newClassicStore(cfg Config, db *sql.DB, logger *zap.Logger, now func() time.Time) (*legacy.Store, error) {
	scheme, err := legacy.ParseScheme(cfg.Classic.SignatureScheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	cookies, err := legacy.NewCookieCodec(cfg.Classic.SessionHash, cfg.Session.Duration, scheme)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	store, err := legacy.NewStore(legacy.StoreConfig{
		DB:     db,
		Codec:  cookies,
		Retry:  cfg.Classic.RetryPolicy(),
		Logger: logger,
		Now:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	return store, nil
}
