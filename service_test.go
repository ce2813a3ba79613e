package arxivauth

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/legacy"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc   *Service
	audit *ChannelSink
	mr    *miniredis.Miniredis
	db    *sql.DB
	clock *fakeClock
	logs  *observer.ObservedLogs
}

type fixtureOption func(*Config)

func withoutClassic(c *Config) {
	c.Classic.DatabaseURI = ""
	c.Classic.SessionHash = ""
}

func newFixture(t testing.TB, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	db, dialect, err := legacy.Open("sqlite://")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, legacy.CreateSchema(ctx, db, dialect))

	users := legacy.NewUsers(db, nil)
	_, err = users.CreateUser(ctx, legacy.CreateUserParams{
		Username:      "foouser",
		Email:         "foo@bar.edu",
		Password:      "foopass",
		Forename:      "Foo",
		Surname:       "User",
		PolicyClass:   legacy.PolicyPublicUser,
		EmailVerified: true,
	})
	require.NoError(t, err)
	_, err = users.CreateUser(ctx, legacy.CreateUserParams{
		Username:    "newuser",
		Email:       "new@bar.edu",
		Password:    "newpass",
		PolicyClass: legacy.PolicyPublicUser,
	})
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Classic.DatabaseURI = "sqlite://"
	cfg.Classic.SessionHash = "foohash"
	cfg.Classic.RetryDelay = time.Millisecond
	for _, opt := range opts {
		opt(&cfg)
	}

	core, logs := observer.New(zap.DebugLevel)
	clock := &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	sink := NewChannelSink(64)
	svc, err := New().
		WithAuditSink(sink).
		WithConfig(cfg).
		WithRedis(rdb).
		WithClassicDB(db).
		WithLogger(zap.New(core)).
		WithClock(clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	return &fixture{svc: svc, audit: sink, mr: mr, db: db, clock: clock, logs: logs}
}

func (f *fixture) login(t testing.TB) LoginResult {
	t.Helper()
	res, err := f.svc.Login(context.Background(), LoginRequest{
		Username:   "foouser",
		Password:   "foopass",
		IP:         "127.0.0.1",
		RemoteHost: "foo-host.foo.com",
	})
	require.NoError(t, err)
	return res
}

func TestLoginCreatesBothSessions(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)

	require.NotEmpty(t, res.SessionCookie)
	require.NotEmpty(t, res.ClassicCookie)
	require.Equal(t, "foouser", res.Session.User.Username)
	require.Equal(t, "127.0.0.1", res.Session.IPAddress)

	require.Len(t, res.Cookies, 2)
	require.Equal(t, "ARXIVNG_SESSION_ID", res.Cookies[0].Name)
	require.Equal(t, "tapir_session", res.Cookies[1].Name)
	for _, c := range res.Cookies {
		require.Equal(t, 7200, c.MaxAge)
		require.True(t, c.HTTPCookie().HttpOnly)
	}

	var n int
	require.NoError(t, f.db.QueryRow(`SELECT COUNT(*) FROM tapir_sessions`).Scan(&n))
	require.Equal(t, 1, n)

	m := f.svc.Metrics()
	require.EqualValues(t, 1, m.Value(MetricLoginSuccess))
	require.EqualValues(t, 1, m.Value(MetricSessionCreated))
	require.EqualValues(t, 1, m.Value(MetricClassicSessionCreated))
}

func TestLoginWithoutClassicStore(t *testing.T) {
	f := newFixture(t, withoutClassic)
	// Without the classic store there is no default user store either.
	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "foouser", Password: "foopass"})
	require.ErrorIs(t, err, ErrConfig)
	require.False(t, f.svc.LegacyEnabled())
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "foouser", Password: "nope"})
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	require.Equal(t, ReasonNotAuthenticated, PublicReason(err))
	require.EqualValues(t, 1, f.svc.Metrics().Value(MetricLoginFailure))
	require.Equal(t, []string{"al:foouser"}, f.mr.Keys(), "only the failure counter is written")
}

func TestLoginRejectsUnverifiedAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "newuser", Password: "newpass"})
	require.ErrorIs(t, err, ErrAccountUnverified)
}

func TestLoginEndsSessionWhenClassicCreateFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "foouser", Password: "foopass", IP: "::1"})
	require.ErrorIs(t, err, ErrInvalidCookie)

	require.Empty(t, f.mr.Keys(), "orphaned session must be deleted")
	require.EqualValues(t, 1, f.svc.Metrics().Value(MetricSessionCreated))
	require.EqualValues(t, 1, f.svc.Metrics().Value(MetricSessionDeleted))
	require.Zero(t, f.svc.Metrics().Value(MetricLoginSuccess))
}

func TestLoginUsesClientIPFromContext(t *testing.T) {
	f := newFixture(t, withoutClassic)
	f.svc.users = legacyUsers(t, f.db)
	ctx := WithClientIP(context.Background(), "10.1.2.3")
	res, err := f.svc.Login(ctx, LoginRequest{Username: "foouser", Password: "foopass"})
	require.NoError(t, err)
	require.Equal(t, "10.1.2.3", res.Session.IPAddress)
	require.Empty(t, res.ClassicCookie)
	require.Len(t, res.Cookies, 1)
}

func TestLoginThrottlesRepeatedFailures(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Login.MaxAttempts = 2
		c.Login.Cooldown = time.Minute
	})
	ctx := context.Background()
	bad := LoginRequest{Username: "foouser", Password: "nope", IP: "127.0.0.1"}

	for i := 0; i < 2; i++ {
		_, err := f.svc.Login(ctx, bad)
		require.ErrorIs(t, err, ErrAuthenticationFailed)
	}
	_, err := f.svc.Login(ctx, LoginRequest{Username: "foouser", Password: "foopass", IP: "127.0.0.1"})
	require.ErrorIs(t, err, ErrLoginThrottled)
	require.False(t, IsUnavailable(err))
	require.EqualValues(t, 1, f.svc.Metrics().Value(MetricLoginThrottled))

	f.mr.FastForward(time.Minute)
	f.login(t)
}

func TestLoginSuccessResetsFailures(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Login.MaxAttempts = 2
	})
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginRequest{Username: "foouser", Password: "nope"})
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	f.login(t)
	require.False(t, f.mr.Exists("al:foouser"))
}

func TestLoginThrottleOutageIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()
	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "foouser", Password: "foopass"})
	require.True(t, IsUnavailable(err), "got %v", err)
}

func TestAuditEvents(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Audit.Enabled = true
	})
	ctx := context.Background()

	_, err := f.svc.Login(ctx, LoginRequest{Username: "foouser", Password: "nope", IP: "127.0.0.1"})
	require.Error(t, err)
	res := f.login(t)
	f.svc.Logout(ctx, Credentials{Session: res.SessionCookie})
	require.NoError(t, f.svc.Close())

	var got []AuditEvent
	for len(f.audit.Events()) > 0 {
		got = append(got, <-f.audit.Events())
	}
	require.Len(t, got, 3)
	require.Equal(t, AuditLoginFailure, got[0].EventType)
	require.Equal(t, "foouser", got[0].Username)
	require.False(t, got[0].Success)
	require.Equal(t, AuditLoginSuccess, got[1].EventType)
	require.Equal(t, res.Session.SessionID, got[1].SessionID)
	require.Equal(t, f.clock.Now(), got[1].Timestamp)
	require.Equal(t, AuditLogout, got[2].EventType)
	require.Zero(t, f.svc.AuditDropped())
}

func TestAuditEventAfterCloseIsCounted(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.Audit.Enabled = true
	})
	res := f.login(t)
	require.NoError(t, f.svc.Close())

	f.svc.Logout(context.Background(), Credentials{Session: res.SessionCookie})
	require.Len(t, f.audit.Events(), 1)
	require.EqualValues(t, 1, f.svc.AuditDropped())
	require.EqualValues(t, 1, f.svc.Metrics().Value(MetricAuditDropped))
}

func TestAuditDisabledByDefault(t *testing.T) {
	f := newFixture(t)
	f.login(t)
	require.NoError(t, f.svc.Close())
	require.Empty(t, f.audit.Events())
}

func TestLogoutEndsBothSessions(t *testing.T) {
	f := newFixture(t)
	res := f.login(t)
	creds := Credentials{Session: res.SessionCookie, Classic: []string{res.ClassicCookie}}

	specs := f.svc.Logout(context.Background(), creds)
	require.Len(t, specs, 2)
	for _, s := range specs {
		require.Empty(t, s.Value)
		require.Negative(t, s.MaxAge)
	}

	out, err := f.svc.Resolver().Resolve(context.Background(), Credentials{Session: res.SessionCookie})
	require.NoError(t, err)
	require.True(t, out.Anonymous())
	require.ErrorIs(t, out.Rejection, ErrSessionExpired)

	out, err = f.svc.Resolver().Resolve(context.Background(), Credentials{Classic: []string{res.ClassicCookie}})
	require.NoError(t, err)
	require.True(t, out.Anonymous())
	require.ErrorIs(t, out.Rejection, ErrSessionExpired)
	require.Equal(t, ReasonExpired, PublicReason(out.Rejection))

	// A second logout is harmless.
	f.svc.Logout(context.Background(), creds)
	require.EqualValues(t, 2, f.svc.Metrics().Value(MetricLogout))
}

func TestLogoutToleratesGarbage(t *testing.T) {
	f := newFixture(t)
	specs := f.svc.Logout(context.Background(), Credentials{Session: "garbage", Classic: []string{"1:2:3"}})
	require.Len(t, specs, 2)
	require.Positive(t, f.logs.FilterMessage("session logout failed").Len())
	require.Positive(t, f.logs.FilterMessage("classic logout failed").Len())
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	sessions, classic := f.svc.Health(context.Background())
	require.NoError(t, sessions)
	require.NoError(t, classic)

	f.mr.Close()
	sessions, _ = f.svc.Health(context.Background())
	require.ErrorIs(t, sessions, ErrRedisUnavailable)
}

func TestBuilderSingleUse(t *testing.T) {
	b := New().WithConfig(testConfig()).WithRedis(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"})).WithLogger(zap.NewNop())
	svc, err := b.Build()
	require.NoError(t, err)
	require.NotNil(t, svc.Resolver())
	_, err = b.Build()
	require.Error(t, err)
}

func TestBuilderRejectsInvalidConfig(t *testing.T) {
	_, err := New().Build()
	require.ErrorIs(t, err, ErrConfig)
}

type stubUsers struct {
	user *domain.User
}

func (s stubUsers) Authenticate(_ context.Context, username, password string) (*domain.User, domain.Authorizations, error) {
	if username != s.user.Username || password != "stubpass" {
		return nil, domain.Authorizations{}, ErrAuthenticationFailed
	}
	return s.user, domain.Authorizations{Scopes: domain.GeneralUserScopes()}, nil
}

func (s stubUsers) GetUserByID(context.Context, string) (*domain.User, error) {
	return s.user, nil
}

func TestBuilderWithUserStoreNGOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig()
	svc, err := New().
		WithConfig(cfg).
		WithRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()})).
		WithUserStore(stubUsers{user: &domain.User{UserID: "7", Username: "stub", Email: "stub@example.org", Verified: true}}).
		WithLogger(zap.NewNop()).
		Build()
	require.NoError(t, err)
	defer svc.Close()

	res, err := svc.Login(context.Background(), LoginRequest{Username: "stub", Password: "stubpass"})
	require.NoError(t, err)
	require.Len(t, res.Cookies, 1)
	require.Equal(t, cfg.Session.CookieName, res.Cookies[0].Name)

	got, err := svc.Resolver().Resolve(context.Background(), Credentials{Session: res.Cookies[0].Value})
	require.NoError(t, err)
	require.Equal(t, "7", got.Session.User.UserID)
}

func legacyUsers(t *testing.T, db *sql.DB) UserStore {
	t.Helper()
	return legacy.NewUsers(db, nil)
}
