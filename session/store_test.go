package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/jwt"
	"github.com/redis/go-redis/v9"
)

const testDuration = 2 * time.Hour

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type harness struct {
	store *Store
	rdb   *redis.Client
	mr    *miniredis.Miniredis
	codec *jwt.Codec
	clock *clock
	start time.Time
}

func newHarness(t *testing.T, prefix string) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})

	codec, err := jwt.NewCodec(jwt.Config{Secret: []byte("foosecret")})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := &clock{now: start}
	store, err := NewStore(Config{Redis: rdb, Codec: codec, Duration: testDuration, Prefix: prefix, Now: clk.Now})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return &harness{store: store, rdb: rdb, mr: mr, codec: codec, clock: clk, start: start}
}

func testUser() *domain.User {
	return &domain.User{UserID: "1", Username: "foouser", Email: "f@bar.com"}
}

func (h *harness) create(t *testing.T) (*domain.Session, string) {
	t.Helper()
	sess, cookie, err := h.store.Create(context.Background(), testUser(), domain.Authorizations{Classic: 6}, "127.0.0.1", "foo-host.foo.com", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return sess, cookie
}

func TestCreateThenLoadReturnsEqualSession(t *testing.T) {
	h := newHarness(t, "")
	created, cookie := h.create(t)
	if created.SessionID == "" || cookie == "" {
		t.Fatal("expected session id and cookie")
	}
	if created.EndTime != nil {
		t.Fatal("new session must have no end time")
	}

	loaded, err := h.store.Load(context.Background(), cookie)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Equal(created) {
		t.Fatalf("loaded session differs:\n got %+v\nwant %+v", loaded, created)
	}
	if loaded.User.Username != "foouser" || loaded.Authorizations.Classic != 6 {
		t.Fatalf("unexpected loaded session %+v", loaded)
	}
}

func TestCreateStoresRecordWithoutExpiry(t *testing.T) {
	h := newHarness(t, "")
	created, cookie := h.create(t)

	if !h.mr.Exists(created.SessionID) {
		t.Fatalf("expected key %q", created.SessionID)
	}
	if ttl := h.mr.TTL(created.SessionID); ttl != 0 {
		t.Fatalf("expected no ttl, got %v", ttl)
	}

	p, err := h.codec.DecodePointer(cookie)
	if err != nil {
		t.Fatalf("decode pointer: %v", err)
	}
	if p.UserID != "1" || p.SessionID != created.SessionID || p.Nonce != created.Nonce {
		t.Fatalf("unexpected pointer %+v", p)
	}
	if !p.Expires.Equal(h.start.Add(testDuration)) {
		t.Fatalf("unexpected expires %v", p.Expires)
	}
}

func TestPrefixedKeys(t *testing.T) {
	h := newHarness(t, "ng")
	created, cookie := h.create(t)
	if !h.mr.Exists("ng:" + created.SessionID) {
		t.Fatal("expected prefixed key")
	}
	if _, err := h.store.Load(context.Background(), cookie); err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestLoadNonceMismatch(t *testing.T) {
	h := newHarness(t, "")
	created, cookie := h.create(t)

	tampered := *created
	tampered.Nonce = "99999999"
	if tampered.Nonce == created.Nonce {
		tampered.Nonce = "88888888"
	}
	raw, err := json.Marshal(domain.ToRecord(&tampered))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := h.rdb.Set(context.Background(), created.SessionID, raw, 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}

	_, err = h.store.Load(context.Background(), cookie)
	if !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if errors.Is(err, domain.ErrSessionExpired) || errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("nonce mismatch must not be reported as expired or unknown: %v", err)
	}
}

func TestLoadPrincipalMismatch(t *testing.T) {
	h := newHarness(t, "")
	created, _ := h.create(t)

	forged, err := h.codec.EncodePointer(jwt.Pointer{
		UserID:    "2",
		SessionID: created.SessionID,
		Nonce:     created.Nonce,
		Expires:   h.start.Add(testDuration),
	})
	if err != nil {
		t.Fatalf("encode pointer: %v", err)
	}
	if _, err := h.store.Load(context.Background(), forged); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	asClient, err := h.codec.EncodePointer(jwt.Pointer{
		ClientID:  "1",
		SessionID: created.SessionID,
		Nonce:     created.Nonce,
		Expires:   h.start.Add(testDuration),
	})
	if err != nil {
		t.Fatalf("encode pointer: %v", err)
	}
	if _, err := h.store.Load(context.Background(), asClient); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for client pointer, got %v", err)
	}
}

func TestLoadUnknownSession(t *testing.T) {
	h := newHarness(t, "")
	created, cookie := h.create(t)
	if err := h.store.Delete(context.Background(), created.SessionID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err := h.store.Load(context.Background(), cookie)
	if !errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
	if errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("unknown session must be distinguishable from a forged cookie: %v", err)
	}
}

func TestLoadRejectsForgedCookie(t *testing.T) {
	h := newHarness(t, "")
	_, cookie := h.create(t)
	if _, err := h.store.Load(context.Background(), cookie+"a"); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestLoadPointerExpiryBoundary(t *testing.T) {
	h := newHarness(t, "")
	_, cookie := h.create(t)

	h.clock.Set(h.start.Add(testDuration - time.Nanosecond))
	if _, err := h.store.Load(context.Background(), cookie); err != nil {
		t.Fatalf("load before expiry: %v", err)
	}

	h.clock.Set(h.start.Add(testDuration))
	_, err := h.store.Load(context.Background(), cookie)
	if !errors.Is(err, domain.ErrSessionExpired) || !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected expired invalid token, got %v", err)
	}
}

func TestInvalidateEndsSessionNow(t *testing.T) {
	h := newHarness(t, "")
	_, cookie := h.create(t)

	invalidatedAt := h.start.Add(time.Minute)
	h.clock.Set(invalidatedAt)
	if err := h.store.Invalidate(context.Background(), cookie); err != nil {
		t.Fatalf("invalidate: %v", err)
	}

	_, err := h.store.Load(context.Background(), cookie)
	if !errors.Is(err, domain.ErrSessionExpired) {
		t.Fatalf("end_time equal to now must be expired, got %v", err)
	}
}

func TestInvalidateIsIdempotentFirstWins(t *testing.T) {
	h := newHarness(t, "")
	created, cookie := h.create(t)

	first := h.start.Add(time.Minute)
	h.clock.Set(first)
	if err := h.store.Invalidate(context.Background(), cookie); err != nil {
		t.Fatalf("first invalidate: %v", err)
	}
	h.clock.Set(first.Add(time.Hour))
	if err := h.store.Invalidate(context.Background(), cookie); err != nil {
		t.Fatalf("second invalidate: %v", err)
	}
	if err := h.store.InvalidateByID(context.Background(), created.SessionID); err != nil {
		t.Fatalf("invalidate by id: %v", err)
	}

	data, err := h.rdb.Get(context.Background(), created.SessionID).Bytes()
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	stored, err := decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored.EndTime == nil || !stored.EndTime.Equal(first) {
		t.Fatalf("end time must stay at first invalidation, got %v", stored.EndTime)
	}
}

func TestInvalidateExpiredSession(t *testing.T) {
	h := newHarness(t, "")
	_, cookie := h.create(t)
	h.clock.Set(h.start.Add(3 * testDuration))
	if err := h.store.Invalidate(context.Background(), cookie); err != nil {
		t.Fatalf("invalidating an expired session must succeed: %v", err)
	}
}

func TestInvalidateChecksNonce(t *testing.T) {
	h := newHarness(t, "")
	created, _ := h.create(t)
	forged, err := h.codec.EncodePointer(jwt.Pointer{UserID: "1", SessionID: created.SessionID, Nonce: "x", Expires: h.start.Add(testDuration)})
	if err != nil {
		t.Fatalf("encode pointer: %v", err)
	}
	if err := h.store.Invalidate(context.Background(), forged); !errors.Is(err, jwt.ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestConcurrentInvalidate(t *testing.T) {
	h := newHarness(t, "")
	_, cookie := h.create(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.store.Invalidate(context.Background(), cookie)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent invalidate: %v", err)
		}
	}
}

func TestInvalidateByIDUnknown(t *testing.T) {
	h := newHarness(t, "")
	if err := h.store.InvalidateByID(context.Background(), "nope"); !errors.Is(err, domain.ErrUnknownSession) {
		t.Fatalf("expected ErrUnknownSession, got %v", err)
	}
}

func TestDeleteMissingSession(t *testing.T) {
	h := newHarness(t, "")
	if err := h.store.Delete(context.Background(), "nope"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func TestClientSession(t *testing.T) {
	h := newHarness(t, "")
	client := &domain.Client{ClientID: "5678", Name: "foo client"}
	auths := domain.Authorizations{Scopes: []domain.Scope{domain.ScopeViewSubmission}}
	created, cookie, err := h.store.CreateForClient(context.Background(), client, auths, "10.0.0.1", "")
	if err != nil {
		t.Fatalf("create for client: %v", err)
	}
	loaded, err := h.store.Load(context.Background(), cookie)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !loaded.Equal(created) {
		t.Fatalf("loaded client session differs: %+v", loaded)
	}
	if id, isClient := loaded.Principal(); id != "5678" || !isClient {
		t.Fatalf("unexpected principal %q %v", id, isClient)
	}
}

func TestCorruptRecord(t *testing.T) {
	h := newHarness(t, "")
	created, cookie := h.create(t)
	if err := h.rdb.Set(context.Background(), created.SessionID, "{not json", 0).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := h.store.Load(context.Background(), cookie); !errors.Is(err, ErrSessionCorrupt) {
		t.Fatalf("expected ErrSessionCorrupt, got %v", err)
	}
}

func TestRedisUnavailable(t *testing.T) {
	h := newHarness(t, "")
	_, cookie := h.create(t)
	h.mr.Close()

	_, _, err := h.store.Create(context.Background(), testUser(), domain.Authorizations{}, "", "", "")
	if !errors.Is(err, domain.ErrSessionCreationFailed) || !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected creation failure, got %v", err)
	}
	if _, err := h.store.Load(context.Background(), cookie); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
	if err := h.store.Invalidate(context.Background(), cookie); !errors.Is(err, domain.ErrSessionDeletionFailed) {
		t.Fatalf("expected ErrSessionDeletionFailed, got %v", err)
	}
	if err := h.store.Delete(context.Background(), "x"); !errors.Is(err, domain.ErrSessionDeletionFailed) {
		t.Fatalf("expected ErrSessionDeletionFailed, got %v", err)
	}
	if err := h.store.Ping(context.Background()); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

func TestNewStoreValidatesConfig(t *testing.T) {
	if _, err := NewStore(Config{}); err == nil {
		t.Fatal("expected error for empty config")
	}
}
