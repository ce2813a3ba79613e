package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	arxivauth "github.com/arxiv/arxiv-auth"
	"github.com/arxiv/arxiv-auth/domain"
	"github.com/arxiv/arxiv-auth/jwt"
	"github.com/arxiv/arxiv-auth/session"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type loadtestOptions struct {
	sessions    int
	concurrency int
	ops         int
	redisAddr   string
	prefix      string
}

func newLoadtestCmd() *cobra.Command {
	o := loadtestOptions{}
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Seed sessions and measure concurrent resolve and invalidate latency",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.sessions <= 0 || o.concurrency <= 0 || o.ops <= 0 {
				return fmt.Errorf("sessions, concurrency, and ops must be > 0")
			}
			return runLoadtest(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	f := cmd.Flags()
	f.IntVar(&o.sessions, "sessions", 10000, "number of sessions to seed")
	f.IntVar(&o.concurrency, "concurrency", 64, "number of concurrent workers")
	f.IntVar(&o.ops, "ops", 50000, "resolves to perform")
	f.StringVar(&o.redisAddr, "redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	f.StringVar(&o.prefix, "prefix", "loadtest", "session key prefix")
	return cmd
}

func runLoadtest(ctx context.Context, out io.Writer, o loadtestOptions) error {
	addr := o.redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var cleanup func()
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return fmt.Errorf("start miniredis: %w", err)
		}
		addr = mr.Addr()
		cleanup = mr.Close
		fmt.Fprintf(out, "using miniredis at %s\n", addr)
	} else {
		cleanup = func() {}
		fmt.Fprintf(out, "using redis at %s\n", addr)
	}
	defer cleanup()

	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	defer client.Close()

	codec, err := jwt.NewCodec(jwt.Config{Secret: []byte("loadtest-secret")})
	if err != nil {
		return err
	}
	store, err := session.NewStore(session.Config{
		Redis:    client,
		Codec:    codec,
		Duration: 24 * time.Hour,
		Prefix:   o.prefix,
	})
	if err != nil {
		return err
	}
	resolver, err := arxivauth.NewResolver(arxivauth.ResolverConfig{
		Codec:             codec,
		Sessions:          store,
		SessionCookieName: "ARXIVNG_SESSION_ID",
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "seeding %d sessions...\n", o.sessions)
	startSeed := time.Now()
	cookies := make([]string, o.sessions)
	for i := range cookies {
		user := &domain.User{UserID: fmt.Sprintf("%d", i+1), Username: fmt.Sprintf("user%d", i+1)}
		auths := domain.Authorizations{Scopes: domain.GeneralUserScopes()}
		_, cookie, err := store.Create(ctx, user, auths, "127.0.0.1", "loadtest", "")
		if err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		cookies[i] = cookie
	}
	fmt.Fprintf(out, "seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	resolve := runPhase(o.ops, o.concurrency, func(r *rand.Rand) error {
		res, err := resolver.Resolve(ctx, arxivauth.Credentials{Session: cookies[r.Intn(len(cookies))]})
		if err != nil {
			return err
		}
		if res.Anonymous() {
			return res.Rejection
		}
		return nil
	})

	var cursor int64
	invalidate := runPhase(len(cookies), o.concurrency, func(*rand.Rand) error {
		i := atomic.AddInt64(&cursor, 1) - 1
		return store.Invalidate(ctx, cookies[i])
	})

	fmt.Fprintln(out, "---- results ----")
	printStats(out, "resolve", resolve)
	printStats(out, "invalidate", invalidate)
	return nil
}

// runPhase calls op ops times across concurrency workers.
func runPhase(ops, concurrency int, op func(*rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				if int(atomic.AddInt64(&cursor, 1)) > ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	return samples[(len(samples)-1)*p/100]
}

func printStats(out io.Writer, name string, s phaseStats) {
	fmt.Fprintf(out, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
