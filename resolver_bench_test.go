package arxivauth

import (
	"context"
	"testing"
)

func BenchmarkResolveHeader(b *testing.B) {
	f := newFixture(b, func(c *Config) { c.Metrics.Enabled = false })
	res := f.login(b)
	token, err := f.svc.IssueToken(res.Session)
	if err != nil {
		b.Fatalf("issue token failed: %v", err)
	}
	creds := Credentials{Bearer: token}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.svc.Resolver().Resolve(context.Background(), creds); err != nil {
			b.Fatalf("resolve failed: %v", err)
		}
	}
}

func BenchmarkResolveSessionCookie(b *testing.B) {
	f := newFixture(b, func(c *Config) { c.Metrics.Enabled = false })
	creds := Credentials{Session: f.login(b).SessionCookie}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.svc.Resolver().Resolve(context.Background(), creds); err != nil {
			b.Fatalf("resolve failed: %v", err)
		}
	}
}

func BenchmarkResolveClassicCookie(b *testing.B) {
	f := newFixture(b, func(c *Config) { c.Metrics.Enabled = false })
	creds := Credentials{Classic: []string{f.login(b).ClassicCookie}}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.svc.Resolver().Resolve(context.Background(), creds); err != nil {
			b.Fatalf("resolve failed: %v", err)
		}
	}
}

func BenchmarkLogin(b *testing.B) {
	f := newFixture(b, func(c *Config) { c.Metrics.Enabled = false })

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := f.login(b)
		f.svc.Logout(context.Background(), Credentials{Session: res.SessionCookie, Classic: []string{res.ClassicCookie}})
	}
}

func BenchmarkResolveSessionCookieParallel(b *testing.B) {
	f := newFixture(b, func(c *Config) {
		c.Metrics.Enabled = true
		c.Metrics.EnableLatencyHistograms = true
	})
	creds := Credentials{Session: f.login(b).SessionCookie}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := f.svc.Resolver().Resolve(context.Background(), creds); err != nil {
				b.Errorf("resolve failed: %v", err)
				return
			}
		}
	})
}

func BenchmarkResolveFallsThroughToClassic(b *testing.B) {
	f := newFixture(b)
	res := f.login(b)
	creds := Credentials{
		Bearer:  "not.a.token",
		Session: "garbage",
		Classic: []string{res.ClassicCookie},
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := f.svc.Resolver().Resolve(context.Background(), creds)
		if err != nil || out.Source != SourceClassic {
			b.Fatalf("expected classic resolution, got %v %v", out.Source, err)
		}
	}
}
