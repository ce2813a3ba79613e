package jwt

import (
	"testing"
	"time"

	"github.com/arxiv/arxiv-auth/domain"
)

func benchSession() *domain.Session {
	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Session{
		SessionID: "d6f3f0c2-8d1e-4d6b-9c1e-1f1f1f1f1f1f",
		StartTime: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		EndTime:   &end,
		User: &domain.User{
			UserID:   "1",
			Username: "foouser",
			Email:    "f@bar.com",
			Name:     &domain.UserFullName{Forename: "Jane", Surname: "Doe"},
			Verified: true,
		},
		Authorizations: domain.Authorizations{
			Classic:      6,
			Scopes:       domain.GeneralUserScopes(),
			Endorsements: []domain.Category{{Archive: "astro-ph", Subject: "CO"}},
		},
		IPAddress: "127.0.0.1",
		Nonce:     "12345678",
	}
}

func BenchmarkEncode(b *testing.B) {
	c := newCodec(b, testSecret)
	s := benchSession()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Encode(s); err != nil {
			b.Fatalf("encode: %v", err)
		}
	}
}

func BenchmarkDecode(b *testing.B) {
	c := newCodec(b, testSecret)
	token, err := c.Encode(benchSession())
	if err != nil {
		b.Fatalf("encode: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.Decode(token); err != nil {
			b.Fatalf("decode: %v", err)
		}
	}
}

func BenchmarkDecodeParallel(b *testing.B) {
	c := newCodec(b, testSecret)
	token, err := c.Encode(benchSession())
	if err != nil {
		b.Fatalf("encode: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := c.Decode(token); err != nil {
				b.Errorf("decode: %v", err)
				return
			}
		}
	})
}

func BenchmarkDecodePointer(b *testing.B) {
	c := newCodec(b, testSecret)
	cookie, err := c.EncodePointer(Pointer{
		UserID:    "1",
		SessionID: "d6f3f0c2",
		Nonce:     "12345678",
		Expires:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		b.Fatalf("encode pointer: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.DecodePointer(cookie); err != nil {
			b.Fatalf("decode pointer: %v", err)
		}
	}
}
