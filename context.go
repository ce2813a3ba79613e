package arxivauth

import (
	"context"

	"github.com/arxiv/arxiv-auth/domain"
)

type sessionContextKey struct{}
type upstreamErrorContextKey struct{}
type clientIPContextKey struct{}

// WithSession attaches a resolved session to ctx.
func WithSession(ctx context.Context, sess *domain.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext returns the session attached by WithSession.
func SessionFromContext(ctx context.Context) (*domain.Session, bool) {
	if ctx == nil {
		return nil, false
	}
	sess, ok := ctx.Value(sessionContextKey{}).(*domain.Session)
	return sess, ok && sess != nil
}

// WithUpstreamError attaches an error raised by an earlier middleware.
// Resolver.Resolve returns it unchanged instead of resolving.
func WithUpstreamError(ctx context.Context, err error) context.Context {
	return context.WithValue(ctx, upstreamErrorContextKey{}, err)
}

// UpstreamError returns the error attached by WithUpstreamError, if any.
func UpstreamError(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	err, _ := ctx.Value(upstreamErrorContextKey{}).(error)
	return err
}

// WithClientIP attaches the caller's IP address to ctx. Login records it on
// new sessions when the request does not carry one.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
