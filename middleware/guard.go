package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	arxivauth "github.com/arxiv/arxiv-auth"
	"github.com/arxiv/arxiv-auth/internal/logging"
	"go.uber.org/zap"
)

type resolutionContextKey struct{}

// Result is what Authenticate recorded for a request.
type Result struct {
	arxivauth.Resolution
	// Err is set when a store was unreachable or an upstream error was attached.
	Err error
}

// ResultFromContext returns the Result attached by Authenticate.
func ResultFromContext(ctx context.Context) (Result, bool) {
	r, ok := ctx.Value(resolutionContextKey{}).(Result)
	return r, ok
}

// Authenticate resolves the request's credentials and attaches the outcome to
// the request context. It never rejects a request; use RequireAuth or
// RequireScope for that. A resolved session is also available through
// arxivauth.SessionFromContext.
func Authenticate(resolver *arxivauth.Resolver, logger *zap.Logger) func(http.Handler) http.Handler {
	logger = logging.OrNop(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := resolver.ResolveRequest(r)
			if err != nil {
				logger.Warn("session resolution failed", zap.Error(err), zap.String("path", r.URL.Path))
			}
			ctx := context.WithValue(r.Context(), resolutionContextKey{}, Result{Resolution: res, Err: err})
			if !res.Anonymous() {
				ctx = arxivauth.WithSession(ctx, res.Session)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests without a resolved session with 401 and a
// {"reason": ...} body. A store outage yields 503 instead.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := arxivauth.SessionFromContext(r.Context()); ok {
			next.ServeHTTP(w, r)
			return
		}
		res, _ := ResultFromContext(r.Context())
		if res.Err != nil && arxivauth.IsUnavailable(res.Err) {
			WriteReason(w, http.StatusServiceUnavailable, "session store unavailable")
			return
		}
		err := res.Err
		if err == nil {
			err = res.Rejection
		}
		WriteReason(w, http.StatusUnauthorized, arxivauth.PublicReason(err))
	})
}

// WriteReason writes a JSON {"reason": reason} body with status.
func WriteReason(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"reason": reason})
}
