package middleware

import (
	"net/http"

	arxivauth "github.com/arxiv/arxiv-auth"
	"github.com/arxiv/arxiv-auth/domain"
)

// RequireScope allows requests whose session grants scope. Requests without
// a session get RequireAuth's response; sessions lacking the scope get 403.
func RequireScope(scope domain.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, _ := arxivauth.SessionFromContext(r.Context())
			if !sess.Authorizations.HasScope(scope) {
				WriteReason(w, http.StatusForbidden, "access denied")
				return
			}
			next.ServeHTTP(w, r)
		}))
	}
}
