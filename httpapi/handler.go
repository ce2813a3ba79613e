package httpapi

import (
	"encoding/json"
	"errors"
	"mime"
	"net"
	"net/http"
	"strings"

	arxivauth "github.com/arxiv/arxiv-auth"
	"github.com/arxiv/arxiv-auth/internal/logging"
	"github.com/arxiv/arxiv-auth/middleware"
	"go.uber.org/zap"
)

// Options configures the handler.
type Options struct {
	// Metrics serves GET /metrics when non-nil.
	Metrics http.Handler
	Logger  *zap.Logger
}

type handler struct {
	svc      *arxivauth.Service
	resolver *arxivauth.Resolver
	logger   *zap.Logger
}

// New returns the HTTP surface of svc.
func New(svc *arxivauth.Service, opts Options) http.Handler {
	h := &handler{svc: svc, resolver: svc.Resolver(), logger: logging.OrNop(opts.Logger)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /auth", h.authenticate)
	mux.HandleFunc("GET /authorize", h.authorize)
	mux.HandleFunc("POST /login", h.login)
	mux.HandleFunc("POST /logout", h.logout)
	mux.HandleFunc("GET /logout", h.logout)
	mux.HandleFunc("GET /healthz", h.healthz)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	return mux
}

// ---------------------------------------------------------------------------
// Authenticator / authorizer
// ---------------------------------------------------------------------------

// authenticate uses the Authorization header when present and the cookies
// otherwise. A malformed header is a 400.
func (h *handler) authenticate(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}
	if creds.Empty() {
		writeJSON(w, http.StatusOK, struct{}{})
		return
	}
	token, ok := h.resolve(w, r, creds)
	if !ok {
		return
	}
	w.Header().Set("Authorization", token)
	writeJSON(w, http.StatusOK, struct{}{})
}

// authorize accepts only the header token or the session cookie.
func (h *handler) authorize(w http.ResponseWriter, r *http.Request) {
	creds, ok := h.credentials(w, r)
	if !ok {
		return
	}
	creds.Classic = nil
	if creds.Empty() {
		middleware.WriteReason(w, http.StatusBadRequest, "no authorization token available")
		return
	}
	token, ok := h.resolve(w, r, creds)
	if !ok {
		return
	}
	w.Header().Set("Token", token)
	writeJSON(w, http.StatusOK, struct{}{})
}

func (h *handler) credentials(w http.ResponseWriter, r *http.Request) (arxivauth.Credentials, bool) {
	creds := h.resolver.Credentials(r)
	if header := r.Header.Get("Authorization"); header != "" {
		if creds.Bearer == "" {
			h.logger.Info("malformed authorization header")
			middleware.WriteReason(w, http.StatusBadRequest, "authorization header is malformed")
			return arxivauth.Credentials{}, false
		}
		return arxivauth.Credentials{Bearer: creds.Bearer}, true
	}
	return creds, true
}

// resolve writes the failure response itself and reports whether a token was issued.
func (h *handler) resolve(w http.ResponseWriter, r *http.Request, creds arxivauth.Credentials) (string, bool) {
	res, err := h.resolver.Resolve(r.Context(), creds)
	if err != nil {
		if arxivauth.IsUnavailable(err) {
			h.logger.Warn("session store unavailable", zap.Error(err))
			middleware.WriteReason(w, http.StatusServiceUnavailable, "session store unavailable")
			return "", false
		}
		middleware.WriteReason(w, http.StatusUnauthorized, arxivauth.PublicReason(err))
		return "", false
	}
	if res.Anonymous() {
		middleware.WriteReason(w, http.StatusUnauthorized, arxivauth.PublicReason(res.Rejection))
		return "", false
	}
	token, err := h.svc.IssueToken(res.Session)
	if err != nil {
		h.logger.Error("could not sign claims token", zap.Error(err))
		middleware.WriteReason(w, http.StatusInternalServerError, "internal error")
		return "", false
	}
	return token, true
}

// ---------------------------------------------------------------------------
// Login / logout
// ---------------------------------------------------------------------------

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
	NextPage string `json:"next_page"`
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	body, err := readLogin(w, r)
	if err != nil || body.Username == "" || body.Password == "" {
		middleware.WriteReason(w, http.StatusBadRequest, "username and password are required")
		return
	}

	ip := clientIP(r)
	res, err := h.svc.Login(arxivauth.WithClientIP(r.Context(), ip), arxivauth.LoginRequest{
		Username:   body.Username,
		Password:   body.Password,
		IP:         ip,
		RemoteHost: r.Host,
	})
	switch {
	case err == nil:
	case errors.Is(err, arxivauth.ErrAuthenticationFailed), errors.Is(err, arxivauth.ErrAccountUnverified):
		middleware.WriteReason(w, http.StatusUnauthorized, "invalid username or password")
		return
	case errors.Is(err, arxivauth.ErrLoginThrottled):
		middleware.WriteReason(w, http.StatusTooManyRequests, "too many failed login attempts")
		return
	case arxivauth.IsUnavailable(err):
		h.logger.Warn("login failed on store outage", zap.Error(err))
		middleware.WriteReason(w, http.StatusServiceUnavailable, "session store unavailable")
		return
	default:
		h.logger.Error("login failed", zap.Error(err))
		middleware.WriteReason(w, http.StatusInternalServerError, "could not create session")
		return
	}

	for _, c := range res.Cookies {
		http.SetCookie(w, c.HTTPCookie())
	}
	if next := safeNext(body.NextPage); next != "" {
		http.Redirect(w, r, next, http.StatusSeeOther)
		return
	}
	id, _ := res.Session.Principal()
	writeJSON(w, http.StatusOK, map[string]string{
		"session_id": res.Session.SessionID,
		"user_id":    id,
	})
}

func (h *handler) logout(w http.ResponseWriter, r *http.Request) {
	for _, c := range h.svc.Logout(r.Context(), h.resolver.Credentials(r)) {
		http.SetCookie(w, c.HTTPCookie())
	}
	next := safeNext(r.FormValue("next_page"))
	if next == "" {
		next = "/"
	}
	http.Redirect(w, r, next, http.StatusSeeOther)
}

func readLogin(w http.ResponseWriter, r *http.Request) (loginBody, error) {
	var body loginBody
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body)
		return body, err
	}
	if err := r.ParseForm(); err != nil {
		return body, err
	}
	body.Username = r.PostFormValue("username")
	body.Password = r.PostFormValue("password")
	body.NextPage = r.PostFormValue("next_page")
	return body, nil
}

// safeNext allows only same-site absolute paths.
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return ""
	}
	return next
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func (h *handler) healthz(w http.ResponseWriter, r *http.Request) {
	sessions, classic := h.svc.Health(r.Context())
	body := map[string]string{"sessions": "ok"}
	status := http.StatusOK
	if sessions != nil {
		body["sessions"] = "unavailable"
		status = http.StatusServiceUnavailable
	}
	if h.svc.LegacyEnabled() {
		body["classic"] = "ok"
		if classic != nil {
			body["classic"] = "unavailable"
		}
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
