package internaldefs

import (
	arxivauth "github.com/arxiv/arxiv-auth"
)

// CounterDef names one exported counter.
type CounterDef struct {
	ID   arxivauth.MetricID
	Name string
	Help string
}

// HistogramDef names one exported latency histogram.
type HistogramDef struct {
	ID   arxivauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in export order.
var CounterDefs = []CounterDef{
	{ID: arxivauth.MetricSessionCreated, Name: "arxiv_auth_session_created_total", Help: "Sessions created in the key-value store."},
	{ID: arxivauth.MetricSessionInvalidated, Name: "arxiv_auth_session_invalidated_total", Help: "Sessions invalidated in the key-value store."},
	{ID: arxivauth.MetricSessionDeleted, Name: "arxiv_auth_session_deleted_total", Help: "Session records deleted from the key-value store."},
	{ID: arxivauth.MetricClassicSessionCreated, Name: "arxiv_auth_classic_session_created_total", Help: "Sessions created in the classic database."},
	{ID: arxivauth.MetricClassicSessionInvalidated, Name: "arxiv_auth_classic_session_invalidated_total", Help: "Sessions invalidated in the classic database."},
	{ID: arxivauth.MetricResolveHeader, Name: "arxiv_auth_resolve_header_total", Help: "Requests resolved from a bearer token."},
	{ID: arxivauth.MetricResolveSession, Name: "arxiv_auth_resolve_session_total", Help: "Requests resolved from the session cookie."},
	{ID: arxivauth.MetricResolveClassic, Name: "arxiv_auth_resolve_classic_total", Help: "Requests resolved from a classic cookie."},
	{ID: arxivauth.MetricResolveAnonymous, Name: "arxiv_auth_resolve_anonymous_total", Help: "Requests left anonymous."},
	{ID: arxivauth.MetricInvalidToken, Name: "arxiv_auth_invalid_token_total", Help: "Rejected tokens and session cookies."},
	{ID: arxivauth.MetricInvalidCookie, Name: "arxiv_auth_invalid_cookie_total", Help: "Rejected classic cookies."},
	{ID: arxivauth.MetricUnknownSession, Name: "arxiv_auth_unknown_session_total", Help: "Cookies naming a session that does not exist."},
	{ID: arxivauth.MetricSessionExpired, Name: "arxiv_auth_session_expired_total", Help: "Credentials rejected as expired."},
	{ID: arxivauth.MetricClassicUnavailable, Name: "arxiv_auth_classic_unavailable_total", Help: "Classic database outages seen while resolving."},
	{ID: arxivauth.MetricRedisUnavailable, Name: "arxiv_auth_redis_unavailable_total", Help: "Key-value store outages seen while resolving."},
	{ID: arxivauth.MetricLoginSuccess, Name: "arxiv_auth_login_success_total", Help: "Successful logins."},
	{ID: arxivauth.MetricLoginFailure, Name: "arxiv_auth_login_failure_total", Help: "Failed logins."},
	{ID: arxivauth.MetricLoginThrottled, Name: "arxiv_auth_login_throttled_total", Help: "Logins refused by the failure throttle."},
	{ID: arxivauth.MetricLogout, Name: "arxiv_auth_logout_total", Help: "Logout requests."},
	{ID: arxivauth.MetricAuditDropped, Name: "arxiv_auth_audit_dropped_total", Help: "Audit events that never reached the sink."},
}

// HistogramDefs lists every histogram in export order.
var HistogramDefs = []HistogramDef{
	{ID: arxivauth.MetricResolveLatency, Name: "arxiv_auth_resolve_latency_seconds", Help: "Request resolution latency."},
}

// HistogramUpperBounds are the finite bucket bounds in seconds. The eighth
// bucket is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, +Inf included, for exporters that
// publish buckets as separate instruments.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets pads or truncates raw to eight buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
