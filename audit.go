package arxivauth

import (
	"io"

	"github.com/arxiv/arxiv-auth/internal/audit"
	"go.uber.org/zap"
)

// AuditEvent is one login, logout or throttle outcome.
type AuditEvent = audit.Event

// AuditSink receives audit events from a background dispatcher.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditLoginSuccess   = audit.EventLoginSuccess
	AuditLoginFailure   = audit.EventLoginFailure
	AuditLoginThrottled = audit.EventLoginThrottled
	AuditLogout         = audit.EventLogout
)

// ChannelSink buffers events on a channel, for tests and in-process consumers.
type ChannelSink = audit.ChannelSink

// NewJSONWriterSink writes one JSON object per event to w.
func NewJSONWriterSink(w io.Writer) AuditSink {
	return audit.NewJSONWriterSink(w)
}

// NewLogSink writes events as info-level log entries.
func NewLogSink(logger *zap.Logger) AuditSink {
	return audit.NewLogSink(logger)
}

// NewChannelSink returns a ChannelSink holding up to buffer undelivered events.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}
