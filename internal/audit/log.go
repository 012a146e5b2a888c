package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// Event is one security relevant action. TenantID scopes where it is stored.
type Event struct {
	Action       string
	ResourceType string
	ResourceID   string
	ActorUserID  string
	TenantID     string
	IP           string
	UserAgent    string
	RequestID    string
	OccurredAt   time.Time
	Details      map[string]any
}

// Sink persists events. Sinks are called from the dispatcher goroutine only.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Write(ctx context.Context, e Event) error { return f(ctx, e) }

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext extracts the request id if present.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogSink mirrors events into the structured log.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Write(_ context.Context, e Event) error {
	if s.Logger == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("type", "audit"),
		zap.String("action", e.Action),
		zap.String("tenant_id", e.TenantID),
		zap.String("actor_user_id", e.ActorUserID),
		zap.Time("occurred_at", e.OccurredAt),
	}
	if e.ResourceType != "" {
		fields = append(fields, zap.String("resource_type", e.ResourceType), zap.String("resource_id", e.ResourceID))
	}
	if e.IP != "" {
		fields = append(fields, zap.String("ip", e.IP))
	}
	if e.RequestID != "" {
		fields = append(fields, zap.String("request_id", e.RequestID))
	}
	if len(e.Details) > 0 {
		fields = append(fields, zap.Any("details", e.Details))
	}
	s.Logger.Info("audit event", fields...)
	return nil
}
