package logging

import (
	"context"
	"regexp"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 8)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if tenant := TenantFromContext(ctx); tenant != nil {
		if tenant.Company != "" {
			fields = append(fields, zap.String("tenant.company", tenant.Company))
		}
		if tenant.Project != "" {
			fields = append(fields, zap.String("tenant.project", tenant.Project))
		}
		if tenant.User != "" {
			fields = append(fields, zap.String("tenant.user", tenant.User))
		}
	}

	if sessionID := SessionIDFromContext(ctx); sessionID != "" {
		fields = append(fields, zap.String("session.id", sessionID))
	}

	if requestID := RequestIDFromContext(ctx); requestID != "" {
		fields = append(fields, zap.String("request.id", requestID))
	}

	return fields
}

type tenantCtxKey struct{}
type sessionCtxKey struct{}
type requestCtxKey struct{}

// Tenant identifies whose patterns a request touches.
type Tenant struct {
	Company string
	Project string
	User    string
}

const (
	maxTenantFieldLen = 128
	maxIDLen          = 128
)

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func validID(id string) bool {
	return id != "" && len(id) <= maxIDLen && idPattern.MatchString(id)
}

func cleanTenantField(v string) string {
	if !utf8.ValidString(v) {
		return ""
	}
	if len(v) > maxTenantFieldLen {
		v = v[:maxTenantFieldLen]
		for !utf8.ValidString(v) {
			v = v[:len(v)-1]
		}
	}
	return v
}

// TenantFromContext extracts tenant from context.
func TenantFromContext(ctx context.Context) *Tenant {
	if t, ok := ctx.Value(tenantCtxKey{}).(*Tenant); ok {
		return t
	}
	return nil
}

// WithTenant adds tenant to context. Fields that are not valid UTF-8 are
// dropped and long ones are truncated. A nil or empty tenant leaves ctx
// unchanged.
func WithTenant(ctx context.Context, tenant *Tenant) context.Context {
	if tenant == nil {
		return ctx
	}
	t := &Tenant{
		Company: cleanTenantField(tenant.Company),
		Project: cleanTenantField(tenant.Project),
		User:    cleanTenantField(tenant.User),
	}
	if *t == (Tenant{}) {
		return ctx
	}
	return context.WithValue(ctx, tenantCtxKey{}, t)
}

// SessionIDFromContext extracts session ID from context.
func SessionIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(sessionCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithSessionID adds session ID to context. IDs that are empty, longer than
// 128 bytes or not made of [A-Za-z0-9_-] are ignored.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if !validID(sessionID) {
		return ctx
	}
	return context.WithValue(ctx, sessionCtxKey{}, sessionID)
}

// RequestIDFromContext extracts request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if r, ok := ctx.Value(requestCtxKey{}).(string); ok {
		return r
	}
	return ""
}

// WithRequestID adds request ID to context. Invalid IDs are ignored, as
// for WithSessionID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if !validID(requestID) {
		return ctx
	}
	return context.WithValue(ctx, requestCtxKey{}, requestID)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return &Logger{zap: zap.NewNop(), config: NewDefaultConfig()}
}
