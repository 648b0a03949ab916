// Package requestcontext provides HTTP-independent context accessors for request-scoped values.
//
// Middleware sets the values; services read them without importing net/http:
//
//	now := requestcontext.Now(ctx)
//	info := requestcontext.Info(ctx) // for publisher.LogInput.Request
//
// Tests inject values directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithClientMetadata(ctx, "10.0.0.1", "curl/8.0")
package requestcontext

import (
	"context"
	"time"

	audit "casetrail/pkg/platform/audit"
)

type (
	clientIDKey    struct{}
	clientIPKey    struct{}
	userAgentKey   struct{}
	deviceKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for direct use in tests that need context.WithValue.
var (
	ContextKeyClientID    = clientIDKey{}
	ContextKeyClientIP    = clientIPKey{}
	ContextKeyUserAgent   = userAgentKey{}
	ContextKeyDevice      = deviceKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

func stringValue(ctx context.Context, key any) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// ClientID retrieves the calling client's identifier.
func ClientID(ctx context.Context) string { return stringValue(ctx, ContextKeyClientID) }

func WithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, ContextKeyClientID, clientID)
}

// ClientIP retrieves the client IP address from the context.
func ClientIP(ctx context.Context) string { return stringValue(ctx, ContextKeyClientIP) }

// UserAgent retrieves the raw User-Agent from the context.
func UserAgent(ctx context.Context) string { return stringValue(ctx, ContextKeyUserAgent) }

// WithClientMetadata injects client IP and User-Agent into a context.
// Useful for service unit tests that don't run the full HTTP middleware chain.
func WithClientMetadata(ctx context.Context, clientIP, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ContextKeyClientIP, clientIP)
	ctx = context.WithValue(ctx, ContextKeyUserAgent, userAgent)
	return ctx
}

// Device retrieves the parsed user agent summary.
func Device(ctx context.Context) string { return stringValue(ctx, ContextKeyDevice) }

func WithDevice(ctx context.Context, device string) context.Context {
	return context.WithValue(ctx, ContextKeyDevice, device)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string { return stringValue(ctx, ContextKeyRequestID) }

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Info collects the request values recorded with an audit write. Returns nil when
// the context carries none of them, e.g. in workers.
func Info(ctx context.Context) *audit.RequestInfo {
	info := audit.RequestInfo{
		IPAddress: ClientIP(ctx),
		ClientID:  ClientID(ctx),
		RequestID: RequestID(ctx),
		UserAgent: UserAgent(ctx),
		Device:    Device(ctx),
	}
	if info == (audit.RequestInfo{}) {
		return nil
	}
	return &info
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (for non-HTTP contexts like workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}
