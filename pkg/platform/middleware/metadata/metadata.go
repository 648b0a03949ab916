package metadata

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/mssola/useragent"

	"casetrail/pkg/requestcontext"
)

// HeaderClientID names the calling application.
const HeaderClientID = "X-Client-ID"

// ClientMetadata records the client IP, User-Agent, device summary, client ID and
// chi request ID in the context so audit writes can pick them up via
// requestcontext.Info. Mount it after chi's middleware.RequestID.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")

		ctx := requestcontext.WithClientMetadata(r.Context(), ClientIPFromRequest(r), ua)
		if device := DeviceSummary(ua); device != "" {
			ctx = requestcontext.WithDevice(ctx, device)
		}
		if clientID := strings.TrimSpace(r.Header.Get(HeaderClientID)); clientID != "" {
			ctx = requestcontext.WithClientID(ctx, clientID)
		}
		if reqID := middleware.GetReqID(ctx); reqID != "" {
			ctx = requestcontext.WithRequestID(ctx, reqID)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// DeviceSummary condenses a User-Agent into "Browser Version on OS". Bots are
// reported as "bot: Name". Empty input yields "".
func DeviceSummary(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if ua.Bot() {
		return "bot: " + name
	}
	summary := strings.TrimSpace(name + " " + version)
	if osName := ua.OS(); osName != "" {
		summary += " on " + osName
	}
	if ua.Mobile() {
		summary += " (mobile)"
	}
	return strings.TrimSpace(summary)
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// First entry of X-Forwarded-For is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr is "ip:port" or "[::1]:port".
	if addr := r.RemoteAddr; addr != "" {
		if idx := strings.LastIndex(addr, ":"); idx != -1 {
			return strings.Trim(addr[:idx], "[]")
		}
		return addr
	}

	return "unknown"
}
