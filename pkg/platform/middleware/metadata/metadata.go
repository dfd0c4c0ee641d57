package metadata

import (
	"net"
	"net/http"
	"strings"

	"auditlog/internal/audit"
	"auditlog/pkg/requestcontext"
)

// ClientMetadata extracts the request identity and stores it in the context
// for the recorder and handlers. Apply it early in the chain.
func ClientMetadata(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Extract(r)
		ctx := requestcontext.WithClientMetadata(r.Context(), id.IP, id.UserAgent, id.Endpoint, id.Method)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Extract derives the audit identity of a request. It never fails; missing
// values come back empty, except the IP which falls back to "unknown".
func Extract(r *http.Request) audit.Identity {
	return audit.Identity{
		IP:        ClientIPFromRequest(r),
		UserAgent: audit.TruncateUserAgent(r.Header.Get("User-Agent")),
		Endpoint:  r.URL.Path,
		Method:    r.Method,
	}
}

// ClientIPFromRequest extracts the real client IP from the request, handling proxies and load balancers.
func ClientIPFromRequest(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs (client, proxy1, proxy2, ...);
	// the first is the original client.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	// Set by nginx and similar proxies.
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	// RemoteAddr is "ip:port", or "[ipv6]:port".
	if addr := r.RemoteAddr; addr != "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			return host
		}
		return addr
	}

	return audit.UnknownIP
}
