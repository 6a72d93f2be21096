package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/leehonan/meterman-server/internal/httpapi/auth"
)

type key int

const usernameKey key = 0

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": map[string]string{"code": code, "message": msg}})
}

// maxTrackedClients bounds the per-IP limiter cache: a gateway fleet's
// client set is the router/VPN in front of it, not the open internet,
// so an LRU eviction cap is enough to stop unbounded growth from a
// scanner hammering the endpoint with spoofed X-Forwarded-For values.
const maxTrackedClients = 4096

// RateLimiter is a per-IP token bucket built on golang.org/x/time/rate,
// one limiter per client IP held in a bounded LRU so a client that
// never reconnects eventually falls out of memory instead of pinning a
// map entry forever.
func RateLimiter(maxPerMinute int) func(http.Handler) http.Handler {
	if maxPerMinute <= 0 {
		maxPerMinute = 60
	}
	every := rate.Every(time.Minute / time.Duration(maxPerMinute))
	limiters, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		panic(err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)

			lim, ok := limiters.Get(ip)
			if !ok {
				lim = rate.NewLimiter(every, maxPerMinute)
				limiters.Add(ip, lim)
			}
			if !lim.Allow() {
				w.Header().Set("Retry-After", "60")
				writeJSONError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP prefers X-Real-IP (set by the reverse proxy terminating
// gateway/operator traffic) over X-Forwarded-For's first hop, falling
// back to the raw connection address for direct-dialed gateways.
func clientIP(r *http.Request) string {
	if rip := r.Header.Get("X-Real-IP"); rip != "" {
		return strings.TrimSpace(rip)
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UsernameFromContext extracts the authenticated username set by Auth.
func UsernameFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(usernameKey).(string)
	return u, ok
}

// Auth validates a bearer token issued by auth.GenerateToken.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			tok := strings.TrimPrefix(authz, "Bearer ")
			username, err := auth.ParseToken(tok, secret)
			if err != nil {
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), usernameKey, username)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
