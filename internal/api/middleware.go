package api

import (
	"crypto/sha256"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/graaaaa/vrclog-lifelog/internal/appinfo"
)

// csrfMiddleware rejects state-changing requests (POST, PUT, DELETE) whose
// Origin or Referer host is not allowed.
func csrfMiddleware(allowedHosts []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost && r.Method != http.MethodPut && r.Method != http.MethodDelete {
				next.ServeHTTP(w, r)
				return
			}

			source := r.Header.Get("Origin")
			if source == "" {
				source = r.Header.Get("Referer")
			}
			if source == "" {
				http.Error(w, "Forbidden: missing origin/referer", http.StatusForbidden)
				return
			}

			u, err := url.Parse(source)
			if err != nil || !isAllowedHost(u.Host, allowedHosts) {
				http.Error(w, "Forbidden: invalid origin", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isAllowedHost reports whether host (with or without port) is a loopback
// name or in the allowlist.
func isAllowedHost(host string, allowedHosts []string) bool {
	host = stripPort(host)

	if host == "localhost" || host == "127.0.0.1" || host == "::1" || host == "[::1]" {
		return true
	}
	for _, allowed := range allowedHosts {
		if host == stripPort(allowed) {
			return true
		}
	}
	return false
}

func stripPort(host string) string {
	if idx := strings.LastIndex(host, ":"); idx != -1 && !strings.HasSuffix(host, "]") {
		return host[:idx]
	}
	return host
}

// securityHeadersMiddleware adds security headers to all responses.
func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", strings.Join([]string{
			"default-src 'none'",
			"connect-src 'self'",
			"base-uri 'none'",
			"frame-ancestors 'none'",
			"form-action 'none'",
		}, "; "))
		h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		h.Set("Cross-Origin-Opener-Policy", "same-origin")
		h.Set("Cross-Origin-Resource-Policy", "same-origin")

		next.ServeHTTP(w, r)
	})
}

// constantTimeEqualString compares two strings in constant time,
// independent of their lengths.
func constantTimeEqualString(a, b string) bool {
	ah := sha256.Sum256([]byte(a))
	bh := sha256.Sum256([]byte(b))
	return subtle.ConstantTimeCompare(ah[:], bh[:]) == 1
}

// basicAuthMiddleware checks HTTP Basic Auth credentials. When afl is set,
// wrong credentials count toward a per-IP lockout.
func basicAuthMiddleware(username, password string, afl *AuthFailureLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := extractIP(r)
			if afl != nil && afl.IsLocked(ip) {
				lockedOut(w, afl, ip)
				return
			}

			u, p, ok := r.BasicAuth()
			if ok && constantTimeEqualString(u, username) && constantTimeEqualString(p, password) {
				if afl != nil {
					afl.RecordSuccess(ip)
				}
				next.ServeHTTP(w, r)
				return
			}

			if ok && afl != nil && afl.RecordFailure(ip) < 0 {
				slog.Warn("basic auth lockout", "ip", ip)
				lockedOut(w, afl, ip)
				return
			}

			w.Header().Set("WWW-Authenticate", `Basic realm="`+appinfo.AuthRealm+`"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}

func lockedOut(w http.ResponseWriter, afl *AuthFailureLimiter, ip string) {
	w.Header().Set("Retry-After", strconv.Itoa(afl.LockoutSecondsRemaining(ip)))
	http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
}

// statusRecorder captures the response status for access logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps streaming responses working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// accessLogMiddleware logs every request at Debug level.
func accessLogMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.status,
				"duration", time.Since(start),
			)
		})
	}
}
