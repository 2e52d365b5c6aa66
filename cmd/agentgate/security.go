package main

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "agentgate/internal/errors"
	"agentgate/internal/httputil"
)

// securityHeaders sets the standard hardening headers on every response.
func (s *Server) securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy", "default-src 'none'")
		if s.cfg.IsProduction() {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// ipFilter applies the global denylist everywhere and the admin allowlist to
// the admin-only surface.
func (s *Server) ipFilter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httputil.ClientIP(r)
		for _, denied := range s.cfg.IPDenylist {
			if denied == ip {
				s.logger.WithField("remote_ip", ip).Warn("denied ip rejected")
				httputil.WriteError(w, apperrors.AuthDenied("access denied"))
				return
			}
		}
		if len(s.cfg.AdminIPAllowlist) > 0 && isAdminPath(r.URL.Path) {
			allowed := false
			for _, a := range s.cfg.AdminIPAllowlist {
				if a == ip {
					allowed = true
					break
				}
			}
			if !allowed {
				s.logger.WithFields(logrus.Fields{
					"remote_ip": ip,
					"path":      r.URL.Path,
				}).Warn("admin endpoint blocked for ip")
				httputil.WriteError(w, apperrors.AuthDenied("access denied"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isAdminPath(path string) bool {
	switch {
	case strings.HasPrefix(path, "/api/v1/provision"),
		strings.HasPrefix(path, "/api/v1/deprovision"),
		strings.HasPrefix(path, "/api/v1/erasure"),
		strings.HasPrefix(path, "/api/v1/audit"),
		strings.HasPrefix(path, "/api/v1/users/approve"):
		return true
	}
	return false
}

// perIPRateLimit bounds requests per client IP over a fixed window. Carrier
// webhooks are exempt: dropping a carrier retry costs a message.
func (s *Server) perIPRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/webhooks/") {
			next.ServeHTTP(w, r)
			return
		}
		if !s.ipLimiter.allow(httputil.ClientIP(r)) {
			httputil.WriteError(w, apperrors.RateLimited("http requests per minute", ""))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ipRateLimiter is a fixed-window per-IP counter. Windows reset wholesale,
// which is coarse but cheap and good enough for abuse damping.
type ipRateLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	windowStart time.Time
	counts      map[string]int
}

func newIPRateLimiter(limit int, window time.Duration) *ipRateLimiter {
	return &ipRateLimiter{
		limit:       limit,
		window:      window,
		windowStart: time.Now(),
		counts:      make(map[string]int),
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	if l.limit <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.counts = make(map[string]int)
	}
	l.counts[ip]++
	return l.counts[ip] <= l.limit
}
