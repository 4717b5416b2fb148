package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ipRateLimiter is a fixed-window per-IP limiter. The entry map is bounded:
// expired entries are swept whenever the map would exceed maxEntries, and if
// a sweep is not enough the entry closest to expiry is evicted, so the map
// cannot grow without limit under address churn.
type ipRateLimiter struct {
	mu         sync.Mutex
	entries    map[string]*ipEntry
	limit      int
	window     time.Duration
	maxEntries int
}

type ipEntry struct {
	resetAt time.Time
	count   int
}

func newIPRateLimiter(limit int, window time.Duration, maxEntries int) *ipRateLimiter {
	return &ipRateLimiter{
		entries:    map[string]*ipEntry{},
		limit:      limit,
		window:     window,
		maxEntries: maxEntries,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	e := l.entries[ip]
	if e == nil || now.After(e.resetAt) {
		if e == nil && len(l.entries) >= l.maxEntries {
			l.evictLocked(now)
		}
		l.entries[ip] = &ipEntry{resetAt: now.Add(l.window), count: 1}
		return true
	}
	if e.count >= l.limit {
		return false
	}
	e.count++
	return true
}

// evictLocked frees at least one slot: first drops every expired entry,
// then, if the map is still full, the entry closest to expiry.
func (l *ipRateLimiter) evictLocked(now time.Time) {
	for ip, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, ip)
		}
	}
	if len(l.entries) < l.maxEntries {
		return
	}
	var oldestIP string
	var oldest time.Time
	for ip, e := range l.entries {
		if oldestIP == "" || e.resetAt.Before(oldest) {
			oldestIP = ip
			oldest = e.resetAt
		}
	}
	if oldestIP != "" {
		delete(l.entries, oldestIP)
	}
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip the event stream: it's one long-lived request, not traffic.
		if strings.HasSuffix(r.URL.Path, "/sse/events") {
			next.ServeHTTP(w, r)
			return
		}
		ip := clientIP(r)
		if ip == "" {
			ip = "unknown"
		}
		if !l.allow(ip) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
