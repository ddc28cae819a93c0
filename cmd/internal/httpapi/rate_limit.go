package httpapi

import (
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ipThrottle is an in-process sliding-window limiter keyed by client IP.
type ipThrottle struct {
	limit  int
	window time.Duration

	mu   sync.Mutex
	hits map[string][]time.Time
}

func newIPThrottle(limit int, window time.Duration) *ipThrottle {
	if limit <= 0 || window <= 0 {
		return nil
	}
	return &ipThrottle{limit: limit, window: window, hits: make(map[string][]time.Time)}
}

// take records a hit for key at now unless the window is full.
func (t *ipThrottle) take(key string, now time.Time) (bool, time.Duration) {
	if t == nil {
		return true, 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	cut := now.Add(-t.window)
	hits := slices.DeleteFunc(t.hits[key], func(at time.Time) bool { return !at.After(cut) })
	if blocked, retry := evaluateWindowThrottle(now, hits, t.limit, t.window); blocked {
		t.hits[key] = hits
		return false, retry
	}
	t.hits[key] = append(hits, now)

	// Drop idle keys so the map does not grow with every client ever seen.
	if len(t.hits) > 4096 {
		for k, v := range t.hits {
			if len(v) == 0 || !v[len(v)-1].After(cut) {
				delete(t.hits, k)
			}
		}
	}
	return true, 0
}

// evaluateWindowThrottle reports whether hits already fill limit within window, and how long
// until the oldest one falls out.
func evaluateWindowThrottle(now time.Time, hits []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	var (
		count  int
		oldest time.Time
	)
	for _, at := range hits {
		if !at.After(cut) {
			continue
		}
		count++
		if oldest.IsZero() || at.Before(oldest) {
			oldest = at
		}
	}
	if count < limit {
		return false, 0
	}
	return true, oldest.Add(window).Sub(now)
}

// limited wraps next with a per-IP throttle.
func (h *Handler) limited(t *ipThrottle, next http.HandlerFunc) http.HandlerFunc {
	if t == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		key := "unknown"
		if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
			key = ip.String()
		}
		if ok, retry := t.take(key, time.Now().UTC()); !ok {
			h.log.Info("http.rate_limited", "ip", key, "path", r.URL.Path, "retry_after", retry)
			writeRateLimited(w, retry)
			return
		}
		next(w, r)
	}
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter.Round(time.Second).Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, codeRateLimited, "too many requests, please try again later")
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
