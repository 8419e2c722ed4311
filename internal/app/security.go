package app

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"omrkey/internal/app/apiresp"
)

const (
	csrfCookieName = "omrkey_csrf"
	csrfHeaderName = "X-CSRF-Token"
)

type rateBucket struct {
	count      int
	windowEnds time.Time
}

// IPRateLimiter counts requests per key in fixed windows. Buckets whose
// window has ended are dropped once per window.
type IPRateLimiter struct {
	mu        sync.Mutex
	max       int
	window    time.Duration
	buckets   map[string]rateBucket
	nextPrune time.Time
	now       func() time.Time
}

func NewIPRateLimiter(max int, window time.Duration) *IPRateLimiter {
	if max <= 0 {
		max = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &IPRateLimiter{
		max:     max,
		window:  window,
		buckets: make(map[string]rateBucket),
		now:     time.Now,
	}
}

func (l *IPRateLimiter) Allow(key string) bool {
	ok, _ := l.Take(key)
	return ok
}

// Take counts one request for key. When the limit is reached it returns
// false and the time left until the window resets.
func (l *IPRateLimiter) Take(key string) (bool, time.Duration) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.After(l.nextPrune) {
		for k, b := range l.buckets {
			if now.After(b.windowEnds) {
				delete(l.buckets, k)
			}
		}
		l.nextPrune = now.Add(l.window)
	}

	b, ok := l.buckets[key]
	if !ok || now.After(b.windowEnds) {
		b = rateBucket{windowEnds: now.Add(l.window)}
	}
	if b.count >= l.max {
		return false, b.windowEnds.Sub(now)
	}
	b.count++
	l.buckets[key] = b
	return true, 0
}

func (l *IPRateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// RateLimitMiddleware limits each client address per route.
func RateLimitMiddleware(l *IPRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r) + "|" + r.Method + "|" + r.URL.Path
			ok, retry := l.Take(key)
			if !ok {
				secs := int(retry.Seconds())
				if retry > time.Duration(secs)*time.Second {
					secs++
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				apiresp.WriteError(w, r, http.StatusTooManyRequests, "too many imports, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP drops the port so that one client maps to one bucket. RealIP
// has already replaced RemoteAddr when a proxy header was present.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if i := strings.LastIndex(addr, ":"); i > 0 && !strings.HasSuffix(addr, "]") {
		return strings.Trim(addr[:i], "[]")
	}
	return strings.Trim(addr, "[]")
}

// CSRFMiddleware checks the double-submit token on unsafe methods when
// enforced.
func CSRFMiddleware(enforced bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enforced {
				next.ServeHTTP(w, r)
				return
			}
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			c, err := r.Cookie(csrfCookieName)
			if err != nil || strings.TrimSpace(c.Value) == "" {
				apiresp.WriteErrorCode(w, r, http.StatusForbidden, "csrf_token_missing", "csrf token missing, fetch one from /api/v1/csrf")
				return
			}
			h := strings.TrimSpace(r.Header.Get(csrfHeaderName))
			if h == "" || h != c.Value {
				apiresp.WriteErrorCode(w, r, http.StatusForbidden, "csrf_token_invalid", "csrf token invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CSRFTokenHandler issues a fresh token as a cookie and in the body. Clients
// echo it back in the X-CSRF-Token header.
func CSRFTokenHandler(secure bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			apiresp.WriteError(w, r, http.StatusInternalServerError, "cannot create csrf token")
			return
		}
		token := hex.EncodeToString(buf)
		http.SetCookie(w, &http.Cookie{
			Name:     csrfCookieName,
			Value:    token,
			Path:     "/",
			Secure:   secure,
			SameSite: http.SameSiteStrictMode,
		})
		apiresp.WriteOK(w, r, http.StatusOK, map[string]string{
			"token":  token,
			"header": csrfHeaderName,
		})
	}
}
