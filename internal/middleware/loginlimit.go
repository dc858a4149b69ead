package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/openclaw/visitor-analytics-go/internal/audit"
	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/httputil"
)

const loginCleanupPeriod = 5 * time.Minute

type loginAttempt struct {
	count       int
	windowStart time.Time
}

// LoginRateLimiter is a per-process fixed window on admin login attempts.
type LoginRateLimiter struct {
	mu          sync.Mutex
	attempts    map[string]*loginAttempt
	maxAttempts int
	window      time.Duration
	clock       clock.Clock
	lastCleanup time.Time
}

func NewLoginRateLimiter(maxAttempts int, window time.Duration, clk clock.Clock) *LoginRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &LoginRateLimiter{
		attempts:    make(map[string]*loginAttempt),
		maxAttempts: maxAttempts,
		window:      window,
		clock:       clk,
		lastCleanup: clk.Now(),
	}
}

func (l *LoginRateLimiter) cleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < loginCleanupPeriod {
		return
	}
	l.lastCleanup = now

	for ip, attempt := range l.attempts {
		if now.Sub(attempt.windowStart) > l.window {
			delete(l.attempts, ip)
		}
	}
}

func (l *LoginRateLimiter) isAllowed(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.cleanup(now)

	attempt, exists := l.attempts[ip]
	if !exists {
		l.attempts[ip] = &loginAttempt{count: 1, windowStart: now}
		return true
	}

	if now.Sub(attempt.windowStart) > l.window {
		attempt.count = 1
		attempt.windowStart = now
		return true
	}

	if attempt.count >= l.maxAttempts {
		return false
	}

	attempt.count++
	return true
}

func (l *LoginRateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.isAllowed(audit.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": "admin_login"},
			})
			httputil.WriteError(w, apperrors.New(apperrors.ErrCodeRateLimitExceeded, "Too many login attempts. Please try again later."))
			return
		}

		next.ServeHTTP(w, r)
	})
}
