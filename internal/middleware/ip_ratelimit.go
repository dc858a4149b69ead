package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/visitor-analytics-go/internal/audit"
	apperrors "github.com/openclaw/visitor-analytics-go/internal/errors"
	"github.com/openclaw/visitor-analytics-go/internal/httputil"
	redisclient "github.com/openclaw/visitor-analytics-go/internal/redis"
	"github.com/openclaw/visitor-analytics-go/internal/util"
)

// LimitChecker is satisfied by service.RateLimiter.
type LimitChecker interface {
	CheckLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Time, error)
}

type IPRateLimitMiddleware struct {
	limiter  LimitChecker
	limit    int
	window   time.Duration
	scope    string
	failOpen bool
}

// NewIPRateLimitMiddleware limits requests per client IP within scope. With
// failOpen set, requests are admitted while Redis is unreachable.
func NewIPRateLimitMiddleware(limiter LimitChecker, limit int, window time.Duration, scope string, failOpen bool) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter:  limiter,
		limit:    limit,
		window:   window,
		scope:    scope,
		failOpen: failOpen,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := audit.ClientIP(r)
		key := redisclient.RateLimitKey(m.scope, util.HashToken(ip))

		allowed, resetAt, err := m.limiter.CheckLimit(r.Context(), key, m.limit, m.window)
		if err != nil {
			log.Warn().Err(err).Str("scope", m.scope).Bool("failOpen", m.failOpen).Msg("rate limit check failed")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteError(w, apperrors.Unavailable("Rate limiter unavailable"))
			return
		}

		if !allowed {
			secondsLeft := int(time.Until(resetAt).Seconds()) + 1
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secondsLeft))
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"scope": m.scope},
			})
			httputil.WriteError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
