package echoapi

import (
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/luxaar/luxaar/services/metrics"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			usr, err := getContextUser(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context user")
			}
			if !usr.IsAdmin() {
				return errHttpForbidden
			}
			if len(roles) == 0 {
				return next(ctx)
			}
			for _, role := range roles {
				if usr.HasRole(role) {
					return next(ctx)
				}
			}
			return errHttpForbidden
		}
	}
}

// metricsMiddleware records every request against its route template.
// Errors are handled here so the recorded status is the one sent.
func metricsMiddleware(m *metrics.Metrics) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			done := m.RequestStarted()
			if err := next(ctx); err != nil {
				ctx.Error(err)
			}
			done(ctx.Request().Method, ctx.Path(), ctx.Response().Status)
			return nil
		}
	}
}

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// userRateLimiter keeps one token bucket per authenticated user.
type userRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	lastGC   time.Time
}

// newUserRateLimiter allows perMinute requests per user per minute; perMinute <= 0 disables limiting.
func newUserRateLimiter(perMinute int) *userRateLimiter {
	rl := &userRateLimiter{limiters: make(map[string]*limiterEntry), limit: rate.Inf, burst: 1}
	if perMinute > 0 {
		rl.limit = rate.Every(time.Minute / time.Duration(perMinute))
		rl.burst = perMinute
	}
	return rl
}

func (rl *userRateLimiter) allow(key string) bool {
	now := time.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastGC) > limiterIdleTTL {
		for k, e := range rl.limiters {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastGC = now
	}

	e, ok := rl.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

func (rl *userRateLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			key := ctx.RealIP()
			if usr, err := getContextUser(ctx); err == nil {
				key = usr.ID
			}
			if !rl.allow(key) {
				return errTooManyRequests
			}
			return next(ctx)
		}
	}
}
