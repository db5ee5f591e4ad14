package middleware

import (
	"sync"
	"time"

	"github.com/kirillgpt-bot-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter gates requests per user
type RateLimiter interface {
	Allow(userID int64) bool
}

// UserRateLimiter enforces a minimum interval between accepted requests of
// the same user. Each user gets a limiter refilling one token per window
// with a burst of one, so rejected calls consume nothing and the window is
// always measured from the last accepted call.
type UserRateLimiter struct {
	window   time.Duration
	limiters map[int64]*rate.Limiter
	mu       sync.RWMutex
	logger   *logrus.Logger
	metrics  *Metrics
}

// NewRateLimiter creates a new rate limiter. A zero window disables limiting.
func NewRateLimiter(cfg *config.RateLimitConfig, metrics *Metrics, logger *logrus.Logger) *UserRateLimiter {
	return &UserRateLimiter{
		window:   cfg.Window,
		limiters: make(map[int64]*rate.Limiter),
		logger:   logger,
		metrics:  metrics,
	}
}

// Allow reports whether the user may proceed now
func (r *UserRateLimiter) Allow(userID int64) bool {
	return r.AllowAt(userID, time.Now())
}

// AllowAt reports whether the user may proceed at the given instant
func (r *UserRateLimiter) AllowAt(userID int64, now time.Time) bool {
	if r.window <= 0 {
		return true
	}

	allowed := r.getLimiter(userID).AllowN(now, 1)
	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"user_id": userID,
		}).Warn("Rate limit exceeded")
		if r.metrics != nil {
			r.metrics.RecordRateLimitExceeded()
		}
	}

	return allowed
}

// Users returns how many users have a limiter. Limiters are never removed.
func (r *UserRateLimiter) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}

// getLimiter gets or creates a rate limiter for a user
func (r *UserRateLimiter) getLimiter(userID int64) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[userID]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[userID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rate.Every(r.window), 1)
	r.limiters[userID] = limiter

	return limiter
}
