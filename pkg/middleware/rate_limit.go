package middleware

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bookhaven/library-service/pkg/logger"
	"github.com/bookhaven/library-service/pkg/response"
)

// RateLimitConfig defines rate limiting parameters
type RateLimitConfig struct {
	Requests int                            // Max requests per window
	Window   time.Duration                  // Time window duration
	KeyFunc  func(r *http.Request) []string // Function to generate rate limit keys
	SkipFunc func(r *http.Request) bool     // Function to skip rate limiting
}

// CounterStore is a fixed-window counter, typically Redis-backed.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
}

type RateLimiter struct {
	store  CounterStore
	config RateLimitConfig
}

func NewRateLimiter(store CounterStore, config RateLimitConfig) *RateLimiter {
	return &RateLimiter{
		store:  store,
		config: config,
	}
}

// Middleware returns the rate limiting middleware
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if rl.config.SkipFunc != nil && rl.config.SkipFunc(r) {
				next.ServeHTTP(w, r)
				return
			}

			keys := rl.config.KeyFunc(r)

			for _, key := range keys {
				if !rl.allow(r.Context(), key) {
					response.RateLimit(w, "Too many requests. Try again later.")
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func (rl *RateLimiter) allow(ctx context.Context, key string) bool {
	// Hash the key for privacy
	hasher := sha256.New()
	hasher.Write([]byte(key))
	hashed := fmt.Sprintf("ratelimit:%x", hasher.Sum(nil))

	count, err := rl.store.Incr(ctx, hashed, rl.config.Window)
	if err != nil {
		// Fail open when the store is unreachable
		logger.WarnContext(ctx, "Rate limit check failed", "error", err)
		return true
	}
	return count <= int64(rl.config.Requests)
}

// ClientIP extracts the client address for rate limit keying.
func ClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
