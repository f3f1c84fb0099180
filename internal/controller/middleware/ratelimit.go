package middleware

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"agentplane/internal/store"
	"agentplane/pkg/api"

	"golang.org/x/time/rate"
)

// RateLimitMiddleware applies a per-organization token bucket. It must run
// after AuthMiddleware so the organization is on the context.
func RateLimitMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		limiters := sync.Map{} // organization ID -> *cachedLimiter

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			org, ok := OrgFromContext(r.Context())
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				json.NewEncoder(w).Encode(api.ErrorResponse{
					Error: "unauthorized",
					Code:  "401",
				})
				return
			}

			// RateLimit=0 means unlimited
			if org.RateLimit > 0 {
				limiter := getOrCreateLimiter(&limiters, org, 5*time.Minute)
				if !limiter.Allow() {
					w.Header().Set("Retry-After", "1")
					http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

type cachedLimiter struct {
	limiter   *rate.Limiter
	expiresAt time.Time
}

func getOrCreateLimiter(limiters *sync.Map, org *store.Organization, ttl time.Duration) *rate.Limiter {
	if cached, ok := limiters.Load(org.ID); ok {
		c := cached.(*cachedLimiter)
		if time.Now().Before(c.expiresAt) {
			return c.limiter
		}
		// expired, rebuild with the organization's current limits
	}

	limiter := rate.NewLimiter(
		rate.Limit(org.RateLimit),
		org.RateLimitBurst,
	)
	limiters.Store(org.ID, &cachedLimiter{
		limiter:   limiter,
		expiresAt: time.Now().Add(ttl),
	})
	return limiter
}
