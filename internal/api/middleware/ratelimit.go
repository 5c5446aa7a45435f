package middleware

import (
	"net/http"
	"sync"

	"support-inbox-backend/utils"

	"golang.org/x/time/rate"
)

// RateLimit applies a token-bucket limit per client IP. The map is never
// pruned; agent pools are small and the limiter footprint is a few words
// per IP.
func RateLimit(rps rate.Limit, burst int) Middleware {
	var mu sync.Mutex
	limiters := make(map[string]*rate.Limiter)

	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := limiters[ip]; ok {
			return l
		}
		l := rate.NewLimiter(rps, burst)
		limiters[ip] = l
		return l
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !limiterFor(utils.RealClientIP(r)).Allow() {
				http.Error(w, "Too many requests", http.StatusTooManyRequests)
				return
			}
			next(w, r)
		}
	}
}
