package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var rateLimited = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bloog",
	Name:      "ratelimit_exceeded_total",
	Help:      "Requests rejected by a rate limiter",
}, []string{"route"})

// RateLimiter hands out one token bucket per client IP. Buckets idle for
// longer than the cleanup interval are dropped.
type RateLimiter struct {
	rate    rate.Limit
	burst   int
	cleanup time.Duration

	mu          sync.Mutex
	perIP       map[string]*ipLimiter
	lastCleanup time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute requests a minute per IP with the given
// burst.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:        rate.Limit(perMinute / 60),
		burst:       burst,
		cleanup:     10 * time.Minute,
		perIP:       make(map[string]*ipLimiter),
		lastCleanup: time.Now(),
	}
}

// Allow takes a token from the bucket of ip.
func (l *RateLimiter) Allow(ip string) bool {
	now := time.Now()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.perIP[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.perIP[ip] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	if now.Sub(l.lastCleanup) > l.cleanup {
		for k, v := range l.perIP {
			if now.Sub(v.lastSeen) > l.cleanup {
				delete(l.perIP, k)
			}
		}
		l.lastCleanup = now
	}
	return allowed
}

func (l *RateLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.perIP)
}

// Middleware rejects requests over the limit with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			rateLimited.WithLabelValues(routeOf(c)).Inc()
			c.Header("Retry-After", "60")
			abort(c, http.StatusTooManyRequests, "rate_limited", "too many requests")
			return
		}
		c.Next()
	}
}
