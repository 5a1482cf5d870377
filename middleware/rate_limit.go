package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	// maxTrackedIPs bounds the limiter map.
	maxTrackedIPs = 10000
	// limiterIdleAfter is how long an unused limiter is kept once the map is full.
	limiterIdleAfter = 10 * time.Minute
)

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

type ipLimiters struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	max      int
	now      func() time.Time
}

func newIPLimiters(rps float64, burst int) *ipLimiters {
	return &ipLimiters{
		limiters: make(map[string]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    burst,
		max:      maxTrackedIPs,
		now:      time.Now,
	}
}

func (l *ipLimiters) allow(ip string) bool {
	l.mu.Lock()
	now := l.now()
	entry, ok := l.limiters[ip]
	if !ok {
		if len(l.limiters) >= l.max {
			l.evict(now)
		}
		entry = &limiterEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastAccess = now
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.AllowN(now, 1)
}

// evict drops limiters idle longer than limiterIdleAfter. When none are that
// old the least recently used one goes. Callers hold l.mu.
func (l *ipLimiters) evict(now time.Time) {
	cutoff := now.Add(-limiterIdleAfter)
	var (
		oldestIP string
		oldest   time.Time
	)
	for ip, e := range l.limiters {
		if e.lastAccess.Before(cutoff) {
			delete(l.limiters, ip)
			continue
		}
		if oldestIP == "" || e.lastAccess.Before(oldest) {
			oldestIP, oldest = ip, e.lastAccess
		}
	}
	if len(l.limiters) >= l.max && oldestIP != "" {
		delete(l.limiters, oldestIP)
	}
}

// RateLimitByIP allows rps requests per second per client IP with the given
// burst and answers 429 beyond that. The IP is gin's ClientIP, so forwarding
// headers only count when the engine trusts the proxy that set them.
func RateLimitByIP(rps float64, burst int) gin.HandlerFunc {
	limiters := newIPLimiters(rps, burst)
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if !limiters.allow(ip) {
			log.Debug().Str("client_ip", ip).Str("path", c.FullPath()).Msg("rate limited")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"success": false, "error": "Too many requests"})
			return
		}
		c.Next()
	}
}
