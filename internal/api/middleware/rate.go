package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimitConfig bounds per-client request rates on the profile API.
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// clientIdleEviction is how long an IP's bucket survives without traffic.
const clientIdleEviction = 10 * time.Minute

// RateLimit creates a per-IP token bucket middleware. The alert push,
// metrics scrape, and liveness endpoints hold long-lived or periodic
// connections and bypass the limiter.
func RateLimit(cfg RateLimitConfig) gin.HandlerFunc {
	type client struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}

	var (
		mu        sync.Mutex
		clients   = make(map[string]*client)
		lastSweep = time.Now()
	)

	exempt := map[string]bool{
		"/ws":      true,
		"/metrics": true,
		"/health":  true,
	}

	return func(c *gin.Context) {
		if exempt[c.FullPath()] {
			c.Next()
			return
		}

		now := time.Now()
		ip := c.ClientIP()

		mu.Lock()
		if now.Sub(lastSweep) > clientIdleEviction {
			for key, cl := range clients {
				if now.Sub(cl.lastSeen) > clientIdleEviction {
					delete(clients, key)
				}
			}
			lastSweep = now
		}

		cl, ok := clients[ip]
		if !ok {
			cl = &client{limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)}
			clients[ip] = cl
		}
		cl.lastSeen = now
		mu.Unlock()

		if !cl.limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
