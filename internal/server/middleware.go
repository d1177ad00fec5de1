package server

import (
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiters hands out one token bucket per client IP.
type limiters struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	byIP  map[string]*rate.Limiter
}

func newLimiters(rps float64, burst int) *limiters {
	if burst <= 0 {
		burst = 1
	}
	l := &limiters{rps: rate.Limit(rps), burst: burst, byIP: make(map[string]*rate.Limiter)}
	if rps <= 0 {
		l.rps = rate.Inf
	}
	return l
}

func (l *limiters) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.byIP[ip]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.byIP[ip] = lim
	}
	return lim
}

func rateLimit(l *limiters) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit"})
			return
		}
		c.Next()
	}
}

// requireSecret checks the shared bearer secret. An empty secret locks
// the endpoints instead of opening them.
func requireSecret(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if secret == "" || !ok || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

const playerKey = "player_id"

// playerID takes the acting player from X-Player-ID. Identity is
// established upstream; this only parses it.
func playerID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.GetHeader("X-Player-ID"), 10, 64)
		if err != nil || id <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing or invalid X-Player-ID"})
			return
		}
		c.Set(playerKey, id)
		c.Next()
	}
}
