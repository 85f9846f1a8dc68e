package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	l    *rate.Limiter
	seen time.Time
}

// limiterPool: token bucket на ключ (IP или пользователь); давно не использованные ключи вычищаются.
type limiterPool struct {
	mu     sync.Mutex
	m      map[string]*limiterEntry
	rps    float64
	burst  int
	lastGC time.Time
	now    func() time.Time
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	return &limiterPool{m: make(map[string]*limiterEntry), rps: rps, burst: burst, now: time.Now}
}

func (p *limiterPool) allow(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	if now.Sub(p.lastGC) > limiterIdleTTL {
		for k, e := range p.m {
			if now.Sub(e.seen) > limiterIdleTTL {
				delete(p.m, k)
			}
		}
		p.lastGC = now
	}
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.m[key] = e
	}
	e.seen = now
	return e.l.AllowN(now, 1)
}

func (p *limiterPool) size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

// RateLimiter ограничивает запросы к /api/* по IP и по user_id (если он уже в контексте).
type RateLimiter struct {
	byIP   *limiterPool
	byUser *limiterPool
}

// NewRateLimiter: rps и burst, на один IP; пользователю достаётся половина.
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	userBurst := burst / 2
	if userBurst < 1 {
		userBurst = 1
	}
	return &RateLimiter{
		byIP:   newLimiterPool(rps, burst),
		byUser: newLimiterPool(rps/2, userBurst),
	}
}

// Handler отвечает 429 при превышении.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.byIP.allow(ClientIP(r)) {
			writeJSONError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		if userID := GetUserID(r.Context()); userID != "" {
			if !rl.byUser.allow("u:" + userID) {
				writeJSONError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
