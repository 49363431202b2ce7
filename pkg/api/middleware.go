package api

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatspace/pkg/config"
	"chatspace/pkg/utils"
)

// limiterIdleTTL is how long a client's bucket survives without traffic
// before the pool drops it, keeping the map bounded under IP churn.
const limiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	lim  *rate.Limiter
	seen time.Time
}

type limiterPool struct {
	mu        sync.Mutex
	m         map[string]*limiterEntry
	cfg       config.RateLimit
	now       func() time.Time
	lastSweep time.Time
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.now == nil {
		p.now = time.Now
	}
	now := p.now()
	if p.m == nil {
		p.m = make(map[string]*limiterEntry)
		p.lastSweep = now
	}
	if now.Sub(p.lastSweep) >= limiterIdleTTL {
		for k, e := range p.m {
			if now.Sub(e.seen) >= limiterIdleTTL {
				delete(p.m, k)
			}
		}
		p.lastSweep = now
	}
	if e, ok := p.m[key]; ok {
		e.seen = now
		return e.lim
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 50
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 100
	}
	e := &limiterEntry{lim: rate.NewLimiter(rate.Limit(rps), burst), seen: now}
	p.m[key] = e
	return e.lim
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

// RateLimit enforces a per-client token bucket keyed by remote IP.
func RateLimit(cfg config.RateLimit, next http.Handler) http.Handler {
	pool := &limiterPool{cfg: cfg}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !pool.Allow(host) {
			utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CORS answers preflights and stamps allowed origins. An empty allow list
// disables cross-origin access.
func CORS(allowed []string, next http.Handler) http.Handler {
	allowAll := false
	set := map[string]struct{}{}
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			_, ok := set[origin]
			if allowAll || ok {
				h := w.Header()
				if allowAll {
					h.Set("Access-Control-Allow-Origin", "*")
				} else {
					h.Set("Access-Control-Allow-Origin", origin)
					h.Set("Vary", "Origin")
				}
				h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Accept")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
