package api

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/time/rate"

	"beaconbond/pkg/logger"
	"beaconbond/pkg/utils"
)

// SecConfig mirrors the security-related configuration driving CORS and
// rate limiting at the gateway.
type SecConfig struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
	IPWhitelist    []string
}

type limiterPool struct {
	mu  sync.Mutex
	m   map[string]*rate.Limiter
	cfg SecConfig
}

func (p *limiterPool) get(key string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.m == nil {
		p.m = make(map[string]*rate.Limiter)
	}
	if l, ok := p.m[key]; ok {
		return l
	}
	rps := p.cfg.RPS
	if rps <= 0 {
		rps = 5
	}
	burst := p.cfg.Burst
	if burst <= 0 {
		burst = 10
	}
	l := rate.NewLimiter(rate.Limit(rps), burst)
	p.m[key] = l
	return l
}

func (p *limiterPool) Allow(key string) bool {
	return p.get(key).Allow()
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Gateway wraps a handler with request logging, CORS and per-client rate
// limiting.
func Gateway(cfg SecConfig, next http.Handler) http.Handler {
	pool := &limiterPool{cfg: cfg}
	whitelist := map[string]struct{}{}
	for _, ip := range cfg.IPWhitelist {
		whitelist[ip] = struct{}{}
	}
	origins := map[string]struct{}{}
	for _, o := range cfg.AllowedOrigins {
		origins[o] = struct{}{}
	}
	_, allowAll := origins["*"]

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)

		if o := r.Header.Get("Origin"); o != "" {
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if _, ok := origins[o]; ok {
				w.Header().Set("Access-Control-Allow-Origin", o)
				w.Header().Set("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-User-ID")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		ip := clientIP(r)
		if _, ok := whitelist[ip]; !ok {
			if !pool.Allow(ip) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
