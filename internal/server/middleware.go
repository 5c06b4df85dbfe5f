package server

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// ipLimiters keeps one token bucket per client IP.
type ipLimiters struct {
	mu      sync.Mutex
	every   time.Duration
	burst   int
	entries map[string]*limiterEntry
	done    chan struct{}
	once    sync.Once
	now     func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newIPLimiters(every time.Duration, burst int) *ipLimiters {
	return &ipLimiters{
		every:   every,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
		done:    make(chan struct{}),
		now:     time.Now,
	}
}

// enabled is false when either knob is unset.
func (l *ipLimiters) enabled() bool {
	return l.every > 0 && l.burst > 0
}

func (l *ipLimiters) allow(ip string) bool {
	if !l.enabled() {
		return true
	}
	l.mu.Lock()
	e, ok := l.entries[ip]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Every(l.every), l.burst)}
		l.entries[ip] = e
	}
	e.lastSeen = l.now()
	l.mu.Unlock()
	return e.limiter.Allow()
}

// prune drops limiters idle for longer than maxIdle.
func (l *ipLimiters) prune(maxIdle time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := l.now().Add(-maxIdle)
	n := 0
	for ip, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, ip)
			n++
		}
	}
	return n
}

func (l *ipLimiters) janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case <-ticker.C:
			l.prune(interval)
		}
	}
}

func (l *ipLimiters) stop() {
	l.once.Do(func() { close(l.done) })
}

func (s *Server) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !s.limiters.allow(c.RealIP()) {
			c.Response().Header().Set("Retry-After", strconv.Itoa(int(s.cfg.RateLimitEvery.Seconds())+1))
			return echo.NewHTTPError(http.StatusTooManyRequests, "Rate limit exceeded")
		}
		return next(c)
	}
}

type httpMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newHTTPMetrics(reg prometheus.Registerer) *httpMetrics {
	m := &httpMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mediscan_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mediscan_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"method", "route"}),
	}
	reg.MustRegister(m.requests, m.duration)
	return m
}

func (m *httpMetrics) middleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		route := c.Path()
		if route == "" {
			route = "unmatched"
		}
		method := c.Request().Method
		m.requests.WithLabelValues(method, route, strconv.Itoa(c.Response().Status)).Inc()
		m.duration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		return nil
	}
}
