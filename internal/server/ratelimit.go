package server

import (
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/kbrag-go/internal/logging"
)

// Per-client budgets. A reload re-embeds the whole corpus, so it draws from
// its own, much smaller bucket than chat.
const (
	defaultChatRate    = 10
	defaultChatBurst   = 20
	defaultReloadRate  = 1.0 / 30
	defaultReloadBurst = 2
)

// bucketIdleTTL is how long a client bucket survives without traffic.
const bucketIdleTTL = 5 * time.Minute

// Route names used in throttle logs and metrics.
const (
	routeChat   = "chat"
	routeReload = "reload"
)

// clientBucket is one client's token bucket on a route.
type clientBucket struct {
	tokens *rate.Limiter
	seen   time.Time
}

// routeLimit is the per-client token-bucket budget of one route.
type routeLimit struct {
	route string
	every rate.Limit
	burst int

	mu      sync.Mutex
	clients map[string]*clientBucket
}

func newRouteLimit(route string, perSecond float64, burst int) *routeLimit {
	return &routeLimit{
		route:   route,
		every:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientBucket),
	}
}

// allow spends one token from client's bucket.
func (l *routeLimit) allow(client string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.clients[client]
	if !ok {
		b = &clientBucket{tokens: rate.NewLimiter(l.every, l.burst)}
		l.clients[client] = b
	}
	b.seen = now
	return b.tokens.AllowN(now, 1)
}

// sweep drops buckets idle since before cutoff and returns how many it dropped.
func (l *routeLimit) sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for client, b := range l.clients {
		if b.seen.Before(cutoff) {
			delete(l.clients, client)
			n++
		}
	}
	return n
}

// retryAfter is the Retry-After value in whole seconds: the time one token
// takes to refill.
func (l *routeLimit) retryAfter() string {
	if l.every <= 0 || math.IsInf(float64(l.every), 1) {
		return "1"
	}
	// The epsilon absorbs float error in rates such as 1/30.
	return strconv.Itoa(max(1, int(math.Ceil(1/float64(l.every)-1e-9))))
}

// limits holds the chat and reload budgets and the goroutine that sweeps
// idle buckets.
type limits struct {
	chat   *routeLimit
	reload *routeLimit
	done   chan struct{}
	once   sync.Once
}

// newLimits builds the route budgets from cfg and starts the sweeper.
// Call stop to end it.
func newLimits(cfg *Config) *limits {
	ls := &limits{
		chat:   newRouteLimit(routeChat, cfg.RateLimit, cfg.RateBurst),
		reload: newRouteLimit(routeReload, cfg.ReloadRateLimit, cfg.ReloadRateBurst),
		done:   make(chan struct{}),
	}
	go ls.sweepLoop()
	return ls
}

func (ls *limits) sweepLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ls.done:
			return
		case now := <-ticker.C:
			cutoff := now.Add(-bucketIdleTTL)
			ls.chat.sweep(cutoff)
			ls.reload.sweep(cutoff)
		}
	}
}

func (ls *limits) stop() { ls.once.Do(func() { close(ls.done) }) }

// throttle rejects requests over l's budget with 429 and a Retry-After
// matching the route's refill time.
func (s *Server) throttle(l *routeLimit, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := clientIP(r)
		if !l.allow(client, time.Now()) {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("route", l.route),
				slog.String("ip", client),
			)
			s.observeThrottle(l.route, "rate")
			w.Header().Set("Retry-After", l.retryAfter())
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) observeThrottle(route, reason string) {
	if s.metrics != nil {
		s.metrics.throttledTotal.WithLabelValues(route, reason).Inc()
	}
}

// clientIP is the remote address without its port. X-Forwarded-For is not
// trusted since a client could rotate it to dodge the limit.
func clientIP(r *http.Request) string {
	if i := strings.LastIndexByte(r.RemoteAddr, ':'); i >= 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
