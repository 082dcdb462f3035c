package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// maxClients caps the number of tracked clients.
const maxClients = 10000

// RateLimiter is token bucket middleware keyed by client. The UI and the
// assistant's tool calls share one server, so a runaway poller on either side
// must not starve the other.
type RateLimiter struct {
	rate  float64 // tokens per second
	burst float64
	key   func(*http.Request) string
	now   func() time.Time

	mu      sync.Mutex
	clients map[string]*bucket
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewRateLimiter allows rate requests per second per client with bursts of up
// to burst. Clients are keyed by remote IP.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:    rate,
		burst:   float64(max(burst, 1)),
		key:     ClientIP,
		now:     time.Now,
		clients: make(map[string]*bucket),
	}
}

// WithKey replaces the client key function.
func (rl *RateLimiter) WithKey(fn func(*http.Request) string) *RateLimiter {
	rl.key = fn
	return rl
}

// Handler rejects requests over the limit with 429 and a Retry-After header.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		remaining, wait, ok := rl.take(rl.key(r))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"too many requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take spends one token for client. It returns the tokens left and, when
// refused, how long until the next token.
func (rl *RateLimiter) take(client string) (int, time.Duration, bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.clients[client]
	if !ok {
		if len(rl.clients) >= maxClients {
			return 0, time.Second, false
		}
		b = &bucket{tokens: rl.burst, last: now}
		rl.clients[client] = b
	}

	b.tokens = math.Min(rl.burst, b.tokens+now.Sub(b.last).Seconds()*rl.rate)
	b.last = now
	if b.tokens < 1 {
		return 0, time.Duration((1 - b.tokens) / rl.rate * float64(time.Second)), false
	}
	b.tokens--
	return int(b.tokens), 0, true
}

// Sweep drops clients idle for longer than idle, every interval, until ctx
// is cancelled.
func (rl *RateLimiter) Sweep(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.sweep(idle)
		}
	}
}

func (rl *RateLimiter) sweep(idle time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	cutoff := rl.now().Add(-idle)
	for k, b := range rl.clients {
		if b.last.Before(cutoff) {
			delete(rl.clients, k)
		}
	}
}

// Clients returns the number of tracked clients.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// ClientIP keys by RemoteAddr. Forwarded headers are not trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
