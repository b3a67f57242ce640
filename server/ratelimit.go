package server

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

const ingestWindow = time.Minute

// RateLimiter throttles error ingestion per client over a sliding window
// and counts the live log connections each client holds open. Clients that
// stop posting are swept once their window has been empty for a full
// period, so the table only holds recently active clients.
type RateLimiter struct {
	mu        sync.Mutex
	perWindow int
	maxConns  int
	window    time.Duration
	recent    map[string][]time.Time
	conns     map[string]int
	lastSweep time.Time
	now       func() time.Time
}

func NewRateLimiter(ingestPerMin, maxConns int) *RateLimiter {
	return &RateLimiter{
		perWindow: ingestPerMin,
		maxConns:  maxConns,
		window:    ingestWindow,
		recent:    make(map[string][]time.Time),
		conns:     make(map[string]int),
		now:       time.Now,
	}
}

// AllowRequest records an ingest for key. When the window is full it
// returns false and the seconds until the oldest entry expires.
func (rl *RateLimiter) AllowRequest(key string) (bool, int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cutoff := now.Add(-rl.window)
	if now.Sub(rl.lastSweep) >= rl.window {
		rl.sweep(cutoff)
		rl.lastSweep = now
	}

	hits := expire(rl.recent[key], cutoff)
	if len(hits) >= rl.perWindow {
		rl.recent[key] = hits
		wait := hits[0].Add(rl.window).Sub(now)
		return false, max(1, int(math.Ceil(wait.Seconds())))
	}
	rl.recent[key] = append(hits, now)
	return true, 0
}

// sweep drops every client whose newest ingest is older than cutoff.
func (rl *RateLimiter) sweep(cutoff time.Time) {
	for key, hits := range rl.recent {
		if len(hits) == 0 || !hits[len(hits)-1].After(cutoff) {
			delete(rl.recent, key)
		}
	}
}

// expire trims the timestamps at or before cutoff. hits is sorted.
func expire(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	return hits[i:]
}

// Clients reports how many clients currently have ingest history.
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.recent)
}

func (rl *RateLimiter) AcquireConnection(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.conns[key] >= rl.maxConns {
		return false
	}
	rl.conns[key]++
	return true
}

func (rl *RateLimiter) ReleaseConnection(key string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if rl.conns[key] <= 1 {
		delete(rl.conns, key)
		return
	}
	rl.conns[key]--
}

// Connections reports the live connections currently held by key.
func (rl *RateLimiter) Connections(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.conns[key]
}

func writeRateLimitExceeded(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSONError(w, "rate limit exceeded", "RateLimited", http.StatusTooManyRequests)
}
