package webui

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultCleanupInterval is how often idle clients are forgotten
	DefaultCleanupInterval = 5 * time.Minute
	// clients not seen for this long are removed
	idleCutoff = 30 * time.Minute
)

// RateLimiter keeps one token bucket per client address. X-Forwarded-For
// is only read from peers inside trusted.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	trusted []netip.Prefix

	records map[string]*limiterRecord
	mu      sync.Mutex

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

type limiterRecord struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter allowing perSecond requests per client
// with the given burst. It starts a cleanup goroutine; call Close.
func NewRateLimiter(perSecond float64, burst int, trusted []netip.Prefix) *RateLimiter {
	rl := &RateLimiter{
		limit:       rate.Limit(perSecond),
		burst:       burst,
		trusted:     trusted,
		records:     make(map[string]*limiterRecord),
		stopCleanup: make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop(DefaultCleanupInterval)

	return rl
}

// Allow reports whether key may make a request now.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	record, exists := rl.records[key]
	if !exists {
		record = &limiterRecord{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.records[key] = record
	}
	record.lastSeen = time.Now()

	return record.limiter.Allow()
}

// Clients returns the number of tracked clients
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.records)
}

// Close stops the cleanup goroutine
func (rl *RateLimiter) Close() {
	close(rl.stopCleanup)
	rl.wg.Wait()
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	defer rl.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stopCleanup:
			return
		case <-ticker.C:
			rl.cleanup(time.Now().Add(-idleCutoff))
		}
	}
}

func (rl *RateLimiter) cleanup(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for key, record := range rl.records {
		if record.lastSeen.Before(cutoff) {
			delete(rl.records, key)
		}
	}
}

// Middleware rejects clients over their budget with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(rl.clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			http.Error(w, "Trop de requêtes", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ParseTrustedProxies parses addresses ("10.0.0.1") and networks
// ("10.0.0.0/8") of reverse proxies allowed to set X-Forwarded-For.
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.Contains(v, "/") {
			prefix, err := netip.ParsePrefix(v)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy network %q: %w", v, err)
			}
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy address %q: %w", v, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (rl *RateLimiter) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range rl.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the peer address. When the peer is a trusted proxy,
// X-Forwarded-For is walked from the right and the first hop that is not
// itself a trusted proxy is returned.
func (rl *RateLimiter) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer, err := netip.ParseAddr(host)
	if err != nil || !rl.isTrusted(peer) {
		return host
	}

	hops := strings.Split(strings.Join(r.Header.Values("X-Forwarded-For"), ","), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
		if err != nil {
			return host
		}
		if !rl.isTrusted(hop) {
			return hop.Unmap().String()
		}
	}
	return host
}
