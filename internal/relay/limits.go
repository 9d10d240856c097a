package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"
)

const (
	rateLimiterIdleTTL      = 10 * time.Minute
	rateLimiterCleanupEvery = 5 * time.Minute
)

// GlobalLimiter caps concurrent connections for the whole process.
type GlobalLimiter struct {
	current atomic.Int64
	max     int64
}

func NewGlobalLimiter(max int64) *GlobalLimiter {
	return &GlobalLimiter{max: max}
}

func (l *GlobalLimiter) Acquire() bool {
	for {
		current := l.current.Load()
		if current >= l.max {
			return false
		}
		if l.current.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (l *GlobalLimiter) Release() {
	l.current.Add(-1)
}

func (l *GlobalLimiter) Current() int64 {
	return l.current.Load()
}

// IPLimiter caps concurrent connections from a single address.
type IPLimiter struct {
	mu     sync.Mutex
	ips    map[string]int
	maxPer int
}

func NewIPLimiter(maxPer int) *IPLimiter {
	return &IPLimiter{ips: make(map[string]int), maxPer: maxPer}
}

func (l *IPLimiter) Acquire(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ips[ip] >= l.maxPer {
		return false
	}
	l.ips[ip]++
	return true
}

func (l *IPLimiter) Release(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch count := l.ips[ip]; {
	case count > 1:
		l.ips[ip] = count - 1
	case count == 1:
		delete(l.ips, ip)
	}
}

func (l *IPLimiter) Count(ip string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ips[ip]
}

// RateLimiter limits how fast one address may open new connections (token bucket per IP).
type RateLimiter struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	limiters  map[string]*rateEntry
	rate      rate.Limit
	burst     int
	cleanupAt time.Time
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(perSecond float64, burst int, clock clockwork.Clock) *RateLimiter {
	return &RateLimiter{
		clock:     clock,
		limiters:  make(map[string]*rateEntry),
		rate:      rate.Limit(perSecond),
		burst:     burst,
		cleanupAt: clock.Now().Add(rateLimiterCleanupEvery),
	}
}

func (l *RateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	if now.After(l.cleanupAt) {
		l.cleanup(now)
		l.cleanupAt = now.Add(rateLimiterCleanupEvery)
	}

	entry, ok := l.limiters[ip]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// cleanup drops buckets for addresses idle longer than rateLimiterIdleTTL. Must be called with mu held.
func (l *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-rateLimiterIdleTTL)
	for ip, entry := range l.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(l.limiters, ip)
		}
	}
}

func (l *RateLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// LimitReason describes why a connection was rejected.
type LimitReason string

const (
	LimitReasonGlobal LimitReason = "global_limit"
	LimitReasonPerIP  LimitReason = "per_ip_limit"
	LimitReasonRate   LimitReason = "rate_limit"
)

type LimitsConfig struct {
	MaxConnections int64
	MaxPerIP       int
	RatePerSecond  float64
	Burst          int
}

// Limits combines the three admission checks applied before a WebSocket upgrade.
type Limits struct {
	global *GlobalLimiter
	perIP  *IPLimiter
	rate   *RateLimiter
}

func NewLimits(cfg LimitsConfig, clock clockwork.Clock) *Limits {
	return &Limits{
		global: NewGlobalLimiter(cfg.MaxConnections),
		perIP:  NewIPLimiter(cfg.MaxPerIP),
		rate:   NewRateLimiter(cfg.RatePerSecond, cfg.Burst, clock),
	}
}

// Acquire reserves a slot for ip. On success the caller must Release(ip) when the connection ends.
func (l *Limits) Acquire(ip string) (bool, LimitReason) {
	if !l.rate.Allow(ip) {
		return false, LimitReasonRate
	}
	if !l.global.Acquire() {
		return false, LimitReasonGlobal
	}
	if !l.perIP.Acquire(ip) {
		l.global.Release()
		return false, LimitReasonPerIP
	}
	return true, ""
}

func (l *Limits) Release(ip string) {
	l.perIP.Release(ip)
	l.global.Release()
}
