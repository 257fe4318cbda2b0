package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter tracks per-client request rates and daily quotas. A zero
// limit disables that particular check.
type RateLimiter struct {
	mu sync.Mutex

	perMinute   int
	perHour     int
	dayRequests int
	dayBytes    int64

	clients map[string]*clientUsage
}

// clientUsage is the sliding usage state for one client id.
type clientUsage struct {
	minuteCount int
	hourCount   int
	dayCount    int
	bytesToday  int64
	lastSeen    time.Time
	dayStart    time.Time
}

// NewRateLimiter creates a limiter with the given per-client limits.
func NewRateLimiter(perMinute, perHour, dayRequests int, dayBytes int64) *RateLimiter {
	return &RateLimiter{
		perMinute:   perMinute,
		perHour:     perHour,
		dayRequests: dayRequests,
		dayBytes:    dayBytes,
		clients:     make(map[string]*clientUsage),
	}
}

// CheckRateLimit admits or rejects a request from clientID carrying
// dataSize upload bytes. Admitted requests are counted immediately.
func (rl *RateLimiter) CheckRateLimit(clientID string, dataSize int64) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	usage, ok := rl.clients[clientID]
	if !ok {
		usage = &clientUsage{lastSeen: now, dayStart: now}
		rl.clients[clientID] = usage
	}
	rl.rollWindows(usage, now)

	if err := rl.checkRates(usage, now); err != nil {
		return err
	}
	if err := rl.checkQuotas(usage, dataSize, now); err != nil {
		return err
	}

	usage.minuteCount++
	usage.hourCount++
	usage.dayCount++
	usage.bytesToday += dataSize
	usage.lastSeen = now
	return nil
}

// rollWindows resets counters whose window has elapsed.
func (rl *RateLimiter) rollWindows(usage *clientUsage, now time.Time) {
	if now.Day() != usage.dayStart.Day() || now.Month() != usage.dayStart.Month() {
		usage.dayCount = 0
		usage.bytesToday = 0
		usage.dayStart = now
	}
	if now.Sub(usage.lastSeen) >= time.Minute {
		usage.minuteCount = 0
	}
	if now.Sub(usage.lastSeen) >= time.Hour {
		usage.hourCount = 0
	}
}

func (rl *RateLimiter) checkRates(usage *clientUsage, now time.Time) error {
	if rl.perMinute > 0 && usage.minuteCount >= rl.perMinute {
		return &RateLimitError{
			Type:       "minute",
			Limit:      rl.perMinute,
			RetryAfter: time.Minute - now.Sub(usage.lastSeen),
		}
	}
	if rl.perHour > 0 && usage.hourCount >= rl.perHour {
		return &RateLimitError{
			Type:       "hour",
			Limit:      rl.perHour,
			RetryAfter: time.Hour - now.Sub(usage.lastSeen),
		}
	}
	return nil
}

func (rl *RateLimiter) checkQuotas(usage *clientUsage, dataSize int64, now time.Time) error {
	midnight := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	if rl.dayRequests > 0 && usage.dayCount >= rl.dayRequests {
		return &QuotaExceededError{
			Type:   "requests",
			Limit:  int64(rl.dayRequests),
			Used:   int64(usage.dayCount),
			Resets: midnight,
		}
	}
	if rl.dayBytes > 0 && usage.bytesToday+dataSize > rl.dayBytes {
		return &QuotaExceededError{
			Type:   "data",
			Limit:  rl.dayBytes,
			Used:   usage.bytesToday,
			Resets: midnight,
		}
	}
	return nil
}

// Usage reports a client's counters for the current day.
func (rl *RateLimiter) Usage(clientID string) (requests int, bytes int64) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if usage, ok := rl.clients[clientID]; ok {
		return usage.dayCount, usage.bytesToday
	}
	return 0, 0
}

// RateLimitError reports a violated per-minute or per-hour limit.
type RateLimitError struct {
	Type       string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)",
		e.Type, e.Limit, e.RetryAfter)
}

// QuotaExceededError reports an exhausted daily quota.
type QuotaExceededError struct {
	Type   string
	Limit  int64
	Used   int64
	Resets time.Time
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s (used: %d, limit: %d, resets: %s)",
		e.Type, e.Used, e.Limit, e.Resets.Format(time.RFC3339))
}
