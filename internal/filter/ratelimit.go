package filter

import (
	"fmt"
	"sync"
	"time"
)

// RateLimitFilter is a token-bucket rate limiter keyed by an optional event
// field, grounded on original_source's
// plugins.filters.rate_limit.RateLimitFilter.
type RateLimitFilter struct {
	capacity     float64
	refillPerSec float64
	keyField     string

	mu      sync.Mutex
	buckets map[string]bucketState
}

type bucketState struct {
	tokens float64
	last   time.Time
}

// NewRateLimitFilter constructs a RateLimitFilter; capacity defaults to 10
// and refillPerSec to 5.0, matching the source's dataclass defaults.
func NewRateLimitFilter(capacity int, refillPerSec float64, keyField string) *RateLimitFilter {
	if capacity <= 0 {
		capacity = 10
	}
	if refillPerSec < 0 {
		refillPerSec = 0
	}
	return &RateLimitFilter{
		capacity:     float64(capacity),
		refillPerSec: refillPerSec,
		keyField:     keyField,
		buckets:      map[string]bucketState{},
	}
}

func (f *RateLimitFilter) Name() string { return "rate_limit" }

func (f *RateLimitFilter) Filter(e Event) (Event, bool) {
	key := f.resolveKey(e)
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	state, ok := f.buckets[key]
	if !ok {
		state = bucketState{tokens: f.capacity, last: now}
	}
	elapsed := now.Sub(state.last).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := state.tokens + elapsed*f.refillPerSec
	if tokens > f.capacity {
		tokens = f.capacity
	}

	if tokens < 1.0 {
		f.buckets[key] = bucketState{tokens: tokens, last: now}
		return Event{}, false
	}
	tokens -= 1.0
	f.buckets[key] = bucketState{tokens: tokens, last: now}
	return e, true
}

func (f *RateLimitFilter) resolveKey(e Event) string {
	if f.keyField == "" {
		return "global"
	}
	if v, ok := e.Fields[f.keyField]; ok {
		return fmt.Sprintf("%v", v)
	}
	return "global"
}
