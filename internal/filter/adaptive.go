package filter

import (
	"math/rand"
	"strings"
	"sync"
	"time"
)

// AdaptiveSamplingConfig mirrors original_source's AdaptiveSamplingConfig
// dataclass field-for-field.
type AdaptiveSamplingConfig struct {
	TargetEPS       float64
	MinSampleRate   float64
	MaxSampleRate   float64
	WindowSeconds   float64
	AlwaysPassLevels []string
	SmoothingFactor float64
}

func (c AdaptiveSamplingConfig) withDefaults() AdaptiveSamplingConfig {
	if c.TargetEPS == 0 {
		c.TargetEPS = 100.0
	}
	if c.MinSampleRate == 0 {
		c.MinSampleRate = 0.01
	}
	if c.MaxSampleRate == 0 {
		c.MaxSampleRate = 1.0
	}
	if c.WindowSeconds == 0 {
		c.WindowSeconds = 10.0
	}
	if c.AlwaysPassLevels == nil {
		c.AlwaysPassLevels = []string{"ERROR", "CRITICAL", "FATAL"}
	}
	if c.SmoothingFactor == 0 {
		c.SmoothingFactor = 0.3
	}
	return c
}

// AdaptiveSamplingFilter dynamically adjusts sampling based on recent
// throughput. Grounded on original_source's
// plugins.filters.adaptive_sampling.AdaptiveSamplingFilter.
type AdaptiveSamplingFilter struct {
	targetEPS  float64
	minRate    float64
	maxRate    float64
	window     time.Duration
	alwaysPass map[string]struct{}
	smoothing  float64

	mu             sync.Mutex
	currentRate    float64
	timestamps     []time.Time
	lastAdjustment time.Time
}

// NewAdaptiveSamplingFilter constructs the filter from config, applying the
// same defaults as the source dataclass.
func NewAdaptiveSamplingFilter(cfg AdaptiveSamplingConfig) *AdaptiveSamplingFilter {
	cfg = cfg.withDefaults()
	always := make(map[string]struct{}, len(cfg.AlwaysPassLevels))
	for _, l := range cfg.AlwaysPassLevels {
		always[strings.ToUpper(l)] = struct{}{}
	}
	minRate := clamp01(cfg.MinSampleRate)
	maxRate := clamp01(cfg.MaxSampleRate)
	if maxRate < minRate {
		maxRate = minRate
	}
	return &AdaptiveSamplingFilter{
		targetEPS:      maxFloat(0, cfg.TargetEPS),
		minRate:        minRate,
		maxRate:        maxRate,
		window:         time.Duration(cfg.WindowSeconds * float64(time.Second)),
		alwaysPass:     always,
		smoothing:      clamp01(cfg.SmoothingFactor),
		currentRate:    1.0,
		lastAdjustment: time.Now(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func (f *AdaptiveSamplingFilter) Name() string { return "adaptive_sampling" }

// TargetEPS returns the filter's configured target events-per-second,
// exposed so the filter ladder (C4) can derive a halved copy for the
// ELEVATED tuple.
func (f *AdaptiveSamplingFilter) TargetEPS() float64 { return f.targetEPS }

// CurrentSampleRate returns the live, smoothed sample rate.
func (f *AdaptiveSamplingFilter) CurrentSampleRate() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentRate
}

// WithTargetEPS returns a new filter identical to f except for target EPS,
// preserving min/max rate, window, always-pass levels, and smoothing --
// used by the ladder to build the ELEVATED tuple's halved-rate copy
// without mutating the NORMAL tuple's instance.
func (f *AdaptiveSamplingFilter) WithTargetEPS(target float64) *AdaptiveSamplingFilter {
	levels := make([]string, 0, len(f.alwaysPass))
	for l := range f.alwaysPass {
		levels = append(levels, l)
	}
	return NewAdaptiveSamplingFilter(AdaptiveSamplingConfig{
		TargetEPS:        target,
		MinSampleRate:    f.minRate,
		MaxSampleRate:    f.maxRate,
		WindowSeconds:    f.window.Seconds(),
		AlwaysPassLevels: levels,
		SmoothingFactor:  f.smoothing,
	})
}

func (f *AdaptiveSamplingFilter) Filter(e Event) (Event, bool) {
	level := strings.ToUpper(e.Level)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.alwaysPass[level]; ok {
		f.recordEventLocked(time.Now())
		return e, true
	}

	if rand.Float64() > f.currentRate {
		return Event{}, false
	}

	f.recordEventLocked(time.Now())
	f.maybeAdjustRateLocked(time.Now())
	return e, true
}

func (f *AdaptiveSamplingFilter) recordEventLocked(now time.Time) {
	f.timestamps = append(f.timestamps, now)
	cutoff := now.Add(-f.window)
	i := 0
	for i < len(f.timestamps) && f.timestamps[i].Before(cutoff) {
		i++
	}
	f.timestamps = f.timestamps[i:]
}

func (f *AdaptiveSamplingFilter) maybeAdjustRateLocked(now time.Time) {
	if now.Sub(f.lastAdjustment) < time.Second {
		return
	}
	f.lastAdjustment = now

	var currentEPS float64
	if len(f.timestamps) == 0 {
		currentEPS = 0
	} else {
		elapsed := now.Sub(f.timestamps[0]).Seconds()
		if elapsed < 0.001 {
			elapsed = 0.001
		}
		currentEPS = float64(len(f.timestamps)) / elapsed
	}

	var idealRate float64
	if currentEPS <= 0 {
		idealRate = f.maxRate
	} else {
		idealRate = f.targetEPS / currentEPS
	}
	if idealRate < f.minRate {
		idealRate = f.minRate
	}
	if idealRate > f.maxRate {
		idealRate = f.maxRate
	}

	f.currentRate = f.smoothing*idealRate + (1-f.smoothing)*f.currentRate
}
