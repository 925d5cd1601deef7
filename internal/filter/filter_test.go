package filter

import (
	"math/rand"
	"testing"

	"github.com/joeycumines/chainlog/internal/pressure"
	"github.com/stretchr/testify/require"
)

func priorityFn(level string) int {
	switch level {
	case "DEBUG":
		return 10
	case "INFO":
		return 20
	case "WARNING":
		return 30
	case "ERROR":
		return 40
	case "CRITICAL":
		return 50
	default:
		return 0
	}
}

func TestLevelFilter_DropsBelowThreshold(t *testing.T) {
	f := NewLevelFilter("WARNING", true, priorityFn)
	_, ok := f.Filter(Event{Level: "INFO"})
	require.False(t, ok)

	e, ok := f.Filter(Event{Level: "ERROR"})
	require.True(t, ok)
	require.Equal(t, "ERROR", e.Level)
}

func TestSamplingFilter_BoundaryRatesAreDeterministic(t *testing.T) {
	always := NewSamplingFilter(1.0, rand.New(rand.NewSource(1)))
	_, ok := always.Filter(Event{})
	require.True(t, ok)

	never := NewSamplingFilter(0.0, rand.New(rand.NewSource(1)))
	_, ok = never.Filter(Event{})
	require.False(t, ok)
}

func TestRateLimitFilter_RefusesWhenBucketEmptyWithoutRefill(t *testing.T) {
	f := NewRateLimitFilter(1, 0, "") // capacity 1, no refill
	_, ok := f.Filter(Event{})
	require.True(t, ok, "first event must consume the single token")

	_, ok = f.Filter(Event{})
	require.False(t, ok, "second event must be refused with no refill")
}

func TestRunChain_DropStopsAtFirstRefusal(t *testing.T) {
	dropped := NewLevelFilter("CRITICAL", true, priorityFn)
	var onDropCalled string
	_, ok := RunChain([]Filter{dropped}, Event{Level: "INFO"}, func(name string) {
		onDropCalled = name
	})
	require.False(t, ok)
	require.Equal(t, "level", onDropCalled)
}

func TestRunChain_PanickingFilterIsSkippedNotFatal(t *testing.T) {
	panicky := FilterFunc{FilterName: "panicky", Fn: func(e Event) (Event, bool) {
		panic("boom")
	}}
	e, ok := RunChain([]Filter{panicky}, Event{Level: "INFO", Message: "m"}, nil)
	require.True(t, ok, "a filter that panics must be treated as a no-op, event continues")
	require.Equal(t, "m", e.Message)
}

func TestLadder_CriticalGateUsesMinPriorityProtectedLevel(t *testing.T) {
	normal := Tuple{NewLevelFilter("INFO", true, priorityFn)}
	ladder := NewLadder(normal, []string{"ERROR", "CRITICAL"}, priorityFn, nil)

	critical := ladder.Active(pressure.Critical)
	require.Len(t, critical, 1)

	_, ok := critical[0].Filter(Event{Level: "WARNING"})
	require.False(t, ok, "CRITICAL gate must block below the minimum protected level (ERROR)")

	_, ok = critical[0].Filter(Event{Level: "ERROR"})
	require.True(t, ok)
}

func TestLadder_CriticalBlocksEverythingWhenNoProtectedLevels(t *testing.T) {
	normal := Tuple{NewLevelFilter("INFO", true, priorityFn)}
	ladder := NewLadder(normal, nil, priorityFn, nil)

	critical := ladder.Active(pressure.Critical)
	_, ok := critical[0].Filter(Event{Level: "CRITICAL"})
	require.False(t, ok, "with no protected levels, CRITICAL must block everything")
}

func TestLadder_HighPrependsWarningGate(t *testing.T) {
	normal := Tuple{}
	ladder := NewLadder(normal, nil, priorityFn, nil)

	high := ladder.Active(pressure.High)
	require.Len(t, high, 1)
	_, ok := high[0].Filter(Event{Level: "DEBUG"})
	require.False(t, ok)
}

func TestLadder_ElevatedHalvesExistingAdaptiveSampler(t *testing.T) {
	as := NewAdaptiveSamplingFilter(AdaptiveSamplingConfig{TargetEPS: 100})
	normal := Tuple{as}
	ladder := NewLadder(normal, nil, priorityFn, nil)

	elevated := ladder.Active(pressure.Elevated)
	require.Len(t, elevated, 1)
	halved, ok := elevated[0].(*AdaptiveSamplingFilter)
	require.True(t, ok)
	require.InDelta(t, 50.0, halved.TargetEPS(), 0.001)
}

func TestLadder_ElevatedInjectsAdaptiveSamplerWhenAbsent(t *testing.T) {
	normal := Tuple{NewLevelFilter("INFO", true, priorityFn)}
	ladder := NewLadder(normal, nil, priorityFn, nil)

	elevated := ladder.Active(pressure.Elevated)
	require.Len(t, elevated, 2)
	injected, ok := elevated[1].(*AdaptiveSamplingFilter)
	require.True(t, ok)
	require.InDelta(t, 50.0, injected.TargetEPS(), 0.001)
}
