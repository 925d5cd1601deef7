package filter

import (
	"sync/atomic"

	"github.com/joeycumines/chainlog/internal/pressure"
)

// Tuple is one of the four immutable filter chains selected by pressure
// level.
type Tuple []Filter

// ladderState holds all four tuples; swapped atomically as a unit so
// readers never observe a partially-updated ladder.
type ladderState struct {
	tuples [4]Tuple
}

// Ladder holds the active filter tuple pointer with single-writer (the
// pressure monitor), many-reader (workers) publication -- no locking in
// the hot path, grounded on spec.md §4.4's "relaxed publication" note.
type Ladder struct {
	state         atomic.Pointer[ladderState]
	protectedSet  map[string]struct{}
	levelPriority LevelPriorityFunc
	onSwap        func()
}

// NewLadder builds the four tuples once at start from the user-configured
// NORMAL filters and the protected-levels set, then installs them as the
// initial active tuple (NORMAL).
//
// Grounded on original_source's core.filter_ladder.build_filter_ladder and
// its three _build_* helpers.
func NewLadder(normal Tuple, protectedLevels []string, levelPriority LevelPriorityFunc, onSwap func()) *Ladder {
	protectedSet := make(map[string]struct{}, len(protectedLevels))
	for _, l := range protectedLevels {
		protectedSet[l] = struct{}{}
	}

	l := &Ladder{protectedSet: protectedSet, levelPriority: levelPriority, onSwap: onSwap}

	elevated := buildElevatedFilters(normal, protectedLevels)
	high := buildHighFilters(normal, levelPriority)
	critical := buildCriticalFilters(protectedLevels, levelPriority)

	st := &ladderState{tuples: [4]Tuple{normal, elevated, high, critical}}
	l.state.Store(st)
	return l
}

// buildElevatedFilters halves the target_eps of an existing adaptive
// sampling filter if present, or injects one with target_eps=50 whose
// always-pass levels include the protected levels.
func buildElevatedFilters(normal Tuple, protectedLevels []string) Tuple {
	out := make(Tuple, 0, len(normal)+1)
	found := false
	for _, f := range normal {
		if as, ok := f.(*AdaptiveSamplingFilter); ok {
			out = append(out, as.WithTargetEPS(as.TargetEPS()/2))
			found = true
			continue
		}
		out = append(out, f)
	}
	if !found {
		always := append([]string{}, protectedLevels...)
		out = append(out, NewAdaptiveSamplingFilter(AdaptiveSamplingConfig{
			TargetEPS:        50,
			AlwaysPassLevels: always,
		}))
	}
	return out
}

// buildHighFilters prepends a WARNING-level gate, dropping DEBUG/INFO
// post-dequeue.
func buildHighFilters(normal Tuple, levelPriority LevelPriorityFunc) Tuple {
	gate := NewLevelFilter("WARNING", true, levelPriority)
	out := make(Tuple, 0, len(normal)+1)
	out = append(out, gate)
	out = append(out, normal...)
	return out
}

// buildCriticalFilters replaces all filters with a single level gate whose
// threshold is the minimum priority among protectedLevels; if
// protectedLevels is empty, the gate refuses every event.
func buildCriticalFilters(protectedLevels []string, levelPriority LevelPriorityFunc) Tuple {
	if len(protectedLevels) == 0 {
		return Tuple{FilterFunc{FilterName: "level", Fn: func(Event) (Event, bool) { return Event{}, false }}}
	}
	minLevel := protectedLevels[0]
	minPriority := levelPriority(minLevel)
	for _, l := range protectedLevels[1:] {
		if p := levelPriority(l); p < minPriority {
			minPriority = p
			minLevel = l
		}
	}
	return Tuple{NewLevelFilter(minLevel, true, levelPriority)}
}

// Active returns the currently-installed tuple for the given pressure
// level.
func (l *Ladder) Active(level pressure.Level) Tuple {
	st := l.state.Load()
	idx := int(level)
	if idx < 0 || idx >= len(st.tuples) {
		idx = 0
	}
	return st.tuples[idx]
}

// Swap is invoked by the pressure monitor's OnChange callback; it is a
// no-op on this ladder (the four tuples are built once at start and never
// rebuilt), but increments the actuator counter via onSwap so the adaptive
// summary reflects every pressure-driven filter change, matching
// spec.md's "swapped on pressure change" framing where the swap is which
// tuple is *active*, not a rebuild of the tuples themselves.
func (l *Ladder) Swap(old, new pressure.Level) {
	if l.onSwap != nil {
		l.onSwap()
	}
}
