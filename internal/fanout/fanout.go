// Package fanout implements the fan-out / routing writer (C8): level-keyed
// routing or parallel fan-out across sinks, each guarded by its own
// circuit breaker, with a stderr fallback when every sink fails for an
// event.
//
// The "try every writer, contain every failure" shape is grounded on
// logiface.go's WriterSlice[E] (tries each writer in turn, propagating the
// first non-ErrDisabled error), generalized here from "first success wins"
// to "every admissible sink gets the write, failures are contained and
// counted".
package fanout

import (
	"context"
	"sync"

	"github.com/joeycumines/chainlog/internal/breaker"
	"github.com/joeycumines/chainlog/internal/sink"
)

// Route matches events whose level is in Levels to Sinks.
type Route struct {
	Levels []string
	Sinks  []string
}

// RedactionMode controls how the stderr fallback renders an event when
// every configured sink failed.
type RedactionMode string

const (
	// RedactionInherit emits the event as already redacted by the pipeline's
	// redactor chain (no further transformation here).
	RedactionInherit RedactionMode = "inherit"
	// RedactionMinimal masks a fixed set of sensitive field names.
	RedactionMinimal RedactionMode = "minimal"
	// RedactionNone emits the raw event with a diagnostic warning.
	RedactionNone RedactionMode = "none"
)

var minimalSensitiveFields = map[string]struct{}{
	"password": {}, "api_key": {}, "secret": {}, "token": {}, "authorization": {},
}

// guardedSink pairs a sink with its circuit breaker.
type guardedSink struct {
	sink    sink.Sink
	breaker *breaker.CircuitBreaker
}

// Config configures a Writer.
type Config struct {
	// Routing mode: when Rules is non-empty, routing mode is used;
	// otherwise every sink in FanOutSinks receives every event.
	Rules          []Route
	FallbackSinks  []string
	Overlap        bool
	FanOutSinks    []string
	Parallel       bool
	RedactionMode  RedactionMode
}

// DiagnosticFunc reports a non-fatal fan-out warning.
type DiagnosticFunc func(kind string, fields map[string]any)

// Writer is the C8 fan-out/routing writer.
type Writer struct {
	cfg         Config
	sinks       map[string]*guardedSink
	fallback    sink.Sink
	diagnostics DiagnosticFunc
}

// New constructs a Writer. sinks maps sink name to its Sink implementation
// and circuit breaker; fallback is the last-resort stderr-style sink.
func New(cfg Config, sinks map[string]sink.Sink, breakers map[string]*breaker.CircuitBreaker, fallback sink.Sink, diagnostics DiagnosticFunc) *Writer {
	guarded := make(map[string]*guardedSink, len(sinks))
	for name, s := range sinks {
		guarded[name] = &guardedSink{sink: s, breaker: breakers[name]}
	}
	return &Writer{cfg: cfg, sinks: guarded, fallback: fallback, diagnostics: diagnostics}
}

// resolveTargets returns the ordered, de-duplicated set of sink names an
// event with the given level should be written to.
func (w *Writer) resolveTargets(level string) []string {
	if len(w.cfg.Rules) == 0 {
		return w.cfg.FanOutSinks
	}

	matched := map[string]struct{}{}
	var ordered []string
	anyMatch := false
	for _, rule := range w.cfg.Rules {
		if !containsLevel(rule.Levels, level) {
			continue
		}
		anyMatch = true
		for _, s := range rule.Sinks {
			if _, seen := matched[s]; !seen {
				matched[s] = struct{}{}
				ordered = append(ordered, s)
			}
		}
		if anyMatch && !w.cfg.Overlap {
			break
		}
	}
	if !anyMatch {
		return w.cfg.FallbackSinks
	}
	return ordered
}

func containsLevel(levels []string, level string) bool {
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// Write attempts delivery to every resolved target sink, guarded by its
// circuit breaker, containing every failure. If every target fails (or is
// open), it falls back to stderr with the configured redaction mode.
func (w *Writer) Write(ctx context.Context, e sink.Event) {
	targets := w.resolveTargets(e.Level)
	if len(targets) == 0 {
		w.writeFallback(ctx, e)
		return
	}

	if w.cfg.Parallel {
		w.writeParallel(ctx, e, targets)
		return
	}
	w.writeSequential(ctx, e, targets)
}

func (w *Writer) writeSequential(ctx context.Context, e sink.Event, targets []string) {
	anySucceeded := false
	for _, name := range targets {
		if w.writeOne(ctx, name, e) {
			anySucceeded = true
		}
	}
	if !anySucceeded {
		w.writeFallback(ctx, e)
	}
}

func (w *Writer) writeParallel(ctx context.Context, e sink.Event, targets []string) {
	var wg sync.WaitGroup
	results := make([]bool, len(targets))
	for i, name := range targets {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			results[i] = w.writeOne(ctx, name, e)
		}(i, name)
	}
	wg.Wait()

	for _, ok := range results {
		if ok {
			return
		}
	}
	w.writeFallback(ctx, e)
}

// writeOne writes to a single named sink, guarded by its circuit breaker.
// It returns true on success; all errors are contained.
func (w *Writer) writeOne(ctx context.Context, name string, e sink.Event) bool {
	gs, ok := w.sinks[name]
	if !ok {
		return false
	}
	if gs.breaker != nil && !gs.breaker.ShouldAllow() {
		return false
	}

	err := func() (err error) {
		defer func() {
			if recover() != nil {
				err = errPanicked
			}
		}()
		return gs.sink.Write(ctx, e)
	}()

	if err != nil {
		if gs.breaker != nil {
			gs.breaker.RecordFailure()
		}
		if w.diagnostics != nil {
			w.diagnostics("sink write failed", map[string]any{"sink": name, "error": err.Error()})
		}
		return false
	}
	if gs.breaker != nil {
		gs.breaker.RecordSuccess()
	}
	return true
}

var errPanicked = panicError("sink write panicked")

type panicError string

func (p panicError) Error() string { return string(p) }

// writeFallback emits a single line to the fallback sink, applying the
// configured redaction mode.
func (w *Writer) writeFallback(ctx context.Context, e sink.Event) {
	if w.fallback == nil {
		return
	}
	switch w.cfg.RedactionMode {
	case RedactionMinimal:
		e = minimalRedact(e)
	case RedactionNone:
		if w.diagnostics != nil {
			w.diagnostics("fallback emitting unredacted event", map[string]any{"correlation_id": e.CorrelationID})
		}
	}
	_ = w.fallback.Write(ctx, e)
}

func minimalRedact(e sink.Event) sink.Event {
	if len(e.Metadata) == 0 {
		return e
	}
	out := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		lower := lowerASCII(k)
		if _, sensitive := minimalSensitiveFields[lower]; sensitive {
			out[k] = "***"
			continue
		}
		out[k] = v
	}
	e.Metadata = out
	return e
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
