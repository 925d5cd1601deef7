// Package pipeline implements the per-event pipeline stage runner (C6):
// filters, then enrichers (parallel, bounded concurrency), then redactors
// (ordered), then an optional serialize step, then byte-level processors,
// then a sink write.
//
// Grounded on original_source's core/worker.py (LoggerWorker._flush_batch,
// _apply_filters/_apply_enrichers/_apply_redactors/_apply_processors,
// _try_serialize): the stage order and the "a stage failure falls back to
// the pre-stage value, never aborts the batch" containment policy are
// reproduced here, generalized from asyncio tasks to goroutines.
package pipeline

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/joeycumines/chainlog/internal/enricher"
	"github.com/joeycumines/chainlog/internal/filter"
	"github.com/joeycumines/chainlog/internal/processor"
	"github.com/joeycumines/chainlog/internal/redactor"
	"github.com/joeycumines/chainlog/internal/sink"
)

// Entry is the pipeline's mutable working representation of one log
// event; the root package's Envelope is converted to/from Entry at the
// pipeline boundary so this package stays independent of it.
type Entry struct {
	Timestamp     float64
	Level         string
	Message       string
	Logger        string
	CorrelationID string
	Fields        map[string]any
}

// Serializer produces a serialized view of a sink event; implemented by
// internal/serialize.
type Serializer interface {
	Serialize(e sink.Event) (sink.SerializedView, error)
}

// SinkWriter is the minimal surface the pipeline needs to hand off a
// finished event; *fanout.Writer satisfies this.
type SinkWriter interface {
	Write(ctx context.Context, e sink.Event)
}

// DiagnosticFunc reports a non-fatal, rate-limited pipeline warning.
type DiagnosticFunc func(kind string, fields map[string]any)

// Config wires the stage chains and optional serialize step.
type Config struct {
	Filters            []filter.Filter
	Enrichers          []enricher.Enricher
	EnricherConcurrency int // default 5, per spec.md §4.6 step 2
	Redactors          []redactor.Redactor
	Processors         []processor.Processor
	Serializer         Serializer             // nil disables the serialize/processor path
	SerializedSink     sink.SerializedWriter  // dedicated zero-copy sink, tried before Sink when Serializer is set
	Sink               SinkWriter
	LevelPriority      filter.LevelPriorityFunc
	Diagnostics        DiagnosticFunc
}

func (c Config) withDefaults() Config {
	if c.EnricherConcurrency <= 0 {
		c.EnricherConcurrency = 5
	}
	return c
}

// Runner executes the stage chain for batches of entries dequeued by a
// worker.
type Runner struct {
	cfg Config
}

// New constructs a Runner.
func New(cfg Config) *Runner {
	cfg = cfg.withDefaults()
	return &Runner{cfg: cfg}
}

// RunBatch processes every entry in the batch independently; per-worker
// per-sink ordering is preserved because entries within one batch are
// processed in slice order and each entry's sink write happens before the
// next entry starts (see RunOne).
func (r *Runner) RunBatch(ctx context.Context, batch []Entry) {
	for _, e := range batch {
		r.RunOne(ctx, e)
	}
}

// RunOne drives a single entry through the full stage chain.
func (r *Runner) RunOne(ctx context.Context, e Entry) {
	fe, keep := r.runFilters(e)
	if !keep {
		return
	}

	fe.Fields = r.runEnrichers(ctx, enricherView(fe), fe.Fields)
	fe.Fields = r.runRedactors(fe.Fields)

	evt := sink.Event{
		Timestamp:     fe.Timestamp,
		Level:         fe.Level,
		Message:       fe.Message,
		Logger:        fe.Logger,
		CorrelationID: fe.CorrelationID,
		Metadata:      fe.Fields,
	}

	if r.cfg.Serializer != nil && r.cfg.SerializedSink != nil {
		if view, ok := r.runSerializeAndProcess(evt); ok {
			if err := r.cfg.SerializedSink.WriteSerialized(ctx, view); err == nil {
				return
			}
			// fall back to the default structured path on serialized-write failure,
			// mirroring worker.py's try/except around sink_write_serialized
		}
	}

	if r.cfg.Sink != nil {
		r.cfg.Sink.Write(ctx, evt)
	}
}

func (r *Runner) runFilters(e Entry) (Entry, bool) {
	if len(r.cfg.Filters) == 0 {
		return e, true
	}
	fevt := filter.Event{Level: e.Level, Message: e.Message, Fields: e.Fields}
	out, keep := filter.RunChain(r.cfg.Filters, fevt, func(name string) {
		if r.cfg.Diagnostics != nil {
			r.cfg.Diagnostics("filter", map[string]any{"filter": name, "dropped": true})
		}
	})
	e.Level, e.Message, e.Fields = out.Level, out.Message, out.Fields
	return e, keep
}

// enricherView builds the read-only full-event map enrichers receive:
// metadata plus the envelope's top-level fields (timestamp, level,
// message, logger, correlation_id), mirroring the source's
// e.enrich(dict(event)) over the whole envelope rather than metadata
// alone. The tamper enricher in particular needs this: its MAC covers
// the full event, not just metadata.
func enricherView(e Entry) map[string]any {
	view := make(map[string]any, len(e.Fields)+5)
	for k, v := range e.Fields {
		view[k] = v
	}
	view["timestamp"] = e.Timestamp
	view["level"] = e.Level
	view["message"] = e.Message
	view["logger"] = e.Logger
	view["correlation_id"] = e.CorrelationID
	return view
}

// runEnrichers fans enrichers out with bounded concurrency; each receives
// its own shallow copy of view (the full event, read-only) so concurrent
// enrichers never race on the same map, and results are merged back onto
// base (the metadata accumulated so far) in enricher-declared order (not
// completion order) so output is deterministic regardless of goroutine
// scheduling. base, not view, is what ends up as the event's metadata:
// the envelope's top-level fields are visible to enrichers but are never
// written back as metadata duplicates.
func (r *Runner) runEnrichers(ctx context.Context, view, base map[string]any) map[string]any {
	if len(r.cfg.Enrichers) == 0 {
		return base
	}

	results := make([]map[string]any, len(r.cfg.Enrichers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.EnricherConcurrency)

	for i, enr := range r.cfg.Enrichers {
		i, enr := i, enr
		g.Go(func() (err error) {
			defer func() {
				if recover() != nil {
					err = nil // contained: panics never abort the batch
				}
			}()
			snapshot := shallowCopy(view)
			out, enrichErr := enr.Enrich(gctx, snapshot)
			if enrichErr != nil {
				if r.cfg.Diagnostics != nil {
					r.cfg.Diagnostics("enricher", map[string]any{"enricher": enr.Name(), "error": enrichErr.Error()})
				}
				return nil
			}
			results[i] = out
			return nil
		})
	}
	_ = g.Wait() // errors are contained per-enricher above; Wait never aborts merging

	merged := shallowCopy(base)
	for _, out := range results {
		for k, v := range out {
			merged[k] = v
		}
	}
	return merged
}

func (r *Runner) runRedactors(fields map[string]any) map[string]any {
	if len(r.cfg.Redactors) == 0 {
		return fields
	}
	return redactor.RunChain(r.cfg.Redactors, fields)
}

// runSerializeAndProcess serializes the event, then runs byte-level
// processors over the result, mirroring worker.py's
// _try_serialize + _apply_processors ordering (processors run on the
// already-serialized bytes, not the source map).
func (r *Runner) runSerializeAndProcess(evt sink.Event) (sink.SerializedView, bool) {
	view, err := r.cfg.Serializer.Serialize(evt)
	if err != nil {
		if r.cfg.Diagnostics != nil {
			r.cfg.Diagnostics("sink", map[string]any{"error": err.Error(), "stage": "serialize"})
		}
		return sink.SerializedView{}, false
	}
	if len(r.cfg.Processors) > 0 {
		view.Data = processor.RunChain(r.cfg.Processors, view.Data)
	}
	return view, true
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
