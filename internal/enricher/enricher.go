// Package enricher implements the enricher contract and the two builtin
// enrichers (S3: context, runtime info), grounded on original_source's
// src/fapilog/plugins/enrichers/*.py.
//
// Enrichers run in parallel with bounded concurrency (the pipeline runner
// owns the errgroup.Group that enforces the bound); each enricher receives
// a read-only view and returns a map merged shallowly into the event. A
// failed enricher contributes nothing.
package enricher

import "context"

// Enricher inspects an event's current fields (read-only) and returns
// additional fields to merge in. It must not mutate the input map.
type Enricher interface {
	Name() string
	Enrich(ctx context.Context, fields map[string]any) (map[string]any, error)
}

// EnricherFunc adapts a plain function to the Enricher interface.
type EnricherFunc struct {
	EnricherName string
	Fn           func(context.Context, map[string]any) (map[string]any, error)
}

func (f EnricherFunc) Name() string { return f.EnricherName }
func (f EnricherFunc) Enrich(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return f.Fn(ctx, fields)
}
