package enricher

import "context"

// ctxKey is an unexported type for the context keys this enricher reads,
// avoiding collisions with other packages' context values.
type ctxKey string

const (
	requestIDKey ctxKey = "chainlog.request_id"
	userIDKey    ctxKey = "chainlog.user_id"
)

// WithRequestID returns a child context carrying a request id for the
// ContextEnricher to pick up; the Go analogue of the source's
// contextvars-based request_id_var.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithUserID returns a child context carrying a user id.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey, id)
}

// ContextEnricher adds request_id and user_id when present on the
// context, plus tenant_id from the event if not already enriched.
// Grounded on original_source's
// plugins.enrichers.context_vars.ContextVarsEnricher, translated from
// Python contextvars to Go's context.Context (this module has no
// OpenTelemetry dependency to mirror the source's optional trace/span id
// enrichment; that integration is left to a caller-supplied Enricher).
type ContextEnricher struct{}

func (ContextEnricher) Name() string { return "context" }

func (ContextEnricher) Enrich(ctx context.Context, fields map[string]any) (map[string]any, error) {
	out := map[string]any{}

	if rid, ok := ctx.Value(requestIDKey).(string); ok && rid != "" {
		out["request_id"] = rid
	}
	if uid, ok := ctx.Value(userIDKey).(string); ok && uid != "" {
		out["user_id"] = uid
	}
	if tenant, ok := fields["tenant_id"]; ok {
		out["tenant_id"] = tenant
	}

	return out, nil
}
