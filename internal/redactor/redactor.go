// Package redactor implements the redactor contract and the three builtin
// redactors (S2: field mask, field blocker, string truncate), grounded on
// original_source's src/fapilog/plugins/redactors/*.py.
//
// Redactors run strictly sequentially in declared order; a failing
// redactor is skipped and the last-good snapshot is carried forward (see
// RunChain), matching spec.md §4.6 step 3.
package redactor

// DiagnosticFunc reports a non-fatal redaction-time warning; wired to the
// diagnostics channel (C14) by the pipeline runner.
type DiagnosticFunc func(kind string, fields map[string]any)

// Redactor transforms an event's fields, returning the (possibly
// unchanged) transformed map. Implementations must be idempotent: applying
// the same redactor twice must produce identical output to applying it
// once (testable property 10).
type Redactor interface {
	Name() string
	Redact(fields map[string]any) map[string]any
}

// RunChain applies redactors strictly in order. A redactor that panics is
// skipped; the last successfully-produced snapshot carries forward.
func RunChain(redactors []Redactor, fields map[string]any) map[string]any {
	current := fields
	for _, r := range redactors {
		var (
			next    map[string]any
			errored bool
		)
		func() {
			defer func() {
				if recover() != nil {
					errored = true
				}
			}()
			next = r.Redact(current)
		}()
		if errored {
			continue
		}
		current = next
	}
	return current
}

func shallowCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
