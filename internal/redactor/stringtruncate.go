package redactor

// StringTruncateConfig mirrors original_source's StringTruncateConfig.
type StringTruncateConfig struct {
	MaxStringLength     *int // nil = disabled
	MaxDepth            int
	MaxKeysScanned      int
	OnGuardrailExceeded string // "warn" or "drop"
}

func (c StringTruncateConfig) withDefaults() StringTruncateConfig {
	if c.MaxDepth == 0 {
		c.MaxDepth = 16
	}
	if c.MaxKeysScanned == 0 {
		c.MaxKeysScanned = 1000
	}
	if c.OnGuardrailExceeded == "" {
		c.OnGuardrailExceeded = "warn"
	}
	return c
}

// StringTruncateRedactor truncates string values exceeding a configurable
// length, appending a "[truncated]" marker. Grounded on original_source's
// plugins.redactors.string_truncate.StringTruncateRedactor.
type StringTruncateRedactor struct {
	maxLen      *int
	marker      string
	onDrop      bool
	maxDepth    int
	maxScanned  int
	diagnostics DiagnosticFunc
}

// NewStringTruncateRedactor constructs a StringTruncateRedactor; "more
// restrictive wins" applies between the plugin config and the optional
// core-wide guardrails, as in the source.
func NewStringTruncateRedactor(cfg StringTruncateConfig, coreMaxDepth, coreMaxKeysScanned int, diagnostics DiagnosticFunc) *StringTruncateRedactor {
	cfg = cfg.withDefaults()
	maxDepth := cfg.MaxDepth
	if coreMaxDepth > 0 && coreMaxDepth < maxDepth {
		maxDepth = coreMaxDepth
	}
	maxScanned := cfg.MaxKeysScanned
	if coreMaxKeysScanned > 0 && coreMaxKeysScanned < maxScanned {
		maxScanned = coreMaxKeysScanned
	}
	return &StringTruncateRedactor{
		maxLen:      cfg.MaxStringLength,
		marker:      "[truncated]",
		onDrop:      cfg.OnGuardrailExceeded == "drop",
		maxDepth:    maxDepth,
		maxScanned:  maxScanned,
		diagnostics: diagnostics,
	}
}

func (r *StringTruncateRedactor) Name() string { return "string_truncate" }

func (r *StringTruncateRedactor) Redact(fields map[string]any) map[string]any {
	if r.maxLen == nil {
		return fields
	}
	scanned := 0
	guardrailHit := false
	result := r.copyAndTraverse(fields, 0, "", &scanned, &guardrailHit)
	if guardrailHit && r.onDrop {
		return shallowCopy(fields)
	}
	if m, ok := result.(map[string]any); ok {
		return m
	}
	return shallowCopy(fields)
}

func (r *StringTruncateRedactor) copyAndTraverse(container any, depth int, path string, scanned *int, guardrailHit *bool) any {
	if depth > r.maxDepth {
		*guardrailHit = true
		r.warn("max depth exceeded during string truncation", path)
		return container
	}

	switch c := container.(type) {
	case map[string]any:
		copy := shallowCopy(c)
		for key, value := range copy {
			*scanned++
			if *scanned > r.maxScanned {
				*guardrailHit = true
				r.warn("max keys scanned exceeded during string truncation", path)
				return copy
			}
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			switch v := value.(type) {
			case string:
				copy[key] = r.maybeTruncate(v, childPath)
			case map[string]any, []any:
				copy[key] = r.copyAndTraverse(v, depth+1, childPath, scanned, guardrailHit)
				if *guardrailHit && r.onDrop {
					return copy
				}
			}
		}
		return copy
	case []any:
		lst := append([]any(nil), c...)
		for i, item := range lst {
			switch v := item.(type) {
			case string:
				lst[i] = r.maybeTruncate(v, path)
			case map[string]any, []any:
				lst[i] = r.copyAndTraverse(v, depth+1, path, scanned, guardrailHit)
				if *guardrailHit && r.onDrop {
					return lst
				}
			}
		}
		return lst
	}
	return container
}

func (r *StringTruncateRedactor) maybeTruncate(s, path string) string {
	if len(s) <= *r.maxLen {
		return s
	}
	truncated := s[:*r.maxLen] + r.marker
	if r.diagnostics != nil {
		r.diagnostics("string field truncated", map[string]any{
			"path":            path,
			"original_length": len(s),
			"truncated_to":    *r.maxLen,
		})
	}
	return truncated
}

func (r *StringTruncateRedactor) warn(msg, path string) {
	if r.diagnostics == nil {
		return
	}
	r.diagnostics(msg, map[string]any{"path": path})
}
