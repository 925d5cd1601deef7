package redactor

import (
	"strings"
)

// DefaultBlockedFields mirrors original_source's DEFAULT_BLOCKED_FIELDS.
var DefaultBlockedFields = []string{
	"body", "request_body", "response_body", "payload", "raw",
	"dump", "raw_body", "raw_request", "raw_response",
}

// FieldBlockerConfig mirrors original_source's FieldBlockerConfig.
type FieldBlockerConfig struct {
	BlockedFields       []string
	AllowedFields       []string
	Replacement         string
	MaxDepth            int
	MaxKeysScanned      int
	OnGuardrailExceeded string // "warn" or "drop"
}

func (c FieldBlockerConfig) withDefaults() FieldBlockerConfig {
	if c.BlockedFields == nil {
		c.BlockedFields = DefaultBlockedFields
	}
	if c.Replacement == "" {
		c.Replacement = "[REDACTED:HIGH_RISK_FIELD]"
	}
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

// FieldBlockerRedactor replaces known dangerous field names anywhere in
// the event tree. Grounded on original_source's
// plugins.redactors.field_blocker.FieldBlockerRedactor.
type FieldBlockerRedactor struct {
	blocklist   map[string]struct{}
	replacement string
	onDrop      bool
	maxDepth    int
	maxScanned  int
	diagnostics DiagnosticFunc
}

// NewFieldBlockerRedactor constructs a FieldBlockerRedactor; coreMaxDepth
// and coreMaxKeysScanned (0 meaning "no cap from the core") apply
// "more restrictive wins" logic, per the source.
func NewFieldBlockerRedactor(cfg FieldBlockerConfig, coreMaxDepth, coreMaxKeysScanned int, diagnostics DiagnosticFunc) *FieldBlockerRedactor {
	cfg = cfg.withDefaults()
	blocked := map[string]struct{}{}
	for _, f := range cfg.BlockedFields {
		blocked[strings.ToLower(f)] = struct{}{}
	}
	for _, f := range cfg.AllowedFields {
		delete(blocked, strings.ToLower(f))
	}

	maxDepth := cfg.MaxDepth
	if coreMaxDepth > 0 && coreMaxDepth < maxDepth {
		maxDepth = coreMaxDepth
	}
	maxScanned := cfg.MaxKeysScanned
	if coreMaxKeysScanned > 0 && coreMaxKeysScanned < maxScanned {
		maxScanned = coreMaxKeysScanned
	}

	return &FieldBlockerRedactor{
		blocklist:   blocked,
		replacement: cfg.Replacement,
		onDrop:      cfg.OnGuardrailExceeded == "drop",
		maxDepth:    maxDepth,
		maxScanned:  maxScanned,
		diagnostics: diagnostics,
	}
}

func (r *FieldBlockerRedactor) Name() string { return "field_blocker" }

func (r *FieldBlockerRedactor) Redact(fields map[string]any) map[string]any {
	root := shallowCopy(fields)
	scanned := 0
	guardrailHit := false
	r.walk(root, 0, "", &scanned, &guardrailHit)
	if guardrailHit && r.onDrop {
		return shallowCopy(fields)
	}
	return root
}

func (r *FieldBlockerRedactor) walk(obj any, depth int, parentPath string, scanned *int, guardrailHit *bool) {
	if depth > r.maxDepth {
		*guardrailHit = true
		r.warn("max depth exceeded during field blocking", parentPath)
		return
	}

	switch v := obj.(type) {
	case map[string]any:
		for key := range v {
			*scanned++
			if *scanned > r.maxScanned {
				*guardrailHit = true
				r.warn("max keys scanned exceeded during field blocking", parentPath)
				return
			}
			if _, blocked := r.blocklist[strings.ToLower(key)]; blocked {
				v[key] = r.replacement
				path := key
				if parentPath != "" {
					path = parentPath + "." + key
				}
				r.warnFields("high-risk field blocked", map[string]any{"field": key, "path": path, "policy_violation": true})
				continue
			}
			val := v[key]
			switch val.(type) {
			case map[string]any, []any:
				childPath := key
				if parentPath != "" {
					childPath = parentPath + "." + key
				}
				r.walk(val, depth+1, childPath, scanned, guardrailHit)
				if *guardrailHit && r.onDrop {
					return
				}
			}
		}
	case []any:
		for _, item := range v {
			switch item.(type) {
			case map[string]any, []any:
				r.walk(item, depth+1, parentPath, scanned, guardrailHit)
				if *guardrailHit && r.onDrop {
					return
				}
			}
		}
	}
}

func (r *FieldBlockerRedactor) warn(msg, path string) {
	r.warnFields(msg, map[string]any{"path": path})
}

func (r *FieldBlockerRedactor) warnFields(msg string, fields map[string]any) {
	if r.diagnostics == nil {
		return
	}
	r.diagnostics(msg, fields)
}
