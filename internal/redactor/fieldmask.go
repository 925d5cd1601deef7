package redactor

import "strings"

// FieldMaskConfig mirrors original_source's FieldMaskConfig dataclass.
type FieldMaskConfig struct {
	FieldsToMask        []string
	MaskString           string
	BlockOnUnredactable  bool
	MaxDepth             int
	MaxKeysScanned       int
}

func (c FieldMaskConfig) withDefaults() FieldMaskConfig {
	if c.MaskString == "" {
		c.MaskString = "***"
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 16
	}
	if c.MaxKeysScanned == 0 {
		c.MaxKeysScanned = 1000
	}
	return c
}

// FieldMaskRedactor masks configured dotted-path fields in structured
// events. Grounded on original_source's
// plugins.redactors.field_mask.FieldMaskRedactor.
type FieldMaskRedactor struct {
	fields      [][]string
	mask        string
	block       bool
	maxDepth    int
	maxScanned  int
	diagnostics DiagnosticFunc
}

// NewFieldMaskRedactor constructs a FieldMaskRedactor from cfg.
func NewFieldMaskRedactor(cfg FieldMaskConfig, diagnostics DiagnosticFunc) *FieldMaskRedactor {
	cfg = cfg.withDefaults()
	fields := make([][]string, 0, len(cfg.FieldsToMask))
	for _, path := range cfg.FieldsToMask {
		var segs []string
		for _, s := range strings.Split(path, ".") {
			if s != "" {
				segs = append(segs, s)
			}
		}
		fields = append(fields, segs)
	}
	return &FieldMaskRedactor{
		fields:      fields,
		mask:        cfg.MaskString,
		block:       cfg.BlockOnUnredactable,
		maxDepth:    cfg.MaxDepth,
		maxScanned:  cfg.MaxKeysScanned,
		diagnostics: diagnostics,
	}
}

func (r *FieldMaskRedactor) Name() string { return "field-mask" }

func (r *FieldMaskRedactor) Redact(fields map[string]any) map[string]any {
	root := shallowCopy(fields)
	for _, path := range r.fields {
		scanned := 0
		r.applyMask(root, path, &scanned)
	}
	return root
}

func (r *FieldMaskRedactor) maskScalar(value any) any {
	if s, ok := value.(string); ok && s == r.mask {
		return value
	}
	return r.mask
}

func (r *FieldMaskRedactor) applyMask(root map[string]any, path []string, scanned *int) {
	r.traverse(root, path, 0, 0, scanned)
}

func (r *FieldMaskRedactor) traverse(container any, path []string, segIdx, depth int, scanned *int) {
	if depth > r.maxDepth {
		r.warn("max depth exceeded during redaction", path)
		return
	}
	if *scanned > r.maxScanned {
		r.warn("max keys scanned exceeded during redaction", path)
		return
	}
	if segIdx >= len(path) {
		return
	}

	key := path[segIdx]
	switch c := container.(type) {
	case map[string]any:
		*scanned++
		v, present := c[key]
		if !present {
			return
		}
		if segIdx == len(path)-1 {
			c[key] = r.maskScalar(v)
			return
		}
		switch v.(type) {
		case map[string]any, []any:
			r.traverse(v, path, segIdx+1, depth+1, scanned)
		default:
			if r.block {
				r.warn("unredactable intermediate field", path)
			}
		}
	case []any:
		for _, item := range c {
			*scanned++
			r.traverse(item, path, segIdx, depth+1, scanned)
		}
	default:
		if r.block {
			r.warn("unredactable container", path)
		}
	}
}

func (r *FieldMaskRedactor) warn(msg string, path []string) {
	if r.diagnostics == nil {
		return
	}
	r.diagnostics(msg, map[string]any{"path": strings.Join(path, ".")})
}
