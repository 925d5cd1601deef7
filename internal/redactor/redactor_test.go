package redactor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFieldMaskRedactor_MasksDottedPath(t *testing.T) {
	r := NewFieldMaskRedactor(FieldMaskConfig{FieldsToMask: []string{"user.password"}}, nil)
	out := r.Redact(map[string]any{
		"user": map[string]any{"password": "hunter2", "name": "alice"},
	})
	nested := out["user"].(map[string]any)
	require.Equal(t, "***", nested["password"])
	require.Equal(t, "alice", nested["name"])
}

func TestFieldMaskRedactor_IsIdempotent(t *testing.T) {
	r := NewFieldMaskRedactor(FieldMaskConfig{FieldsToMask: []string{"secret"}}, nil)
	once := r.Redact(map[string]any{"secret": "abc"})
	twice := r.Redact(once)
	require.Equal(t, once, twice, "applying the same redactor twice must produce identical output")
}

func TestFieldMaskRedactor_IgnoresAbsentPath(t *testing.T) {
	r := NewFieldMaskRedactor(FieldMaskConfig{FieldsToMask: []string{"missing.path"}}, nil)
	out := r.Redact(map[string]any{"a": 1})
	require.Equal(t, 1, out["a"])
}

func TestFieldBlockerRedactor_BlocksKnownHighRiskFields(t *testing.T) {
	r := NewFieldBlockerRedactor(FieldBlockerConfig{}, 0, 0, nil)
	out := r.Redact(map[string]any{"body": "raw content", "ok": "fine"})
	require.Equal(t, "[REDACTED:HIGH_RISK_FIELD]", out["body"])
	require.Equal(t, "fine", out["ok"])
}

func TestFieldBlockerRedactor_AllowedFieldsOverrideBlocked(t *testing.T) {
	r := NewFieldBlockerRedactor(FieldBlockerConfig{
		BlockedFields: []string{"body"},
		AllowedFields: []string{"body"},
	}, 0, 0, nil)
	out := r.Redact(map[string]any{"body": "raw content"})
	require.Equal(t, "raw content", out["body"])
}

func TestFieldBlockerRedactor_IsIdempotent(t *testing.T) {
	r := NewFieldBlockerRedactor(FieldBlockerConfig{}, 0, 0, nil)
	once := r.Redact(map[string]any{"payload": "x"})
	twice := r.Redact(once)
	require.Equal(t, once, twice)
}

func TestStringTruncateRedactor_TruncatesOverLength(t *testing.T) {
	maxLen := 5
	r := NewStringTruncateRedactor(StringTruncateConfig{MaxStringLength: &maxLen}, 0, 0, nil)
	out := r.Redact(map[string]any{"msg": "abcdefghij"})
	require.Equal(t, "abcde[truncated]", out["msg"])
}

func TestStringTruncateRedactor_DisabledWhenNilLength(t *testing.T) {
	r := NewStringTruncateRedactor(StringTruncateConfig{}, 0, 0, nil)
	fields := map[string]any{"msg": "abcdefghij"}
	out := r.Redact(fields)
	require.Equal(t, "abcdefghij", out["msg"])
}

func TestStringTruncateRedactor_IsIdempotent(t *testing.T) {
	maxLen := 3
	r := NewStringTruncateRedactor(StringTruncateConfig{MaxStringLength: &maxLen}, 0, 0, nil)
	once := r.Redact(map[string]any{"msg": "abcdef"})
	twice := r.Redact(once)
	require.Equal(t, once, twice, "truncating an already-truncated (short) value must be stable")
}

func TestRunChain_SkipsPanickingRedactorKeepsLastGood(t *testing.T) {
	panicky := redactorFunc{name: "panicky", fn: func(m map[string]any) map[string]any {
		panic("boom")
	}}
	good := NewFieldMaskRedactor(FieldMaskConfig{FieldsToMask: []string{"secret"}}, nil)

	out := RunChain([]Redactor{good, panicky}, map[string]any{"secret": "abc"})
	require.Equal(t, "***", out["secret"], "a later panicking redactor must not erase an earlier good result")
}

type redactorFunc struct {
	name string
	fn   func(map[string]any) map[string]any
}

func (r redactorFunc) Name() string                             { return r.name }
func (r redactorFunc) Redact(m map[string]any) map[string]any { return r.fn(m) }
