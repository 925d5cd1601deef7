package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/chainlog/internal/enricher"
	"github.com/joeycumines/chainlog/internal/filter"
	"github.com/joeycumines/chainlog/internal/redactor"
	"github.com/joeycumines/chainlog/internal/sink"
)

type recordingSink struct {
	events []sink.Event
}

func (s *recordingSink) Write(ctx context.Context, e sink.Event) { s.events = append(s.events, e) }

func TestRunner_FilterDropsEntryBeforeSink(t *testing.T) {
	s := &recordingSink{}
	lf := filter.NewLevelFilter("WARNING", true, func(l string) int {
		return map[string]int{"DEBUG": 10, "INFO": 20, "WARNING": 30}[l]
	})
	r := New(Config{Filters: []filter.Filter{lf}, Sink: s})

	r.RunOne(context.Background(), Entry{Level: "DEBUG", Message: "skip me"})
	r.RunOne(context.Background(), Entry{Level: "WARNING", Message: "keep me"})

	require.Len(t, s.events, 1)
	require.Equal(t, "keep me", s.events[0].Message)
}

type addFieldEnricher struct {
	name string
	key  string
	val  any
}

func (e addFieldEnricher) Name() string { return e.name }
func (e addFieldEnricher) Enrich(ctx context.Context, fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[e.key] = e.val
	return out, nil
}

func TestRunner_EnrichersMergeDeterministically(t *testing.T) {
	s := &recordingSink{}
	r := New(Config{
		Enrichers: []enricher.Enricher{
			addFieldEnricher{name: "a", key: "service", val: "chainlog"},
			addFieldEnricher{name: "b", key: "pid", val: 42},
		},
		Sink: s,
	})

	r.RunOne(context.Background(), Entry{Level: "INFO", Message: "hi", Fields: map[string]any{}})

	require.Len(t, s.events, 1)
	require.Equal(t, "chainlog", s.events[0].Metadata["service"])
	require.Equal(t, 42, s.events[0].Metadata["pid"])
}

type erroringEnricher struct{}

func (erroringEnricher) Name() string { return "erroring" }
func (erroringEnricher) Enrich(ctx context.Context, fields map[string]any) (map[string]any, error) {
	return nil, errors.New("boom")
}

func TestRunner_EnricherErrorDoesNotAbortOtherEnrichers(t *testing.T) {
	s := &recordingSink{}
	r := New(Config{
		Enrichers: []enricher.Enricher{
			erroringEnricher{},
			addFieldEnricher{name: "b", key: "ok", val: true},
		},
		Sink: s,
	})

	r.RunOne(context.Background(), Entry{Level: "INFO", Fields: map[string]any{}})

	require.Len(t, s.events, 1)
	require.Equal(t, true, s.events[0].Metadata["ok"])
}

func TestRunner_RedactorsRunAfterEnrichers(t *testing.T) {
	s := &recordingSink{}
	fm := redactor.NewFieldMaskRedactor(redactor.FieldMaskConfig{FieldsToMask: []string{"password"}}, nil)
	r := New(Config{
		Enrichers: []enricher.Enricher{addFieldEnricher{name: "a", key: "password", val: "hunter2"}},
		Redactors: []redactor.Redactor{fm},
		Sink:      s,
	})

	r.RunOne(context.Background(), Entry{Level: "INFO", Fields: map[string]any{}})

	require.Len(t, s.events, 1)
	require.Equal(t, "***", s.events[0].Metadata["password"])
}

func TestRunBatch_PreservesEntryOrderToSink(t *testing.T) {
	s := &recordingSink{}
	r := New(Config{Sink: s})

	r.RunBatch(context.Background(), []Entry{
		{Level: "INFO", Message: "first"},
		{Level: "INFO", Message: "second"},
		{Level: "INFO", Message: "third"},
	})

	require.Len(t, s.events, 3)
	require.Equal(t, "first", s.events[0].Message)
	require.Equal(t, "second", s.events[1].Message)
	require.Equal(t, "third", s.events[2].Message)
}

type capturingEnricher struct {
	got map[string]any
}

func (e *capturingEnricher) Name() string { return "capture" }
func (e *capturingEnricher) Enrich(ctx context.Context, fields map[string]any) (map[string]any, error) {
	e.got = fields
	return nil, nil
}

func TestRunner_EnrichersSeeFullEventNotJustMetadata(t *testing.T) {
	s := &recordingSink{}
	capture := &capturingEnricher{}
	r := New(Config{
		Enrichers: []enricher.Enricher{capture},
		Sink:      s,
	})

	r.RunOne(context.Background(), Entry{
		Timestamp:     1700000000.5,
		Level:         "INFO",
		Message:       "hello",
		Logger:        "svc",
		CorrelationID: "c1",
		Fields:        map[string]any{"tenant_id": "t1"},
	})

	require.Equal(t, 1700000000.5, capture.got["timestamp"])
	require.Equal(t, "INFO", capture.got["level"])
	require.Equal(t, "hello", capture.got["message"])
	require.Equal(t, "svc", capture.got["logger"])
	require.Equal(t, "c1", capture.got["correlation_id"])
	require.Equal(t, "t1", capture.got["tenant_id"])

	require.Len(t, s.events, 1)
	require.NotContains(t, s.events[0].Metadata, "timestamp", "top-level envelope fields must not be duplicated into metadata")
	require.NotContains(t, s.events[0].Metadata, "message")
	require.Equal(t, "t1", s.events[0].Metadata["tenant_id"])
}
