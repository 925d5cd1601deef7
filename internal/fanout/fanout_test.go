package fanout

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/chainlog/internal/breaker"
	"github.com/joeycumines/chainlog/internal/sink"
)

func TestWriter_FanOutModeWritesToAllSinks(t *testing.T) {
	a := &sink.MemorySink{SinkName: "a"}
	b := &sink.MemorySink{SinkName: "b"}
	w := New(Config{FanOutSinks: []string{"a", "b"}}, map[string]sink.Sink{"a": a, "b": b}, nil, nil, nil)

	w.Write(context.Background(), sink.Event{Level: "INFO", Message: "hi"})

	require.Equal(t, 1, a.Len())
	require.Equal(t, 1, b.Len())
}

func TestWriter_RoutingModeMatchesByLevel(t *testing.T) {
	errSink := &sink.MemorySink{SinkName: "errors"}
	allSink := &sink.MemorySink{SinkName: "all"}
	w := New(Config{
		Rules: []Route{
			{Levels: []string{"ERROR", "CRITICAL"}, Sinks: []string{"errors"}},
			{Levels: []string{"INFO", "WARNING"}, Sinks: []string{"all"}},
		},
	}, map[string]sink.Sink{"errors": errSink, "all": allSink}, nil, nil, nil)

	w.Write(context.Background(), sink.Event{Level: "ERROR"})
	w.Write(context.Background(), sink.Event{Level: "INFO"})

	require.Equal(t, 1, errSink.Len())
	require.Equal(t, 1, allSink.Len())
}

func TestWriter_RoutingModeUnmatchedLevelGoesToFallbackSinks(t *testing.T) {
	catchAll := &sink.MemorySink{SinkName: "catch_all"}
	w := New(Config{
		Rules:         []Route{{Levels: []string{"ERROR"}, Sinks: []string{"errors"}}},
		FallbackSinks: []string{"catch_all"},
	}, map[string]sink.Sink{"catch_all": catchAll}, nil, nil, nil)

	w.Write(context.Background(), sink.Event{Level: "DEBUG"})

	require.Equal(t, 1, catchAll.Len())
}

func TestWriter_CircuitOpenSinkIsSkipped(t *testing.T) {
	failing := &sink.MemorySink{SinkName: "failing", FailWrites: true}
	ok := &sink.MemorySink{SinkName: "ok"}
	cb := breaker.New("failing", breaker.Config{FailureThreshold: 1, RecoveryTimeoutSeconds: time.Hour}, nil)

	w := New(Config{FanOutSinks: []string{"failing", "ok"}},
		map[string]sink.Sink{"failing": failing, "ok": ok},
		map[string]*breaker.CircuitBreaker{"failing": cb},
		nil, nil)

	w.Write(context.Background(), sink.Event{Level: "INFO"})
	require.Equal(t, breaker.Open, cb.CurrentState())

	w.Write(context.Background(), sink.Event{Level: "INFO"})
	require.Equal(t, 1, failing.Len(), "breaker should have refused the second write attempt")
	require.Equal(t, 2, ok.Len())
}

func TestWriter_AllSinksFailFallsBackToStderrSink(t *testing.T) {
	failing := &sink.MemorySink{SinkName: "failing", FailWrites: true}
	fallback := &sink.MemorySink{SinkName: "fallback"}
	w := New(Config{FanOutSinks: []string{"failing"}}, map[string]sink.Sink{"failing": failing}, nil, fallback, nil)

	w.Write(context.Background(), sink.Event{Level: "INFO", Message: "boom"})

	require.Equal(t, 1, fallback.Len())
}

func TestWriter_FallbackAppliesMinimalRedaction(t *testing.T) {
	fallback := &sink.MemorySink{SinkName: "fallback"}
	w := New(Config{FanOutSinks: nil, RedactionMode: RedactionMinimal}, nil, nil, fallback, nil)

	w.Write(context.Background(), sink.Event{Level: "INFO", Metadata: map[string]any{"password": "hunter2", "user": "alice"}})

	require.Equal(t, 1, fallback.Len())
	got := fallback.Events[0].Metadata
	require.Equal(t, "***", got["password"])
	require.Equal(t, "alice", got["user"])
}

func TestWriter_PanickingSinkIsContained(t *testing.T) {
	w := New(Config{FanOutSinks: []string{"panicky"}}, map[string]sink.Sink{"panicky": panickySink{}}, nil, nil, nil)
	require.NotPanics(t, func() {
		w.Write(context.Background(), sink.Event{Level: "INFO"})
	})
}

type panickySink struct{}

func (panickySink) Name() string                                  { return "panicky" }
func (panickySink) Start(ctx context.Context) error                { return nil }
func (panickySink) Stop(ctx context.Context) error                 { return nil }
func (panickySink) Write(ctx context.Context, e sink.Event) error {
	panic("boom")
}
