package chainlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/chainlog/internal/sink"
)

func TestCoreConfig_WithDefaults(t *testing.T) {
	c := CoreConfig{}.withDefaults()
	require.Equal(t, LevelInfo, c.LogLevel)
	require.Equal(t, 10000, c.MaxQueueSize)
	require.Equal(t, 100, c.BatchMaxSize)
	require.Equal(t, 1, c.WorkerCount)
	require.Equal(t, 2.0, c.ShutdownTimeoutSeconds)
	require.Equal(t, []Level{LevelError, LevelCritical}, c.ProtectedLevels)
}

func TestCoreConfig_WithDefaults_PreservesExplicitValues(t *testing.T) {
	c := CoreConfig{MaxQueueSize: 42, WorkerCount: 3}.withDefaults()
	require.Equal(t, 42, c.MaxQueueSize)
	require.Equal(t, 3, c.WorkerCount)
}

func TestCoreConfig_ProtectedQueueSize(t *testing.T) {
	require.Equal(t, 64, CoreConfig{MaxQueueSize: 100}.protectedQueueSize(), "floors at 64")
	require.Equal(t, 1000, CoreConfig{MaxQueueSize: 10000}.protectedQueueSize())
}

func TestRoutingConfig_WithDefaults(t *testing.T) {
	c := RoutingConfig{}.withDefaults()
	require.Equal(t, "minimal", c.FallbackRedaction)

	c2 := RoutingConfig{FallbackRedaction: "none"}.withDefaults()
	require.Equal(t, "none", c2.FallbackRedaction)
}

func TestConfig_Validate_RequiresAtLeastOneSink(t *testing.T) {
	cfg := Config{}.withDefaults()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate_RejectsUnknownTamperKeySource(t *testing.T) {
	cfg := Config{
		Sinks:  map[string]Sink{"mem": &sink.MemorySink{SinkName: "mem"}},
		Tamper: TamperConfig{Enabled: true, KeySource: "made-up"},
	}.withDefaults()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate_RejectsUnsupportedTamperAlgorithm(t *testing.T) {
	cfg := Config{
		Sinks:  map[string]Sink{"mem": &sink.MemorySink{SinkName: "mem"}},
		Tamper: TamperConfig{Enabled: true, Algorithm: "rot13"},
	}.withDefaults()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate_RejectsRoutingRuleToUnknownSink(t *testing.T) {
	cfg := Config{
		Sinks: map[string]Sink{"mem": &sink.MemorySink{SinkName: "mem"}},
		Routing: RoutingConfig{
			Enabled: true,
			Rules:   []RoutingRule{{Levels: []Level{LevelError}, Sinks: []string{"ghost"}}},
		},
	}.withDefaults()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate_RejectsUnknownFallbackSink(t *testing.T) {
	cfg := Config{
		Sinks: map[string]Sink{"mem": &sink.MemorySink{SinkName: "mem"}},
		Routing: RoutingConfig{
			Enabled:       true,
			FallbackSinks: []string{"ghost"},
		},
	}.withDefaults()
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfig_Validate_AcceptsMinimalValidConfig(t *testing.T) {
	cfg := Config{Sinks: map[string]Sink{"mem": &sink.MemorySink{SinkName: "mem"}}}.withDefaults()
	require.NoError(t, cfg.Validate())
}

func TestRoutingConfig_ToFanoutRules(t *testing.T) {
	c := RoutingConfig{Rules: []RoutingRule{
		{Levels: []Level{LevelError, LevelCritical}, Sinks: []string{"a", "b"}},
	}}
	rules := c.toFanoutRules()
	require.Len(t, rules, 1)
	require.Equal(t, []string{"ERROR", "CRITICAL"}, rules[0].Levels)
	require.Equal(t, []string{"a", "b"}, rules[0].Sinks)
}
