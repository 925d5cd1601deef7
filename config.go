package chainlog

import (
	"fmt"
	"time"

	"github.com/joeycumines/chainlog/internal/enricher"
	"github.com/joeycumines/chainlog/internal/fanout"
	"github.com/joeycumines/chainlog/internal/filter"
	"github.com/joeycumines/chainlog/internal/processor"
	"github.com/joeycumines/chainlog/internal/redactor"
	"github.com/joeycumines/chainlog/internal/sink"
	"github.com/joeycumines/chainlog/internal/tamper"
)

// CoreConfig controls queueing, batching, workers, and shutdown. Field
// names mirror the core option group's recognized options one-for-one,
// translated to Go CamelCase.
type CoreConfig struct {
	LogLevel Level

	MaxQueueSize         int
	BatchMaxSize         int
	BatchTimeoutSeconds  float64
	BackpressureWaitMs   int
	DropOnFull           bool

	WorkerCount        int
	SinkParallelWrites bool

	ExceptionsEnabled       bool
	ExceptionsMaxFrames     int
	ExceptionsMaxStackChars int

	SerializeInFlush   bool
	StrictEnvelopeMode bool

	ShutdownTimeoutSeconds    float64
	AtexitDrainEnabled        bool
	AtexitDrainTimeoutSeconds float64
	SignalHandlerEnabled      bool
	FlushOnCritical           bool

	SinkCircuitBreakerEnabled                  bool
	SinkCircuitBreakerFailureThreshold          int
	SinkCircuitBreakerRecoveryTimeoutSeconds    float64

	ProtectedLevels []Level
}

func (c CoreConfig) withDefaults() CoreConfig {
	if c.LogLevel == "" {
		c.LogLevel = LevelInfo
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = 10000
	}
	if c.BatchMaxSize <= 0 {
		c.BatchMaxSize = 100
	}
	if c.BatchTimeoutSeconds <= 0 {
		c.BatchTimeoutSeconds = 0.1
	}
	if c.BackpressureWaitMs <= 0 {
		c.BackpressureWaitMs = 50
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = 1
	}
	if c.ExceptionsMaxFrames <= 0 {
		c.ExceptionsMaxFrames = 10
	}
	if c.ExceptionsMaxStackChars <= 0 {
		c.ExceptionsMaxStackChars = 4096
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = 2
	}
	if c.AtexitDrainTimeoutSeconds <= 0 {
		c.AtexitDrainTimeoutSeconds = c.ShutdownTimeoutSeconds
	}
	if c.SinkCircuitBreakerFailureThreshold <= 0 {
		c.SinkCircuitBreakerFailureThreshold = 5
	}
	if c.SinkCircuitBreakerRecoveryTimeoutSeconds <= 0 {
		c.SinkCircuitBreakerRecoveryTimeoutSeconds = 30
	}
	if c.ProtectedLevels == nil {
		c.ProtectedLevels = []Level{LevelError, LevelCritical}
	}
	return c
}

// protectedQueueSize derives the protected ring's capacity from
// MaxQueueSize: the option list names only the main capacity (N) and the
// protected set (protected_levels), not a separate protected capacity
// (M), so this follows worker_pool.py's own sizing ratio of roughly one
// tenth the main capacity, floored at 64.
func (c CoreConfig) protectedQueueSize() int {
	size := c.MaxQueueSize / 10
	if size < 64 {
		size = 64
	}
	return size
}

// TamperConfig controls the integrity enricher and sealed-sink wrapper.
type TamperConfig struct {
	Enabled   bool
	Algorithm tamper.Algorithm
	KeyID     string

	// KeySource selects which key provider backs Algorithm: "env", "file",
	// "aws-kms", "gcp-kms", "azure-keyvault", or "vault". The KMS-style
	// sources resolve to stubs (see internal/keyprovider) built with no
	// sign/verify callbacks, so they yield no key; Config.TamperKeyResolver,
	// when set, replaces the provider for every source.
	KeySource   string
	KeyEnvVar   string
	KeyFilePath string

	StateDir string

	FsyncOnWrite    bool
	FsyncOnRotate   bool
	CompressRotated bool
	RotateChain     bool
	VerifyOnClose   bool
	AlertOnFailure  bool

	KeyCacheTTLSeconds float64
}

func (c TamperConfig) withDefaults() TamperConfig {
	if c.Algorithm == "" {
		c.Algorithm = tamper.AlgoHMACSHA256
	}
	if c.KeySource == "" {
		c.KeySource = "env"
	}
	if c.KeyEnvVar == "" {
		c.KeyEnvVar = "CHAINLOG_TAMPER_KEY"
	}
	if c.StateDir == "" {
		c.StateDir = "."
	}
	if c.KeyCacheTTLSeconds <= 0 {
		c.KeyCacheTTLSeconds = 300
	}
	return c
}

// RoutingRule matches events whose level is in Levels to the named sinks.
type RoutingRule struct {
	Levels []Level
	Sinks  []string
}

// RoutingConfig controls the fan-out writer's routing mode.
type RoutingConfig struct {
	Enabled       bool
	Rules         []RoutingRule
	FallbackSinks []string
	Overlap       bool

	// FallbackRedaction controls how much of an event the stderr-style
	// fallback sink sees when every configured sink is unreachable:
	// "inherit" (no extra redaction), "minimal" (mask a fixed set of
	// sensitive field names with "***", the default), or "none" (emit the
	// raw event and report a diagnostic). See testable property 12 / scenario S5.
	FallbackRedaction string
}

func (c RoutingConfig) withDefaults() RoutingConfig {
	if c.FallbackRedaction == "" {
		c.FallbackRedaction = "minimal"
	}
	return c
}

func (c RoutingConfig) toFanoutRules() []fanout.Route {
	out := make([]fanout.Route, 0, len(c.Rules))
	for _, r := range c.Rules {
		levels := make([]string, 0, len(r.Levels))
		for _, l := range r.Levels {
			levels = append(levels, string(l))
		}
		out = append(out, fanout.Route{Levels: levels, Sinks: append([]string{}, r.Sinks...)})
	}
	return out
}

// PressureConfig controls the pressure monitor's sampling interval,
// hysteresis cooldown, and circuit-breaker boost; defaults match §4.3.
type PressureConfig struct {
	CheckIntervalMs      int
	CooldownSeconds      float64
	CircuitPressureBoost float64
}

func (c PressureConfig) withDefaults() PressureConfig {
	if c.CheckIntervalMs <= 0 {
		c.CheckIntervalMs = 250
	}
	if c.CooldownSeconds <= 0 {
		c.CooldownSeconds = 2
	}
	if c.CircuitPressureBoost <= 0 {
		c.CircuitPressureBoost = 0.20
	}
	return c
}

// Config is the full configuration surface, grouped the way spec.md §6
// groups it. It is immutable after NewLogger: there is no hot-reload path
// (see DESIGN.md's Open Question resolution), so every field here is
// read once at construction.
type Config struct {
	Core     CoreConfig
	Tamper   TamperConfig
	Routing  RoutingConfig
	Pressure PressureConfig

	// Sinks is the set of concrete sink.Sink destinations, keyed by name.
	// Constructing and registering individual sink plugins (files,
	// Postgres, S3, ...) is out of this module's scope; callers supply
	// already-constructed sinks satisfying internal/sink.Sink.
	Sinks map[string]Sink

	// Filters is the NORMAL-pressure filter tuple; the ladder derives
	// the other three tuples from it. A nil slice means "no filtering".
	Filters []Filter

	// Enrichers run in parallel, bounded by EnricherConcurrency (0 means
	// the pipeline's default of 5). A nil slice disables enrichment.
	Enrichers           []Enricher
	EnricherConcurrency int

	// Redactors run strictly in declared order.
	Redactors []Redactor

	// Processors run strictly in order over the serialized form; only
	// exercised when Core.SerializeInFlush is true.
	Processors []Processor

	// TamperKeyResolver overrides key resolution entirely (e.g. to supply
	// a KMS/Vault-backed tamper.KeyProvider); when nil, Tamper.KeySource
	// selects among the builtin env/file/KMS-stub providers.
	TamperKeyResolver tamper.KeyProvider
}

// Sink, Filter, Enricher, Redactor, and Processor alias the internal
// plugin contracts so callers configuring a Logger never need to import
// internal packages directly.
type (
	Sink      = sink.Sink
	Filter    = filter.Filter
	Enricher  = enricher.Enricher
	Redactor  = redactor.Redactor
	Processor = processor.Processor
)

func (c Config) withDefaults() Config {
	c.Core = c.Core.withDefaults()
	c.Tamper = c.Tamper.withDefaults()
	c.Routing = c.Routing.withDefaults()
	c.Pressure = c.Pressure.withDefaults()
	if c.EnricherConcurrency <= 0 {
		c.EnricherConcurrency = 5
	}
	return c
}

// Validate reports a configuration error for anything that must fail
// synchronously before a Logger starts, per spec.md §7's "fatal
// programmer errors... raise synchronously before start".
func (c Config) Validate() error {
	if len(c.Sinks) == 0 {
		return fmt.Errorf("%w: at least one sink is required", ErrInvalidConfig)
	}
	if c.Core.MaxQueueSize < 0 {
		return fmt.Errorf("%w: core.max_queue_size must be >= 0", ErrInvalidConfig)
	}
	if c.Core.WorkerCount < 0 {
		return fmt.Errorf("%w: core.worker_count must be >= 0", ErrInvalidConfig)
	}
	if c.Tamper.Enabled {
		switch c.Tamper.Algorithm {
		case tamper.AlgoHMACSHA256, tamper.AlgoEd25519:
		default:
			return fmt.Errorf("%w: tamper.algorithm %q is not supported", ErrInvalidConfig, c.Tamper.Algorithm)
		}
		switch c.Tamper.KeySource {
		case "env", "file", "aws-kms", "gcp-kms", "azure-keyvault", "vault":
		default:
			if c.TamperKeyResolver == nil {
				return fmt.Errorf("%w: tamper.key_source %q is not recognized", ErrInvalidConfig, c.Tamper.KeySource)
			}
		}
	}
	if c.Routing.Enabled {
		for _, rule := range c.Routing.Rules {
			for _, sinkName := range rule.Sinks {
				if _, ok := c.Sinks[sinkName]; !ok {
					return fmt.Errorf("%w: routing rule references unknown sink %q", ErrInvalidConfig, sinkName)
				}
			}
		}
		for _, sinkName := range c.Routing.FallbackSinks {
			if _, ok := c.Sinks[sinkName]; !ok {
				return fmt.Errorf("%w: routing fallback references unknown sink %q", ErrInvalidConfig, sinkName)
			}
		}
	}
	return nil
}

// keyCacheTTL converts Tamper.KeyCacheTTLSeconds to a time.Duration.
func (c TamperConfig) keyCacheTTL() time.Duration {
	return time.Duration(c.KeyCacheTTLSeconds * float64(time.Second))
}
