package chainlog

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/joeycumines/chainlog/internal/breaker"
	"github.com/joeycumines/chainlog/internal/diagnostics"
	"github.com/joeycumines/chainlog/internal/fanout"
	"github.com/joeycumines/chainlog/internal/filter"
	"github.com/joeycumines/chainlog/internal/keyprovider"
	"github.com/joeycumines/chainlog/internal/metrics"
	"github.com/joeycumines/chainlog/internal/pipeline"
	"github.com/joeycumines/chainlog/internal/pressure"
	"github.com/joeycumines/chainlog/internal/queue"
	"github.com/joeycumines/chainlog/internal/sealedsink"
	"github.com/joeycumines/chainlog/internal/serialize"
	"github.com/joeycumines/chainlog/internal/sink"
	"github.com/joeycumines/chainlog/internal/tamper"
	"github.com/joeycumines/chainlog/internal/worker"
)

// DrainResult summarizes a completed StopAndDrain, matching spec.md §7's
// "stop_and_drain always returns a DrainResult" guarantee: the
// producer-facing surface never raises from pipeline internals.
type DrainResult struct {
	Processed       int64
	Dropped         int64
	TimedOut        bool
	Duration        time.Duration
	PressureSummary pressure.Snapshot
}

type sealedsinkLifecycle interface {
	Stop(ctx context.Context) error
}

// loggerCore holds every wired component shared by a Logger and its bound
// derivatives (Bind/Unbind/ClearContext return a new Logger sharing the
// same core; only one core exists per NewLogger call).
type loggerCore struct {
	cfg Config

	queue    *queue.Dual[Envelope]
	pool     *worker.Pool[Envelope]
	monitor  *pressure.Monitor
	ladder   *filter.Ladder
	runners  map[pressure.Level]*pipeline.Runner
	fanout   *fanout.Writer
	breakers map[string]*breaker.CircuitBreaker
	tamperer *tamper.Enricher
	sealed   []sealedsinkLifecycle
	diag     *diagnostics.Channel
	metrics  *metrics.Collector

	protected map[Level]struct{}

	stopMu  sync.Mutex
	stopped bool

	runCtx    context.Context
	runCancel context.CancelFunc
	diagDone  chan struct{}
}

// Logger is the producer-facing facade: Debug/Info/Warning/Error/Critical/
// Log build an Envelope and submit it to the bounded queue; Bind/Unbind/
// ClearContext return a new Logger carrying different bound context,
// sharing the same underlying pipeline.
type Logger struct {
	core         *loggerCore
	name         string
	boundContext map[string]any
}

// NewLogger validates cfg, wires every component, and starts the
// pipeline. Configuration errors are returned synchronously, before
// anything is started, per spec.md §7.
func NewLogger(cfg Config) (*Logger, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	globalLevels.freeze()

	protected := make(map[Level]struct{}, len(cfg.Core.ProtectedLevels))
	for _, l := range cfg.Core.ProtectedLevels {
		protected[l] = struct{}{}
	}

	diag := diagnostics.New(diagnostics.Config{})
	mcol := metrics.New()

	dq := queue.NewDual[Envelope](cfg.Core.MaxQueueSize, cfg.Core.protectedQueueSize(), func(e Envelope) bool {
		_, ok := protected[e.Level]
		return ok
	})

	runCtx, runCancel := context.WithCancel(context.Background())

	core := &loggerCore{
		cfg:       cfg,
		queue:     dq,
		protected: protected,
		diag:      diag,
		metrics:   mcol,
		runCtx:    runCtx,
		runCancel: runCancel,
		diagDone:  make(chan struct{}),
	}

	monitor := pressure.NewMonitor(dq, pressure.Config{
		CheckInterval:        time.Duration(cfg.Pressure.CheckIntervalMs) * time.Millisecond,
		CooldownSeconds:      time.Duration(cfg.Pressure.CooldownSeconds * float64(time.Second)),
		CircuitPressureBoost: cfg.Pressure.CircuitPressureBoost,
	})
	core.monitor = monitor

	ladder := filter.NewLadder(cfg.Filters, levelStrings(cfg.Core.ProtectedLevels), levelPriorityAdapter, monitor.RecordFilterSwap)
	core.ladder = ladder

	var keys tamper.KeyProvider
	if cfg.Tamper.Enabled {
		var err error
		keys, err = buildKeyProvider(cfg.Tamper, cfg.TamperKeyResolver)
		if err != nil {
			runCancel()
			return nil, err
		}
	}

	sinks, breakers, sealedLifecycles, err := core.buildSinks(keys)
	if err != nil {
		runCancel()
		return nil, err
	}
	core.breakers = breakers
	core.sealed = sealedLifecycles

	fallback := &sink.WriterSink{
		SinkName: "stderr-fallback",
		W:        os.Stderr,
		Encode:   encodeFallbackLine,
	}

	core.fanout = fanout.New(fanout.Config{
		Rules:         cfg.Routing.toFanoutRules(),
		FallbackSinks: cfg.Routing.FallbackSinks,
		Overlap:       cfg.Routing.Overlap,
		FanOutSinks:   sinkNames(sinks),
		Parallel:      cfg.Core.SinkParallelWrites,
		RedactionMode: fallbackRedactionMode(cfg.Routing.FallbackRedaction),
	}, sinks, breakers, fallback, diag.Func("fanout"))

	if cfg.Tamper.Enabled {
		core.tamperer = tamper.New(tamper.Config{
			Enabled:  true,
			StreamID: "default",
			StateDir: cfg.Tamper.StateDir,
		}, keys, diag.Func("tamper"))
		if err := core.tamperer.Start(runCtx); err != nil {
			runCancel()
			return nil, fmt.Errorf("chainlog: start tamper enricher: %w", err)
		}
	}

	enrichers := append([]Enricher{}, cfg.Enrichers...)
	if core.tamperer != nil {
		enrichers = append(enrichers, core.tamperer)
	}

	// The fast zero-copy path is only available when one of the
	// configured sinks itself supports SerializedWriter; the fan-out
	// writer multiplexes sink.Event values and has no serialized-bytes
	// equivalent of its routing logic, so it is never the SerializedSink.
	var serializer pipeline.Serializer
	var serializedSink sink.SerializedWriter
	if cfg.Core.SerializeInFlush {
		serializer = serialize.FastSerializer{}
		for _, s := range sinks {
			if sw, ok := sink.SupportsSerializedWrite(s); ok {
				serializedSink = sw
				break
			}
		}
	}

	base := pipeline.Config{
		Enrichers:           enrichers,
		EnricherConcurrency: cfg.EnricherConcurrency,
		Redactors:           cfg.Redactors,
		Processors:          cfg.Processors,
		Serializer:          serializer,
		SerializedSink:      serializedSink,
		Sink:                core.fanout,
		LevelPriority:       levelPriorityAdapter,
		Diagnostics:         diag.Func("pipeline"),
	}

	core.runners = make(map[pressure.Level]*pipeline.Runner, 4)
	for _, lvl := range []pressure.Level{pressure.Normal, pressure.Elevated, pressure.High, pressure.Critical} {
		rcfg := base
		rcfg.Filters = ladder.Active(lvl)
		core.runners[lvl] = pipeline.New(rcfg)
	}

	pool := worker.New[Envelope](runCtx, worker.Config{
		InitialCount: cfg.Core.WorkerCount,
		MaxWorkers:   cfg.Core.WorkerCount * 4,
		BatchMaxSize: cfg.Core.BatchMaxSize,
		BatchTimeout: time.Duration(cfg.Core.BatchTimeoutSeconds * float64(time.Second)),
	}, dq, core.flushBatch)
	core.pool = pool

	monitor.OnChange(func(old, next pressure.Level) {
		ladder.Swap(old, next)
		pool.ScaleTo(pool.TargetForLevel(next))
		monitor.RecordWorkerScaling(pool.CurrentCount())

		pool.SetBatchMaxSize(pool.TargetBatchSizeForLevel(next))
		monitor.RecordBatchResize()

		if next == pressure.Critical {
			dq.ActivateShedding()
		} else {
			dq.DeactivateShedding()
		}
	})

	go monitor.Run()
	go core.drainDiagnostics()

	if cfg.Core.SignalHandlerEnabled {
		registerForShutdown(core)
	}

	return &Logger{core: core}, nil
}

// buildSinks wraps every configured sink with a circuit breaker (if
// enabled) and, when tamper is enabled, a sealed-sink manifest wrapper,
// sharing one key provider across every sealed sink.
func (c *loggerCore) buildSinks(keys tamper.KeyProvider) (map[string]sink.Sink, map[string]*breaker.CircuitBreaker, []sealedsinkLifecycle, error) {
	sinks := make(map[string]sink.Sink, len(c.cfg.Sinks))
	breakers := make(map[string]*breaker.CircuitBreaker, len(c.cfg.Sinks))
	var sealedLifecycles []sealedsinkLifecycle

	for name, s := range c.cfg.Sinks {
		wrapped := s
		if c.cfg.Tamper.Enabled {
			sealed := sealedsink.New(s, sealedsink.Config{
				Algorithm:       c.cfg.Tamper.Algorithm,
				KeyID:           c.cfg.Tamper.KeyID,
				StateDir:        c.cfg.Tamper.StateDir,
				RotateChain:     c.cfg.Tamper.RotateChain,
				CompressRotated: c.cfg.Tamper.CompressRotated,
				FsyncOnWrite:    c.cfg.Tamper.FsyncOnWrite,
			}, keys)
			if err := sealed.Start(c.runCtx); err != nil {
				return nil, nil, nil, fmt.Errorf("chainlog: start sealed sink %q: %w", name, err)
			}
			sealedLifecycles = append(sealedLifecycles, sealed)
			wrapped = sealed
		} else if err := s.Start(c.runCtx); err != nil {
			return nil, nil, nil, fmt.Errorf("chainlog: start sink %q: %w", name, err)
		}

		sinks[name] = wrapped

		if c.cfg.Core.SinkCircuitBreakerEnabled {
			breakers[name] = breaker.New(name, breaker.Config{
				FailureThreshold:       c.cfg.Core.SinkCircuitBreakerFailureThreshold,
				RecoveryTimeoutSeconds: time.Duration(c.cfg.Core.SinkCircuitBreakerRecoveryTimeoutSeconds * float64(time.Second)),
			}, func(_ string, newState breaker.State) {
				c.monitor.OnCircuitStateChange(newState == breaker.Open)
			})
		}
	}
	return sinks, breakers, sealedLifecycles, nil
}

func buildKeyProvider(cfg TamperConfig, override tamper.KeyProvider) (tamper.KeyProvider, error) {
	if override != nil {
		return override, nil
	}
	ttl := cfg.keyCacheTTL()
	switch cfg.KeySource {
	case "env":
		return keyprovider.AsTamperKeyProvider{
			Provider:  keyprovider.NewEnvProvider(cfg.KeyEnvVar, ttl),
			Algorithm: cfg.Algorithm,
			KeyID:     cfg.KeyID,
		}, nil
	case "file":
		return keyprovider.AsTamperKeyProvider{
			Provider:  keyprovider.NewFileProvider(cfg.KeyFilePath, ttl),
			Algorithm: cfg.Algorithm,
			KeyID:     cfg.KeyID,
		}, nil
	case "aws-kms":
		return keyprovider.AsTamperKeyProvider{
			Provider:  keyprovider.NewAWSKMSProvider(nil, nil, ttl),
			Algorithm: cfg.Algorithm,
			KeyID:     cfg.KeyID,
		}, nil
	case "gcp-kms":
		return keyprovider.AsTamperKeyProvider{
			Provider:  keyprovider.NewGCPKMSProvider(nil, nil, ttl),
			Algorithm: cfg.Algorithm,
			KeyID:     cfg.KeyID,
		}, nil
	case "azure-keyvault":
		return keyprovider.AsTamperKeyProvider{
			Provider:  keyprovider.NewAzureKeyVaultProvider(nil, nil, ttl),
			Algorithm: cfg.Algorithm,
			KeyID:     cfg.KeyID,
		}, nil
	case "vault":
		return keyprovider.AsTamperKeyProvider{
			Provider:  keyprovider.NewVaultProvider(nil, nil, ttl),
			Algorithm: cfg.Algorithm,
			KeyID:     cfg.KeyID,
		}, nil
	default:
		return nil, fmt.Errorf("%w: tamper.key_source %q is not recognized", ErrInvalidConfig, cfg.KeySource)
	}
}

func (c *loggerCore) flushBatch(ctx context.Context, batch []Envelope) {
	if len(batch) == 0 {
		return
	}
	entries := make([]pipeline.Entry, len(batch))
	for i, e := range batch {
		entries[i] = pipeline.Entry{
			Timestamp:     e.Timestamp,
			Level:         string(e.Level),
			Message:       e.Message,
			Logger:        e.Logger,
			CorrelationID: e.CorrelationID,
			Fields:        e.Metadata,
		}
	}

	level := c.monitor.Current()
	runner, ok := c.runners[level]
	if !ok {
		runner = c.runners[pressure.Normal]
	}

	start := time.Now()
	runner.RunBatch(ctx, entries)
	c.metrics.RecordFlush(time.Since(start))
	c.metrics.RecordProcessed(int64(len(batch)))
	c.metrics.UpdateQueueDepth(c.queue.QSize())
}

func (c *loggerCore) drainDiagnostics() {
	defer close(c.diagDone)
	for {
		select {
		case <-c.runCtx.Done():
			return
		case ev, ok := <-c.diag.Events():
			if !ok {
				return
			}
			if c.cfg.Tamper.AlertOnFailure && ev.Component == "tamper" {
				fmt.Fprintf(os.Stderr, "chainlog: tamper diagnostic: %s %v\n", ev.Kind, ev.Fields)
			}
		}
	}
}

// submit enqueues env, applying drop_on_full / backpressure_wait_ms
// semantics. Producer-facing calls never return an error (spec.md §7:
// "user-facing producer calls never raise from pipeline internals"); a
// refused enqueue is only observable via the dropped counter and the
// diagnostics channel.
func (c *loggerCore) submit(env Envelope) {
	if c.queue.TryEnqueue(env) {
		return
	}
	if c.cfg.Core.DropOnFull {
		c.metrics.RecordDropped(1)
		c.diag.Warn("queue", "full", map[string]any{"dropped": true})
		return
	}

	deadline := time.Now().Add(time.Duration(c.cfg.Core.BackpressureWaitMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		if c.queue.TryEnqueue(env) {
			return
		}
	}
	c.metrics.RecordDropped(1)
	c.diag.Warn("queue", "full", map[string]any{"dropped": true, "waited_ms": c.cfg.Core.BackpressureWaitMs})
}

func levelStrings(levels []Level) []string {
	out := make([]string, len(levels))
	for i, l := range levels {
		out[i] = string(l)
	}
	return out
}

func levelPriorityAdapter(level string) int { return LevelPriority(Level(level)) }

func sinkNames(sinks map[string]sink.Sink) []string {
	out := make([]string, 0, len(sinks))
	for name := range sinks {
		out = append(out, name)
	}
	return out
}

func fallbackRedactionMode(mode string) fanout.RedactionMode {
	switch mode {
	case "inherit":
		return fanout.RedactionInherit
	case "none":
		return fanout.RedactionNone
	default:
		return fanout.RedactionMinimal
	}
}

func encodeFallbackLine(e sink.Event) []byte {
	view, err := serialize.Fast(e)
	if err != nil {
		return []byte(fmt.Sprintf("%v %s %s\n", e.Timestamp, e.Level, e.Message))
	}
	return append(view.Bytes(), '\n')
}

// --- Producer API ---

func (l *Logger) log(level Level, msg string, extras []Field, err error) {
	env := BuildEnvelope(EnvelopeInput{
		Level:                   level,
		Message:                 msg,
		Logger:                  l.name,
		BoundContext:            l.boundContext,
		Extras:                  extras,
		Err:                     err,
		ExceptionsEnabled:       l.core.cfg.Core.ExceptionsEnabled,
		ExceptionsMaxFrames:     l.core.cfg.Core.ExceptionsMaxFrames,
		ExceptionsMaxStackChars: l.core.cfg.Core.ExceptionsMaxStackChars,
	})
	l.core.submit(env)
	if level == LevelCritical && l.core.cfg.Core.FlushOnCritical {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(l.core.cfg.Core.ShutdownTimeoutSeconds*float64(time.Second)))
		defer cancel()
		_ = l.Flush(ctx)
	}
}

func (l *Logger) Debug(msg string, extras ...Field)    { l.log(LevelDebug, msg, extras, nil) }
func (l *Logger) Info(msg string, extras ...Field)     { l.log(LevelInfo, msg, extras, nil) }
func (l *Logger) Warning(msg string, extras ...Field)  { l.log(LevelWarning, msg, extras, nil) }
func (l *Logger) Error(msg string, extras ...Field)    { l.log(LevelError, msg, extras, nil) }
func (l *Logger) Critical(msg string, extras ...Field) { l.log(LevelCritical, msg, extras, nil) }

// Log submits an event at an arbitrary (possibly custom-registered) level.
func (l *Logger) Log(level Level, msg string, extras ...Field) { l.log(level, msg, extras, nil) }

// Exception logs at ERROR level with err's type/message/frames/stack
// attached, the Go analogue of the source's logger.exception.
func (l *Logger) Exception(msg string, err error, extras ...Field) {
	l.log(LevelError, msg, extras, err)
}

// Bind returns a new Logger with ctx merged into the bound context;
// extras passed at each call site still take precedence over bound
// values on collision (see BuildEnvelope).
func (l *Logger) Bind(ctx ...Field) *Logger {
	merged := make(map[string]any, len(l.boundContext)+len(ctx))
	for k, v := range l.boundContext {
		merged[k] = v
	}
	for _, f := range ctx {
		merged[f.Key] = f.Value
	}
	return &Logger{core: l.core, name: l.name, boundContext: merged}
}

// Unbind returns a new Logger with the named keys removed from the bound
// context.
func (l *Logger) Unbind(keys ...string) *Logger {
	if len(l.boundContext) == 0 {
		return &Logger{core: l.core, name: l.name}
	}
	remove := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		remove[k] = struct{}{}
	}
	out := make(map[string]any, len(l.boundContext))
	for k, v := range l.boundContext {
		if _, drop := remove[k]; !drop {
			out[k] = v
		}
	}
	return &Logger{core: l.core, name: l.name, boundContext: out}
}

// ClearContext returns a new Logger with no bound context.
func (l *Logger) ClearContext() *Logger {
	return &Logger{core: l.core, name: l.name}
}

// Flush blocks until the queue has drained or ctx is done, whichever
// comes first.
func (l *Logger) Flush(ctx context.Context) error {
	for !l.core.queue.IsEmpty() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
		}
	}
	return nil
}

// StopAndDrain drains every worker (finishing in-flight batches), stops
// the pressure monitor and every sink (emitting a final sealed-sink
// manifest where applicable), and always returns a DrainResult -- it
// never raises, per spec.md §7.
func (l *Logger) StopAndDrain(ctx context.Context) DrainResult {
	start := time.Now()
	result := DrainResult{}

	l.core.stopMu.Lock()
	alreadyStopped := l.core.stopped
	l.core.stopped = true
	l.core.stopMu.Unlock()
	if alreadyStopped {
		return result
	}

	unregisterFromShutdown(l.core)

	done := make(chan struct{})
	go func() {
		l.core.pool.DrainAll()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		result.TimedOut = true
	}

	l.core.monitor.Stop()

	for _, s := range l.core.sealed {
		_ = s.Stop(context.Background())
	}
	if !l.core.cfg.Tamper.Enabled {
		for _, s := range l.core.cfg.Sinks {
			_ = s.Stop(context.Background())
		}
	}
	if l.core.tamperer != nil {
		_ = l.core.tamperer.Stop(context.Background())
	}

	l.core.runCancel()
	<-l.core.diagDone

	result.Processed = l.core.metrics.Processed()
	result.Dropped = l.core.metrics.Dropped()
	result.Duration = time.Since(start)
	result.PressureSummary = l.core.monitor.Summary()
	return result
}
