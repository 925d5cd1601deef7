// Package worker implements the dynamic worker pool (C5): an initial set
// of workers that persist for the logger's lifetime plus pressure-scaled
// dynamic workers that are added and LIFO-retired as pressure rises and
// falls.
//
// Grounded on original_source's core/worker_pool.py (WorkerPool,
// target_for_level, scale_to, _StopFlag) for the scaling and retirement
// shape, and on microbatch.go for the per-worker batch-accumulate-then-flush
// loop: each worker keeps its pending batch in a goroutine-local slice and
// calls the flush function inline, so no batch state is shared.
package worker

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joeycumines/chainlog/internal/pressure"
)

// Scale maps a pressure level to the worker-count multiplier applied to
// the initial worker count, matching spec.md §4.5 exactly.
var Scale = map[pressure.Level]float64{
	pressure.Normal:   1.0,
	pressure.Elevated: 1.0,
	pressure.High:     1.5,
	pressure.Critical: 2.0,
}

// BatchScale maps a pressure level to the batch-size multiplier applied
// to the configured batch_max_size: as pressure rises, batches shrink so
// workers flush more often and drain the backlog faster, trading
// throughput-per-flush for latency. The pressure monitor's reconfigure
// step drives this alongside the worker-count scaling in Scale.
var BatchScale = map[pressure.Level]float64{
	pressure.Normal:   1.0,
	pressure.Elevated: 0.75,
	pressure.High:     0.5,
	pressure.Critical: 0.25,
}

// Dequeuer is the minimal interface a worker needs from the dual queue.
type Dequeuer[T any] interface {
	TryDequeue() (T, bool)
}

// FlushFunc processes one accumulated batch. Errors are the caller's
// responsibility to contain; the worker loop does not interpret them.
type FlushFunc[T any] func(ctx context.Context, batch []T)

// Config controls batch accumulation and dynamic scaling.
type Config struct {
	InitialCount      int
	MaxWorkers        int
	BatchMaxSize      int
	BatchTimeout      time.Duration
}

func (c Config) withDefaults() Config {
	if c.InitialCount <= 0 {
		c.InitialCount = 1
	}
	if c.MaxWorkers < c.InitialCount {
		c.MaxWorkers = c.InitialCount
	}
	if c.BatchMaxSize <= 0 {
		c.BatchMaxSize = 100
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 100 * time.Millisecond
	}
	return c
}

// stopFlag is an atomically-checked per-worker stop signal, the Go
// analogue of worker_pool.py's _StopFlag.
type stopFlag struct {
	mu      sync.Mutex
	stopped bool
}

func (f *stopFlag) set() {
	f.mu.Lock()
	f.stopped = true
	f.mu.Unlock()
}

func (f *stopFlag) isSet() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

type dynamicWorker struct {
	flag *stopFlag
	done chan struct{}
}

// Pool manages the initial and dynamically-scaled worker goroutines
// draining a shared dequeue source and flushing accumulated batches.
type Pool[T any] struct {
	cfg    Config
	queue  Dequeuer[T]
	flush  FlushFunc[T]
	ctx    context.Context
	cancel context.CancelFunc

	batchMaxSize atomic.Int32

	mu           sync.Mutex
	dynamic      []*dynamicWorker
	initialDone  []chan struct{}
	initialFlags []*stopFlag
}

// New constructs a Pool and starts its initial workers immediately.
func New[T any](ctx context.Context, cfg Config, queue Dequeuer[T], flush FlushFunc[T]) *Pool[T] {
	cfg = cfg.withDefaults()
	runCtx, cancel := context.WithCancel(ctx)
	p := &Pool[T]{cfg: cfg, queue: queue, flush: flush, ctx: runCtx, cancel: cancel}
	p.batchMaxSize.Store(int32(cfg.BatchMaxSize))

	for i := 0; i < cfg.InitialCount; i++ {
		flag := &stopFlag{}
		done := make(chan struct{})
		p.initialFlags = append(p.initialFlags, flag)
		p.initialDone = append(p.initialDone, done)
		go p.runWorker(flag, done)
	}
	return p
}

// CurrentCount reports the total active worker count (initial + dynamic).
func (p *Pool[T]) CurrentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.InitialCount + len(p.dynamic)
}

// DynamicCount reports the number of currently active dynamic workers.
func (p *Pool[T]) DynamicCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.dynamic)
}

// TargetForLevel computes the scaled worker-count target for a pressure
// level: ceil(initial * scale), clamped to [initial, max].
func (p *Pool[T]) TargetForLevel(level pressure.Level) int {
	raw := float64(p.cfg.InitialCount) * Scale[level]
	target := int(math.Ceil(raw))
	if target < p.cfg.InitialCount {
		target = p.cfg.InitialCount
	}
	if target > p.cfg.MaxWorkers {
		target = p.cfg.MaxWorkers
	}
	return target
}

// TargetBatchSizeForLevel computes the scaled batch-size target for a
// pressure level: ceil(batch_max_size * BatchScale[level]), floored at 1.
func (p *Pool[T]) TargetBatchSizeForLevel(level pressure.Level) int {
	raw := float64(p.cfg.BatchMaxSize) * BatchScale[level]
	target := int(math.Ceil(raw))
	if target < 1 {
		target = 1
	}
	return target
}

// BatchMaxSize returns the currently active batch-size ceiling, which
// SetBatchMaxSize may have adjusted away from the configured default.
func (p *Pool[T]) BatchMaxSize() int { return int(p.batchMaxSize.Load()) }

// SetBatchMaxSize atomically reconfigures the batch-size ceiling every
// worker observes on its next accumulation check; n <= 0 is ignored.
func (p *Pool[T]) SetBatchMaxSize(n int) {
	if n <= 0 {
		return
	}
	p.batchMaxSize.Store(int32(n))
}

// ScaleTo adds or LIFO-retires dynamic workers to reach target, clamped to
// [initial, max].
func (p *Pool[T]) ScaleTo(target int) {
	if target < p.cfg.InitialCount {
		target = p.cfg.InitialCount
	}
	if target > p.cfg.MaxWorkers {
		target = p.cfg.MaxWorkers
	}

	p.mu.Lock()
	current := p.cfg.InitialCount + len(p.dynamic)
	defer p.mu.Unlock()

	switch {
	case target > current:
		p.addWorkersLocked(target - current)
	case target < current:
		p.retireWorkersLocked(current - target)
	}
}

func (p *Pool[T]) addWorkersLocked(count int) {
	for i := 0; i < count; i++ {
		flag := &stopFlag{}
		done := make(chan struct{})
		dw := &dynamicWorker{flag: flag, done: done}
		p.dynamic = append(p.dynamic, dw)
		go p.runWorker(flag, done)
	}
}

// retireWorkersLocked stops the most-recently-added dynamic workers
// (LIFO), mirroring worker_pool.py's _retire_workers.
func (p *Pool[T]) retireWorkersLocked(count int) {
	toRetire := count
	if toRetire > len(p.dynamic) {
		toRetire = len(p.dynamic)
	}
	for i := 0; i < toRetire; i++ {
		last := len(p.dynamic) - 1
		dw := p.dynamic[last]
		p.dynamic = p.dynamic[:last]
		dw.flag.set()
	}
}

// DrainAll signals every worker (initial and dynamic) to stop after
// finishing its current batch, and blocks until all have exited.
func (p *Pool[T]) DrainAll() {
	p.mu.Lock()
	for _, flag := range p.initialFlags {
		flag.set()
	}
	doneChs := append([]chan struct{}{}, p.initialDone...)
	for _, dw := range p.dynamic {
		dw.flag.set()
		doneChs = append(doneChs, dw.done)
	}
	p.dynamic = nil
	p.mu.Unlock()

	for _, done := range doneChs {
		<-done
	}
	p.cancel()
}

// runWorker implements the dequeue -> batch-accumulate -> flush loop.
// Grounded on worker.py's LoggerWorker.run: stop_flag checked first
// (drains remaining items and flushes before exit), then a bounded wait
// for either MaxSize or a flush deadline.
func (p *Pool[T]) runWorker(flag *stopFlag, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.BatchTimeout)
	defer ticker.Stop()

	var batch []T
	for {
		if flag.isSet() {
			p.drainRemaining(&batch)
			p.flushIfNonEmpty(&batch)
			return
		}

		item, ok := p.queue.TryDequeue()
		if ok {
			batch = append(batch, item)
			if len(batch) >= p.BatchMaxSize() {
				p.flushIfNonEmpty(&batch)
				ticker.Reset(p.cfg.BatchTimeout)
			}
			continue
		}

		select {
		case <-ticker.C:
			p.flushIfNonEmpty(&batch)
		case <-p.ctx.Done():
			p.drainRemaining(&batch)
			p.flushIfNonEmpty(&batch)
			return
		case <-time.After(time.Millisecond):
		}
	}
}

func (p *Pool[T]) drainRemaining(batch *[]T) {
	for {
		item, ok := p.queue.TryDequeue()
		if !ok {
			return
		}
		*batch = append(*batch, item)
	}
}

func (p *Pool[T]) flushIfNonEmpty(batch *[]T) {
	if len(*batch) == 0 {
		return
	}
	p.flush(p.ctx, *batch)
	*batch = (*batch)[:0]
}
