package chainlog

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// shutdownRegistry is the process-wide weak registry of live loggers,
// per spec.md §9's "the shutdown registry is the only unavoidable
// process-wide holder; implement it as a weak registry of loggers with a
// single registration API". It holds *loggerCore directly rather than a
// language-level weak reference (Go has no public weak-pointer type as
// of this module's target version): StopAndDrain always calls
// unregisterFromShutdown, so a core's entry never outlives its Logger.
var shutdownRegistry = struct {
	mu      sync.Mutex
	cores   map[*loggerCore]struct{}
	started bool
}{cores: make(map[*loggerCore]struct{})}

// registerForShutdown adds core to the registry and, on first use, starts
// the signal watcher goroutine.
func registerForShutdown(core *loggerCore) {
	shutdownRegistry.mu.Lock()
	shutdownRegistry.cores[core] = struct{}{}
	first := !shutdownRegistry.started
	shutdownRegistry.started = true
	shutdownRegistry.mu.Unlock()

	if first {
		go watchShutdownSignals()
	}
}

// unregisterFromShutdown removes core from the registry; called once by
// StopAndDrain so an already-drained logger is never drained twice.
func unregisterFromShutdown(core *loggerCore) {
	shutdownRegistry.mu.Lock()
	delete(shutdownRegistry.cores, core)
	shutdownRegistry.mu.Unlock()
}

// watchShutdownSignals waits for SIGINT/SIGTERM, drains every registered
// logger within its configured shutdown timeout, then restores the
// default handler and re-raises the signal against this process so the
// OS-observed exit semantics (core dump, exit code) are unchanged, per
// spec.md §6's "Signals SIGINT/SIGTERM restore the default handler after
// draining and re-raise to preserve standard exit semantics."
func watchShutdownSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	shutdownRegistry.mu.Lock()
	cores := make([]*loggerCore, 0, len(shutdownRegistry.cores))
	for c := range shutdownRegistry.cores {
		cores = append(cores, c)
	}
	shutdownRegistry.mu.Unlock()

	var wg sync.WaitGroup
	for _, core := range cores {
		wg.Add(1)
		go func(core *loggerCore) {
			defer wg.Done()
			timeout := time.Duration(core.cfg.Core.ShutdownTimeoutSeconds * float64(time.Second))
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			l := &Logger{core: core}
			l.StopAndDrain(ctx)
		}(core)
	}
	wg.Wait()

	signal.Reset(syscall.SIGINT, syscall.SIGTERM)
	proc, err := os.FindProcess(os.Getpid())
	if err == nil {
		_ = proc.Signal(sig)
	}
}
