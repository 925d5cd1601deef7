package chainlog

import "errors"

// Sentinel errors returned or wrapped by the pipeline's public surface.
// Internal stage failures (filter/enricher/redactor/processor) never
// propagate through these; they are contained and reported via the
// diagnostics channel instead.
var (
	// ErrQueueFull names a refused enqueue. The producer path does not
	// return it: a refused envelope is counted as dropped and reported on
	// the diagnostics channel.
	ErrQueueFull = errors.New("chainlog: queue full")

	// ErrDisabled signals that a writer or stage is intentionally inert.
	ErrDisabled = errors.New("chainlog: disabled")

	// ErrKeyProviderUnavailable names an unavailable key provider. The key
	// providers themselves return keyprovider.ErrUnavailable, not this
	// value; see keyprovider package docs.
	ErrKeyProviderUnavailable = errors.New("chainlog: key provider unavailable")

	// ErrChainStateCorrupt names a persisted chain state file that fails to
	// parse. The tamper enricher does not return or report this value: it
	// emits a "chain state corrupt" diagnostic, resets to genesis and
	// continues.
	ErrChainStateCorrupt = errors.New("chainlog: chain state corrupt")

	// ErrCircuitOpen indicates a sink's circuit breaker currently refuses
	// admission.
	ErrCircuitOpen = errors.New("chainlog: circuit open")

	// ErrInvalidConfig is returned synchronously by NewLogger for
	// configuration that fails validation before anything starts.
	ErrInvalidConfig = errors.New("chainlog: invalid configuration")

	// ErrShutdownTimeout names a drain whose bounded wait elapsed before all
	// workers finished. StopAndDrain does not return it; it reports this
	// case as DrainResult.TimedOut.
	ErrShutdownTimeout = errors.New("chainlog: shutdown timed out")
)
