// Package sink defines the abstract sink contract (C9): start/stop/write,
// with optional serialized-write, health-check, and rotate capabilities
// modeled as separate interfaces rather than probed at the hot path,
// matching spec.md's design note "Model via a tagged set of
// capability-bearing handles; never probe attribute existence at the hot
// path" -- Go's type assertions at setup time (not per-write) realize
// this.
package sink

import "context"

// Event is the dict-shaped view a sink writes; kept decoupled from the
// root package's Envelope type so sinks (and this package) have no
// dependency on it.
type Event struct {
	Timestamp     float64
	Level         string
	Message       string
	Logger        string
	CorrelationID string
	Metadata      map[string]any
}

// SerializedView is a zero-copy view over pre-serialized envelope bytes,
// grounded on original_source's serialization.SerializedView.
type SerializedView struct {
	Data []byte
}

func (v SerializedView) Bytes() []byte { return v.Data }

// Sink is the minimal required capability set.
type Sink interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Write(ctx context.Context, e Event) error
}

// SerializedWriter is an optional capability: a sink that accepts a
// pre-serialized envelope for zero-copy emission.
type SerializedWriter interface {
	WriteSerialized(ctx context.Context, view SerializedView) error
}

// HealthChecker is an optional capability.
type HealthChecker interface {
	HealthCheck(ctx context.Context) (bool, error)
}

// Rotator is an optional capability: sinks that write to files observe a
// rotate() hook from the sealed sink wrapper (C11) or an external
// scheduler.
type Rotator interface {
	Rotate(ctx context.Context) error
}

// SupportsSerializedWrite reports whether s also implements
// SerializedWriter, and returns the asserted interface.
func SupportsSerializedWrite(s Sink) (SerializedWriter, bool) {
	w, ok := s.(SerializedWriter)
	return w, ok
}
