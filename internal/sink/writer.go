package sink

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// WriterSink adapts an io.Writer (e.g. os.Stderr) to the Sink contract,
// writing one JSON-ish line per event. Used as the last-resort fallback
// target in the fan-out writer (C8) and as a simple example concrete
// sink.
type WriterSink struct {
	SinkName string
	W        io.Writer
	Encode   func(Event) []byte

	mu sync.Mutex
}

func (s *WriterSink) Name() string { return s.SinkName }

func (s *WriterSink) Start(ctx context.Context) error { return nil }
func (s *WriterSink) Stop(ctx context.Context) error  { return nil }

func (s *WriterSink) Write(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var line []byte
	if s.Encode != nil {
		line = s.Encode(e)
	} else {
		line = []byte(fmt.Sprintf("%v %s %s\n", e.Timestamp, e.Level, e.Message))
	}
	_, err := s.W.Write(line)
	return err
}

func (s *WriterSink) WriteSerialized(ctx context.Context, view SerializedView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.W.Write(append(append([]byte(nil), view.Bytes()...), '\n'))
	return err
}

// MemorySink records every write in-process, including writes that
// FailWrites makes return an error; used by tests to assert order and
// content without touching the filesystem.
type MemorySink struct {
	SinkName string

	mu         sync.Mutex
	Events     []Event
	FailWrites bool
}

func (s *MemorySink) Name() string                    { return s.SinkName }
func (s *MemorySink) Start(ctx context.Context) error { return nil }
func (s *MemorySink) Stop(ctx context.Context) error  { return nil }

func (s *MemorySink) Write(ctx context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Events = append(s.Events, e)
	if s.FailWrites {
		return fmt.Errorf("sink: %s: simulated failure", s.SinkName)
	}
	return nil
}

func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Events)
}
