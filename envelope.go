package chainlog

import (
	"fmt"
	"runtime"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Field is a single metadata key/value pair supplied at a call site.
type Field struct {
	Key   string
	Value any
}

// F constructs a Field; a small convenience matching the variadic extras
// shape of the producer API.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Envelope is the in-memory value representing one log record before sink
// emission. Once enqueued it is not mutated except by the pipeline.
type Envelope struct {
	Timestamp     float64
	Level         Level
	Message       string
	Logger        string
	CorrelationID string
	Metadata      map[string]any
}

// reservedMetadataKeys must never be set directly by a caller; "integrity"
// is populated only by the tamper enricher.
var reservedMetadataKeys = map[string]struct{}{
	"integrity": {},
}

// EnvelopeInput collects everything the envelope builder needs from a call
// site plus the bound logger context.
type EnvelopeInput struct {
	Level         Level
	Message       string
	Logger        string
	CorrelationID string
	BoundContext  map[string]any
	Extras        []Field
	Err           error

	ExceptionsEnabled        bool
	ExceptionsMaxFrames      int
	ExceptionsMaxStackChars  int
}

// BuildEnvelope produces a fully-populated Envelope from a call site.
// Bound context merges into metadata first, then extras (extras win on
// collision). Exception serialization failures never propagate; they only
// drop the exception fields.
func BuildEnvelope(in EnvelopeInput) Envelope {
	metadata := make(map[string]any, len(in.BoundContext)+len(in.Extras)+4)
	for k, v := range in.BoundContext {
		if _, reserved := reservedMetadataKeys[k]; reserved {
			continue
		}
		metadata[k] = v
	}
	for _, f := range in.Extras {
		if _, reserved := reservedMetadataKeys[f.Key]; reserved {
			continue
		}
		metadata[f.Key] = f.Value
	}

	if in.ExceptionsEnabled && in.Err != nil {
		addExceptionFields(metadata, in.Err, in.ExceptionsMaxFrames, in.ExceptionsMaxStackChars)
	}

	correlationID := in.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	return Envelope{
		Timestamp:     float64(time.Now().UTC().UnixNano()) / 1e9,
		Level:         in.Level,
		Message:       in.Message,
		Logger:        in.Logger,
		CorrelationID: correlationID,
		Metadata:      metadata,
	}
}

// errorFrame mirrors the source's {file, line, function} stack frame
// record.
type errorFrame struct {
	File     string `json:"file"`
	Line     int    `json:"line"`
	Function string `json:"function"`
}

// addExceptionFields attaches error.type/error.message/error.frames/
// error.stack to metadata, bounded by maxFrames and maxStackChars. Any
// failure here (e.g. a panic recovered from a misbehaving error's Error()
// method) must not propagate; it only drops the exception fields.
func addExceptionFields(metadata map[string]any, err error, maxFrames, maxStackChars int) {
	defer func() {
		if recover() != nil {
			delete(metadata, "error.type")
			delete(metadata, "error.message")
			delete(metadata, "error.frames")
			delete(metadata, "error.stack")
		}
	}()

	if maxFrames <= 0 {
		maxFrames = 10
	}
	if maxStackChars <= 0 {
		maxStackChars = 4096
	}

	metadata["error.type"] = fmt.Sprintf("%T", err)
	metadata["error.message"] = err.Error()

	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var collected []errorFrame
	var stack string
	for {
		frame, more := frames.Next()
		collected = append(collected, errorFrame{
			File:     frame.File,
			Line:     frame.Line,
			Function: frame.Function,
		})
		line := frame.Function + "\n\t" + frame.File + ":" + strconv.Itoa(frame.Line) + "\n"
		if len(stack)+len(line) > maxStackChars {
			break
		}
		stack += line
		if !more || len(collected) >= maxFrames {
			break
		}
	}
	metadata["error.frames"] = collected
	metadata["error.stack"] = stack
}
