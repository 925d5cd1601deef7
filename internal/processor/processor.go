// Package processor implements the byte-level processor contract (C6 step
// 4): rare plugins that mutate the serialized form of an event, e.g. a
// size guard. Strictly sequential; a failing processor falls back to the
// pre-processor bytes.
package processor

// Processor transforms serialized envelope bytes. Implementations must
// treat input as read-only and return a new slice; they must not retain a
// reference to input beyond the call.
type Processor interface {
	Name() string
	Process(input []byte) ([]byte, error)
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc struct {
	ProcessorName string
	Fn            func([]byte) ([]byte, error)
}

func (f ProcessorFunc) Name() string                    { return f.ProcessorName }
func (f ProcessorFunc) Process(input []byte) ([]byte, error) { return f.Fn(input) }

// RunChain applies processors strictly in order. A failing processor
// (error or panic) falls back to the bytes it received, and the chain
// continues with the next processor.
func RunChain(processors []Processor, input []byte) []byte {
	current := input
	for _, p := range processors {
		var (
			next    []byte
			errored bool
		)
		func() {
			defer func() {
				if recover() != nil {
					errored = true
				}
			}()
			out, err := p.Process(current)
			if err != nil {
				errored = true
				return
			}
			next = out
		}()
		if errored {
			continue
		}
		current = next
	}
	return current
}

// SizeGuard is a builtin processor that truncates payloads longer than
// MaxBytes to their first MaxBytes bytes (processors cannot drop events --
// only the pipeline can); no marker is appended. Supplied as a concrete
// example of the "rare plugin" the contract anticipates.
type SizeGuard struct {
	MaxBytes int
}

func (g SizeGuard) Name() string { return "size_guard" }

func (g SizeGuard) Process(input []byte) ([]byte, error) {
	if g.MaxBytes <= 0 || len(input) <= g.MaxBytes {
		return input, nil
	}
	out := make([]byte, g.MaxBytes)
	copy(out, input[:g.MaxBytes])
	return out, nil
}
