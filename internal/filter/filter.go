// Package filter implements the filter contract, the four builtin filters
// (S1: level, adaptive sampling, token-bucket rate limit, fixed-rate
// sampling), and the filter ladder (C4) that swaps between per-pressure-
// level filter tuples with a single-writer/many-reader publication.
package filter

// Event is the mutable view a filter inspects; the pipeline passes the
// envelope's metadata-bearing representation through here so filters can
// read (and, rarely, mutate) fields without depending on the root package.
type Event struct {
	Level   string
	Message string
	Fields  map[string]any
}

// Filter observes an Event and either passes it on (possibly mutated) or
// drops it by returning ok=false. A filter that panics is treated by the
// caller as "skipped" (the event continues unchanged); Filter
// implementations should not panic, but the ladder's caller recovers
// defensively regardless, per spec.md §4.4.
type Filter interface {
	Name() string
	Filter(e Event) (Event, bool)
}

// FilterFunc adapts a plain function to the Filter interface.
type FilterFunc struct {
	FilterName string
	Fn         func(Event) (Event, bool)
}

func (f FilterFunc) Name() string                    { return f.FilterName }
func (f FilterFunc) Filter(e Event) (Event, bool)     { return f.Fn(e) }

// RunChain applies filters sequentially in declared order. A filter that
// panics is treated as a no-op (the event continues unchanged) and the
// dropped-by-filter counter is not incremented for it; onDrop is invoked
// with the name of the filter that dropped the event, if any.
func RunChain(filters []Filter, e Event, onDrop func(filterName string)) (Event, bool) {
	for _, f := range filters {
		var (
			next    Event
			keep    bool
			errored bool
		)
		func() {
			defer func() {
				if recover() != nil {
					errored = true
				}
			}()
			next, keep = f.Filter(e)
		}()
		if errored {
			continue
		}
		if !keep {
			if onDrop != nil {
				onDrop(f.Name())
			}
			return Event{}, false
		}
		e = next
	}
	return e, true
}
