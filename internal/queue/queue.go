// Package queue implements the dual bounded queue (C2): two fixed-capacity
// FIFOs, main and protected, with non-blocking try-enqueue/try-dequeue
// semantics and no unbounded growth ever permitted.
//
// The ring buffer here is grounded on the fixed-size, power-of-2-masked
// ring used by the teacher's rate limiter (catrate/ring.go), adapted from a
// sorted/searchable ring to a plain bounded FIFO: capacity never grows, and
// Enqueue past capacity is rejected rather than reallocating.
package queue

import "sync"

// Ring is a fixed-capacity, mutex-protected FIFO. It never grows past its
// configured capacity; TryEnqueue on a full ring returns false.
type Ring[T any] struct {
	mu   sync.Mutex
	buf  []T
	r, w uint
	size uint
	drop uint64
}

// NewRing constructs a Ring with room for capacity elements. capacity must
// be greater than zero; unlike the teacher's power-of-2 ring (catrate's
// rate-limiter buffer, sized for masking speed), this ring is sized to an
// arbitrary user-configured capacity, so indices wrap with modulo instead
// of a bitmask.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("queue: ring capacity must be greater than 0")
	}
	return &Ring[T]{buf: make([]T, capacity)}
}

func (q *Ring[T]) mask(v uint) uint { return v % uint(len(q.buf)) }

// TryEnqueue appends value if there is room, returning false (and
// incrementing the drop counter) otherwise.
func (q *Ring[T]) TryEnqueue(value T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == uint(len(q.buf)) {
		q.drop++
		return false
	}
	q.buf[q.mask(q.w)] = value
	q.w++
	q.size++
	return true
}

// TryDequeue removes and returns the oldest value, or ok=false if empty.
func (q *Ring[T]) TryDequeue() (value T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.size == 0 {
		return value, false
	}
	idx := q.mask(q.r)
	value = q.buf[idx]
	var zero T
	q.buf[idx] = zero
	q.r++
	q.size--
	return value, true
}

// DrainInto moves every queued value, oldest first, into the supplied
// slice pointer by appending, then empties the ring.
func (q *Ring[T]) DrainInto(batch *[]T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.size > 0 {
		idx := q.mask(q.r)
		*batch = append(*batch, q.buf[idx])
		var zero T
		q.buf[idx] = zero
		q.r++
		q.size--
	}
}

// Len returns the current number of queued values.
func (q *Ring[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int(q.size)
}

// Cap returns the fixed capacity.
func (q *Ring[T]) Cap() int { return len(q.buf) }

// IsFull reports whether the ring is at capacity.
func (q *Ring[T]) IsFull() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size == uint(len(q.buf))
}

// IsEmpty reports whether the ring holds no values.
func (q *Ring[T]) IsEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size == 0
}

// Drops returns the number of TryEnqueue calls refused since construction.
func (q *Ring[T]) Drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drop
}

// IsProtectedFunc decides whether a given entry belongs in the protected
// sub-queue.
type IsProtectedFunc[T any] func(T) bool

// Dual is the dual bounded queue: a protected ring (drained first) and a
// main ring, with a shedding mode that temporarily suppresses main drains
// so the protected queue can catch up under pressure.
type Dual[T any] struct {
	main      *Ring[T]
	protected *Ring[T]
	isProt    IsProtectedFunc[T]

	sheddingMu sync.RWMutex
	shedding   bool

	mainDrops      uint64
	protectedDrops uint64
	countMu        sync.Mutex
}

// NewDual constructs a Dual queue with the given main/protected capacities
// and a predicate selecting protected entries.
func NewDual[T any](mainCapacity, protectedCapacity int, isProtected IsProtectedFunc[T]) *Dual[T] {
	return &Dual[T]{
		main:      NewRing[T](mainCapacity),
		protected: NewRing[T](protectedCapacity),
		isProt:    isProtected,
	}
}

// TryEnqueue routes value to the protected or main ring by the configured
// predicate, returning false if the destination ring is full.
func (d *Dual[T]) TryEnqueue(value T) bool {
	if d.isProt(value) {
		ok := d.protected.TryEnqueue(value)
		if !ok {
			d.countMu.Lock()
			d.protectedDrops++
			d.countMu.Unlock()
		}
		return ok
	}
	ok := d.main.TryEnqueue(value)
	if !ok {
		d.countMu.Lock()
		d.mainDrops++
		d.countMu.Unlock()
	}
	return ok
}

// TryDequeue drains protected first; while shedding is active, it never
// falls through to main and returns ok=false once protected is empty.
func (d *Dual[T]) TryDequeue() (value T, ok bool) {
	if value, ok = d.protected.TryDequeue(); ok {
		return value, true
	}
	if d.Shedding() {
		return value, false
	}
	return d.main.TryDequeue()
}

// DrainInto drains all protected entries, then (if not shedding) all main
// entries, appending to batch in that order.
func (d *Dual[T]) DrainInto(batch *[]T) {
	d.protected.DrainInto(batch)
	if !d.Shedding() {
		d.main.DrainInto(batch)
	}
}

// ActivateShedding suppresses main-queue drains until deactivated.
func (d *Dual[T]) ActivateShedding() {
	d.sheddingMu.Lock()
	d.shedding = true
	d.sheddingMu.Unlock()
}

// DeactivateShedding resumes normal main-queue draining.
func (d *Dual[T]) DeactivateShedding() {
	d.sheddingMu.Lock()
	d.shedding = false
	d.sheddingMu.Unlock()
}

// Shedding reports whether shedding mode is currently active.
func (d *Dual[T]) Shedding() bool {
	d.sheddingMu.RLock()
	defer d.sheddingMu.RUnlock()
	return d.shedding
}

// MainQSize returns the current depth of the main ring only; this is the
// signal the pressure monitor samples (not the combined depth).
func (d *Dual[T]) MainQSize() int { return d.main.Len() }

// ProtectedQSize returns the current depth of the protected ring.
func (d *Dual[T]) ProtectedQSize() int { return d.protected.Len() }

// QSize returns the combined depth of both rings.
func (d *Dual[T]) QSize() int { return d.main.Len() + d.protected.Len() }

// Capacity returns the main ring's capacity, the reference capacity used
// for fill-ratio computation.
func (d *Dual[T]) Capacity() int { return d.main.Cap() }

// IsEmpty reports whether both rings are empty.
func (d *Dual[T]) IsEmpty() bool { return d.main.IsEmpty() && d.protected.IsEmpty() }

// IsFull reports whether the main ring (the one backpressure is measured
// against) is at capacity.
func (d *Dual[T]) IsFull() bool { return d.main.IsFull() }

// MainIsFull reports whether the main ring is at capacity.
func (d *Dual[T]) MainIsFull() bool { return d.main.IsFull() }

// ProtectedIsFull reports whether the protected ring is at capacity.
func (d *Dual[T]) ProtectedIsFull() bool { return d.protected.IsFull() }

// MainDrops returns the count of refused main-ring enqueues.
func (d *Dual[T]) MainDrops() uint64 {
	d.countMu.Lock()
	defer d.countMu.Unlock()
	return d.mainDrops
}

// ProtectedDrops returns the count of refused protected-ring enqueues.
func (d *Dual[T]) ProtectedDrops() uint64 {
	d.countMu.Lock()
	defer d.countMu.Unlock()
	return d.protectedDrops
}
