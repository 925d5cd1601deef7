package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/chainlog/internal/pressure"
)

type fakeQueue struct {
	mu    sync.Mutex
	items []int
}

func (q *fakeQueue) push(v int) {
	q.mu.Lock()
	q.items = append(q.items, v)
	q.mu.Unlock()
}

func (q *fakeQueue) TryDequeue() (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return 0, false
	}
	v := q.items[0]
	q.items = q.items[1:]
	return v, true
}

type flushRecorder struct {
	mu      sync.Mutex
	batches [][]int
}

func (r *flushRecorder) record(ctx context.Context, batch []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := append([]int(nil), batch...)
	r.batches = append(r.batches, cp)
}

func (r *flushRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestPool_TargetForLevel(t *testing.T) {
	p := &Pool[int]{cfg: Config{InitialCount: 4, MaxWorkers: 20}}
	require.Equal(t, 4, p.TargetForLevel(pressure.Normal))
	require.Equal(t, 4, p.TargetForLevel(pressure.Elevated))
	require.Equal(t, 6, p.TargetForLevel(pressure.High))
	require.Equal(t, 8, p.TargetForLevel(pressure.Critical))
}

func TestPool_TargetForLevelClampsToMax(t *testing.T) {
	p := &Pool[int]{cfg: Config{InitialCount: 4, MaxWorkers: 5}}
	require.Equal(t, 5, p.TargetForLevel(pressure.Critical))
}

func TestPool_ScaleToAddsAndRetiresDynamicWorkers(t *testing.T) {
	q := &fakeQueue{}
	rec := &flushRecorder{}
	p := New[int](context.Background(), Config{InitialCount: 1, MaxWorkers: 10, BatchTimeout: 5 * time.Millisecond}, q, rec.record)
	defer p.DrainAll()

	require.Equal(t, 1, p.CurrentCount())
	p.ScaleTo(3)
	require.Equal(t, 3, p.CurrentCount())
	require.Equal(t, 2, p.DynamicCount())

	p.ScaleTo(1)
	require.Eventually(t, func() bool { return p.CurrentCount() == 1 }, time.Second, time.Millisecond)
}

func TestPool_FlushesAccumulatedBatchOnDrain(t *testing.T) {
	q := &fakeQueue{}
	for i := 0; i < 5; i++ {
		q.push(i)
	}
	rec := &flushRecorder{}
	p := New[int](context.Background(), Config{InitialCount: 1, MaxWorkers: 1, BatchMaxSize: 100, BatchTimeout: time.Hour}, q, rec.record)

	p.DrainAll()
	require.Equal(t, 5, rec.total())
}

func TestPool_FlushesOnBatchMaxSize(t *testing.T) {
	q := &fakeQueue{}
	for i := 0; i < 10; i++ {
		q.push(i)
	}
	rec := &flushRecorder{}
	p := New[int](context.Background(), Config{InitialCount: 1, MaxWorkers: 1, BatchMaxSize: 3, BatchTimeout: time.Hour}, q, rec.record)
	defer p.DrainAll()

	require.Eventually(t, func() bool { return rec.total() >= 9 }, time.Second, time.Millisecond)
}

func TestPool_TargetBatchSizeForLevel(t *testing.T) {
	p := &Pool[int]{cfg: Config{BatchMaxSize: 100}}
	require.Equal(t, 100, p.TargetBatchSizeForLevel(pressure.Normal))
	require.Equal(t, 75, p.TargetBatchSizeForLevel(pressure.Elevated))
	require.Equal(t, 50, p.TargetBatchSizeForLevel(pressure.High))
	require.Equal(t, 25, p.TargetBatchSizeForLevel(pressure.Critical))
}

func TestPool_TargetBatchSizeForLevelFloorsAtOne(t *testing.T) {
	p := &Pool[int]{cfg: Config{BatchMaxSize: 2}}
	require.Equal(t, 1, p.TargetBatchSizeForLevel(pressure.Critical))
}

func TestPool_SetBatchMaxSizeTakesEffectOnNextFlushCheck(t *testing.T) {
	q := &fakeQueue{}
	rec := &flushRecorder{}
	p := New[int](context.Background(), Config{InitialCount: 1, MaxWorkers: 1, BatchMaxSize: 100, BatchTimeout: time.Hour}, q, rec.record)
	defer p.DrainAll()

	require.Equal(t, 100, p.BatchMaxSize())
	p.SetBatchMaxSize(2)
	require.Equal(t, 2, p.BatchMaxSize())

	q.push(1)
	q.push(2)
	require.Eventually(t, func() bool { return rec.total() >= 2 }, time.Second, time.Millisecond)
}

func TestPool_SetBatchMaxSizeIgnoresNonPositive(t *testing.T) {
	p := &Pool[int]{}
	p.batchMaxSize.Store(50)
	p.SetBatchMaxSize(0)
	require.Equal(t, 50, p.BatchMaxSize())
	p.SetBatchMaxSize(-1)
	require.Equal(t, 50, p.BatchMaxSize())
}
