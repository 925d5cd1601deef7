package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRing_BoundedCapacityNeverGrows(t *testing.T) {
	r := NewRing[int](4)
	for i := 0; i < 4; i++ {
		require.True(t, r.TryEnqueue(i))
	}
	require.True(t, r.IsFull())
	require.False(t, r.TryEnqueue(99), "enqueue past capacity must be refused")
	require.EqualValues(t, 1, r.Drops())
}

func TestRing_FIFOOrder(t *testing.T) {
	r := NewRing[int](8)
	for i := 0; i < 5; i++ {
		require.True(t, r.TryEnqueue(i))
	}
	for i := 0; i < 5; i++ {
		v, ok := r.TryDequeue()
		require.True(t, ok)
		require.Equal(t, i, v)
	}
	_, ok := r.TryDequeue()
	require.False(t, ok)
}

func TestRing_DrainInto(t *testing.T) {
	r := NewRing[int](4)
	r.TryEnqueue(1)
	r.TryEnqueue(2)
	var batch []int
	r.DrainInto(&batch)
	require.Equal(t, []int{1, 2}, batch)
	require.True(t, r.IsEmpty())
}

func isProtected(v int) bool { return v < 0 }

func TestDual_ProtectedDrainsFirst(t *testing.T) {
	d := NewDual[int](4, 4, isProtected)
	require.True(t, d.TryEnqueue(1))
	require.True(t, d.TryEnqueue(-1))
	require.True(t, d.TryEnqueue(2))

	v, ok := d.TryDequeue()
	require.True(t, ok)
	require.Equal(t, -1, v, "protected entries must be dequeued before main entries")

	v, ok = d.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestDual_SheddingSuppressesMain(t *testing.T) {
	d := NewDual[int](4, 4, isProtected)
	d.TryEnqueue(1)
	d.ActivateShedding()

	_, ok := d.TryDequeue()
	require.False(t, ok, "shedding must suppress main dequeues when protected is empty")

	d.DeactivateShedding()
	v, ok := d.TryDequeue()
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestDual_DrainIntoRespectsShedding(t *testing.T) {
	d := NewDual[int](4, 4, isProtected)
	d.TryEnqueue(1)
	d.TryEnqueue(-2)
	d.ActivateShedding()

	var batch []int
	d.DrainInto(&batch)
	require.Equal(t, []int{-2}, batch, "draining while shedding must skip main entirely")
}

func TestDual_CapacityNeverExceeded(t *testing.T) {
	d := NewDual[int](2, 2, isProtected)
	require.True(t, d.TryEnqueue(1))
	require.True(t, d.TryEnqueue(2))
	require.False(t, d.TryEnqueue(3))
	require.EqualValues(t, 1, d.MainDrops())
}
