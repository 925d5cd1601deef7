package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCollector_CountersAccumulate(t *testing.T) {
	c := New()
	c.RecordProcessed(3)
	c.RecordProcessed(2)
	c.RecordDropped(1)
	require.Equal(t, int64(5), c.Processed())
	require.Equal(t, int64(1), c.Dropped())
}

func TestCollector_FlushLatencyTracksPercentiles(t *testing.T) {
	c := New()
	for i := 1; i <= 200; i++ {
		c.RecordFlush(time.Duration(i) * time.Millisecond)
	}
	snap := c.FlushLatency()
	require.Equal(t, 200, snap.Count)
	require.Greater(t, snap.P99, snap.P50)
	require.GreaterOrEqual(t, snap.Max, snap.P99)
}

func TestCollector_QueueDepthEMAWarmStarts(t *testing.T) {
	c := New()
	c.UpdateQueueDepth(100)
	snap := c.QueueDepth()
	require.Equal(t, 100, snap.Current)
	require.Equal(t, 100.0, snap.Avg, "first observation should warm-start the EMA to its own value")
}

func TestCollector_QueueDepthTracksMax(t *testing.T) {
	c := New()
	c.UpdateQueueDepth(10)
	c.UpdateQueueDepth(50)
	c.UpdateQueueDepth(20)
	require.Equal(t, 50, c.QueueDepth().Max)
}

func TestCollector_PerSinkTimingIsIsolated(t *testing.T) {
	c := New()
	c.RecordSinkTiming("stderr", 5*time.Millisecond)
	c.RecordSinkTiming("file", 50*time.Millisecond)

	require.Equal(t, 1, c.SinkTiming("stderr").Count)
	require.Equal(t, 1, c.SinkTiming("file").Count)
}

func TestCollector_PluginTimerRecordsElapsed(t *testing.T) {
	c := New()
	c.PluginTimer("field_mask", func() { time.Sleep(time.Millisecond) })
	snap := c.PluginTiming("field_mask")
	require.Equal(t, 1, snap.Count)
	require.Greater(t, snap.Max, time.Duration(0))
}
