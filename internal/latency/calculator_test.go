package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSkew struct{ n int }

func (f *fakeSkew) IncSkew() { f.n++ }

func TestCalculateEmitsOneRecordPerVotedSlot(t *testing.T) {
	skew := &fakeSkew{}
	c := New(skew, 10)
	now := time.Now()

	records := c.Calculate([]uint64{995, 996, 997, 998, 999, 1000}, 1000, "id1", "vote1", now)
	require.Len(t, records, 6)
	require.Equal(t, uint64(5), records[0].LatencySlots)
	require.Equal(t, uint64(0), records[5].LatencySlots)
	require.Equal(t, 0, skew.n)
}

func TestCalculateDropsSkewedSlotsE3(t *testing.T) {
	skew := &fakeSkew{}
	c := New(skew, 10)
	records := c.Calculate([]uint64{2000}, 1999, "id1", "vote1", time.Now())
	require.Empty(t, records)
	require.Equal(t, 1, skew.n)
}

func TestCalculateLegacyVoteE2(t *testing.T) {
	skew := &fakeSkew{}
	c := New(skew, 10)
	records := c.Calculate([]uint64{100, 101}, 105, "id1", "vote1", time.Now())
	require.Len(t, records, 2)
	require.Equal(t, uint64(5), records[0].LatencySlots)
	require.Equal(t, uint64(4), records[1].LatencySlots)
}

func TestRollingMetrics(t *testing.T) {
	c := New(nil, 3)
	now := time.Now()
	c.Calculate([]uint64{1, 2, 3}, 10, "id1", "vote1", now)

	mean, count := c.ValidatorMetrics("vote1")
	require.Equal(t, 3, count)
	require.InDelta(t, 8.0, mean, 0.01) // latencies 9,8,7 -> mean 8
}
