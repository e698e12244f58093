package wlantx

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

func TestSweep_StationDeadline(t *testing.T) {
	var h = newHarness(t).withStation(RoleStation)
	var q = h.qid(7, 0)
	h.e.StopAll(StopChanSwitch) // Keep everything on the queue.

	var a, _ = h.enqueue(q, false)
	h.clock.Step(time.Second)
	var b, _ = h.enqueue(q, false)
	h.clock.Step(1500 * time.Millisecond)

	var res = h.e.Sweep(h.clock.Now())
	assert.Equal(t, SweepResult{Dropped: 1, Remaining: true}, res)

	var s, ok = h.statusOf(a)
	require.True(t, ok)
	assert.Equal(t, StatusStale, s)
	assert.Equal(t, []BufferRef{b}, h.contents(q))
}

func TestSweep_AccessPointUsesBeaconIntervals(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var q = h.qid(7, 0)
	h.e.StopAll(StopChanSwitch)

	var a, _ = h.enqueue(q, false)

	// Ten beacons of 100 TU is a little over a second.
	h.clock.Step(time.Second)
	assert.Equal(t, 0, h.e.Sweep(h.clock.Now()).Dropped)

	h.clock.Step(100 * time.Millisecond)
	assert.Equal(t, SweepResult{Dropped: 1}, h.e.Sweep(h.clock.Now()))

	var s, _ = h.statusOf(a)
	assert.Equal(t, StatusStale, s)
}

func TestSweep_OffChannelQueue(t *testing.T) {
	var h = newHarness(t)
	var q = h.e.OffChannelQueue()

	var a, _ = h.enqueue(q, false)
	h.clock.Step(3 * time.Second)

	assert.Equal(t, SweepResult{Dropped: 1}, h.e.Sweep(h.clock.Now()))
	var s, _ = h.statusOf(a)
	assert.Equal(t, StatusStale, s)
}

func TestSweep_RetriesAreBusyNotOld(t *testing.T) {
	var h = newHarness(t).withStation(RoleStation)
	var q = h.qid(7, 0)

	var a, _ = h.enqueue(q, false)
	h.e.ProcessAll()
	h.e.StopAll(StopChanSwitch)
	var _, err = h.e.Complete(a, StatusRetry)
	require.NoError(t, err)

	h.clock.Step(time.Minute)
	assert.Equal(t, SweepResult{Dropped: 0, Remaining: true}, h.e.Sweep(h.clock.Now()))
	assert.Equal(t, Queued, h.pool.State(a))
}

func TestSweep_RetryBeyondBudget(t *testing.T) {
	var h = newHarness(t).withStation(RoleStation)
	var q = h.qid(7, 0)
	h.e.StopAll(StopChanSwitch)

	var ref = h.alloc(0)
	var b, _ = h.pool.Get(ref)
	b.Retries = h.cfg.TxQueue.MaxRetries + 1
	var _, err = h.e.Enqueue(q, ref, true)
	require.NoError(t, err)

	assert.Equal(t, SweepResult{Dropped: 1}, h.e.Sweep(h.clock.Now()))
	var s, _ = h.statusOf(ref)
	assert.Equal(t, StatusStale, s)
}

func TestSweep_Empty(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	assert.Equal(t, SweepResult{}, h.e.Sweep(h.clock.Now()))
}

func TestCleanupTimer_PostsOncePerArm(t *testing.T) {
	var clk = testingclock.NewFakeClock(epoch)
	var posts atomic.Int32
	var ct = NewCleanupTimer(clk, time.Second, func() bool {
		posts.Add(1)
		return true
	}, nil)

	assert.True(t, ct.Arm())
	assert.False(t, ct.Arm())
	assert.True(t, ct.Armed())

	clk.Step(999 * time.Millisecond)
	assert.Equal(t, int32(0), posts.Load())

	clk.Step(time.Millisecond)
	assert.Equal(t, int32(1), posts.Load())
	assert.False(t, ct.Armed())

	clk.Step(time.Hour)
	assert.Equal(t, int32(1), posts.Load())
}

func TestCleanupTimer_Stop(t *testing.T) {
	var clk = testingclock.NewFakeClock(epoch)
	var posts atomic.Int32
	var ct = NewCleanupTimer(clk, time.Second, func() bool {
		posts.Add(1)
		return true
	}, nil)

	ct.Arm()
	ct.Stop()
	assert.False(t, ct.Armed())

	clk.Step(time.Hour)
	assert.Equal(t, int32(0), posts.Load())

	// Usable again afterwards.
	assert.True(t, ct.Arm())
	clk.Step(time.Second)
	assert.Equal(t, int32(1), posts.Load())
}

func TestCleanupTimer_RefusedPostTriesAgain(t *testing.T) {
	var clk = testingclock.NewFakeClock(epoch)
	var posts atomic.Int32
	var ct = NewCleanupTimer(clk, time.Second, func() bool {
		return posts.Add(1) > 1
	}, nil)

	ct.Arm()
	clk.Step(time.Second)
	assert.Equal(t, int32(1), posts.Load())

	require.Eventually(t, clk.HasWaiters, time.Second, time.Millisecond)
	clk.Step(time.Second)
	assert.Equal(t, int32(2), posts.Load())
	assert.False(t, ct.Armed())
}
