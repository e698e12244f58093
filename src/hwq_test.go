package wlantx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessAll_PushesUpToCredit(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var q = h.qid(7, 0)

	var refs []BufferRef
	for range 6 {
		var r, _ = h.enqueue(q, false)
		refs = append(refs, r)
	}

	assert.Equal(t, 4, h.e.ProcessAll())
	AssertPushed(t, h.radio, refs[:4]...)
	for _, r := range refs[:4] {
		assert.Equal(t, Transferred, h.pool.State(r))
	}

	// Out of credit but not stopped: still listed, nothing to do.
	var info = h.info(q)
	assert.Equal(t, 0, info.Credits)
	assert.True(t, info.Linked)
	assert.False(t, info.Stop.Has(StopCredits))
	assert.False(t, h.e.Dirty())
	assert.Equal(t, 0, h.e.ProcessAll())

	require.NoError(t, h.e.UpdateCredit(7, 0, 2))
	assert.Equal(t, 2, h.e.ProcessAll())
	AssertPushed(t, h.radio, refs[4:]...)
	assert.False(t, h.info(q).Linked)
}

func TestProcessOne_ServesQueuesInEligibilityOrder(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	require.NoError(t, h.e.AddStation(1, 8, 0))

	var a = h.qid(7, 0)
	var b = h.qid(8, 3) // Also best effort.

	var b1, _ = h.enqueue(b, false)
	var a1, _ = h.enqueue(a, false)
	var b2, _ = h.enqueue(b, false)

	assert.Equal(t, 3, h.e.ProcessOne(ACBE))
	AssertPushed(t, h.radio, b1, b2, a1)
}

func TestProcessAll_AscendingAccessCategory(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)

	var vo, _ = h.enqueue(h.qid(7, 6), false)
	var bk, _ = h.enqueue(h.qid(7, 1), false)
	var vi, _ = h.enqueue(h.qid(7, 4), false)

	assert.Equal(t, 3, h.e.ProcessAll())
	AssertPushed(t, h.radio, bk, vi, vo)
}

func TestProcessAll_SkippedWhileIdle(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var r, _ = h.enqueue(h.qid(7, 0), false)

	h.radio.SetIdle(true)
	assert.Equal(t, 0, h.e.ProcessAll())
	assert.True(t, h.e.Dirty())

	h.radio.SetIdle(false)
	assert.Equal(t, 1, h.e.ProcessAll())
	AssertPushed(t, h.radio, r)
}

func TestProcessOne_FrameDescribesItself(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var q = h.qid(7, 5)
	var r, _ = h.enqueue(q, true)

	h.e.ProcessAll()

	var frames = h.radio.Take()
	require.Len(t, frames, 1)
	assert.Equal(t, Frame{
		Ref:     r,
		Payload: []byte{5},
		TID:     5,
		AC:      ACVI,
		Queue:   q,
		Station: 7,
		Retry:   true,
	}, frames[0])

	var bcmc, _ = h.e.VifQueue(1, false)
	h.enqueue(bcmc, false)
	h.e.ProcessAll()
	frames = h.radio.Take()
	require.Len(t, frames, 1)
	assert.Equal(t, NoStation, frames[0].Station)
}

func TestComplete_OK(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var r, _ = h.enqueue(h.qid(7, 0), false)

	// Not the radio's yet.
	var _, err = h.e.Complete(r, StatusOK)
	assert.ErrorIs(t, err, ErrNotOwned)

	h.e.ProcessAll()

	_, err = h.e.Complete(r, StatusOK)
	require.NoError(t, err)

	var s, ok = h.statusOf(r)
	assert.True(t, ok)
	assert.Equal(t, StatusOK, s)
	assert.Equal(t, 0, h.pool.InUse())

	_, err = h.e.Complete(r, StatusOK)
	assert.ErrorIs(t, err, ErrNotOwned)
}

func TestComplete_RetryGoesBackToTheFront(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var q = h.qid(7, 0)

	var a, _ = h.enqueue(q, false)
	var first = h.clock.Now()
	h.e.ProcessAll()
	h.radio.Take()

	h.clock.Step(time.Second)
	var b, _ = h.enqueue(q, false)

	var res, err = h.e.Complete(a, StatusRetry)
	require.NoError(t, err)
	assert.Equal(t, EnqueueAlreadySchedulable, res)

	assert.Equal(t, []BufferRef{a, b}, h.contents(q))
	assert.Equal(t, 1, h.info(q).Retries)

	var buf, _ = h.pool.Get(a)
	assert.Equal(t, 1, buf.Retries)
	assert.True(t, buf.Retry)
	assert.Equal(t, first, buf.Enqueued, "a retry keeps its first enqueue time")
}

func TestComplete_RetryOnEmptyQueueMakesItSchedulable(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var q = h.qid(7, 0)

	var a, _ = h.enqueue(q, false)
	h.e.ProcessAll()
	assert.False(t, h.info(q).Linked)

	var res, err = h.e.Complete(a, StatusRetry)
	require.NoError(t, err)
	assert.Equal(t, EnqueueNowSchedulable, res)
	assert.True(t, h.info(q).Linked)
}

func TestComplete_RetryBudget(t *testing.T) {
	var h = newHarness(t, func(c *Config) { c.TxQueue.MaxRetries = 1 }).withStation(RoleAP)
	var q = h.qid(7, 0)

	var a, _ = h.enqueue(q, false)
	h.e.ProcessAll()

	var _, err = h.e.Complete(a, StatusRetry)
	require.NoError(t, err)
	assert.Equal(t, Queued, h.pool.State(a))

	h.e.ProcessAll()
	_, err = h.e.Complete(a, StatusRetry)
	require.NoError(t, err)

	var s, ok = h.statusOf(a)
	assert.True(t, ok)
	assert.Equal(t, StatusFailed, s)
	assert.Equal(t, 0, h.info(q).Len)
}

func TestComplete_RetryAfterStationLeft(t *testing.T) {
	var h = newHarness(t).withStation(RoleAP)
	var a, _ = h.enqueue(h.qid(7, 0), false)
	h.e.ProcessAll()

	require.NoError(t, h.e.RemoveStation(7))
	// Someone else gets the queue slot.
	require.NoError(t, h.e.AddStation(1, 8, 0))

	var _, err = h.e.Complete(a, StatusRetry)
	require.NoError(t, err)

	var s, _ = h.statusOf(a)
	assert.Equal(t, StatusDropped, s)
	for tid := TID(0); tid < NumTIDs; tid++ {
		assert.Equal(t, 0, h.info(h.qid(8, tid)).Len)
	}
}
