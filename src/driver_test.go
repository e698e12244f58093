package wlantx

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"
)

type countingScheduler struct{ n atomic.Int32 }

func (s *countingScheduler) Schedule() { s.n.Add(1) }

type recordingRx struct {
	mu  sync.Mutex
	got [][]byte
}

func (r *recordingRx) HandleRx(p []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, p)
}

type completions struct {
	mu     sync.Mutex
	status map[BufferRef]TxStatus
	ctx    map[BufferRef]any
}

func (c *completions) done(ref BufferRef, s TxStatus, ctx any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[ref] = s
	c.ctx[ref] = ctx
}

func (c *completions) get(ref BufferRef) (TxStatus, any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var s, ok = c.status[ref]
	return s, c.ctx[ref], ok
}

func (c *completions) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.status)
}

type driverHarness struct {
	t     *testing.T
	d     *Driver
	radio *FakeRadio
	clock *testingclock.FakeClock
	sched *countingScheduler
	rx    *recordingRx
	comp  *completions
}

func newDriverHarness(t *testing.T, mods ...func(*Config)) *driverHarness {
	t.Helper()

	var cfg = DefaultConfig()
	cfg.Pool.Buffers = 32
	cfg.Pool.LowWatermark = 0
	for _, m := range mods {
		m(cfg)
	}

	var h = &driverHarness{
		t:     t,
		radio: &FakeRadio{},
		clock: testingclock.NewFakeClock(epoch),
		sched: &countingScheduler{},
		rx:    &recordingRx{},
		comp:  &completions{status: make(map[BufferRef]TxStatus), ctx: make(map[BufferRef]any)},
	}

	var d, err = NewDriver(Options{
		Config:    cfg,
		Radio:     h.radio,
		Rx:        h.rx,
		Scheduler: h.sched,
		Clock:     h.clock,
		Registry:  prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	h.d = d

	require.NoError(t, d.Engine().AddVif(1, RoleStation, TUs(100)))
	require.NoError(t, d.Engine().AddStation(1, 7, 0))
	require.NoError(t, d.Engine().AddStation(1, 8, 0))
	return h
}

func (h *driverHarness) req(sta StationID, tid TID) TxRequest {
	return TxRequest{
		Vif:     1,
		Station: sta,
		TID:     tid,
		Payload: []byte("hello"),
		Done:    h.comp.done,
		Context: "ctx",
	}
}

// pushed returns the refs the radio got since the last call.
func (h *driverHarness) pushed() []BufferRef {
	var refs []BufferRef
	for _, f := range h.radio.Take() {
		refs = append(refs, f.Ref)
	}
	return refs
}

func TestNewDriver_NeedsRadio(t *testing.T) {
	var _, err = NewDriver(Options{})
	assert.Error(t, err)
}

func TestTransmit_ReachesRadio(t *testing.T) {
	var h = newDriverHarness(t)

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	assert.Equal(t, 1, h.d.Mailbox().Len())

	assert.Equal(t, 1, h.d.Drain())
	var frames = h.radio.Take()
	require.Len(t, frames, 1)
	assert.Equal(t, StationID(7), frames[0].Station)
	assert.Equal(t, []byte("hello"), frames[0].Payload)
	assert.Equal(t, int32(1), h.sched.n.Load())

	require.NoError(t, h.d.TxComplete(frames[0].Ref, StatusOK))
	var s, ctx, ok = h.comp.get(frames[0].Ref)
	require.True(t, ok)
	assert.Equal(t, StatusOK, s)
	assert.Equal(t, "ctx", ctx)
	assert.Equal(t, 0, h.d.Pool().InUse())
}

func TestTransmit_WakeupsCoalesce(t *testing.T) {
	var h = newDriverHarness(t)

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	require.NoError(t, h.d.Transmit(h.req(8, 0)))
	require.NoError(t, h.d.Transmit(h.req(7, 6)))
	assert.Equal(t, 1, h.d.Mailbox().Len())

	assert.Equal(t, 1, h.d.Drain())
	assert.Len(t, h.pushed(), 3)
}

func TestTransmit_Refusals(t *testing.T) {
	var h = newDriverHarness(t)

	assert.ErrorIs(t, h.d.Transmit(h.req(99, 0)), ErrNotFound)
	assert.ErrorIs(t, h.d.Transmit(h.req(7, 12)), ErrNotFound)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.d.Metrics().Rejected.WithLabelValues(reasonNotFound)))

	var wrongVif = h.req(NoStation, 0)
	wrongVif.Vif = 5
	assert.ErrorIs(t, h.d.Transmit(wrongVif), ErrNotFound)

	assert.Equal(t, 0, h.d.Pool().InUse())
	assert.Equal(t, 0, h.comp.count())
}

func TestTransmit_LowWatermark(t *testing.T) {
	var h = newDriverHarness(t, func(c *Config) {
		c.Pool.Buffers = 4
		c.Pool.LowWatermark = 2
	})

	for range 3 {
		require.NoError(t, h.d.Transmit(h.req(7, 0)))
	}
	assert.ErrorIs(t, h.d.Transmit(h.req(7, 0)), ErrNoBuffer)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.d.Metrics().Rejected.WithLabelValues(reasonNoBuffer)))
	assert.Equal(t, 3.0, testutil.ToFloat64(h.d.Metrics().BuffersInUse))
}

func TestTransmit_Backpressure(t *testing.T) {
	var h = newDriverHarness(t, func(c *Config) {
		c.TxQueue.InitialCredits = 1
		c.TxQueue.MaxQueued = 2
	})

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	h.d.Drain()
	assert.Len(t, h.pushed(), 1)

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	assert.ErrorIs(t, h.d.Transmit(h.req(7, 0)), ErrBackpressure)

	// Other queues are not affected.
	require.NoError(t, h.d.Transmit(h.req(8, 0)))
}

func TestCreditUpdate_WakesWorker(t *testing.T) {
	var h = newDriverHarness(t, func(c *Config) { c.TxQueue.InitialCredits = 1 })

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	h.d.Drain()
	assert.Len(t, h.pushed(), 1)

	require.NoError(t, h.d.CreditUpdate(7, 0, 1))
	assert.Equal(t, 1, h.d.Mailbox().Len())
	h.d.Drain()
	assert.Len(t, h.pushed(), 1)

	assert.ErrorIs(t, h.d.CreditUpdate(99, 0, 1), ErrNotFound)
}

func TestSendTxRequest_ClassifiedOnWorker(t *testing.T) {
	var h = newDriverHarness(t)

	require.NoError(t, h.d.SendTxRequest(h.req(7, 4), time.Second))
	assert.Equal(t, 1, h.d.Pool().InUse())
	assert.Empty(t, h.radio.Take())

	h.d.Drain()
	var frames = h.radio.Take()
	require.Len(t, frames, 1)
	assert.Equal(t, ACVI, frames[0].AC)
}

func TestSendTxRequest_FullDispatchQueue(t *testing.T) {
	var h = newDriverHarness(t, func(c *Config) { c.Dispatch.Capacity = 1 })

	require.NoError(t, h.d.SendRxIndication([]byte{1}))

	var err = h.d.SendTxRequest(h.req(7, 0), 0)
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 0, h.d.Pool().InUse())
	assert.Equal(t, 0, h.comp.count())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.d.Metrics().DispatchRejected.WithLabelValues("tx")))

	assert.ErrorIs(t, h.d.SendRxIndication([]byte{2}), ErrQueueFull)

	h.d.Drain()
	assert.Equal(t, [][]byte{{1}}, h.rx.got)
}

func TestSendTxRequest_UnknownStationDropped(t *testing.T) {
	var h = newDriverHarness(t)

	var req = h.req(42, 0)
	require.NoError(t, h.d.SendTxRequest(req, 0))
	h.d.Drain()

	assert.Equal(t, 1, h.comp.count())
	assert.Equal(t, 0, h.d.Pool().InUse())
	assert.Empty(t, h.radio.Take())
}

func TestSendMgmtTxRequest_UnknownStation(t *testing.T) {
	var h = newDriverHarness(t)
	var unknown, err = h.d.Engine().VifQueue(1, true)
	require.NoError(t, err)

	require.NoError(t, h.d.SendMgmtTxRequest(h.req(42, 0), 0))
	h.d.Drain()

	var frames = h.radio.Take()
	require.Len(t, frames, 1)
	assert.Equal(t, unknown, frames[0].Queue)
	assert.Equal(t, TIDMgmt, frames[0].TID)

	// A known station uses its own management queue.
	require.NoError(t, h.d.SendMgmtTxRequest(h.req(7, 0), 0))
	h.d.Drain()
	frames = h.radio.Take()
	require.Len(t, frames, 1)
	assert.Equal(t, StationID(7), frames[0].Station)
	assert.Equal(t, TIDMgmt, frames[0].TID)
}

func TestTxComplete_Retry(t *testing.T) {
	var h = newDriverHarness(t)

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	h.d.Drain()
	var refs = h.pushed()
	require.Len(t, refs, 1)

	require.NoError(t, h.d.TxComplete(refs[0], StatusRetry))
	assert.Equal(t, 1, h.d.Mailbox().Len())
	assert.Equal(t, 0, h.comp.count())

	h.d.Drain()
	var frames = h.radio.Take()
	require.Len(t, frames, 1)
	assert.Equal(t, refs[0], frames[0].Ref)
	assert.True(t, frames[0].Retry)

	require.NoError(t, h.d.TxComplete(refs[0], StatusOK))
	var s, _, _ = h.comp.get(refs[0])
	assert.Equal(t, StatusOK, s)

	assert.ErrorIs(t, h.d.TxComplete(refs[0], StatusOK), ErrNotOwned)
}

func TestCleanup_DropsStaleFrames(t *testing.T) {
	var h = newDriverHarness(t)
	h.radio.SetIdle(true)

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	h.d.Drain()
	assert.True(t, h.d.Cleanup().Armed())

	// Not old yet: swept, kept, armed again.
	h.clock.Step(h.d.cfg.Cleanup.Interval)
	assert.Equal(t, 1, h.d.Mailbox().Len())
	h.d.Drain()
	assert.Equal(t, 0, h.comp.count())
	assert.True(t, h.d.Cleanup().Armed())

	h.clock.Step(3 * time.Second)
	h.d.Drain()
	assert.Equal(t, 1, h.comp.count())
	assert.False(t, h.d.Cleanup().Armed())
	assert.Equal(t, 0, h.d.Pool().InUse())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.d.Metrics().Dropped.WithLabelValues(reasonStale)))
}

func TestSendSkip_NoSchedulingPass(t *testing.T) {
	var h = newDriverHarness(t)

	var ran atomic.Bool
	require.NoError(t, h.d.SendSkip(func(Message) { ran.Store(true) }))
	h.d.Drain()
	assert.True(t, ran.Load())
	assert.Equal(t, int32(0), h.sched.n.Load())

	h.d.Nudge()
	h.d.Drain()
	assert.Equal(t, int32(1), h.sched.n.Load())
}

func TestRun_Ioctl(t *testing.T) {
	var h = newDriverHarness(t)
	var ctx, cancel = context.WithCancel(context.Background())

	var stopped = make(chan error, 1)
	go func() { stopped <- h.d.Run(ctx) }()

	var got Message
	require.NoError(t, h.d.SendIoctl(ctx, 5, 6, func(m Message) { got = m }))
	assert.Equal(t, MsgIoctl, got.Kind)
	assert.Equal(t, 5, got.Arg)
	assert.Equal(t, 6, got.Len)

	// Only one worker at a time.
	assert.Error(t, h.d.Run(ctx))

	require.NoError(t, h.d.Transmit(h.req(7, 0)))
	assert.Eventually(t, func() bool { return len(h.radio.Take()) == 1 }, 5*time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, h.d.Cleanup().Armed())
}

func TestSendIoctl_CallerGivesUp(t *testing.T) {
	var h = newDriverHarness(t)
	var ctx, cancel = context.WithCancel(context.Background())
	cancel()

	var err = h.d.SendIoctl(ctx, 1, 0, func(Message) {})
	assert.ErrorIs(t, err, context.Canceled)

	// Still runs later.
	assert.Equal(t, 1, h.d.Drain())
}
