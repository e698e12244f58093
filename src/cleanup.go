package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Throw away frames that have waited too long.
 *
 * Description:	A frame for a peer that stopped answering, or sat behind
 *		a queue that never got credit, is worth nothing after a
 *		while and holds a buffer somebody else could use.
 *
 *		How long is "a while" depends on the interface.  An access
 *		point keeps frames for sleeping peers for some number of
 *		beacon intervals.  Everything else uses a fixed deadline.
 *
 *		Frames waiting for retransmission are not old, they are
 *		busy.  They go only once they have used up their retries.
 *		Complete already fails a frame at that point, so only a
 *		retry handed straight to Enqueue can be caught here.
 *
 *		The sweep runs on the worker.  A one-shot timer asks for it
 *		while anything is queued and goes quiet when nothing is.
 *
 *---------------------------------------------------------------*/

import (
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"k8s.io/utils/clock"
)

// SweepResult says what one sweep did.
type SweepResult struct {
	Dropped   int
	Remaining bool // Some queue still holds frames, so sweep again later.
}

// deadline is how long frames may wait on queues of vif.
func (e *Engine) deadline(vif *Vif) time.Duration {
	if vif.Role.APLike() {
		return vif.BeaconInterval * time.Duration(e.cfg.Cleanup.APBeaconMultiple)
	}
	return e.cfg.Cleanup.StationDeadline
}

/*-------------------------------------------------------------------
 *
 * Name:        Sweep
 *
 * Purpose:     Drop every frame that has been queued since before its
 *		interface's deadline.
 *
 * Inputs:	now	- Time to measure age against.
 *
 * Description:	Evicted frames complete with StatusStale.  Frames being
 *		retransmitted stay unless their retry count is beyond
 *		TxQueue.MaxRetries.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) Sweep(now time.Time) SweepResult {
	e.mu.Lock()

	var res SweepResult
	for _, vif := range e.vifs {
		var cutoff = now.Add(-e.deadline(vif))
		for _, qid := range e.queuesOfVifLocked(vif) {
			var q = e.at(qid)
			res.Dropped += e.sweepQueueLocked(q, cutoff)
			res.Remaining = res.Remaining || q.n > 0
		}
	}

	var oc = e.at(e.offchan)
	res.Dropped += e.sweepQueueLocked(oc, now.Add(-e.cfg.Cleanup.StationDeadline))
	res.Remaining = res.Remaining || oc.n > 0

	e.unlock()

	e.metrics.Sweeps.Inc()
	if res.Dropped > 0 {
		e.logger.Info("stale frames dropped", "count", res.Dropped)
	}
	return res
}

func (e *Engine) sweepQueueLocked(q *TxQueue, cutoff time.Time) int {
	var dropped = 0
	for idx := q.head; idx != noSlot; {
		var s = e.pool.slot(idx)
		var next = s.next

		var stale bool
		if s.buf.Retry {
			stale = s.buf.Retries > e.cfg.TxQueue.MaxRetries
		} else {
			stale = s.buf.Enqueued.Before(cutoff)
		}
		if stale {
			var reason = IfThenElse(s.buf.Retry, reasonRetryLimit, reasonStale)
			Assert(e.dropLocked(e.pool.ref(idx), StatusStale, reason) == nil)
			dropped++
		}

		idx = next
	}
	return dropped
}

/*-------------------------------------------------------------------
 *
 * Name:        CleanupTimer
 *
 * Purpose:     Ask the worker for a sweep every so often, but only while
 *		there is something to sweep.
 *
 * Description:	Arm starts the timer unless it is already running.
 *		Expiry only posts a request; the worker does the work and
 *		calls Arm again if frames remain.
 *
 *--------------------------------------------------------------------*/

type CleanupTimer struct {
	mu       sync.Mutex
	clock    clock.WithDelayedExecution
	interval time.Duration
	post     func() bool // Deliver a sweep request without blocking.
	logger   *log.Logger

	armed bool
	seq   uint64      // Which Arm the running timer belongs to.
	timer clock.Timer // May lag armed by a moment.
}

func NewCleanupTimer(c clock.WithDelayedExecution, interval time.Duration, post func() bool, logger *log.Logger) *CleanupTimer {
	Assert(interval > 0 && post != nil)

	if logger == nil {
		logger = discardLogger()
	}
	return &CleanupTimer{clock: c, interval: interval, post: post, logger: logger}
}

// Arm starts the timer if it is not already running.  Reports whether it
// was started by this call.
//
// t.mu is never held while calling into the clock.  A fake clock runs
// expiry with its own lock held.
func (t *CleanupTimer) Arm() bool {
	t.mu.Lock()
	if t.armed {
		t.mu.Unlock()
		return false
	}
	t.armed = true
	t.seq++
	var seq = t.seq
	t.mu.Unlock()

	var timer = t.clock.AfterFunc(t.interval, func() { t.expired(seq) })

	t.mu.Lock()
	if t.armed && t.seq == seq {
		t.timer = timer
	}
	t.mu.Unlock()
	return true
}

// Armed reports whether a sweep request is pending.
func (t *CleanupTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.armed
}

// Stop cancels a pending expiry.
func (t *CleanupTimer) Stop() {
	t.mu.Lock()
	var timer = t.timer
	t.armed, t.timer = false, nil
	t.seq++
	t.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
}

func (t *CleanupTimer) expired(seq uint64) {
	t.mu.Lock()
	if seq != t.seq || !t.armed {
		t.mu.Unlock() // Stopped, or superseded.
		return
	}
	t.armed, t.timer = false, nil
	t.mu.Unlock()

	if !t.post() {
		t.logger.Warn("sweep request refused, trying again later")
		go t.Arm()
	}
}
