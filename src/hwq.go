package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Hardware queues - decide which transmit queue talks to
 *		the radio next.
 *
 * Description:	One hardware queue per access category.  Each keeps a
 *		list of the transmit queues that are eligible, in the order
 *		they became eligible, and a dirty flag meaning "something
 *		changed, look at me on the next pass".
 *
 *		A pass takes from each listed queue as many frames as its
 *		credit allows.  A queue that runs dry leaves the list.  A
 *		queue that runs out of credit first stays where it is and
 *		is looked at again once the firmware returns credit.
 *
 *		Frames are taken off the lists under the transmit lock and
 *		pushed to the radio after it is released.
 *
 *---------------------------------------------------------------*/

import (
	"github.com/pkg/errors"
)

// HwQueue is the scheduling list of one access category.
type HwQueue struct {
	ac         AC
	head, tail TxQueueID
	n          int
	dirty      bool
}

func (h *HwQueue) attach(e *Engine, q *TxQueue) {
	Assert(!q.linked)

	q.hwPrev, q.hwNext = h.tail, InactiveTxQueue
	if h.tail == InactiveTxQueue {
		h.head = q.idx
	} else {
		e.at(h.tail).hwNext = q.idx
	}
	h.tail = q.idx
	h.n++
	q.linked = true
	h.dirty = true
}

func (h *HwQueue) detach(e *Engine, q *TxQueue) {
	Assert(q.linked)

	if q.hwPrev == InactiveTxQueue {
		h.head = q.hwNext
	} else {
		e.at(q.hwPrev).hwNext = q.hwNext
	}
	if q.hwNext == InactiveTxQueue {
		h.tail = q.hwPrev
	} else {
		e.at(q.hwNext).hwPrev = q.hwPrev
	}
	q.hwPrev, q.hwNext = InactiveTxQueue, InactiveTxQueue
	h.n--
	q.linked = false
}

/*-------------------------------------------------------------------
 *
 * Name:        ProcessOne
 *
 * Purpose:     Push what the credits allow from every queue listed on
 *		one hardware queue.
 *
 * Inputs:	ac	- Access category.
 *
 * Returns:	Number of frames pushed to the radio.
 *
 * Description:	Queues are visited in list order.  Each gives up to its
 *		credit count, oldest first with retransmissions leading.
 *		The credit is consumed by what was taken.
 *
 *		Ownership of each frame passes to the radio with the push.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) ProcessOne(ac AC) int {
	Assert(ac < NumACs)

	e.mu.Lock()
	var frames = e.collectLocked(ac)
	e.unlock()

	e.push(frames)
	return len(frames)
}

func (e *Engine) collectLocked(ac AC) []Frame {
	var h = &e.hwqs[ac]
	h.dirty = false

	var frames []Frame
	for qid := h.head; qid != InactiveTxQueue; {
		var q = e.at(qid)
		var next = q.hwNext // q may leave the list below.

		if q.credits > 0 {
			frames = append(frames, e.takeLocked(q, q.credits)...)
		}

		qid = next
	}
	return frames
}

// takeLocked moves up to max frames from q to the radio's side, charging
// them to q's credit.
func (e *Engine) takeLocked(q *TxQueue, max int) []Frame {
	var idxs, _ = e.dequeueBatchLocked(q, max)
	q.credits -= len(idxs)

	var frames = make([]Frame, 0, len(idxs))
	for _, idx := range idxs {
		var ref = e.pool.ref(idx)
		Assert(e.pool.transition(ref, Queued, Transferred) == nil)

		var s = e.pool.slot(idx)
		frames = append(frames, Frame{
			Ref:     ref,
			Payload: s.buf.Payload,
			TID:     s.buf.TID,
			AC:      q.ac,
			Queue:   q.idx,
			Station: q.station(),
			Retry:   s.buf.Retry,
		})
	}
	return frames
}

// push hands frames to the radio.  Called without the transmit lock.
func (e *Engine) push(frames []Frame) {
	var perAC [NumACs]int
	for _, f := range frames {
		e.radio.Push(f)
		perAC[f.AC]++
	}
	for ac, n := range perAC {
		if n > 0 {
			e.metrics.Pushed.WithLabelValues(AC(ac).String()).Add(float64(n))
		}
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        ProcessAll
 *
 * Purpose:     One scheduling pass over every hardware queue that has
 *		been marked dirty.
 *
 * Returns:	Number of frames pushed.
 *
 * Description:	Categories are visited from the lowest index up.  Nothing
 *		is done while the MAC is idle or on its way there; the
 *		dirty flags stay set for the next pass.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) ProcessAll() int {
	if e.radio.Idle() {
		return 0
	}

	var total = 0
	for ac := AC(0); ac < NumACs; ac++ {
		e.mu.Lock()
		var dirty = e.hwqs[ac].dirty
		e.mu.Unlock()

		if dirty {
			total += e.ProcessOne(ac)
		}
	}
	return total
}

// Dirty reports whether any hardware queue is waiting for a pass.
func (e *Engine) Dirty() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.hwqs {
		if e.hwqs[i].dirty {
			return true
		}
	}
	return false
}

// Scheduled lists the queues on one hardware queue, in service order.
func (e *Engine) Scheduled(ac AC) []TxQueueID {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []TxQueueID
	for qid := e.hwqs[ac].head; qid != InactiveTxQueue; qid = e.at(qid).hwNext {
		out = append(out, qid)
	}
	return out
}

/*-------------------------------------------------------------------
 *
 * Name:        Complete
 *
 * Purpose:     The radio is finished with a frame it was given.
 *
 * Inputs:	ref	- Frame from an earlier push.
 *
 *		status	- StatusRetry puts the frame back at the front of
 *			  its queue, unless it has already been retried
 *			  TxQueue.MaxRetries times, in which case it fails.
 *			  Anything else ends the frame with that status.
 *
 * Returns:	For a retry, the enqueue result, so the caller knows
 *		whether to wake the worker.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) Complete(ref BufferRef, status TxStatus) (EnqueueResult, error) {
	if status != StatusRetry {
		if st := e.pool.State(ref); st != Transferred {
			return EnqueueStopped, errors.Wrapf(ErrNotOwned, "complete %v while %v", ref, st)
		}
		e.finish(ref, Transferred, status, "")
		return EnqueueStopped, nil
	}

	e.mu.Lock()

	if st := e.pool.State(ref); st != Transferred {
		e.unlock()
		return EnqueueStopped, errors.Wrapf(ErrNotOwned, "retry %v while %v", ref, st)
	}

	var s = e.pool.slot(ref.idx)
	s.buf.Retries++

	// An ID that no longer resolves means the queue was removed, even if
	// its slot has been reused since.
	var _, err = e.txqLocked(s.home)
	var gone = err != nil

	var result = EnqueueStopped
	switch {
	case s.buf.Retries > e.cfg.TxQueue.MaxRetries:
		Assert(e.pool.transition(ref, Transferred, Owned) == nil)
		e.released = append(e.released, release{ref: ref, status: StatusFailed, reason: reasonRetryLimit})
	case gone:
		// Station or interface went away while the frame was in the air.
		Assert(e.pool.transition(ref, Transferred, Owned) == nil)
		e.released = append(e.released, release{ref: ref, status: StatusDropped, reason: reasonFlush})
	default:
		Assert(e.pool.transition(ref, Transferred, Owned) == nil)
		result, err = e.enqueueLocked(s.home, ref, true)
		Assert(err == nil)
	}

	e.unlock()
	return result, nil
}
