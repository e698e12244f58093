package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	The worker - take messages off the dispatch queue, act on
 *		them, and after each one move whatever can go to the radio.
 *
 * Description:	There is exactly one worker per device.  All transmit
 *		request classification, sweeping and control commands run
 *		on it, one at a time, in the order they were posted.
 *
 *		After every message except MsgSkip the worker runs a
 *		scheduling pass over the dirty hardware queues, then the
 *		lower MAC's own scheduler if there is one.
 *
 *		The worker keeps its OS thread and, if configured, that
 *		thread stays on one CPU.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"io"
	"runtime"
	"sync"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

/*-------------------------------------------------------------------
 *
 * Name:        Run
 *
 * Purpose:     Be the worker until ctx is cancelled.
 *
 * Returns:	nil once ctx is done.  An error only if the worker could
 *		not start.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) Run(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return errors.New("worker already running")
	}
	defer d.running.Store(false)

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cpu := d.cfg.Dispatch.PinCPU; cpu >= 0 {
		if n, err := onlineCPUs(); err == nil && cpu >= n {
			d.logger.Warn("worker not pinned, no such cpu", "cpu", cpu, "online", n)
		} else if err := pinThread(cpu); err != nil {
			d.logger.Warn("worker not pinned", "cpu", cpu, "err", err)
		} else {
			d.logger.Info("worker pinned", "cpu", cpu)
		}
	}

	d.logger.Info("worker started", "capacity", d.mailbox.Cap())

	for {
		var m, err = d.mailbox.Receive(ctx)
		if err != nil {
			d.cleanup.Stop()
			d.logger.Info("worker stopped")
			return nil //nolint:nilerr
		}
		d.dispatch(m)
	}
}

// Drain handles every message already waiting, on the calling goroutine,
// and returns how many there were.  For use when no worker is running.
func (d *Driver) Drain() int {
	var n = 0
	for {
		var m, ok = d.mailbox.TryReceive()
		if !ok {
			return n
		}
		d.dispatch(m)
		n++
	}
}

func (d *Driver) dispatch(m Message) {
	d.metrics.DispatchDepth.Set(float64(d.mailbox.Len()))

	d.handle(m)
	m.signal()

	if m.Kind != MsgSkip {
		d.schedule()
	}
}

// schedule is the event scheduler step.
func (d *Driver) schedule() {
	d.engine.ProcessAll()
	if d.scheduler != nil {
		d.scheduler.Schedule()
	}
}

func (d *Driver) handle(m Message) {
	switch m.Kind {
	case MsgRxIndication:
		if payload, ok := m.Ptr.([]byte); ok && d.rx != nil {
			d.rx.HandleRx(payload)
		}

	case MsgTxRequest, MsgMgmtTxRequest:
		var tm, ok = m.Ptr.(*txMsg)
		Assert(ok)
		d.handleTx(tm, m.Kind == MsgMgmtTxRequest)

	case MsgDropSweep:
		var res = d.engine.Sweep(d.clock.Now())
		if res.Remaining {
			d.cleanup.Arm()
		}

	case MsgIoctl, MsgSkip:
		if m.Callback != nil {
			m.Callback(m)
		}

	case MsgNudge:
		// Nothing but the scheduling pass.

	default:
		d.logger.Error("unknown message", "kind", m.Kind)
	}
}

// handleTx classifies a posted request.  The buffer is ours, so a request
// that cannot be queued completes as dropped.
func (d *Driver) handleTx(tm *txMsg, mgmt bool) {
	var qid, err = d.resolve(tm.req, mgmt)
	if err == nil {
		err = d.admitQueue(qid)
	}
	if err == nil {
		_, err = d.queue(qid, tm.ref)
	}
	if err != nil {
		d.reject(err) //nolint:errcheck
		d.engine.finish(tm.ref, Owned, StatusDropped, "")
		d.metrics.BuffersInUse.Set(float64(d.pool.InUse()))
	}
}

/*-------------------------------------------------------------------
 *
 * Name:        TraceRadio
 *
 * Purpose:     Print a line for each frame on its way to the radio.
 *
 * Description:	Wraps another Radio.  The line looks like
 *
 *			[vo 3 q12 R] 1500 bytes tid6
 *
 *		with the access category, station (or "-"), queue, and R
 *		for a retransmission.  An optional strftime format puts a
 *		time stamp after the bracket, as for received frames.
 *
 *--------------------------------------------------------------------*/

type TraceRadio struct {
	Radio

	mu    sync.Mutex
	w     io.Writer
	stamp *strftime.Strftime // nil for no time stamp
	now   func() time.Time
}

func NewTraceRadio(r Radio, w io.Writer, timestampFormat string, now func() time.Time) (*TraceRadio, error) {
	var t = &TraceRadio{Radio: r, w: w, now: now}
	if t.now == nil {
		t.now = time.Now
	}
	if timestampFormat != "" {
		var f, err = strftime.New(timestampFormat)
		if err != nil {
			return nil, errors.Wrapf(err, "timestamp format %q", timestampFormat)
		}
		t.stamp = f
	}
	return t, nil
}

func (t *TraceRadio) Push(f Frame) {
	var sta = "-"
	if f.Station != NoStation {
		sta = fmt.Sprint(int32(f.Station))
	}

	var ts = ""
	if t.stamp != nil {
		ts = " " + t.stamp.FormatString(t.now())
	}

	t.mu.Lock()
	fmt.Fprintf(t.w, "[%v %s q%d%s]%s %d bytes %v\n", f.AC, sta, f.Queue.slot(), IfThenElse(f.Retry, " R", ""), ts, len(f.Payload), f.TID)
	t.mu.Unlock()

	t.Radio.Push(f)
}
