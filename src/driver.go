package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	The transmit path of one device, put together.
 *
 * Description:	A Driver owns the buffer pool, the queue engine, the
 *		dispatch queue and the cleanup timer, and exposes what the
 *		rest of the system calls:
 *
 *		- Producers hand over frames with Transmit (already
 *		  classified, queued right away) or SendTxRequest and
 *		  SendMgmtTxRequest (classified later by the worker).
 *
 *		- The firmware reports credit with CreditUpdate and
 *		  finished frames with TxComplete.
 *
 *		- The receive path posts with SendRxIndication.
 *
 *		- Control code runs commands on the worker with SendIoctl.
 *
 *		Run is the worker.  See xmit.go.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"
)

// RxHandler takes received frames off the worker.
type RxHandler interface {
	HandleRx(payload []byte)
}

// EventScheduler is the lower MAC's own scheduling step, run after the
// transmit pass on every message.
type EventScheduler interface {
	Schedule()
}

// TxRequest is one frame offered for transmission.
type TxRequest struct {
	Vif     VifID
	Station StationID // NoStation for group addressed or not yet added peers.
	TID     TID
	Payload []byte

	Multicast  bool // Group addressed.
	OffChannel bool // For the remain-on-channel period.

	Done    CompletionFunc
	Context any
}

// Options are the collaborators of a Driver.  Radio is required; the rest
// default to something harmless.
type Options struct {
	Config    *Config
	Radio     Radio
	Announcer TrafficAnnouncer
	Rx        RxHandler
	Scheduler EventScheduler
	Clock     clock.WithDelayedExecution
	Logger    *log.Logger
	Registry  prometheus.Registerer
}

type Driver struct {
	cfg     *Config
	logger  *log.Logger
	metrics *Metrics
	clock   clock.WithDelayedExecution

	pool    *Pool
	engine  *Engine
	mailbox *Mailbox
	cleanup *CleanupTimer

	rx        RxHandler
	scheduler EventScheduler

	running atomic.Bool
}

// txMsg is what a transmit request carries through the dispatch queue.
type txMsg struct {
	req TxRequest
	ref BufferRef
}

func NewDriver(opts Options) (*Driver, error) {
	if opts.Radio == nil {
		return nil, errors.New("driver needs a radio")
	}

	var cfg = opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var d = &Driver{
		cfg:       cfg,
		logger:    opts.Logger,
		clock:     opts.Clock,
		rx:        opts.Rx,
		scheduler: opts.Scheduler,
	}
	if d.logger == nil {
		d.logger = discardLogger()
	}
	if d.clock == nil {
		d.clock = clock.RealClock{}
	}

	d.metrics = NewMetrics(opts.Registry)
	d.pool = NewPool(cfg.Pool.Buffers)
	d.engine = NewEngine(EngineOptions{
		Config:    cfg,
		Pool:      d.pool,
		Radio:     opts.Radio,
		Announcer: opts.Announcer,
		Clock:     d.clock,
		Logger:    d.logger.WithPrefix("engine"),
		Metrics:   d.metrics,
	})
	d.mailbox = NewMailbox(cfg.Dispatch.Capacity, d.clock)
	d.cleanup = NewCleanupTimer(d.clock, cfg.Cleanup.Interval, func() bool {
		return d.RequestDropSweep() == nil
	}, d.logger.WithPrefix("cleanup"))

	return d, nil
}

func (d *Driver) Engine() *Engine { return d.engine }

func (d *Driver) Pool() *Pool { return d.pool }

func (d *Driver) Mailbox() *Mailbox { return d.mailbox }

func (d *Driver) Metrics() *Metrics { return d.metrics }

func (d *Driver) Cleanup() *CleanupTimer { return d.cleanup }

// resolve picks the queue for a request.  Management frames for peers not
// yet added go to the interface's unknown-station queue.
func (d *Driver) resolve(req TxRequest, mgmt bool) (TxQueueID, error) {
	switch {
	case req.OffChannel:
		return d.engine.OffChannelQueue(), nil
	case req.Multicast:
		return d.engine.VifQueue(req.Vif, false)
	case req.Station == NoStation:
		return d.engine.VifQueue(req.Vif, true)
	}

	var tid = IfThenElse(mgmt, TIDMgmt, req.TID)
	var qid, err = d.engine.StationQueue(req.Station, tid)
	if err != nil && mgmt && errors.Is(err, ErrNotFound) {
		return d.engine.VifQueue(req.Vif, true)
	}
	return qid, err
}

// admitBuffer refuses new work while the pool is nearly empty.
func (d *Driver) admitBuffer() error {
	if d.pool.Available() < d.cfg.Pool.LowWatermark {
		return errors.Wrapf(ErrNoBuffer, "%d free", d.pool.Available())
	}
	return nil
}

// admitQueue refuses work for a queue that is out of credit and already long.
func (d *Driver) admitQueue(qid TxQueueID) error {
	var info, err = d.engine.QueueInfo(qid)
	if err != nil {
		return err
	}
	if info.Credits <= 0 && info.Len >= d.cfg.TxQueue.MaxQueued {
		return errors.Wrapf(ErrBackpressure, "%v holds %d with %d credits", qid, info.Len, info.Credits)
	}
	return nil
}

func (d *Driver) reject(err error) error {
	var reason string
	switch {
	case errors.Is(err, ErrNoBuffer):
		reason = reasonNoBuffer
	case errors.Is(err, ErrBackpressure):
		reason = reasonBackpressure
	case errors.Is(err, ErrNotFound):
		reason = reasonNotFound
	case errors.Is(err, ErrQueueFull):
		reason = reasonQueueFull
	default:
		return err
	}
	d.metrics.Rejected.WithLabelValues(reason).Inc()
	d.logger.Debug("transmit refused", "reason", reason, "err", err)
	return err
}

func (d *Driver) alloc(req TxRequest) (BufferRef, error) {
	if err := d.admitBuffer(); err != nil {
		return NilBuffer, err
	}
	var ref, err = d.pool.Alloc(req.Payload, req.TID)
	if err != nil {
		return NilBuffer, err
	}
	var b, _ = d.pool.Get(ref)
	b.Done, b.Context = req.Done, req.Context
	d.metrics.BuffersInUse.Set(float64(d.pool.InUse()))
	return ref, nil
}

func (d *Driver) free(ref BufferRef) {
	if err := d.pool.Free(ref); err != nil {
		d.logger.Error("cannot free buffer", "buf", ref, "err", err)
	}
	d.metrics.BuffersInUse.Set(float64(d.pool.InUse()))
}

// queue puts an owned buffer on qid and keeps the sweep going.
func (d *Driver) queue(qid TxQueueID, ref BufferRef) (EnqueueResult, error) {
	var res, err = d.engine.Enqueue(qid, ref, false)
	if err != nil {
		return res, err
	}
	d.cleanup.Arm()
	return res, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        Transmit
 *
 * Purpose:     Queue a frame whose destination is already known.
 *
 * Returns:	ErrNotFound for an unknown interface, station or traffic
 *		class, ErrNoBuffer when buffers are short, ErrBackpressure
 *		when the queue is out of credit and full.  Nothing is
 *		queued and the completion callback is not called.
 *
 * Description:	The worker is woken only when this frame made its queue
 *		schedulable.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) Transmit(req TxRequest) error {
	if !req.TID.Valid() {
		return d.reject(errors.Wrapf(ErrNotFound, "%v", req.TID))
	}
	var qid, err = d.resolve(req, false)
	if err != nil {
		return d.reject(err)
	}
	if err := d.admitQueue(qid); err != nil {
		return d.reject(err)
	}

	ref, err := d.alloc(req)
	if err != nil {
		return d.reject(err)
	}

	res, err := d.queue(qid, ref)
	if err != nil {
		d.free(ref)
		return d.reject(err)
	}
	if res == EnqueueNowSchedulable {
		d.Nudge()
	}
	return nil
}

// SendTxRequest passes a data frame to the worker for classification.
// If it cannot be posted within wait, the buffer is released and
// ErrQueueFull returned.
func (d *Driver) SendTxRequest(req TxRequest, wait time.Duration) error {
	return d.sendTx(MsgTxRequest, req, wait)
}

// SendMgmtTxRequest is SendTxRequest for management frames.
func (d *Driver) SendMgmtTxRequest(req TxRequest, wait time.Duration) error {
	return d.sendTx(MsgMgmtTxRequest, req, wait)
}

func (d *Driver) sendTx(kind MsgKind, req TxRequest, wait time.Duration) error {
	if kind == MsgMgmtTxRequest {
		req.TID = TIDMgmt
	}
	if !req.TID.Valid() {
		return d.reject(errors.Wrapf(ErrNotFound, "%v", req.TID))
	}

	var ref, err = d.alloc(req)
	if err != nil {
		return d.reject(err)
	}

	err = d.mailbox.TrySend(Message{Kind: kind, Len: len(req.Payload), Ptr: &txMsg{req: req, ref: ref}}, wait)
	if err != nil {
		d.free(ref)
		d.metrics.DispatchRejected.WithLabelValues(kind.String()).Inc()
		return d.reject(err)
	}
	return nil
}

// SendRxIndication posts a received frame for the worker.  Never blocks.
func (d *Driver) SendRxIndication(payload []byte) error {
	var err = d.mailbox.SendNoWait(Message{Kind: MsgRxIndication, Len: len(payload), Ptr: payload})
	if err != nil {
		d.metrics.DispatchRejected.WithLabelValues(MsgRxIndication.String()).Inc()
	}
	return err
}

/*-------------------------------------------------------------------
 *
 * Name:        SendIoctl
 *
 * Purpose:     Run a control command on the worker and wait for it.
 *
 * Inputs:	cmd, arg	- Passed to fn as Message.Arg and Message.Len.
 *
 *		fn		- Runs on the worker, serialized with all
 *				  transmit processing.
 *
 * Returns:	ErrQueueFull if it could not be posted within
 *		Dispatch.SendTimeout, or the context's error if the caller
 *		gave up waiting.  In that case fn may still run later.
 *
 *--------------------------------------------------------------------*/

func (d *Driver) SendIoctl(ctx context.Context, cmd int, arg int, fn func(Message)) error {
	var done = make(chan struct{}, 1)

	var err = d.mailbox.TrySend(Message{Kind: MsgIoctl, Arg: cmd, Len: arg, Done: done, Callback: fn}, d.cfg.Dispatch.SendTimeout)
	if err != nil {
		d.metrics.DispatchRejected.WithLabelValues(MsgIoctl.String()).Inc()
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSkip runs fn on the worker without a scheduling pass after it.
func (d *Driver) SendSkip(fn func(Message)) error {
	var err = d.mailbox.SendNoWait(Message{Kind: MsgSkip, Callback: fn})
	if err != nil {
		d.metrics.DispatchRejected.WithLabelValues(MsgSkip.String()).Inc()
	}
	return err
}

// RequestDropSweep asks the worker for a stale-frame sweep.  Never blocks.
func (d *Driver) RequestDropSweep() error {
	var err = d.mailbox.SendNoWait(Message{Kind: MsgDropSweep})
	if err != nil {
		d.metrics.DispatchRejected.WithLabelValues(MsgDropSweep.String()).Inc()
	}
	return err
}

// Nudge wakes the worker for a scheduling pass.  If messages are already
// waiting, the pass after them will do, and nothing is posted.
func (d *Driver) Nudge() {
	d.mailbox.SendIfEmpty(Message{Kind: MsgNudge})
}

// CreditUpdate applies a credit indication from the firmware.
func (d *Driver) CreditUpdate(sta StationID, tid TID, delta int) error {
	var dirty, err = d.engine.updateCredit(sta, tid, delta)
	if err != nil {
		d.logger.Warn("credit for unknown queue", "sta", sta, "tid", tid, "delta", delta)
		return err
	}
	if dirty {
		d.Nudge()
	}
	return nil
}

// QueueCreditUpdate is CreditUpdate for a queue without a station.
func (d *Driver) QueueCreditUpdate(qid TxQueueID, delta int) error {
	var dirty, err = d.engine.updateQueueCredit(qid, delta)
	if err != nil {
		return err
	}
	if dirty {
		d.Nudge()
	}
	return nil
}

// TxComplete is the radio reporting on a frame it was given.
func (d *Driver) TxComplete(ref BufferRef, status TxStatus) error {
	var res, err = d.engine.Complete(ref, status)
	d.metrics.BuffersInUse.Set(float64(d.pool.InUse()))
	if err != nil {
		d.logger.Warn("completion for unknown frame", "buf", ref, "status", status, "err", err)
		return err
	}
	if status == StatusRetry {
		d.cleanup.Arm()
	}
	if res == EnqueueNowSchedulable {
		d.Nudge()
	}
	return nil
}
