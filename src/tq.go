package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Transmit queues - hold frames until the radio will take them.
 *
 * Description:	There is one transmit queue for each (station, traffic
 *		class) pair, two for each interface (broadcast/multicast and
 *		frames for stations we don't know yet) and one off-channel
 *		queue for the whole device.
 *
 *		Producers call Enqueue and go on their way.  The worker
 *		later moves frames from eligible queues to the radio, as
 *		many as each queue's credit allows.  See hwq.go.
 *
 *		A queue is eligible when nothing stops it and it holds at
 *		least one frame.  Eligible queues, and only those, sit on
 *		the scheduling list of their hardware queue.
 *
 *		Frames being retransmitted go to the head of the line,
 *		right after any other retransmissions already waiting.
 *
 *		Just one lock for all queues.  It is held only for list and
 *		counter updates, never while talking to the radio or calling
 *		back into the owner of a frame.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

// TxQueueID names one queue.  The low bits index the engine's queue table,
// the high bits count how often that slot has been handed out, so an ID
// kept after its station or interface is removed no longer resolves.
type TxQueueID int32

// InactiveTxQueue is the identity of a queue slot not in use.
const InactiveTxQueue TxQueueID = -1

const (
	txqIndexBits = 16
	maxTxqs      = 1 << txqIndexBits
	txqGenMask   = 1<<(31-txqIndexBits) - 1
)

func makeTxQueueID(slot int32, gen uint32) TxQueueID {
	return TxQueueID(int32(gen&txqGenMask)<<txqIndexBits | slot)
}

// slot is the table index.  Only meaningful for IDs that are not InactiveTxQueue.
func (q TxQueueID) slot() int32 { return int32(q) & (maxTxqs - 1) }

func (q TxQueueID) String() string {
	if q < 0 {
		return "txq(-)"
	}
	return fmt.Sprintf("txq(%d.%d)", q.slot(), int32(q)>>txqIndexBits)
}

// StopReason is a set of independent reasons a queue must not be scheduled.
type StopReason uint16

const (
	StopCredits      StopReason = 1 << iota // Firmware credit exhausted.
	StopChanSwitch                          // Channel switch in progress.
	StopStationPS                           // Peer station asleep.
	StopVifPS                               // Our interface asleep.
	StopChanInactive                        // Interface channel context not active.
	StopReset                               // Device reset in progress.
	StopExtendedPS                          // Extended power save (TWT) window closed.
)

var stopReasonNames = []string{"credits", "chan_switch", "sta_ps", "vif_ps", "chan_inactive", "reset", "ext_ps"}

func (s StopReason) Has(r StopReason) bool { return s&r != 0 }

func (s StopReason) IsStopped() bool { return s != 0 }

func (s StopReason) String() string {
	if s == 0 {
		return "running"
	}
	var names []string
	for i, n := range stopReasonNames {
		if s&(1<<i) != 0 {
			names = append(names, n)
		}
	}
	if rest := s &^ (1<<len(stopReasonNames) - 1); rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint16(rest)))
	}
	return strings.Join(names, "|")
}

// EnqueueResult tells the caller whether the queue just became schedulable,
// so the worker is woken once per transition rather than once per frame.
type EnqueueResult uint8

const (
	EnqueueNowSchedulable     EnqueueResult = iota // Queue was attached by this call.
	EnqueueAlreadySchedulable                      // Queue was already attached.
	EnqueueStopped                                 // Frame held; queue is stopped.
)

func (r EnqueueResult) String() string {
	switch r {
	case EnqueueNowSchedulable:
		return "now-schedulable"
	case EnqueueAlreadySchedulable:
		return "already-schedulable"
	default:
		return "stopped"
	}
}

// TxQueue is one ordered holding area for frames.
type TxQueue struct {
	idx     TxQueueID // InactiveTxQueue while the slot is free.
	gen     uint32    // Bumped each time the slot is reused.
	tid     TID
	ac      AC
	psGroup PSGroup
	sta     *Station // nil for interface and off-channel queues
	vif     *Vif     // nil for the off-channel queue

	stop    StopReason
	linked  bool // On the scheduling list of hwqs[ac].
	credits int

	head, tail int32
	n          int
	nbRetry    int
	lastRetry  int32 // Last frame of the retry prefix, noSlot if none.

	hwPrev, hwNext TxQueueID
}

// TxQueueInfo is a snapshot of one queue.
type TxQueueInfo struct {
	ID      TxQueueID
	TID     TID
	AC      AC
	Len     int
	Retries int
	Credits int
	Stop    StopReason
	Linked  bool
}

// Frame is what the radio gets: the buffer handle plus what it needs to send it.
type Frame struct {
	Ref     BufferRef
	Payload []byte
	TID     TID
	AC      AC
	Queue   TxQueueID
	Station StationID
	Retry   bool
}

// Radio is the firmware side of the push path.
type Radio interface {
	// Push hands over one frame.  Completion comes back later through
	// Driver.TxComplete.  Must not call back into the engine synchronously.
	Push(f Frame)

	// Idle reports that the MAC is going to, or already in, idle state.
	Idle() bool
}

// TrafficAnnouncer learns when a sleeping station gains its first, or loses
// its last, buffered frame of a power-save group.  It must not call back
// into the engine.
type TrafficAnnouncer interface {
	AnnounceTraffic(sta StationID, group PSGroup, available bool)
}

// GroupTrafficAnnouncer is an optional extra for a TrafficAnnouncer.  It
// learns when broadcast/multicast frames start or stop waiting for the
// next DTIM beacon of an interface.
type GroupTrafficAnnouncer interface {
	AnnounceGroupTraffic(vif VifID, available bool)
}

type announcement struct {
	sta       StationID
	vif       VifID
	bcmc      bool // Group traffic of vif, sta unused.
	group     PSGroup
	available bool
}

type release struct {
	ref    BufferRef
	status TxStatus
	reason string
}

// Engine owns every transmit queue and hardware queue of one device.
type Engine struct {
	mu       sync.Mutex // The transmit lock.
	notifyMu sync.Mutex // Keeps announcements in the order they were made.

	cfg       *Config
	pool      *Pool
	radio     Radio
	announcer TrafficAnnouncer
	clock     clock.PassiveClock
	logger    *log.Logger
	metrics   *Metrics

	txqs     []TxQueue
	freeTxqs []int32
	hwqs     [NumACs]HwQueue
	offchan  TxQueueID

	vifs     map[VifID]*Vif
	stations map[StationID]*Station

	// Filled while locked, acted on by unlock.
	announcements []announcement
	released      []release
}

// EngineOptions are the collaborators of an Engine.  Nil Announcer, Clock,
// Logger and Metrics get harmless defaults.
type EngineOptions struct {
	Config    *Config
	Pool      *Pool
	Radio     Radio
	Announcer TrafficAnnouncer
	Clock     clock.PassiveClock
	Logger    *log.Logger
	Metrics   *Metrics
}

type nopAnnouncer struct{}

func (nopAnnouncer) AnnounceTraffic(StationID, PSGroup, bool) {}

// NewEngine creates the hardware queues and the off-channel queue.
func NewEngine(opts EngineOptions) *Engine {
	Assert(opts.Config != nil && opts.Pool != nil && opts.Radio != nil)

	var e = &Engine{
		cfg:       opts.Config,
		pool:      opts.Pool,
		radio:     opts.Radio,
		announcer: opts.Announcer,
		clock:     opts.Clock,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		vifs:      make(map[VifID]*Vif),
		stations:  make(map[StationID]*Station),
	}
	if e.announcer == nil {
		e.announcer = nopAnnouncer{}
	}
	if e.clock == nil {
		e.clock = clock.RealClock{}
	}
	if e.logger == nil {
		e.logger = discardLogger()
	}
	if e.metrics == nil {
		e.metrics = NewMetrics(nil)
	}

	for ac := range e.hwqs {
		e.hwqs[ac] = HwQueue{ac: AC(ac), head: InactiveTxQueue, tail: InactiveTxQueue}
	}

	// Nothing goes off channel until someone asks for it.
	e.mu.Lock()
	e.offchan = e.newTxqLocked(TIDMgmt, e.cfg.AC.OffChannel, nil, nil)
	e.at(e.offchan).stop |= StopChanInactive
	e.mu.Unlock()

	return e
}

// OffChannelQueue is the single off-channel queue.
func (e *Engine) OffChannelQueue() TxQueueID { return e.offchan }

// unlock releases the transmit lock and then delivers what was collected
// under it: traffic announcements first, then frame releases.
func (e *Engine) unlock() {
	var notes, rel = e.announcements, e.released
	e.announcements, e.released = nil, nil

	if len(notes) == 0 {
		e.mu.Unlock()
	} else {
		e.notifyMu.Lock()
		e.mu.Unlock()
		for _, n := range notes {
			if !n.bcmc {
				e.announcer.AnnounceTraffic(n.sta, n.group, n.available)
			} else if ga, ok := e.announcer.(GroupTrafficAnnouncer); ok {
				ga.AnnounceGroupTraffic(n.vif, n.available)
			}
		}
		e.notifyMu.Unlock()
	}

	for _, r := range rel {
		e.finish(r.ref, Owned, r.status, r.reason)
	}
}

// finish ends a buffer's life and tells its owner.
func (e *Engine) finish(ref BufferRef, from Ownership, status TxStatus, reason string) {
	var done, ctx, err = e.pool.release(ref, from)
	if err != nil {
		e.logger.Error("cannot release buffer", "buf", ref, "err", err)
		return
	}
	if reason != "" {
		e.metrics.Dropped.WithLabelValues(reason).Inc()
	}
	if done != nil {
		done(ref, status, ctx)
	}
}

// at is the queue behind an ID the engine itself holds.
func (e *Engine) at(qid TxQueueID) *TxQueue { return &e.txqs[qid.slot()] }

// txqLocked resolves an ID from outside.  The slot must be in use and
// still hold the queue the ID was issued for.
func (e *Engine) txqLocked(qid TxQueueID) (*TxQueue, error) {
	if qid < 0 || int(qid.slot()) >= len(e.txqs) || e.at(qid).idx != qid {
		return nil, errors.Wrapf(ErrNotFound, "%v", qid)
	}
	return e.at(qid), nil
}

/*-------------------------------------------------------------------
 *
 * Name:        Enqueue
 *
 * Purpose:     Add a frame to a transmit queue.
 *
 * Inputs:	qid	- Queue, already resolved by the caller.
 *
 *		ref	- Buffer owned by the caller.  Ownership passes to
 *			  the queue on success and stays with the caller on
 *			  error.
 *
 *		isRetry	- Frame is being retransmitted.  It goes after the
 *			  frames already being retransmitted, ahead of
 *			  everything else.
 *
 * Returns:	Whether this made the queue schedulable.  The caller should
 *		wake the worker only for EnqueueNowSchedulable.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) Enqueue(qid TxQueueID, ref BufferRef, isRetry bool) (EnqueueResult, error) {
	e.mu.Lock()
	defer e.unlock()

	return e.enqueueLocked(qid, ref, isRetry)
}

func (e *Engine) enqueueLocked(qid TxQueueID, ref BufferRef, isRetry bool) (EnqueueResult, error) {
	var q, err = e.txqLocked(qid)
	if err != nil {
		return EnqueueStopped, err
	}

	if err := e.pool.transition(ref, Owned, Queued); err != nil {
		return EnqueueStopped, err
	}

	var s = e.pool.slot(ref.idx)
	s.home = qid
	s.buf.Retry = isRetry
	if !isRetry || s.buf.Enqueued.IsZero() {
		s.buf.Enqueued = e.clock.Now()
	}

	e.linkLocked(q, ref.idx, isRetry)
	e.psQueuedLocked(q)

	var wasLinked = q.linked
	e.reevaluateLocked(q)

	if !q.linked {
		return EnqueueStopped, nil
	}
	e.hwqs[q.ac].dirty = true
	if wasLinked {
		return EnqueueAlreadySchedulable, nil
	}
	return EnqueueNowSchedulable, nil
}

/*-------------------------------------------------------------------
 *
 * Name:        DequeueBatch
 *
 * Purpose:     Take up to max frames from the front of a queue.
 *
 * Returns:	The frames, oldest first with retransmissions ahead of
 *		the rest, now owned by the caller.  Also whether the
 *		queue still holds anything.
 *
 * Description:	Credits are not touched here.  The scheduler accounts for
 *		what it pushes.  A queue emptied here leaves its scheduling
 *		list.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) DequeueBatch(qid TxQueueID, max int) ([]BufferRef, bool, error) {
	e.mu.Lock()
	defer e.unlock()

	var q, err = e.txqLocked(qid)
	if err != nil {
		return nil, false, err
	}

	var idxs, more = e.dequeueBatchLocked(q, max)
	var refs = make([]BufferRef, 0, len(idxs))
	for _, idx := range idxs {
		var ref = e.pool.ref(idx)
		Assert(e.pool.transition(ref, Queued, Owned) == nil)
		refs = append(refs, ref)
	}
	return refs, more, nil
}

func (e *Engine) dequeueBatchLocked(q *TxQueue, max int) ([]int32, bool) {
	var idxs []int32
	for len(idxs) < max && q.head != noSlot {
		var idx = q.head
		e.unlinkLocked(q, idx)
		e.psUnqueuedLocked(q)
		idxs = append(idxs, idx)
	}
	e.reevaluateLocked(q)
	return idxs, q.n > 0
}

// SetStopReason adds r to the queue's stop set, taking it off its
// scheduling list if it was there.
func (e *Engine) SetStopReason(qid TxQueueID, r StopReason) error {
	e.mu.Lock()
	defer e.unlock()

	var q, err = e.txqLocked(qid)
	if err != nil {
		return err
	}
	e.stopLocked(q, r)
	return nil
}

// ClearStopReason removes r from the queue's stop set.  Reports whether the
// queue went back on its scheduling list.
func (e *Engine) ClearStopReason(qid TxQueueID, r StopReason) (bool, error) {
	e.mu.Lock()
	defer e.unlock()

	var q, err = e.txqLocked(qid)
	if err != nil {
		return false, err
	}
	return e.startLocked(q, r), nil
}

func (e *Engine) stopLocked(q *TxQueue, r StopReason) {
	q.stop |= r
	e.reevaluateLocked(q)
}

func (e *Engine) startLocked(q *TxQueue, r StopReason) bool {
	var wasLinked = q.linked
	q.stop &^= r
	e.reevaluateLocked(q)
	if q.linked && !wasLinked {
		e.hwqs[q.ac].dirty = true
		return true
	}
	return false
}

/*-------------------------------------------------------------------
 *
 * Name:        DropOne
 *
 * Purpose:     Remove one queued frame and release it.
 *
 * Description:	The owner's completion callback sees StatusDropped.
 *		A sleeping station whose last buffered frame this was
 *		is announced as having nothing pending.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) DropOne(ref BufferRef) error {
	e.mu.Lock()
	defer e.unlock()

	return e.dropLocked(ref, StatusDropped, reasonExplicit)
}

func (e *Engine) dropLocked(ref BufferRef, status TxStatus, reason string) error {
	if st := e.pool.State(ref); st != Queued {
		return errors.Wrapf(ErrNotOwned, "drop %v while %v", ref, st)
	}

	var s = e.pool.slot(ref.idx)
	var q, err = e.txqLocked(s.home)
	Assert(err == nil)

	e.unlinkLocked(q, ref.idx)
	e.psUnqueuedLocked(q)
	e.reevaluateLocked(q)

	Assert(e.pool.transition(ref, Queued, Owned) == nil)
	e.released = append(e.released, release{ref: ref, status: status, reason: reason})
	return nil
}

/*-------------------------------------------------------------------
 *
 * Name:        UpdateCredit
 *
 * Purpose:     Apply a credit indication from the firmware.
 *
 * Inputs:	sta, tid	- Which queue.
 *
 *		delta		- Credits returned (positive) or withdrawn.
 *				  Below TxQueue.RetryDropBelow means the
 *				  block-ack session was torn down and the
 *				  frames waiting for retransmission may not
 *				  be sent again.  They are dropped first.
 *
 * Description:	A queue at or below zero credit is stopped.  Above zero
 *		it is started again and its hardware queue marked for
 *		processing.
 *
 *--------------------------------------------------------------------*/

func (e *Engine) UpdateCredit(sta StationID, tid TID, delta int) error {
	_, err := e.updateCredit(sta, tid, delta)
	return err
}

func (e *Engine) updateCredit(sta StationID, tid TID, delta int) (bool, error) {
	e.mu.Lock()
	defer e.unlock()

	var st, ok = e.stations[sta]
	if !ok {
		return false, errors.Wrapf(ErrNotFound, "station %d", sta)
	}
	if !tid.Valid() {
		return false, errors.Wrapf(ErrNotFound, "station %d %v", sta, tid)
	}
	var q, err = e.txqLocked(st.txqs[tid])
	if err != nil {
		return false, err
	}
	return e.updateCreditLocked(q, delta), nil
}

// UpdateQueueCredit is UpdateCredit for queues without a station.
func (e *Engine) UpdateQueueCredit(qid TxQueueID, delta int) error {
	_, err := e.updateQueueCredit(qid, delta)
	return err
}

func (e *Engine) updateQueueCredit(qid TxQueueID, delta int) (bool, error) {
	e.mu.Lock()
	defer e.unlock()

	var q, err = e.txqLocked(qid)
	if err != nil {
		return false, err
	}
	return e.updateCreditLocked(q, delta), nil
}

func (e *Engine) updateCreditLocked(q *TxQueue, delta int) bool {
	if delta < e.cfg.TxQueue.RetryDropBelow {
		for q.nbRetry > 0 {
			Assert(e.dropLocked(e.pool.ref(q.head), StatusDropped, reasonBATeardown) == nil)
		}
	}

	q.credits += delta
	if q.credits <= 0 {
		e.stopLocked(q, StopCredits)
		return false
	}

	e.startLocked(q, StopCredits)
	if q.linked {
		e.hwqs[q.ac].dirty = true
		return true
	}
	return false
}

// QueueInfo returns a snapshot of one queue.
func (e *Engine) QueueInfo(qid TxQueueID) (TxQueueInfo, error) {
	e.mu.Lock()
	defer e.unlock()

	var q, err = e.txqLocked(qid)
	if err != nil {
		return TxQueueInfo{}, err
	}
	return TxQueueInfo{
		ID:      q.idx,
		TID:     q.tid,
		AC:      q.ac,
		Len:     q.n,
		Retries: q.nbRetry,
		Credits: q.credits,
		Stop:    q.stop,
		Linked:  q.linked,
	}, nil
}

// Contents returns the frames of a queue in order, for inspection.
func (e *Engine) Contents(qid TxQueueID) ([]BufferRef, error) {
	e.mu.Lock()
	defer e.unlock()

	var q, err = e.txqLocked(qid)
	if err != nil {
		return nil, err
	}
	var refs = make([]BufferRef, 0, q.n)
	for idx := q.head; idx != noSlot; idx = e.pool.slot(idx).next {
		refs = append(refs, e.pool.ref(idx))
	}
	return refs, nil
}

/*
 * List plumbing.  All of it under the transmit lock.
 */

func (e *Engine) linkLocked(q *TxQueue, idx int32, isRetry bool) {
	var s = e.pool.slot(idx)

	if !isRetry {
		s.prev, s.next = q.tail, noSlot
		if q.tail == noSlot {
			q.head = idx
		} else {
			e.pool.slot(q.tail).next = idx
		}
		q.tail = idx
	} else {
		// Insert right after the retry prefix.
		var after = q.lastRetry
		var before = q.head
		if after != noSlot {
			before = e.pool.slot(after).next
		}
		s.prev, s.next = after, before
		if after == noSlot {
			q.head = idx
		} else {
			e.pool.slot(after).next = idx
		}
		if before == noSlot {
			q.tail = idx
		} else {
			e.pool.slot(before).prev = idx
		}
		q.lastRetry = idx
		q.nbRetry++
	}
	q.n++
}

func (e *Engine) unlinkLocked(q *TxQueue, idx int32) {
	var s = e.pool.slot(idx)

	// Retry is rewritten on every enqueue, so while linked it is exact.
	if s.buf.Retry {
		q.nbRetry--
		if q.lastRetry == idx {
			q.lastRetry = IfThenElse(q.nbRetry > 0, s.prev, noSlot)
		}
	}

	if s.prev == noSlot {
		q.head = s.next
	} else {
		e.pool.slot(s.prev).next = s.next
	}
	if s.next == noSlot {
		q.tail = s.prev
	} else {
		e.pool.slot(s.next).prev = s.prev
	}
	s.prev, s.next = noSlot, noSlot
	q.n--
	Assert(q.n >= 0)
}

// reevaluateLocked restores "linked iff running and non-empty".
func (e *Engine) reevaluateLocked(q *TxQueue) {
	var eligible = !q.stop.IsStopped() && q.n > 0
	switch {
	case eligible && !q.linked:
		e.hwqs[q.ac].attach(e, q)
	case !eligible && q.linked:
		e.hwqs[q.ac].detach(e, q)
	}
}

// rehomeLocked moves q to the scheduling list of another access category.
func (e *Engine) rehomeLocked(q *TxQueue, ac AC) {
	if q.linked {
		e.hwqs[q.ac].detach(e, q)
	}
	q.ac = ac
	e.reevaluateLocked(q)
}

// newTxqLocked takes a queue slot from the table.
func (e *Engine) newTxqLocked(tid TID, ac AC, sta *Station, vif *Vif) TxQueueID {
	var slot int32
	if n := len(e.freeTxqs); n > 0 {
		slot = e.freeTxqs[n-1]
		e.freeTxqs = e.freeTxqs[:n-1]
	} else {
		Assert(len(e.txqs) < maxTxqs)
		slot = int32(len(e.txqs))
		e.txqs = append(e.txqs, TxQueue{}) //nolint:exhaustruct
	}

	// Generation 0 is never issued, so a bare table index does not resolve.
	var gen = (e.txqs[slot].gen + 1) & txqGenMask
	if gen == 0 {
		gen = 1
	}
	var qid = makeTxQueueID(slot, gen)

	var group = PSLegacy
	if sta != nil && sta.UAPSD.Has(ac) {
		group = PSUAPSD
	}

	e.txqs[slot] = TxQueue{
		idx:       qid,
		gen:       gen,
		tid:       tid,
		ac:        ac,
		psGroup:   group,
		sta:       sta,
		vif:       vif,
		credits:   e.cfg.TxQueue.InitialCredits,
		head:      noSlot,
		tail:      noSlot,
		lastRetry: noSlot,
		hwPrev:    InactiveTxQueue,
		hwNext:    InactiveTxQueue,
	}
	return qid
}

// flushTxqLocked takes a queue off its scheduling list, drops everything
// in it and returns the slot to the table.
func (e *Engine) flushTxqLocked(qid TxQueueID) int {
	var q, err = e.txqLocked(qid)
	if err != nil {
		return 0
	}

	q.stop |= StopReset
	e.reevaluateLocked(q)
	Assert(!q.linked)

	var n = 0
	for q.head != noSlot {
		Assert(e.dropLocked(e.pool.ref(q.head), StatusDropped, reasonFlush) == nil)
		n++
	}

	q.idx = InactiveTxQueue
	q.sta, q.vif = nil, nil
	e.freeTxqs = append(e.freeTxqs, qid.slot())
	return n
}

// queuesOfVifLocked lists every active queue belonging to an interface.
func (e *Engine) queuesOfVifLocked(vif *Vif) []TxQueueID {
	var out = []TxQueueID{vif.bcmc, vif.unknown}
	for _, st := range vif.stations {
		out = append(out, st.txqs[:]...)
	}
	return out
}

// StopVif applies r to every queue of an interface.
func (e *Engine) StopVif(id VifID, r StopReason) error {
	e.mu.Lock()
	defer e.unlock()

	var vif, ok = e.vifs[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "vif %d", id)
	}
	for _, qid := range e.queuesOfVifLocked(vif) {
		e.stopLocked(e.at(qid), r)
	}
	return nil
}

// StartVif clears r on every queue of an interface.
func (e *Engine) StartVif(id VifID, r StopReason) error {
	e.mu.Lock()
	defer e.unlock()

	var vif, ok = e.vifs[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "vif %d", id)
	}
	for _, qid := range e.queuesOfVifLocked(vif) {
		e.startLocked(e.at(qid), r)
	}
	return nil
}

// StopAll applies r to every active queue, off-channel included.
func (e *Engine) StopAll(r StopReason) {
	e.mu.Lock()
	defer e.unlock()

	for i := range e.txqs {
		if e.txqs[i].idx != InactiveTxQueue {
			e.stopLocked(&e.txqs[i], r)
		}
	}
}

// StartAll clears r on every active queue.
func (e *Engine) StartAll(r StopReason) {
	e.mu.Lock()
	defer e.unlock()

	for i := range e.txqs {
		if e.txqs[i].idx != InactiveTxQueue {
			e.startLocked(&e.txqs[i], r)
		}
	}
}

// SetOffChannel opens or closes the off-channel queue, as for a
// remain-on-channel period.
func (e *Engine) SetOffChannel(active bool) {
	e.mu.Lock()
	defer e.unlock()

	var q = e.at(e.offchan)
	if active {
		e.startLocked(q, StopChanInactive)
	} else {
		e.stopLocked(q, StopChanInactive)
	}
}
