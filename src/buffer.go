package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Transmit buffers and the pool they live in.
 *
 * Description:	A buffer is one outgoing frame plus the bookkeeping the
 *		transmit queues need.  Buffers are never handed around by
 *		pointer.  Producers get a BufferRef from the pool and pass
 *		that along; the pool remembers who currently owns each slot.
 *
 *		Ownership moves producer -> transmit queue -> radio and
 *		ends with exactly one release.  A released slot bumps its
 *		generation so any old reference to it is refused instead of
 *		freeing somebody else's frame.
 *
 *		The list links used by the transmit queues live in the slot
 *		too.  They are only touched while holding the transmit lock.
 *
 *---------------------------------------------------------------*/

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Ownership is the state of one pool slot.
type Ownership uint8

const (
	Freed       Ownership = iota // Slot idle, no live buffer.
	Owned                        // Held by a producer or the worker, not linked anywhere.
	Queued                       // Linked into exactly one transmit queue.
	Transferred                  // Pushed to the radio, waiting for completion.
)

func (o Ownership) String() string {
	switch o {
	case Freed:
		return "freed"
	case Owned:
		return "owned"
	case Queued:
		return "queued"
	case Transferred:
		return "transferred"
	default:
		return fmt.Sprintf("ownership(%d)", uint8(o))
	}
}

// TxStatus is reported to a buffer's completion callback.
type TxStatus uint8

const (
	StatusOK      TxStatus = iota // Radio confirmed transmission.
	StatusFailed                  // Radio gave up, or retry budget exhausted.
	StatusRetry                   // Radio wants it again.  Never reaches a callback.
	StatusDropped                 // Removed by drop, flush or block-ack teardown.
	StatusStale                   // Evicted by the cleanup sweep.
)

func (s TxStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusFailed:
		return "failed"
	case StatusRetry:
		return "retry"
	case StatusDropped:
		return "dropped"
	case StatusStale:
		return "stale"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// CompletionFunc is called once, after the buffer has left every queue,
// with the Context given at allocation.
type CompletionFunc func(ref BufferRef, status TxStatus, ctx any)

// BufferRef names one pool slot at one generation.
type BufferRef struct {
	idx int32
	gen uint32
}

// NilBuffer never names a live buffer.
var NilBuffer = BufferRef{idx: -1}

func (r BufferRef) IsNil() bool { return r.idx < 0 }

func (r BufferRef) String() string {
	if r.IsNil() {
		return "buf(nil)"
	}
	return fmt.Sprintf("buf(%d.%d)", r.idx, r.gen)
}

// Buffer is the payload and transmit metadata of one frame.
type Buffer struct {
	Payload  []byte
	TID      TID
	Enqueued time.Time // Set each time it is linked into a queue.
	Retry    bool      // Currently part of a retry prefix.
	Retries  int       // Number of times the radio asked for it again.
	Done     CompletionFunc
	Context  any
}

const noSlot int32 = -1

type slot struct {
	buf   Buffer
	gen   uint32
	state Ownership

	// Protected by the transmit lock, not the pool lock.
	home       TxQueueID // Queue it was last enqueued on.
	prev, next int32
}

// Pool is a fixed set of buffer slots.
type Pool struct {
	mu    sync.Mutex
	slots []slot
	free  []int32

	allocs uint64
	frees  uint64
}

// NewPool makes a pool of n slots.
func NewPool(n int) *Pool {
	Assert(n > 0)

	var p = &Pool{
		slots: make([]slot, n),
		free:  make([]int32, 0, n),
	}
	// Hand out low indices first, it makes traces easier to read.
	for i := n - 1; i >= 0; i-- {
		p.slots[i].home = InactiveTxQueue
		p.slots[i].prev = noSlot
		p.slots[i].next = noSlot
		p.free = append(p.free, int32(i))
	}
	return p
}

// Alloc takes a free slot for payload.  The caller owns the result.
func (p *Pool) Alloc(payload []byte, tid TID) (BufferRef, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) == 0 {
		return NilBuffer, ErrNoBuffer
	}

	var idx = p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]

	var s = &p.slots[idx]
	Assert(s.state == Freed)
	s.buf = Buffer{Payload: payload, TID: tid}
	s.state = Owned
	s.home = InactiveTxQueue
	s.prev = noSlot
	s.next = noSlot
	p.allocs++

	return BufferRef{idx: idx, gen: s.gen}, nil
}

// Free releases a buffer the caller owns.  Queued or transferred buffers
// belong to someone else and are refused.
func (p *Pool) Free(ref BufferRef) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s, err = p.lookupLocked(ref)
	if err != nil {
		return err
	}
	if s.state != Owned {
		return errors.Wrapf(ErrNotOwned, "free %v while %v", ref, s.state)
	}
	p.releaseLocked(ref.idx, s)
	return nil
}

// Get returns the buffer behind ref.  The pointer is only meaningful to
// whoever currently owns the buffer.
func (p *Pool) Get(ref BufferRef) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s, err = p.lookupLocked(ref)
	if err != nil {
		return nil, err
	}
	return &s.buf, nil
}

// State reports the ownership of ref.  Stale references read as Freed.
func (p *Pool) State(ref BufferRef) Ownership {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s, err = p.lookupLocked(ref)
	if err != nil {
		return Freed
	}
	return s.state
}

// Available is the number of free slots.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// InUse is the number of live buffers.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots) - len(p.free)
}

// Counters returns the lifetime number of allocations and releases.
func (p *Pool) Counters() (allocs, frees uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs, p.frees
}

// transition moves ref from one ownership state to another.
func (p *Pool) transition(ref BufferRef, from, to Ownership) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s, err = p.lookupLocked(ref)
	if err != nil {
		return err
	}
	if s.state != from {
		return errors.Wrapf(ErrNotOwned, "%v is %v, want %v", ref, s.state, from)
	}
	s.state = to
	return nil
}

// release ends the life of a buffer in state from, returning what the
// completion callback needs.
func (p *Pool) release(ref BufferRef, from Ownership) (CompletionFunc, any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var s, err = p.lookupLocked(ref)
	if err != nil {
		return nil, nil, err
	}
	if s.state != from {
		return nil, nil, errors.Wrapf(ErrNotOwned, "release %v while %v, want %v", ref, s.state, from)
	}
	var done, ctx = s.buf.Done, s.buf.Context
	p.releaseLocked(ref.idx, s)
	return done, ctx, nil
}

func (p *Pool) lookupLocked(ref BufferRef) (*slot, error) {
	if ref.idx < 0 || int(ref.idx) >= len(p.slots) {
		return nil, errors.Wrapf(ErrStaleBuffer, "%v out of range", ref)
	}
	var s = &p.slots[ref.idx]
	if s.gen != ref.gen || s.state == Freed {
		return nil, errors.Wrapf(ErrStaleBuffer, "%v", ref)
	}
	return s, nil
}

func (p *Pool) releaseLocked(idx int32, s *slot) {
	s.buf = Buffer{}
	s.state = Freed
	s.gen++
	s.home = InactiveTxQueue
	s.prev = noSlot
	s.next = noSlot
	p.free = append(p.free, idx)
	p.frees++
}

// slot gives the transmit engine direct access to list links.
// Caller holds the transmit lock and has already validated ref.
func (p *Pool) slot(idx int32) *slot {
	return &p.slots[idx]
}

// ref rebuilds the current reference for a linked slot.
func (p *Pool) ref(idx int32) BufferRef {
	return BufferRef{idx: idx, gen: p.slots[idx].gen}
}
