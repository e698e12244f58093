package wlantx

/*------------------------------------------------------------------
 *
 * Purpose:	Dispatch queue - everything the worker has to do.
 *
 * Description:	Interrupt handlers, API callers and timers all post
 *		messages here and one worker takes them off in order.
 *		That keeps the transmit path single threaded where it
 *		matters without making the producers wait for it.
 *
 *		The queue is bounded.  A producer that finds it full may
 *		give up immediately, which is what interrupt context needs,
 *		or wait a little while for room.
 *
 *		A message can carry a completion semaphore.  The worker
 *		signals it once the message has been handled, so a caller
 *		can post a command and wait for the result.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"
)

type MsgKind uint8

const (
	MsgRxIndication  MsgKind = iota // Received frame for the upper layers.
	MsgTxRequest                    // Data frame to classify and queue.
	MsgMgmtTxRequest                // Management frame to classify and queue.
	MsgIoctl                        // Control command run on the worker.
	MsgDropSweep                    // Cleanup timer expired.
	MsgNudge                        // Something became schedulable.
	MsgSkip                         // Handled, but no scheduling pass after it.
)

var msgKindNames = []string{"rx", "tx", "mgmt_tx", "ioctl", "drop_sweep", "nudge", "skip"}

func (k MsgKind) String() string {
	if int(k) < len(msgKindNames) {
		return msgKindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Message is one unit of work for the worker.
type Message struct {
	Kind     MsgKind
	Arg      int
	Len      int
	Done     chan<- struct{} // Signalled once handled, if not nil.
	Callback func(Message)   // Run on the worker, for MsgIoctl.
	Ptr      any
}

// signal releases a waiter on Done.  Never blocks the worker.
func (m Message) signal() {
	if m.Done == nil {
		return
	}
	select {
	case m.Done <- struct{}{}:
	default:
	}
}

// Mailbox is a bounded FIFO of messages with a single consumer.
type Mailbox struct {
	mu       sync.Mutex
	q        *queue.Queue
	capacity int
	clock    clock.Clock

	// One token each.  A woken party passes the token on if there is
	// still something for the next one.
	notEmpty chan struct{}
	notFull  chan struct{}
}

func NewMailbox(capacity int, c clock.Clock) *Mailbox {
	Assert(capacity > 0)

	if c == nil {
		c = clock.RealClock{}
	}
	return &Mailbox{
		q:        queue.New(),
		capacity: capacity,
		clock:    c,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// put adds m if there is room.
func (mb *Mailbox) put(m Message, onlyIfEmpty bool) bool {
	mb.mu.Lock()
	var n = mb.q.Length()
	if n >= mb.capacity || (onlyIfEmpty && n > 0) {
		mb.mu.Unlock()
		return false
	}
	mb.q.Add(m)
	var room = n+1 < mb.capacity
	mb.mu.Unlock()

	wake(mb.notEmpty)
	if room {
		wake(mb.notFull)
	}
	return true
}

/*-------------------------------------------------------------------
 *
 * Name:        TrySend
 *
 * Purpose:     Post a message to the worker.
 *
 * Inputs:	m	- The message.
 *
 *		wait	- How long to wait for room.  Zero gives up at
 *			  once and is safe where blocking is not.
 *
 * Returns:	ErrQueueFull if there was no room in time.  The message
 *		was not taken and anything it carries is still the
 *		caller's.
 *
 *--------------------------------------------------------------------*/

func (mb *Mailbox) TrySend(m Message, wait time.Duration) error {
	if mb.put(m, false) {
		return nil
	}
	if wait <= 0 {
		return errors.Wrapf(ErrQueueFull, "%v", m.Kind)
	}

	var timer = mb.clock.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-mb.notFull:
			if mb.put(m, false) {
				return nil
			}
		case <-timer.C():
			if mb.put(m, false) {
				return nil
			}
			return errors.Wrapf(ErrQueueFull, "%v after %v", m.Kind, wait)
		}
	}
}

// SendNoWait is TrySend without waiting.
func (mb *Mailbox) SendNoWait(m Message) error {
	return mb.TrySend(m, 0)
}

// SendIfEmpty posts m only when nothing else is waiting.  Anything already
// queued will lead to a scheduling pass anyway, so a nudge would add nothing.
func (mb *Mailbox) SendIfEmpty(m Message) bool {
	return mb.put(m, true)
}

// Receive takes the oldest message, waiting for one if need be.
func (mb *Mailbox) Receive(ctx context.Context) (Message, error) {
	for {
		if m, ok := mb.TryReceive(); ok {
			return m, nil
		}
		select {
		case <-ctx.Done():
			return Message{}, ctx.Err()
		case <-mb.notEmpty:
		}
	}
}

// TryReceive takes the oldest message if there is one.
func (mb *Mailbox) TryReceive() (Message, bool) {
	mb.mu.Lock()
	if mb.q.Length() == 0 {
		mb.mu.Unlock()
		return Message{}, false
	}
	var m = mb.q.Remove().(Message) //nolint:forcetypeassert
	var more = mb.q.Length() > 0
	mb.mu.Unlock()

	wake(mb.notFull)
	if more {
		wake(mb.notEmpty)
	}
	return m, true
}

// Len is the number of messages waiting.
func (mb *Mailbox) Len() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return mb.q.Length()
}

func (mb *Mailbox) Cap() int { return mb.capacity }
