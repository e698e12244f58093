package wlantx

import (
	"github.com/pkg/errors"
)

// Nothing in the transmit path is fatal.  Every failure is one of these,
// logged and counted where it happens, and handed back to the caller as
// the status of that one operation.

var (
	// ErrQueueFull means the dispatch queue had no room before the wait budget ran out.
	ErrQueueFull = errors.New("dispatch queue full")

	// ErrNoBuffer means the buffer pool is exhausted or below its low watermark.
	ErrNoBuffer = errors.New("no transmit buffer available")

	// ErrBackpressure means the target queue is out of credits and already holds too much.
	ErrBackpressure = errors.New("transmit queue backpressure")

	// ErrNotFound covers unknown stations, interfaces, traffic classes and inactive queues.
	ErrNotFound = errors.New("not found")

	// ErrStaleBuffer means a BufferRef no longer names a live buffer.
	ErrStaleBuffer = errors.New("stale buffer reference")

	// ErrNotOwned means the buffer is not in the ownership state the operation requires.
	ErrNotOwned = errors.New("buffer not owned by caller")

	// ErrExists is returned when adding a station or interface twice.
	ErrExists = errors.New("already exists")

	// ErrInvalid means an argument is out of range, such as an access point without a beacon interval.
	ErrInvalid = errors.New("invalid argument")
)
