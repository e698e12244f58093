package wlantx

import (
	"fmt"
	"runtime"
	"time"
)

// Because sometimes it's really convenient to have C's ternary ?:
func IfThenElse[T any](x bool, a T, b T) T { //nolint:ireturn
	if x {
		return a
	}
	return b
}

// Can't be "assert" because of conflicts with stretchr/testify/assert, but otherwise, it's compatible enough
func Assert(t bool) {
	if !t {
		_, file, line, _ := runtime.Caller(1)
		panic(fmt.Sprintf("Assertion failed at %s:%d", file, line))
	}
}

// TU is the 802.11 time unit, 1024 microseconds.  Beacon intervals are given in it.
const TU = 1024 * time.Microsecond

// TUs converts a count of time units to a Duration.
func TUs(n int) time.Duration {
	return time.Duration(n) * TU
}
