//go:build linux

package wlantx

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// pinThread restricts the calling OS thread to one CPU.  The caller must
// already have locked the goroutine to its thread.
func pinThread(cpu int) error {
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)

	// Thread id, not pid: only the worker's thread is moved.
	if err := unix.SchedSetaffinity(unix.Gettid(), &set); err != nil {
		return errors.Wrapf(err, "pin to cpu %d", cpu)
	}
	return nil
}

// onlineCPUs is the number of CPUs this process may run on.
func onlineCPUs() (int, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(0, &set); err != nil {
		return 0, errors.Wrap(err, "sched_getaffinity")
	}
	return set.Count(), nil
}
