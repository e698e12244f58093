//go:build !linux

package wlantx

import (
	"runtime"

	"github.com/pkg/errors"
)

func pinThread(cpu int) error {
	return errors.Errorf("cannot pin to cpu %d on %s", cpu, runtime.GOOS)
}

func onlineCPUs() (int, error) {
	return runtime.NumCPU(), nil
}
