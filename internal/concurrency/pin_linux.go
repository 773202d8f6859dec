//go:build linux
// +build linux

// File: internal/concurrency/pin_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux implementation of OS-thread CPU pinning via sched_setaffinity(2).

package concurrency

import (
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"
)

var (
	initialMaskOnce sync.Once
	initialMask     unix.CPUSet
	initialMaskErr  error
)

// processMask returns the affinity mask the process started with.
func processMask() (unix.CPUSet, error) {
	initialMaskOnce.Do(func() {
		initialMaskErr = unix.SchedGetaffinity(0, &initialMask)
	})
	return initialMask, initialMaskErr
}

// PinCurrentThread locks the calling goroutine to its OS thread and binds that
// thread to cpuID. On failure the goroutine is unlocked again.
func PinCurrentThread(cpuID int) error {
	if cpuID < 0 {
		return fmt.Errorf("pin: cpu %d: %w", cpuID, ErrInvalidCPU)
	}
	if _, err := processMask(); err != nil {
		return fmt.Errorf("pin: sched_getaffinity: %w", err)
	}
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpuID)
	if err := unix.SchedSetaffinity(0, &set); err != nil {
		runtime.UnlockOSThread()
		return fmt.Errorf("pin: sched_setaffinity cpu %d: %w", cpuID, err)
	}
	return nil
}

// UnpinCurrentThread restores the process mask and unlocks the OS thread.
func UnpinCurrentThread() error {
	defer runtime.UnlockOSThread()
	mask, err := processMask()
	if err != nil {
		return err
	}
	return unix.SchedSetaffinity(0, &mask)
}

// AvailableCPUs returns the number of CPUs in the process affinity mask.
func AvailableCPUs() int {
	mask, err := processMask()
	if err != nil || mask.Count() == 0 {
		return runtime.NumCPU()
	}
	return mask.Count()
}
