//go:build !linux
// +build !linux

// File: internal/concurrency/pin.go
// Author: momentics <momentics@gmail.com>
//
// Fallback for platforms without thread affinity support.

package concurrency

import "runtime"

// PinCurrentThread is unsupported here; the goroutine is left unlocked.
func PinCurrentThread(cpuID int) error {
	return ErrAffinityNotSupported
}

// UnpinCurrentThread is a no-op here.
func UnpinCurrentThread() error { return nil }

// AvailableCPUs returns the number of logical CPUs.
func AvailableCPUs() int { return runtime.NumCPU() }
