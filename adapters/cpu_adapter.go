// File: adapters/cpu_adapter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
// Description:
//   Adapter implementing api.CPUContext on top of internal concurrency
//   primitives for OS-thread pinning.
//
// Package adapters provides glue code between the core API contracts
// and the internal implementation.

package adapters

import (
	"log"
	"runtime"

	"github.com/momentics/kmemcore/api"
	"github.com/momentics/kmemcore/internal/concurrency"
)

// CPUAdapter is the execution context of one kernel thread. It is owned by a
// single goroutine and must not be shared.
//
// The outermost PushOff locks the goroutine to its OS thread and, when
// pinning is enabled, binds that thread to the matching host CPU. ID is
// stable until the matching outermost PopOff.
type CPUAdapter struct {
	cpu    int
	noff   int
	pin    bool
	pinned bool
}

var _ api.CPUContext = (*CPUAdapter)(nil)

var pinThread = concurrency.PinCurrentThread

// NewCPUAdapter creates a context that runs on cpuID.
func NewCPUAdapter(cpuID int, pin bool) *CPUAdapter {
	if cpuID < 0 {
		panic("cpu: negative cpu id")
	}
	return &CPUAdapter{cpu: cpuID, pin: pin}
}

// PushOff disables preemption. Calls nest.
func (a *CPUAdapter) PushOff() {
	if a.noff == 0 {
		if a.pin {
			if err := pinThread(concurrency.CPUIndex(a.cpu)); err != nil {
				// Stay unpinned for the adapter's lifetime.
				log.Printf("[cpu] pin cpu %d failed, running unpinned: %v", a.cpu, err)
				a.pin = false
				runtime.LockOSThread()
			} else {
				a.pinned = true
			}
		} else {
			runtime.LockOSThread()
		}
	}
	a.noff++
}

// PopOff undoes one PushOff; the outermost call re-enables preemption.
func (a *CPUAdapter) PopOff() {
	if a.noff < 1 {
		panic("pop_off: unbalanced")
	}
	a.noff--
	if a.noff > 0 {
		return
	}
	if a.pinned {
		a.pinned = false
		if err := concurrency.UnpinCurrentThread(); err != nil {
			log.Printf("[cpu] unpin cpu %d failed: %v", a.cpu, err)
		}
		return
	}
	runtime.UnlockOSThread()
}

// ID returns the current CPU index. Preemption must be disabled.
func (a *CPUAdapter) ID() int {
	if a.noff == 0 {
		panic("cpuid: preemption enabled")
	}
	return a.cpu
}

// Migrate moves the thread to another CPU. Preemption must be enabled.
func (a *CPUAdapter) Migrate(cpuID int) {
	if a.noff != 0 {
		panic("migrate: preemption disabled")
	}
	if cpuID < 0 {
		panic("cpu: negative cpu id")
	}
	a.cpu = cpuID
}

// Depth returns the PushOff nesting depth.
func (a *CPUAdapter) Depth() int {
	return a.noff
}
