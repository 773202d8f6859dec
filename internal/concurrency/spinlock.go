// File: internal/concurrency/spinlock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-suspending mutual exclusion for short critical sections.

package concurrency

import (
	"runtime"
	"sync/atomic"
)

// spinsBeforeYield bounds busy iterations before handing the P back to the scheduler.
const spinsBeforeYield = 64

// Spinlock is a test-and-set lock. Holders must not block while holding it.
// The zero value is an unlocked, unnamed lock.
type Spinlock struct {
	locked atomic.Bool
	name   string
}

// NewSpinlock returns an unlocked spinlock carrying name for diagnostics.
func NewSpinlock(name string) *Spinlock {
	return &Spinlock{name: name}
}

// Init names an embedded spinlock. It must not be called while the lock is in use.
func (l *Spinlock) Init(name string) {
	l.name = name
	l.locked.Store(false)
}

// Lock spins until the lock is acquired.
func (l *Spinlock) Lock() {
	for spins := 0; !l.locked.CompareAndSwap(false, true); spins++ {
		if spins >= spinsBeforeYield {
			runtime.Gosched()
		}
	}
}

// TryLock acquires the lock if it is free and reports whether it did.
func (l *Spinlock) TryLock() bool {
	return l.locked.CompareAndSwap(false, true)
}

// Unlock releases the lock. Unlocking a free lock is a fatal usage error.
func (l *Spinlock) Unlock() {
	if !l.locked.CompareAndSwap(true, false) {
		panic("release: spinlock " + l.name + " not held")
	}
}

// Locked reports whether someone currently holds the lock.
func (l *Spinlock) Locked() bool {
	return l.locked.Load()
}

// Name returns the diagnostic name.
func (l *Spinlock) Name() string {
	return l.name
}
