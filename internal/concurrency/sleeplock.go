// File: internal/concurrency/sleeplock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Suspending mutual exclusion with FIFO hand-off and holder tracking.

package concurrency

import (
	"sync/atomic"

	"github.com/eapache/queue"
)

var tokenSeq atomic.Uint64

// NewToken returns a process-unique, non-zero identity for one lock tenure.
func NewToken() uint64 {
	return tokenSeq.Add(1)
}

type sleeper struct {
	token uint64
	ready chan struct{}
}

// SleepLock is held by a token rather than by a goroutine, so ownership can be
// checked by whoever presents the token. Waiters are served in arrival order;
// Release hands the lock directly to the oldest waiter.
type SleepLock struct {
	lk      Spinlock
	holder  uint64
	waiters *queue.Queue
	name    string
}

// NewSleepLock returns a free sleep-lock.
func NewSleepLock(name string) *SleepLock {
	l := &SleepLock{}
	l.Init(name)
	return l
}

// Init prepares an embedded sleep-lock.
func (l *SleepLock) Init(name string) {
	l.name = name
	l.lk.Init("sleep lock")
	l.holder = 0
	l.waiters = queue.New()
}

// Acquire blocks until token holds the lock.
func (l *SleepLock) Acquire(token uint64) {
	if token == 0 {
		panic("acquiresleep: zero token")
	}
	l.lk.Lock()
	if l.holder == 0 {
		l.holder = token
		l.lk.Unlock()
		return
	}
	if l.holder == token {
		l.lk.Unlock()
		panic("acquiresleep: " + l.name + " already held by caller")
	}
	s := &sleeper{token: token, ready: make(chan struct{})}
	l.waiters.Add(s)
	l.lk.Unlock()
	<-s.ready
}

// Release gives up the lock held by token.
func (l *SleepLock) Release(token uint64) {
	l.lk.Lock()
	if token == 0 || l.holder != token {
		l.lk.Unlock()
		panic("releasesleep: " + l.name + " not held by caller")
	}
	if l.waiters.Length() == 0 {
		l.holder = 0
		l.lk.Unlock()
		return
	}
	next := l.waiters.Remove().(*sleeper)
	l.holder = next.token
	l.lk.Unlock()
	close(next.ready)
}

// Holding reports whether token currently holds the lock.
func (l *SleepLock) Holding(token uint64) bool {
	l.lk.Lock()
	held := token != 0 && l.holder == token
	l.lk.Unlock()
	return held
}

// Waiters returns the number of suspended acquirers.
func (l *SleepLock) Waiters() int {
	l.lk.Lock()
	n := l.waiters.Length()
	l.lk.Unlock()
	return n
}

// Name returns the diagnostic name.
func (l *SleepLock) Name() string {
	return l.name
}
