// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Locking and CPU-placement primitives shared by the buffer cache and the
// page allocator: a test-and-set Spinlock for short critical sections, a
// token-owned SleepLock whose acquisition may suspend, and OS-thread pinning
// used to back per-CPU execution contexts.
package concurrency
