// File: pool/kmem.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-CPU free lists of physical pages with cross-CPU stealing.

package pool

import (
	"encoding/binary"
	"fmt"
	"log"
	"strconv"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/kmemcore/api"
	"github.com/momentics/kmemcore/internal/concurrency"
)

// Junk patterns written over whole pages.
const (
	FreeJunk  byte = 0x01 // on Free: dangling readers see garbage
	AllocJunk byte = 0x05 // on Alloc: callers must not rely on zeroed pages
)

// ErrNoMemory reports that every per-CPU free list is empty.
var ErrNoMemory = fmt.Errorf("pool: out of physical pages: %w", api.ErrResourceExhausted)

// kmem is one CPU's free list. Entries are padded apart so that CPUs
// hammering their own lists do not share cache lines.
type kmem struct {
	lock  concurrency.Spinlock
	head  PA
	nfree int64
	_     cpu.CacheLinePad
}

// PageAllocator hands out whole pages of the arena.
type PageAllocator struct {
	arena *arena
	kmems []kmem
	stats pageCounters
	debug atomic.Bool
}

// NewPageAllocator reserves the arena and distributes its pages round-robin
// over cfg.NCPU free lists.
func NewPageAllocator(cfg ArenaConfig) (*PageAllocator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ar, err := newArena(cfg)
	if err != nil {
		return nil, err
	}
	a := &PageAllocator{
		arena: ar,
		kmems: make([]kmem, cfg.NCPU),
		stats: newPageCounters(),
	}
	for i := range a.kmems {
		a.kmems[i].lock.Init("kmem_" + strconv.Itoa(i))
	}
	a.freerange()
	logf("arena [%#x, %#x): %d pages of %d bytes over %d cpus",
		uintptr(ar.base), uintptr(ar.limit), ar.pages(), ar.pgsize, cfg.NCPU)
	return a, nil
}

// freerange seeds the free lists without a CPU context.
func (a *PageAllocator) freerange() {
	id := 0
	for pa := a.arena.base; pa+PA(a.arena.pgsize) <= a.arena.limit; pa += PA(a.arena.pgsize) {
		fill(a.arena.page(pa), FreeJunk)
		a.push(id, pa)
		id = (id + 1) % len(a.kmems)
	}
}

// Free returns pa to the current CPU's list. Freeing a misaligned or foreign
// address is fatal.
func (a *PageAllocator) Free(c api.CPUContext, pa PA) {
	if !a.arena.contains(pa) {
		fatalf("kfree: bad page %#x", uintptr(pa))
	}
	fill(a.arena.page(pa), FreeJunk)

	c.PushOff()
	id := a.cpuID(c)
	a.push(id, pa)
	c.PopOff()

	a.stats.frees.Inc()
}

// Alloc takes a page from the current CPU's list, stealing from the other
// CPUs in index order when it is empty. ErrNoMemory is returned when no CPU
// has a free page; the caller decides how to recover.
func (a *PageAllocator) Alloc(c api.CPUContext) (PA, error) {
	c.PushOff()
	defer c.PopOff()

	id := a.cpuID(c)
	pa := a.pop(id)
	if pa == 0 {
		for i := range a.kmems {
			if i == id {
				continue
			}
			if pa = a.pop(i); pa != 0 {
				a.stats.steals.Inc()
				if a.debug.Load() {
					logf("cpu %d stole page %#x from cpu %d", id, uintptr(pa), i)
				}
				break
			}
		}
	}
	if pa == 0 {
		a.stats.failures.Inc()
		return 0, ErrNoMemory
	}
	fill(a.arena.page(pa), AllocJunk)
	a.stats.allocs.Inc()
	return pa, nil
}

// Page returns the bytes of an allocated page. The slice is only valid
// until the page is freed.
func (a *PageAllocator) Page(pa PA) []byte {
	if !a.arena.contains(pa) {
		fatalf("page: bad address %#x", uintptr(pa))
	}
	return a.arena.page(pa)
}

// FreeCount returns the number of pages on cpu's list.
func (a *PageAllocator) FreeCount(cpu int) int {
	if cpu < 0 || cpu >= len(a.kmems) {
		fatalf("freecount: cpu %d out of range [0, %d)", cpu, len(a.kmems))
	}
	k := &a.kmems[cpu]
	k.lock.Lock()
	n := k.nfree
	k.lock.Unlock()
	return int(n)
}

// TotalPages returns the arena size in pages.
func (a *PageAllocator) TotalPages() int {
	return a.arena.pages()
}

// NCPU returns the number of free lists.
func (a *PageAllocator) NCPU() int {
	return len(a.kmems)
}

// SetDebug toggles per-operation tracing.
func (a *PageAllocator) SetDebug(on bool) {
	a.debug.Store(on)
}

// Close unmaps the arena. It exists for hosted use such as tests; pages must
// not be touched afterwards.
func (a *PageAllocator) Close() error {
	return a.arena.close()
}

func (a *PageAllocator) cpuID(c api.CPUContext) int {
	id := c.ID()
	if id < 0 || id >= len(a.kmems) {
		fatalf("kalloc: cpu %d out of range [0, %d)", id, len(a.kmems))
	}
	return id
}

// push links pa at the head of cpu id's list.
func (a *PageAllocator) push(id int, pa PA) {
	k := &a.kmems[id]
	k.lock.Lock()
	setNext(a.arena.page(pa), k.head)
	k.head = pa
	k.nfree++
	k.lock.Unlock()
}

// pop unlinks the head of cpu id's list, or returns 0.
func (a *PageAllocator) pop(id int) PA {
	k := &a.kmems[id]
	k.lock.Lock()
	pa := k.head
	if pa != 0 {
		k.head = next(a.arena.page(pa))
		k.nfree--
	}
	k.lock.Unlock()
	return pa
}

// The first machine word of a free page links to the next free page.
func setNext(page []byte, n PA) {
	binary.LittleEndian.PutUint64(page[:linkSize], uint64(n))
}

func next(page []byte) PA {
	return PA(binary.LittleEndian.Uint64(page[:linkSize]))
}

func fill(page []byte, b byte) {
	for i := range page {
		page[i] = b
	}
}

func logf(format string, args ...any) {
	log.Printf("[pool] "+format, args...)
}

func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[pool] fatal: %s", msg)
	panic(msg)
}
