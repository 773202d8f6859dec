// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Boot-time arena geometry and backing memory.

package pool

import (
	"fmt"

	"github.com/momentics/kmemcore/api"
)

// PA is a physical address inside the arena. Zero is never a valid page.
type PA uintptr

// linkSize is the width of the free-list link stored at the start of a free page.
const linkSize = 8

// ArenaConfig carries the boot constants of the managed region.
type ArenaConfig struct {
	End      PA   // first address after the kernel image
	PhysTop  PA   // top of usable physical memory (exclusive)
	PageSize int  // bytes per page, power of two
	NCPU     int  // number of per-CPU free lists
	UseMmap  bool // back the arena with an anonymous mapping instead of the Go heap
	Huge     bool // try huge pages first when mapping
}

// Validate checks geometry before any memory is reserved.
func (c ArenaConfig) Validate() error {
	if c.PageSize < linkSize || c.PageSize&(c.PageSize-1) != 0 {
		return api.NewError(api.ErrCodeInvalidArgument, "pool: page size must be a power of two >= 8").
			WithContext("pagesize", c.PageSize)
	}
	if c.NCPU < 1 {
		return api.NewError(api.ErrCodeInvalidArgument, "pool: need at least one cpu").
			WithContext("ncpu", c.NCPU)
	}
	if c.End == 0 || c.PhysTop <= c.End {
		return api.NewError(api.ErrCodeInvalidArgument, "pool: empty or inverted arena").
			WithContext("end", fmt.Sprintf("%#x", uintptr(c.End))).
			WithContext("phystop", fmt.Sprintf("%#x", uintptr(c.PhysTop)))
	}
	return nil
}

// pgroundup rounds a up to a multiple of the page size.
func pgroundup(a PA, pgsize int) PA {
	return (a + PA(pgsize) - 1) &^ PA(pgsize-1)
}

// arena owns the bytes behind [base, limit).
type arena struct {
	base    PA
	limit   PA
	pgsize  int
	mem     []byte
	release func() error
}

func newArena(cfg ArenaConfig) (*arena, error) {
	base := pgroundup(cfg.End, cfg.PageSize)
	var npages int
	if base < cfg.PhysTop {
		npages = int((cfg.PhysTop - base) / PA(cfg.PageSize))
	}
	if npages == 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "pool: arena holds no whole page").
			WithContext("end", fmt.Sprintf("%#x", uintptr(cfg.End))).
			WithContext("phystop", fmt.Sprintf("%#x", uintptr(cfg.PhysTop)))
	}
	size := npages * cfg.PageSize
	a := &arena{
		base:   base,
		limit:  base + PA(size),
		pgsize: cfg.PageSize,
	}
	if cfg.UseMmap {
		mem, release, err := mapArena(size, cfg.Huge)
		if err == nil {
			a.mem, a.release = mem, release
			return a, nil
		}
		logf("mmap of %d bytes failed, falling back to heap: %v", size, err)
	}
	a.mem = make([]byte, size)
	return a, nil
}

// contains reports whether pa is a page-aligned address inside the arena.
func (a *arena) contains(pa PA) bool {
	return pa%PA(a.pgsize) == 0 && pa >= a.base && pa < a.limit
}

func (a *arena) pages() int {
	return int(a.limit-a.base) / a.pgsize
}

// page returns the bytes of pa; pa must satisfy contains.
func (a *arena) page(pa PA) []byte {
	off := int(pa - a.base)
	return a.mem[off : off+a.pgsize : off+a.pgsize]
}

func (a *arena) close() error {
	if a.release == nil {
		return nil
	}
	rel := a.release
	a.release = nil
	a.mem = nil
	return rel()
}
