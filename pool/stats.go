// File: pool/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Allocation counters. Striped so the hot path does not serialize on them.

package pool

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/momentics/kmemcore/api"
)

type pageCounters struct {
	allocs   *xsync.Counter
	frees    *xsync.Counter
	steals   *xsync.Counter
	failures *xsync.Counter
}

func newPageCounters() pageCounters {
	return pageCounters{
		allocs:   xsync.NewCounter(),
		frees:    xsync.NewCounter(),
		steals:   xsync.NewCounter(),
		failures: xsync.NewCounter(),
	}
}

// Stats returns a snapshot of allocator accounting. Per-CPU counts are read
// one list lock at a time, so they are not a single atomic view.
func (a *PageAllocator) Stats() api.PageStats {
	per := make([]int64, len(a.kmems))
	for i := range a.kmems {
		per[i] = int64(a.FreeCount(i))
	}
	return api.PageStats{
		TotalPages: int64(a.arena.pages()),
		Allocs:     a.stats.allocs.Value(),
		Frees:      a.stats.frees.Value(),
		Steals:     a.stats.steals.Value(),
		Failures:   a.stats.failures.Value(),
		PerCPUFree: per,
	}
}
