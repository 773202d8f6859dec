// File: bcache/stats.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bcache

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/momentics/kmemcore/api"
)

type cacheCounters struct {
	hits        *xsync.Counter
	misses      *xsync.Counter
	localEvicts *xsync.Counter
	steals      *xsync.Counter
	devReads    *xsync.Counter
	devWrites   *xsync.Counter
}

func newCacheCounters() cacheCounters {
	return cacheCounters{
		hits:        xsync.NewCounter(),
		misses:      xsync.NewCounter(),
		localEvicts: xsync.NewCounter(),
		steals:      xsync.NewCounter(),
		devReads:    xsync.NewCounter(),
		devWrites:   xsync.NewCounter(),
	}
}

// Stats returns a snapshot of cache accounting.
func (c *Cache) Stats() api.CacheStats {
	return api.CacheStats{
		Buffers:     len(c.slots),
		Buckets:     len(c.buckets),
		Hits:        c.stats.hits.Value(),
		Misses:      c.stats.misses.Value(),
		LocalEvicts: c.stats.localEvicts.Value(),
		Steals:      c.stats.steals.Value(),
		DevReads:    c.stats.devReads.Value(),
		DevWrites:   c.stats.devWrites.Value(),
	}
}
