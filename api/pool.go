// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Page allocator and buffer cache statistics shared across packages.

package api

// PageStats aggregates page allocator accounting.
type PageStats struct {
	TotalPages int64
	Allocs     int64
	Frees      int64
	Steals     int64
	Failures   int64
	PerCPUFree []int64
}

// CacheStats aggregates buffer cache accounting.
type CacheStats struct {
	Buffers     int
	Buckets     int
	Hits        int64
	Misses      int64
	LocalEvicts int64
	Steals      int64
	DevReads    int64
	DevWrites   int64
}
