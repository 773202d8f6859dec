// File: bcache/cache.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hash-bucketed buffer cache with per-bucket LRU and cross-bucket stealing.

package bcache

import (
	"fmt"
	"log"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/kmemcore/api"
	"github.com/momentics/kmemcore/internal/concurrency"
)

// Config sizes the cache. Both values are fixed for the cache's lifetime.
type Config struct {
	NBuf    int // buffers in the pool
	NBucket int // hash buckets
}

// DefaultConfig returns the classic teaching-kernel geometry.
func DefaultConfig() Config {
	return Config{
		NBuf:    30,
		NBucket: 13,
	}
}

// Validate rejects geometries the cache cannot be built with.
func (c Config) Validate() error {
	if c.NBuf < 1 {
		return api.NewError(api.ErrCodeInvalidArgument, "bcache: need at least one buffer").
			WithContext("nbuf", c.NBuf)
	}
	if c.NBucket < 1 {
		return api.NewError(api.ErrCodeInvalidArgument, "bcache: need at least one bucket").
			WithContext("nbucket", c.NBucket)
	}
	return nil
}

type bucket struct {
	lock concurrency.Spinlock
	_    cpu.CacheLinePad
}

// Cache is the buffer cache. Slots 0..NBuf-1 and the bucket sentinels
// NBuf..NBuf+NBucket-1 share one index space for list links.
type Cache struct {
	dev     api.BlockDevice
	bsize   int
	slots   []slot
	links   []link
	buckets []bucket
	exlock  concurrency.Spinlock
	stats   cacheCounters
	debug   atomic.Bool
}

// New builds the cache over dev and deals the buffers round-robin into the
// buckets.
func New(dev api.BlockDevice, cfg Config) (*Cache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bsize := dev.BlockSize()
	if bsize <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "bcache: device block size must be positive").
			WithContext("bsize", bsize)
	}
	c := &Cache{
		dev:     dev,
		bsize:   bsize,
		slots:   make([]slot, cfg.NBuf),
		links:   make([]link, cfg.NBuf+cfg.NBucket),
		buckets: make([]bucket, cfg.NBucket),
		stats:   newCacheCounters(),
	}
	c.exlock.Init("bcache_ex")
	for h := range c.buckets {
		c.buckets[h].lock.Init("bcache")
		s := c.sentinel(h)
		c.links[s] = link{prev: s, next: s}
	}
	data := make([]byte, cfg.NBuf*bsize)
	for i := range c.slots {
		s := &c.slots[i]
		s.data = data[i*bsize : (i+1)*bsize : (i+1)*bsize]
		s.lock.Init("buffer")
		s.bucket = i % cfg.NBucket
		c.pushHead(s.bucket, i)
	}
	logf("%d buffers of %d bytes in %d buckets", cfg.NBuf, bsize, cfg.NBucket)
	return c, nil
}

// Get returns the buffer for (dev, blockno) with its sleep-lock held. The
// payload is only meaningful if Valid; Read fills it. Running out of
// evictable buffers is fatal.
func (c *Cache) Get(dev, blockno uint32) *Buf {
	h := c.hash(blockno)
	bk := &c.buckets[h]

	bk.lock.Lock()
	if i := c.lookup(h, dev, blockno); i >= 0 {
		c.slots[i].refcnt++
		bk.lock.Unlock()
		c.stats.hits.Inc()
		return c.lockBuf(i, dev, blockno)
	}
	c.stats.misses.Inc()
	if i := c.victim(h); i >= 0 {
		c.claim(i, dev, blockno)
		bk.lock.Unlock()
		c.stats.localEvicts.Inc()
		c.tracef("evict local buf %d for dev %d block %d", i, dev, blockno)
		return c.lockBuf(i, dev, blockno)
	}
	bk.lock.Unlock()

	return c.steal(h, dev, blockno)
}

// steal takes an idle buffer from another bucket. Donors are visited in
// ascending distance from h; the requesting bucket's lock is only ever taken
// while the donor's is held.
func (c *Cache) steal(h int, dev, blockno uint32) *Buf {
	bk := &c.buckets[h]
	n := len(c.buckets)

	c.exlock.Lock()
	for d := 1; d < n; d++ {
		donor := (h + d) % n
		db := &c.buckets[donor]
		db.lock.Lock()
		i := c.victim(donor)
		if i < 0 {
			db.lock.Unlock()
			continue
		}
		bk.lock.Lock()
		// The block may have been cached while no bucket lock was held.
		if j := c.lookup(h, dev, blockno); j >= 0 {
			c.slots[j].refcnt++
			bk.lock.Unlock()
			db.lock.Unlock()
			c.exlock.Unlock()
			return c.lockBuf(j, dev, blockno)
		}
		c.unlink(i)
		c.pushHead(h, i)
		c.slots[i].bucket = h
		c.claim(i, dev, blockno)
		bk.lock.Unlock()
		db.lock.Unlock()
		c.exlock.Unlock()
		c.stats.steals.Inc()
		c.tracef("steal buf %d from bucket %d into %d for dev %d block %d", i, donor, h, dev, blockno)
		return c.lockBuf(i, dev, blockno)
	}

	// Nothing to steal. Buffers of the requesting bucket may have been
	// released or the block cached since the first scan.
	bk.lock.Lock()
	if i := c.lookup(h, dev, blockno); i >= 0 {
		c.slots[i].refcnt++
		bk.lock.Unlock()
		c.exlock.Unlock()
		return c.lockBuf(i, dev, blockno)
	}
	if i := c.victim(h); i >= 0 {
		c.claim(i, dev, blockno)
		bk.lock.Unlock()
		c.exlock.Unlock()
		c.stats.localEvicts.Inc()
		return c.lockBuf(i, dev, blockno)
	}
	bk.lock.Unlock()
	c.exlock.Unlock()

	fatalf("bget: no buffers")
	return nil
}

// Read returns a locked buffer holding the contents of (dev, blockno). The
// device is only consulted when the cached copy is not valid. On a device
// error the buffer is released and the error returned.
func (c *Cache) Read(dev, blockno uint32) (*Buf, error) {
	b := c.Get(dev, blockno)
	s := &c.slots[b.idx]
	if !s.valid {
		if err := c.dev.ReadBlock(dev, blockno, s.data); err != nil {
			c.Release(b)
			return nil, fmt.Errorf("bcache: read dev %d block %d: %w", dev, blockno, err)
		}
		s.valid = true
		c.stats.devReads.Inc()
	}
	return b, nil
}

// Write writes b's payload to the device. The caller must hold b.
func (c *Cache) Write(b *Buf) error {
	s := c.holding(b, "bwrite")
	if err := c.dev.WriteBlock(s.dev, s.blockno, s.data); err != nil {
		return fmt.Errorf("bcache: write dev %d block %d: %w", s.dev, s.blockno, err)
	}
	c.stats.devWrites.Inc()
	return nil
}

// Release gives up b. The sleep-lock is dropped first; when the last
// reference goes the buffer moves to the most-recently-used end of its
// bucket. b must not be used afterwards, except with Unpin.
func (c *Cache) Release(b *Buf) {
	s := c.holding(b, "brelse")
	h := s.bucket
	token := b.token
	b.token = 0
	s.lock.Release(token)

	bk := &c.buckets[h]
	bk.lock.Lock()
	s.refcnt--
	if s.refcnt == 0 {
		c.unlink(b.idx)
		c.pushHead(h, b.idx)
	}
	bk.lock.Unlock()
}

// Pin adds a reference that keeps b's buffer cached past Release. A
// released handle may still be pinned while its buffer is referenced and
// holds the same block; anything else is fatal.
func (c *Cache) Pin(b *Buf) {
	s := c.owned(b, "bpin")
	bk := c.lockBucketOf(s)
	if b.token == 0 && (s.refcnt == 0 || !b.names(s)) {
		bk.lock.Unlock()
		fatalf("bpin: buffer %d released", b.idx)
	}
	s.refcnt++
	bk.lock.Unlock()
}

// Unpin drops a reference added by Pin.
func (c *Cache) Unpin(b *Buf) {
	s := c.owned(b, "bunpin")
	bk := c.lockBucketOf(s)
	if s.refcnt < 1 {
		bk.lock.Unlock()
		fatalf("bunpin: buf %d not referenced", b.idx)
	}
	if !b.names(s) {
		bk.lock.Unlock()
		fatalf("bunpin: buf %d reused for dev %d block %d", b.idx, s.dev, s.blockno)
	}
	s.refcnt--
	bk.lock.Unlock()
}

// BlockSize returns the payload size.
func (c *Cache) BlockSize() int {
	return c.bsize
}

// SetDebug toggles per-operation tracing.
func (c *Cache) SetDebug(on bool) {
	c.debug.Store(on)
}

func (c *Cache) hash(blockno uint32) int {
	return int(blockno % uint32(len(c.buckets)))
}

func (c *Cache) sentinel(h int) int {
	return len(c.slots) + h
}

// lookup scans bucket h for (dev, blockno). Bucket lock held.
func (c *Cache) lookup(h int, dev, blockno uint32) int {
	head := c.sentinel(h)
	for i := c.links[head].next; i != head; i = c.links[i].next {
		s := &c.slots[i]
		if s.used && s.dev == dev && s.blockno == blockno {
			return i
		}
	}
	return -1
}

// victim scans bucket h from the least-recently-used end for an idle
// buffer. Bucket lock held.
func (c *Cache) victim(h int) int {
	head := c.sentinel(h)
	for i := c.links[head].prev; i != head; i = c.links[i].prev {
		if c.slots[i].refcnt == 0 {
			return i
		}
	}
	return -1
}

// claim gives slot i a new identity. Lock of the bucket it now lives in held.
func (c *Cache) claim(i int, dev, blockno uint32) {
	s := &c.slots[i]
	s.dev = dev
	s.blockno = blockno
	s.used = true
	s.valid = false
	s.refcnt = 1
}

func (c *Cache) unlink(i int) {
	l := c.links[i]
	c.links[l.prev].next = l.next
	c.links[l.next].prev = l.prev
}

// pushHead links i at the most-recently-used end of bucket h.
func (c *Cache) pushHead(h, i int) {
	head := c.sentinel(h)
	first := c.links[head].next
	c.links[i] = link{prev: head, next: first}
	c.links[first].prev = i
	c.links[head].next = i
}

// lockBuf acquires slot i's sleep-lock for a fresh tenure. No spinlock may
// be held here.
func (c *Cache) lockBuf(i int, dev, blockno uint32) *Buf {
	token := concurrency.NewToken()
	c.slots[i].lock.Acquire(token)
	return &Buf{c: c, idx: i, token: token, dev: dev, blockno: blockno}
}

// lockBucketOf locks the bucket s lives in. An idle slot can be moved by a
// steal until its bucket lock is held, so the lookup is retried.
func (c *Cache) lockBucketOf(s *slot) *bucket {
	for {
		h := s.bucket
		bk := &c.buckets[h]
		bk.lock.Lock()
		if s.bucket == h {
			return bk
		}
		bk.lock.Unlock()
	}
}

func (c *Cache) owned(b *Buf, op string) *slot {
	if b == nil || b.c != c || b.idx < 0 || b.idx >= len(c.slots) {
		fatalf("%s: foreign buffer", op)
	}
	return &c.slots[b.idx]
}

func (c *Cache) holding(b *Buf, op string) *slot {
	s := c.owned(b, op)
	if !s.lock.Holding(b.token) {
		fatalf("%s: buffer %d not locked by caller", op, b.idx)
	}
	return s
}

func (c *Cache) tracef(format string, args ...any) {
	if c.debug.Load() {
		logf(format, args...)
	}
}

func logf(format string, args ...any) {
	log.Printf("[bcache] "+format, args...)
}

func fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	log.Printf("[bcache] fatal: %s", msg)
	panic(msg)
}
