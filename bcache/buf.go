// File: bcache/buf.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package bcache

import (
	"github.com/momentics/kmemcore/internal/concurrency"
)

// slot is one preallocated cache buffer.
type slot struct {
	dev     uint32
	blockno uint32
	used    bool // has held an identity
	valid   bool // data mirrors the device
	refcnt  int
	bucket  int
	data    []byte
	lock    concurrency.SleepLock
}

// link is the LRU list position of a slot or a bucket sentinel.
type link struct {
	prev, next int
}

// Buf is a handle on one tenure of a buffer's sleep-lock. Data may only be
// touched while the handle is live, i.e. between Get/Read and Release.
type Buf struct {
	c       *Cache
	idx     int
	token   uint64
	dev     uint32
	blockno uint32
}

// Data returns the block payload.
func (b *Buf) Data() []byte {
	return b.c.slots[b.idx].data
}

// Dev returns the device id.
func (b *Buf) Dev() uint32 {
	return b.dev
}

// BlockNo returns the block number.
func (b *Buf) BlockNo() uint32 {
	return b.blockno
}

// Valid reports whether the payload mirrors the device.
func (b *Buf) Valid() bool {
	return b.c.slots[b.idx].valid
}

// Index identifies the underlying buffer; handles for the same block share it.
func (b *Buf) Index() int {
	return b.idx
}

// names reports whether slot s still holds the block b was acquired for.
// Bucket lock held.
func (b *Buf) names(s *slot) bool {
	return s.used && s.dev == b.dev && s.blockno == b.blockno
}
