// Package bcache
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Block buffer cache. A fixed pool of buffers is spread over hash buckets,
// each an LRU list under its own spinlock. Lookups and evictions touch one
// bucket; only when a bucket has nothing left to evict does a miss take the
// global exclusive lock and steal an idle buffer from another bucket.
//
// Callers receive a *Buf holding the buffer's sleep-lock:
//
//	b, err := cache.Read(dev, blockno)
//	if err != nil {
//		return err
//	}
//	b.Data()[0] = 1
//	cache.Write(b)
//	cache.Release(b)
//
// Lock order: the exclusive lock, then a donor bucket, then the requesting
// bucket. No path acquires them in any other order.
package bcache
