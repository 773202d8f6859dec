package bcache

import (
	"encoding/binary"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/momentics/kmemcore/device"
	"github.com/momentics/kmemcore/fake"
)

const (
	testBSize   = 64
	testBlocks  = 64
	testDev     = 1
	waitTimeout = 5 * time.Second
)

func newTestCache(t *testing.T, nbuf, nbucket int) (*Cache, *fake.Disk) {
	t.Helper()
	disk := fake.NewDisk(device.NewPatternedRAMDisk(testBSize, testBlocks, testDev))
	c, err := New(disk, Config{NBuf: nbuf, NBucket: nbucket})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return c, disk
}

func refcnt(c *Cache, i int) int {
	bk := &c.buckets[c.slots[i].bucket]
	bk.lock.Lock()
	defer bk.lock.Unlock()
	return c.slots[i].refcnt
}

// lruBlocks lists the block numbers of bucket h from MRU to LRU.
func lruBlocks(c *Cache, h int) []uint32 {
	bk := &c.buckets[h]
	bk.lock.Lock()
	defer bk.lock.Unlock()
	var out []uint32
	head := c.sentinel(h)
	for i := c.links[head].next; i != head; i = c.links[i].next {
		out = append(out, c.slots[i].blockno)
	}
	return out
}

func expectFatal(t *testing.T, substr string, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Errorf("Expected fatal panic containing %q", substr)
			return
		}
		if msg, _ := r.(string); !strings.Contains(msg, substr) {
			t.Errorf("Expected panic containing %q, got %v", substr, r)
		}
	}()
	fn()
}

func mustRead(t *testing.T, c *Cache, blockno uint32) *Buf {
	t.Helper()
	b, err := c.Read(testDev, blockno)
	if err != nil {
		t.Fatalf("Read(%d) failed: %v", blockno, err)
	}
	return b
}

func TestCache_ConcurrentGetSameBlock(t *testing.T) {
	c, _ := newTestCache(t, 8, 3)
	t1 := c.Get(testDev, 5)

	got := make(chan *Buf)
	go func() { got <- c.Get(testDev, 5) }()

	deadline := time.Now().Add(waitTimeout)
	for c.slots[t1.Index()].lock.Waiters() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("Timeout: second Get never suspended")
		}
		time.Sleep(time.Millisecond)
	}
	if n := refcnt(c, t1.Index()); n != 2 {
		t.Errorf("Expected refcount 2 with two holders, got %d", n)
	}
	select {
	case <-got:
		t.Fatal("Expected second Get to block until Release")
	default:
	}

	c.Release(t1)
	var t2 *Buf
	select {
	case t2 = <-got:
	case <-time.After(waitTimeout):
		t.Fatal("Timeout: second Get not woken by Release")
	}
	if t2.Index() != t1.Index() {
		t.Errorf("Expected the same buffer, got %d and %d", t1.Index(), t2.Index())
	}
	c.Release(t2)
	if n := refcnt(c, t1.Index()); n != 0 {
		t.Errorf("Expected refcount 0 after both releases, got %d", n)
	}
}

func TestCache_DeviceReadHoldsNoBucketLock(t *testing.T) {
	disk := fake.NewBlockingDisk(device.NewPatternedRAMDisk(testBSize, testBlocks, testDev))
	c, err := New(disk, Config{NBuf: 4, NBucket: 1})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan *Buf)
	go func() {
		b, err := c.Read(testDev, 1)
		if err != nil {
			t.Error(err)
		}
		done <- b
	}()
	select {
	case <-disk.HasBlocked:
	case <-time.After(waitTimeout):
		t.Fatal("Timeout: Read never reached the device")
	}

	// Same bucket, different block: must not wait for the stalled read.
	other := make(chan *Buf)
	go func() { other <- c.Get(testDev, 2) }()
	select {
	case b := <-other:
		c.Release(b)
	case <-time.After(waitTimeout):
		t.Fatal("Timeout: bucket lock held across device I/O")
	}

	close(disk.Unblock)
	select {
	case b := <-done:
		if b.Data()[0] != 1 {
			t.Errorf("Expected block pattern 1, got %d", b.Data()[0])
		}
		c.Release(b)
	case <-time.After(waitTimeout):
		t.Fatal("Timeout: Read did not complete")
	}
}

func TestCache_ReadHitSkipsDevice(t *testing.T) {
	c, disk := newTestCache(t, 4, 2)
	b := mustRead(t, c, 3)
	if b.Data()[0] != 3 {
		t.Errorf("Expected block pattern 3, got %d", b.Data()[0])
	}
	c.Release(b)
	b = mustRead(t, c, 3)
	c.Release(b)
	if disk.Reads() != 1 {
		t.Errorf("Expected exactly 1 device read, got %d", disk.Reads())
	}
	if st := c.Stats(); st.Hits != 1 || st.Misses != 1 || st.DevReads != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestCache_WriteThenRead(t *testing.T) {
	c, disk := newTestCache(t, 4, 2)
	b := mustRead(t, c, 7)
	copy(b.Data(), []byte("written"))
	if err := c.Write(b); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	c.Release(b)

	b = mustRead(t, c, 7)
	if string(b.Data()[:7]) != "written" {
		t.Errorf("Expected written payload, got %q", b.Data()[:7])
	}
	c.Release(b)
	if disk.Writes() != 1 {
		t.Errorf("Expected 1 device write, got %d", disk.Writes())
	}
}

func TestCache_EvictionNeverLeaksOldPayload(t *testing.T) {
	c, disk := newTestCache(t, 2, 1)

	b := mustRead(t, c, 1)
	b.Data()[0] = 0xFF // modified in cache only
	c.Release(b)
	c.Release(mustRead(t, c, 2))
	c.Release(mustRead(t, c, 3)) // evicts block 1

	b = mustRead(t, c, 1)
	if b.Data()[0] != 1 {
		t.Errorf("Expected fresh device contents 1, got %#x", b.Data()[0])
	}
	if !b.Valid() {
		t.Error("Expected buffer to be valid after Read")
	}
	c.Release(b)
	if disk.Reads() != 4 {
		t.Errorf("Expected 4 device reads, got %d", disk.Reads())
	}
}

func TestCache_ReusedBufferIsInvalid(t *testing.T) {
	c, _ := newTestCache(t, 1, 1)
	c.Release(mustRead(t, c, 1))
	b := c.Get(testDev, 2)
	if b.Valid() {
		t.Error("Expected re-identified buffer to be invalid")
	}
	if b.BlockNo() != 2 || b.Dev() != testDev {
		t.Errorf("Unexpected identity dev %d block %d", b.Dev(), b.BlockNo())
	}
	c.Release(b)
}

func TestCache_LRUOrder(t *testing.T) {
	c, _ := newTestCache(t, 3, 1)
	for _, blk := range []uint32{10, 11, 12} {
		c.Release(mustRead(t, c, blk))
	}
	if got := lruBlocks(c, 0); !equal(got, []uint32{12, 11, 10}) {
		t.Fatalf("Expected MRU order [12 11 10], got %v", got)
	}

	c.Release(mustRead(t, c, 10))
	if got := lruBlocks(c, 0); !equal(got, []uint32{10, 12, 11}) {
		t.Fatalf("Expected released buffer at MRU, got %v", got)
	}

	c.Release(mustRead(t, c, 13)) // evicts 11, the LRU
	if got := lruBlocks(c, 0); !equal(got, []uint32{13, 10, 12}) {
		t.Errorf("Expected LRU buffer evicted, got %v", got)
	}
}

func TestCache_HeldBufferStaysOutOfMRU(t *testing.T) {
	c, _ := newTestCache(t, 3, 1)
	for _, blk := range []uint32{1, 2, 3} {
		c.Release(mustRead(t, c, blk))
	}
	// Two holders: the first release must not move it.
	a := c.Get(testDev, 1)
	c.Pin(a)
	c.Release(a)
	if got := lruBlocks(c, 0); !equal(got, []uint32{3, 2, 1}) {
		t.Errorf("Expected order unchanged while referenced, got %v", got)
	}
	c.Unpin(a)
}

func TestCache_LocalEvictionBeforeSteal(t *testing.T) {
	// Bucket 0 owns slots 0 and 2, bucket 1 owns slots 1 and 3.
	c, _ := newTestCache(t, 4, 2)
	b0 := c.Get(testDev, 0)
	b2 := c.Get(testDev, 2)
	if st := c.Stats(); st.LocalEvicts != 2 || st.Steals != 0 {
		t.Fatalf("Expected two local evictions, got %+v", st)
	}

	b4 := c.Get(testDev, 4)
	if st := c.Stats(); st.Steals != 1 {
		t.Fatalf("Expected a steal once bucket 0 is exhausted, got %+v", st)
	}
	if c.slots[b4.Index()].bucket != 0 {
		t.Errorf("Expected stolen buffer relinked into bucket 0")
	}
	if n := len(lruBlocks(c, 1)); n != 1 {
		t.Errorf("Expected donor bucket to shrink to 1 buffer, has %d", n)
	}
	if n := len(lruBlocks(c, 0)); n != 3 {
		t.Errorf("Expected requesting bucket to grow to 3 buffers, has %d", n)
	}
	if got := lruBlocks(c, 0)[0]; got != 4 {
		t.Errorf("Expected stolen buffer at MRU head, got block %d", got)
	}
	for _, b := range []*Buf{b0, b2, b4} {
		c.Release(b)
	}
}

func TestCache_StealAscendingDistance(t *testing.T) {
	c, _ := newTestCache(t, 4, 4) // slot i starts in bucket i
	held := []*Buf{c.Get(testDev, 0)}

	b := c.Get(testDev, 4)
	if b.Index() != 1 {
		t.Errorf("Expected steal from bucket 1 first, got slot %d", b.Index())
	}
	held = append(held, b)

	b = c.Get(testDev, 8)
	if b.Index() != 2 {
		t.Errorf("Expected steal from bucket 2 next, got slot %d", b.Index())
	}
	held = append(held, b)

	// Bucket 2 gave its only buffer away; its nearest donor is bucket 3.
	b = c.Get(testDev, 6)
	if b.Index() != 3 {
		t.Errorf("Expected steal from bucket 3, got slot %d", b.Index())
	}
	held = append(held, b)
	for _, h := range held {
		c.Release(h)
	}
}

func TestCache_CapacityBoundary(t *testing.T) {
	const n = 6
	c, _ := newTestCache(t, n, 3)
	var held []*Buf
	for i := 0; i < n; i++ {
		held = append(held, c.Get(testDev, uint32(i)))
	}
	expectFatal(t, "bget: no buffers", func() { c.Get(testDev, n) })

	// All spinlocks were dropped before the fatal path fired.
	for _, b := range held {
		c.Release(b)
	}
	c.Release(c.Get(testDev, n))
}

func TestCache_PinnedCapacityBoundary(t *testing.T) {
	const n = 5
	c, _ := newTestCache(t, n, 2)
	var pinned []*Buf
	for i := 0; i < n; i++ {
		b := mustRead(t, c, uint32(i))
		c.Pin(b)
		c.Release(b)
		pinned = append(pinned, b)
	}
	expectFatal(t, "bget: no buffers", func() { c.Get(testDev, n) })

	for _, b := range pinned {
		c.Unpin(b)
	}
	c.Release(c.Get(testDev, n))
}

func TestCache_PinSurvivesRelease(t *testing.T) {
	c, disk := newTestCache(t, 2, 1)
	b := mustRead(t, c, 9)
	c.Pin(b)
	c.Release(b)

	// Churn through the only other buffer.
	for blk := uint32(20); blk < 25; blk++ {
		c.Release(mustRead(t, c, blk))
	}
	before := disk.Reads()
	again := mustRead(t, c, 9)
	if disk.Reads() != before {
		t.Error("Expected pinned block to stay cached")
	}
	if again.Index() != b.Index() {
		t.Errorf("Expected same buffer for pinned block")
	}
	c.Release(again)
	c.Unpin(b)
	if n := refcnt(c, b.Index()); n != 0 {
		t.Errorf("Expected refcount 0 after unpin, got %d", n)
	}
}

func TestCache_UsageErrorsAreFatal(t *testing.T) {
	c, _ := newTestCache(t, 2, 1)
	b := c.Get(testDev, 1)
	c.Release(b)

	expectFatal(t, "bwrite", func() { c.Write(b) })
	expectFatal(t, "brelse", func() { c.Release(b) })
	expectFatal(t, "bunpin", func() { c.Unpin(b) })

	other, _ := newTestCache(t, 1, 1)
	ob := other.Get(testDev, 1)
	expectFatal(t, "foreign", func() { c.Release(ob) })
	other.Release(ob)
}

func TestCache_PinSpentHandle(t *testing.T) {
	c, _ := newTestCache(t, 1, 1)

	// Still referenced and still naming the same block: allowed.
	a := c.Get(testDev, 5)
	c.Pin(a)
	c.Release(a)
	c.Pin(a)
	if n := refcnt(c, a.Index()); n != 2 {
		t.Errorf("Expected refcount 2, got %d", n)
	}
	c.Unpin(a)
	c.Unpin(a)

	expectFatal(t, "bpin", func() { c.Pin(a) })

	// The only buffer now belongs to another block.
	o := c.Get(testDev, 6)
	expectFatal(t, "bpin", func() { c.Pin(a) })
	expectFatal(t, "bunpin", func() { c.Unpin(a) })
	if n := refcnt(c, o.Index()); n != 1 {
		t.Errorf("Expected the new holder's refcount untouched, got %d", n)
	}
	if o.BlockNo() != 6 || a.BlockNo() != 5 {
		t.Errorf("Expected handles to keep their own identity, got %d and %d", o.BlockNo(), a.BlockNo())
	}
	c.Release(o)
}

func TestCache_DeviceErrorReleasesBuffer(t *testing.T) {
	c, disk := newTestCache(t, 1, 1)
	boom := errors.New("boom")
	disk.FailWith(boom)
	if _, err := c.Read(testDev, 1); !errors.Is(err, boom) {
		t.Fatalf("Expected device error, got %v", err)
	}
	disk.FailWith(nil)

	// The only buffer must be reusable and still invalid.
	b := mustRead(t, c, 1)
	if b.Data()[0] != 1 {
		t.Errorf("Expected retry to read the device, got %d", b.Data()[0])
	}
	c.Release(b)
}

func TestCache_ConcurrentIncrements(t *testing.T) {
	const (
		workers = 6
		iters   = 300
		blocks  = 40
	)
	disk := fake.NewDisk(device.NewRAMDisk(testBSize, testBlocks, testDev))
	c, err := New(disk, Config{NBuf: 16, NBucket: 5})
	if err != nil {
		t.Fatal(err)
	}

	want := make([]uint32, blocks)
	plans := make([][]uint32, workers)
	for w := range plans {
		r := rand.New(rand.NewSource(int64(w)))
		for i := 0; i < iters; i++ {
			blk := uint32(r.Intn(blocks))
			plans[w] = append(plans[w], blk)
			want[blk]++
		}
	}

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		plan := plans[w]
		g.Go(func() error {
			for _, blk := range plan {
				b, err := c.Read(testDev, blk)
				if err != nil {
					return err
				}
				v := binary.LittleEndian.Uint32(b.Data())
				binary.LittleEndian.PutUint32(b.Data(), v+1)
				if err := c.Write(b); err != nil {
					return err
				}
				c.Release(b)
			}
			return nil
		})
	}
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(20 * time.Second):
		t.Fatal("Timeout: possible deadlock in bucket locking")
	}

	p := make([]byte, testBSize)
	for blk := uint32(0); blk < blocks; blk++ {
		if err := disk.BlockDevice.ReadBlock(testDev, blk, p); err != nil {
			t.Fatal(err)
		}
		if got := binary.LittleEndian.Uint32(p); got != want[blk] {
			t.Errorf("Block %d: expected %d increments, got %d", blk, want[blk], got)
		}
	}
	if st := c.Stats(); st.Steals == 0 {
		t.Logf("no cross-bucket steals happened: %+v", st)
	}
}

func TestConfig_Validate(t *testing.T) {
	disk := device.NewRAMDisk(testBSize, 4, testDev)
	if _, err := New(disk, Config{NBuf: 0, NBucket: 1}); err == nil {
		t.Error("Expected error for zero buffers")
	}
	if _, err := New(disk, Config{NBuf: 1, NBucket: 0}); err == nil {
		t.Error("Expected error for zero buckets")
	}
	if cfg := DefaultConfig(); cfg.NBuf != 30 || cfg.NBucket != 13 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}
}

func equal(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
