// File: facade/kernel.go
// Boot root of the memory-management core.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Kernel wires the block device, the buffer cache and the physical page
// allocator from one immutable Config. Both cores are built once; only the
// debug toggle may change at runtime, through the Control interface.

package facade

import (
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"

	"github.com/momentics/kmemcore/adapters"
	"github.com/momentics/kmemcore/api"
	"github.com/momentics/kmemcore/bcache"
	"github.com/momentics/kmemcore/device"
	"github.com/momentics/kmemcore/pool"
)

// KernBase is where the simulated physical memory starts.
const KernBase pool.PA = 0x80000000

// imageSize is the simulated kernel image; End lands mid-page on purpose so
// the arena has to be rounded up.
const imageSize = 0x21a38

// maxCPU mirrors the classic NCPU bound.
const maxCPU = 8

// Config holds boot parameters. None of them can change after New.
type Config struct {
	NCPU         int    // per-CPU free lists and kernel threads
	NBuf         int    // buffer cache size
	NBucket      int    // buffer cache hash buckets
	BlockSize    int    // device block size in bytes
	NBlocks      uint32 // blocks per device
	RootDev      uint32 // device id of the boot disk
	DiskPath     string // back the disk with this file; empty means RAM disk
	PageSize     int    // physical page size
	ArenaPages   int    // pages between End and PhysTop
	PinThreads   bool   // bind kernel threads to host CPUs
	UseMmapArena bool   // back the arena with an anonymous mapping
	Debug        bool   // per-operation tracing
}

// DefaultConfig returns defaults sized like a small teaching machine.
func DefaultConfig() *Config {
	ncpu := runtime.NumCPU()
	if ncpu > maxCPU {
		ncpu = maxCPU
	}
	return &Config{
		NCPU:         ncpu,
		NBuf:         30,
		NBucket:      13,
		BlockSize:    1024,
		NBlocks:      2000,
		RootDev:      1,
		PageSize:     4096,
		ArenaPages:   1024,
		PinThreads:   false,
		UseMmapArena: true,
		Debug:        false,
	}
}

// Validate rejects configurations the cores cannot be built from.
func (c *Config) Validate() error {
	var errs []error
	if c.NCPU < 1 || c.NCPU > maxCPU {
		errs = append(errs, api.NewError(api.ErrCodeInvalidArgument, "facade: ncpu out of range").
			WithContext("ncpu", c.NCPU))
	}
	if c.BlockSize <= 0 {
		errs = append(errs, api.NewError(api.ErrCodeInvalidArgument, "facade: block size must be positive").
			WithContext("blocksize", c.BlockSize))
	}
	if c.NBlocks == 0 {
		errs = append(errs, api.NewError(api.ErrCodeInvalidArgument, "facade: device has no blocks"))
	}
	if c.ArenaPages < 1 {
		errs = append(errs, api.NewError(api.ErrCodeInvalidArgument, "facade: arena needs at least one page").
			WithContext("arenapages", c.ArenaPages))
	}
	if err := c.cacheConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.arenaConfig().Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Config) cacheConfig() bcache.Config {
	return bcache.Config{NBuf: c.NBuf, NBucket: c.NBucket}
}

func (c *Config) arenaConfig() pool.ArenaConfig {
	end := KernBase + imageSize
	top := KernBase
	if c.PageSize > 0 {
		// One extra page absorbs the rounding of End.
		top = KernBase + imageSize + pool.PA((c.ArenaPages+1)*c.PageSize)
		top &^= pool.PA(c.PageSize - 1)
	}
	return pool.ArenaConfig{
		End:      end,
		PhysTop:  top,
		PageSize: c.PageSize,
		NCPU:     c.NCPU,
		UseMmap:  c.UseMmapArena,
		Huge:     c.UseMmapArena,
	}
}

func (c *Config) bootKeys() map[string]any {
	return map[string]any{
		"ncpu":       c.NCPU,
		"nbuf":       c.NBuf,
		"nbucket":    c.NBucket,
		"blocksize":  c.BlockSize,
		"nblocks":    c.NBlocks,
		"rootdev":    c.RootDev,
		"pagesize":   c.PageSize,
		"arenapages": c.ArenaPages,
		"pin":        c.PinThreads,
	}
}

// Kernel is the process-wide root of both cores.
type Kernel struct {
	cfg     Config
	disk    api.BlockDevice
	file    *device.FileDisk
	cache   *bcache.Cache
	pages   *pool.PageAllocator
	control *adapters.ControlAdapter

	mu   sync.Mutex
	down bool
}

var _ api.GracefulShutdown = (*Kernel)(nil)

// New boots the kernel: device, buffer cache, then page allocator.
func New(cfg *Config) (*Kernel, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("facade: invalid config: %w", err)
	}
	k := &Kernel{cfg: *cfg}

	if cfg.DiskPath != "" {
		fd, err := device.OpenFileDisk(cfg.DiskPath, cfg.RootDev, cfg.BlockSize, cfg.NBlocks)
		if err != nil {
			return nil, fmt.Errorf("facade: disk init failure: %w", err)
		}
		k.file = fd
		k.disk = fd
	} else {
		k.disk = device.NewRAMDisk(cfg.BlockSize, cfg.NBlocks, cfg.RootDev)
	}

	cache, err := bcache.New(k.disk, cfg.cacheConfig())
	if err != nil {
		k.closeDisk()
		return nil, fmt.Errorf("facade: bcache init failure: %w", err)
	}
	k.cache = cache

	pages, err := pool.NewPageAllocator(cfg.arenaConfig())
	if err != nil {
		k.closeDisk()
		return nil, fmt.Errorf("facade: pool init failure: %w", err)
	}
	k.pages = pages

	k.control = adapters.NewControlAdapter(cfg.bootKeys())
	k.control.OnReload(k.reload)
	k.control.RegisterDebugProbe("kernel.free_pages", func() any {
		return k.pages.Stats().PerCPUFree
	})
	if err := k.control.SetConfig(map[string]any{"debug": cfg.Debug}); err != nil {
		log.Printf("[facade] debug toggle: %v", err)
	}

	log.Printf("[facade] boot: %d cpus, %d buffers, %d pages", cfg.NCPU, cfg.NBuf, pages.TotalPages())
	return k, nil
}

// reload applies runtime-tunable keys.
func (k *Kernel) reload(cfg map[string]any) {
	on, ok := cfg["debug"].(bool)
	if !ok {
		return
	}
	k.cache.SetDebug(on)
	k.pages.SetDebug(on)
}

// Cache returns the buffer cache.
func (k *Kernel) Cache() *bcache.Cache {
	return k.cache
}

// Pages returns the physical page allocator.
func (k *Kernel) Pages() *pool.PageAllocator {
	return k.pages
}

// Disk returns the boot device.
func (k *Kernel) Disk() api.BlockDevice {
	return k.disk
}

// Config returns a copy of the boot configuration.
func (k *Kernel) Config() Config {
	return k.cfg
}

// CPU returns a fresh execution context for kernel thread i. Each goroutine
// acting as a kernel thread needs its own.
func (k *Kernel) CPU(i int) *adapters.CPUAdapter {
	if i < 0 || i >= k.cfg.NCPU {
		panic(fmt.Sprintf("facade: cpu %d out of range [0, %d)", i, k.cfg.NCPU))
	}
	return adapters.NewCPUAdapter(i, k.cfg.PinThreads)
}

// GetControl returns the Control interface for runtime toggles and metrics.
func (k *Kernel) GetControl() api.Control {
	return k.control
}

// Metrics publishes current counters of both cores and returns the merged
// control view.
func (k *Kernel) Metrics() map[string]any {
	cs := k.cache.Stats()
	ps := k.pages.Stats()
	k.control.PublishMetrics(map[string]any{
		"bcache.buffers":      cs.Buffers,
		"bcache.buckets":      cs.Buckets,
		"bcache.hits":         cs.Hits,
		"bcache.misses":       cs.Misses,
		"bcache.local_evicts": cs.LocalEvicts,
		"bcache.steals":       cs.Steals,
		"bcache.dev_reads":    cs.DevReads,
		"bcache.dev_writes":   cs.DevWrites,
		"pool.total_pages":    ps.TotalPages,
		"pool.allocs":         ps.Allocs,
		"pool.frees":          ps.Frees,
		"pool.steals":         ps.Steals,
		"pool.failures":       ps.Failures,
		"pool.percpu_free":    ps.PerCPUFree,
	})
	return k.control.Stats()
}

// Shutdown unmaps the arena and flushes the disk. The cores must no longer
// be in use. Later calls are no-ops.
func (k *Kernel) Shutdown() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.down {
		return nil
	}
	k.down = true
	return errors.Join(k.pages.Close(), k.closeDisk())
}

func (k *Kernel) closeDisk() error {
	if k.file == nil {
		return nil
	}
	return errors.Join(k.file.Sync(), k.file.Close())
}
