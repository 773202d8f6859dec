// File: device/ramdisk.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// In-memory block device holding several device ids of equal geometry.

package device

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/momentics/kmemcore/api"
)

// RAMDisk stores every attached device as one contiguous byte slice.
type RAMDisk struct {
	mu      sync.RWMutex
	bsize   int
	nblocks uint32
	devs    map[uint32][]byte
}

var _ api.BlockDevice = (*RAMDisk)(nil)

// NewRAMDisk creates zero-filled devices with the given ids.
func NewRAMDisk(bsize int, nblocks uint32, devs ...uint32) *RAMDisk {
	if bsize <= 0 {
		panic("ramdisk: block size must be positive")
	}
	d := &RAMDisk{
		bsize:   bsize,
		nblocks: nblocks,
		devs:    make(map[uint32][]byte, len(devs)),
	}
	for _, dev := range devs {
		d.devs[dev] = make([]byte, bsize*int(nblocks))
	}
	return d
}

// NewPatternedRAMDisk fills every byte of block i with byte(i), so stale or
// misdirected reads are easy to spot.
func NewPatternedRAMDisk(bsize int, nblocks uint32, devs ...uint32) *RAMDisk {
	d := NewRAMDisk(bsize, nblocks, devs...)
	for _, data := range d.devs {
		for i := uint32(0); i < nblocks; i++ {
			blk := data[int(i)*bsize : int(i+1)*bsize]
			for j := range blk {
				blk[j] = byte(i)
			}
		}
	}
	return d
}

// BlockSize returns the transfer unit in bytes.
func (d *RAMDisk) BlockSize() int { return d.bsize }

// Blocks returns the number of blocks per device.
func (d *RAMDisk) Blocks() uint32 { return d.nblocks }

func (d *RAMDisk) block(dev, blockno uint32, p []byte) ([]byte, error) {
	if err := checkTransfer(d.bsize, d.nblocks, dev, blockno, p); err != nil {
		return nil, err
	}
	data, ok := d.devs[dev]
	if !ok {
		return nil, api.NewError(api.ErrCodeNotFound, "ramdisk: no such device").WithContext("dev", dev)
	}
	off := int(blockno) * d.bsize
	return data[off : off+d.bsize], nil
}

// ReadBlock copies one block into p.
func (d *RAMDisk) ReadBlock(dev, blockno uint32, p []byte) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	blk, err := d.block(dev, blockno, p)
	if err != nil {
		return err
	}
	copy(p, blk)
	return nil
}

// WriteBlock copies p into one block.
func (d *RAMDisk) WriteBlock(dev, blockno uint32, p []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	blk, err := d.block(dev, blockno, p)
	if err != nil {
		return err
	}
	copy(blk, p)
	return nil
}

// Checksum returns the xxhash of one stored block.
func (d *RAMDisk) Checksum(dev, blockno uint32) (uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	blk, err := d.block(dev, blockno, make([]byte, d.bsize))
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(blk), nil
}
