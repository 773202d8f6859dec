// Package fake
// Author: momentics <momentics@gmail.com>
//
// Instrumented block devices for testing the buffer cache.

package fake

import (
	"sync/atomic"

	"github.com/momentics/kmemcore/api"
)

// Disk wraps a device and counts transfers.
type Disk struct {
	api.BlockDevice
	reads  atomic.Int64
	writes atomic.Int64
	fail   atomic.Pointer[error]
}

// NewDisk wraps dev.
func NewDisk(dev api.BlockDevice) *Disk {
	return &Disk{BlockDevice: dev}
}

// ReadBlock counts and forwards the read.
func (d *Disk) ReadBlock(dev, blockno uint32, p []byte) error {
	d.reads.Add(1)
	if err := d.fail.Load(); err != nil {
		return *err
	}
	return d.BlockDevice.ReadBlock(dev, blockno, p)
}

// WriteBlock counts and forwards the write.
func (d *Disk) WriteBlock(dev, blockno uint32, p []byte) error {
	d.writes.Add(1)
	if err := d.fail.Load(); err != nil {
		return *err
	}
	return d.BlockDevice.WriteBlock(dev, blockno, p)
}

// FailWith makes every later transfer return err; nil restores normal operation.
func (d *Disk) FailWith(err error) {
	if err == nil {
		d.fail.Store(nil)
		return
	}
	d.fail.Store(&err)
}

// Reads returns the number of ReadBlock calls.
func (d *Disk) Reads() int64 { return d.reads.Load() }

// Writes returns the number of WriteBlock calls.
func (d *Disk) Writes() int64 { return d.writes.Load() }

// BlockingDisk stalls every read: it signals HasBlocked and waits on Unblock.
type BlockingDisk struct {
	api.BlockDevice
	HasBlocked chan struct{}
	Unblock    chan struct{}
}

// NewBlockingDisk wraps dev.
func NewBlockingDisk(dev api.BlockDevice) *BlockingDisk {
	return &BlockingDisk{
		BlockDevice: dev,
		HasBlocked:  make(chan struct{}),
		Unblock:     make(chan struct{}),
	}
}

// ReadBlock blocks until the test releases it.
func (d *BlockingDisk) ReadBlock(dev, blockno uint32, p []byte) error {
	d.HasBlocked <- struct{}{}
	<-d.Unblock
	return d.BlockDevice.ReadBlock(dev, blockno, p)
}
