//go:build !linux
// +build !linux

// File: device/file_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Portable disk-image device on top of os.File.

package device

import (
	"fmt"
	"os"

	"github.com/momentics/kmemcore/api"
)

// FileDisk serves a single device id from an image file.
type FileDisk struct {
	f       *os.File
	dev     uint32
	bsize   int
	nblocks uint32
}

var _ api.BlockDevice = (*FileDisk)(nil)

// OpenFileDisk opens or creates path, growing it to bsize*nblocks bytes.
func OpenFileDisk(path string, dev uint32, bsize int, nblocks uint32) (*FileDisk, error) {
	if bsize <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "filedisk: block size must be positive")
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filedisk: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("filedisk: stat %s: %w", path, err)
	}
	size := int64(bsize) * int64(nblocks)
	if st.Size() < size {
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, fmt.Errorf("filedisk: truncate %s: %w", path, err)
		}
	}
	return &FileDisk{f: f, dev: dev, bsize: bsize, nblocks: nblocks}, nil
}

// BlockSize returns the transfer unit in bytes.
func (d *FileDisk) BlockSize() int { return d.bsize }

func (d *FileDisk) check(dev, blockno uint32, p []byte) error {
	if dev != d.dev {
		return api.NewError(api.ErrCodeNotFound, "filedisk: no such device").WithContext("dev", dev)
	}
	return checkTransfer(d.bsize, d.nblocks, dev, blockno, p)
}

// ReadBlock reads one block at offset blockno*BlockSize.
func (d *FileDisk) ReadBlock(dev, blockno uint32, p []byte) error {
	if err := d.check(dev, blockno, p); err != nil {
		return err
	}
	if _, err := d.f.ReadAt(p, int64(blockno)*int64(d.bsize)); err != nil {
		return fmt.Errorf("filedisk: read block %d: %w: %w", blockno, api.ErrIO, err)
	}
	return nil
}

// WriteBlock writes one block at offset blockno*BlockSize.
func (d *FileDisk) WriteBlock(dev, blockno uint32, p []byte) error {
	if err := d.check(dev, blockno, p); err != nil {
		return err
	}
	if _, err := d.f.WriteAt(p, int64(blockno)*int64(d.bsize)); err != nil {
		return fmt.Errorf("filedisk: write block %d: %w: %w", blockno, api.ErrIO, err)
	}
	return nil
}

// Sync flushes the image to stable storage.
func (d *FileDisk) Sync() error {
	if err := d.f.Sync(); err != nil {
		return fmt.Errorf("filedisk: sync: %w: %w", api.ErrIO, err)
	}
	return nil
}

// Close releases the file.
func (d *FileDisk) Close() error { return d.f.Close() }
