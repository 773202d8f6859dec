//go:build linux
// +build linux

// File: device/file_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux disk-image device using pread(2)/pwrite(2) on a raw descriptor.

package device

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"

	"github.com/momentics/kmemcore/api"
)

// FileDisk serves a single device id from an image file.
type FileDisk struct {
	fd      int
	dev     uint32
	bsize   int
	nblocks uint32
	path    string
}

var _ api.BlockDevice = (*FileDisk)(nil)

// OpenFileDisk opens or creates path, growing it to bsize*nblocks bytes.
func OpenFileDisk(path string, dev uint32, bsize int, nblocks uint32) (*FileDisk, error) {
	if bsize <= 0 {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "filedisk: block size must be positive")
	}
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filedisk: open %s: %w", path, err)
	}
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("filedisk: stat %s: %w", path, err)
	}
	size := int64(bsize) * int64(nblocks)
	if st.Size < size {
		if err := unix.Ftruncate(fd, size); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("filedisk: truncate %s: %w", path, err)
		}
	}
	return &FileDisk{fd: fd, dev: dev, bsize: bsize, nblocks: nblocks, path: path}, nil
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
	n, err := unix.Pread(d.fd, p, int64(blockno)*int64(d.bsize))
	if err != nil {
		return fmt.Errorf("filedisk: pread block %d: %w: %w", blockno, api.ErrIO, err)
	}
	if n != len(p) {
		return fmt.Errorf("filedisk: pread block %d: %w: %w", blockno, api.ErrIO, io.ErrUnexpectedEOF)
	}
	return nil
}

// WriteBlock writes one block at offset blockno*BlockSize.
func (d *FileDisk) WriteBlock(dev, blockno uint32, p []byte) error {
	if err := d.check(dev, blockno, p); err != nil {
		return err
	}
	n, err := unix.Pwrite(d.fd, p, int64(blockno)*int64(d.bsize))
	if err != nil {
		return fmt.Errorf("filedisk: pwrite block %d: %w: %w", blockno, api.ErrIO, err)
	}
	if n != len(p) {
		return fmt.Errorf("filedisk: pwrite block %d: %w: %w", blockno, api.ErrIO, io.ErrShortWrite)
	}
	return nil
}

// Sync flushes the image to stable storage.
func (d *FileDisk) Sync() error {
	if err := unix.Fsync(d.fd); err != nil {
		return fmt.Errorf("filedisk: fsync %s: %w: %w", d.path, api.ErrIO, err)
	}
	return nil
}

// Close releases the descriptor.
func (d *FileDisk) Close() error {
	return unix.Close(d.fd)
}
