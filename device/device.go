// File: device/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package device provides synchronous block devices for the buffer cache:
// an in-memory RAMDisk serving any number of device ids and a FileDisk
// backed by a disk image.

package device

import (
	"github.com/momentics/kmemcore/api"
)

// checkTransfer validates one block transfer request.
func checkTransfer(bsize int, nblocks uint32, dev, blockno uint32, p []byte) error {
	if len(p) != bsize {
		return api.NewError(api.ErrCodeInvalidArgument, "device: transfer size mismatch").
			WithContext("want", bsize).
			WithContext("got", len(p))
	}
	if blockno >= nblocks {
		return api.NewError(api.ErrCodeInvalidArgument, "device: block out of range").
			WithContext("dev", dev).
			WithContext("blockno", blockno).
			WithContext("nblocks", nblocks)
	}
	return nil
}
