// File: api/device.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Block device contract consumed by the buffer cache.

package api

// BlockDevice transfers exactly one fixed-size block per call.
// len(p) must equal BlockSize(). Calls are synchronous.
type BlockDevice interface {
	BlockSize() int
	ReadBlock(dev, blockno uint32, p []byte) error
	WriteBlock(dev, blockno uint32, p []byte) error
}
