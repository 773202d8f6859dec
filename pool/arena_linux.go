//go:build linux
// +build linux

// File: pool/arena_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux arena backing via anonymous mmap, optionally on 2 MiB huge pages.

package pool

import (
	"golang.org/x/sys/unix"
)

const hugePageSize = 2 << 20

// mapArena maps size zeroed bytes outside the Go heap.
func mapArena(size int, huge bool) ([]byte, func() error, error) {
	const prot = unix.PROT_READ | unix.PROT_WRITE
	const flags = unix.MAP_ANON | unix.MAP_PRIVATE
	if huge && size%hugePageSize == 0 {
		if mem, err := unix.Mmap(-1, 0, size, prot, flags|unix.MAP_HUGETLB); err == nil {
			return mem, func() error { return unix.Munmap(mem) }, nil
		}
	}
	mem, err := unix.Mmap(-1, 0, size, prot, flags)
	if err != nil {
		return nil, nil, err
	}
	return mem, func() error { return unix.Munmap(mem) }, nil
}
