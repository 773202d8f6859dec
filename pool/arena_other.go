//go:build !linux
// +build !linux

// File: pool/arena_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import "github.com/momentics/kmemcore/api"

// mapArena is unavailable here; callers fall back to the Go heap.
func mapArena(size int, huge bool) ([]byte, func() error, error) {
	return nil, nil, api.ErrNotSupported
}
