// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown releases the backing resources of a component.
type GracefulShutdown interface {
	// Shutdown flushes and frees everything the component reserved at boot.
	// Callers must have stopped using the component first.
	Shutdown() error
}
