// Package control
// Author: momentics <momentics@gmail.com>
//
// Boot parameters, runtime toggles, metrics and debug introspection for the
// kernel memory core.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot reads of boot parameters and runtime toggles
//   - Reload listeners invoked after every accepted update
//   - A metrics registry refreshed from the cores' Stats()
//   - Named debug probes
package control
