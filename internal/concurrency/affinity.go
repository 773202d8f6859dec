// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CPU index normalization against the usable topology.

package concurrency

import "log"

// CPUIndex maps requested onto a CPU the process may run on.
//   - If requested < 0, returns 0.
//   - Otherwise wraps requested modulo AvailableCPUs().
func CPUIndex(requested int) int {
	n := AvailableCPUs()
	if n < 1 {
		log.Printf("[concurrency] CPU topology returned <1 cores, fallback to 0")
		return 0
	}
	if requested < 0 {
		return 0
	}
	return requested % n
}
