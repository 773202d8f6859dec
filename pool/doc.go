// Package pool
// Author: momentics <momentics@gmail.com>
//
// Physical page allocator for the kernel memory core.
// The arena between the end of the kernel image and the top of physical
// memory is carved into fixed-size pages and spread round-robin over one
// free list per CPU. Allocation pops from the caller's list and steals from
// the other CPUs one lock at a time when the local list runs dry.
// See arena.go for the backing memory and kmem.go for the free lists.
package pool
