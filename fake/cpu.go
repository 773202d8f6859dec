// Package fake
// Author: momentics <momentics@gmail.com>
//
// Recording CPU context for allocator tests.

package fake

import "github.com/momentics/kmemcore/api"

// CPU is a CPUContext fixed to one index that records nesting depth.
type CPU struct {
	Index    int
	Depth    int
	MaxDepth int
	Pushes   int
}

var _ api.CPUContext = (*CPU)(nil)

// NewCPU returns a context on cpu.
func NewCPU(cpu int) *CPU {
	return &CPU{Index: cpu}
}

func (c *CPU) PushOff() {
	c.Depth++
	c.Pushes++
	if c.Depth > c.MaxDepth {
		c.MaxDepth = c.Depth
	}
}

func (c *CPU) PopOff() {
	if c.Depth == 0 {
		panic("fake cpu: unbalanced PopOff")
	}
	c.Depth--
}

func (c *CPU) ID() int {
	if c.Depth == 0 {
		panic("fake cpu: ID with preemption enabled")
	}
	return c.Index
}
