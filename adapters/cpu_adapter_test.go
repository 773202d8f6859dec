package adapters_test

import (
	"testing"

	"github.com/momentics/kmemcore/adapters"
)

func expectPanic(t *testing.T, what string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("Expected panic: %s", what)
		}
	}()
	fn()
}

func TestCPUAdapter_NestedPushOff(t *testing.T) {
	c := adapters.NewCPUAdapter(3, false)
	c.PushOff()
	c.PushOff()
	if c.ID() != 3 {
		t.Errorf("Expected cpu 3, got %d", c.ID())
	}
	c.PopOff()
	if c.Depth() != 1 {
		t.Errorf("Expected depth 1, got %d", c.Depth())
	}
	if c.ID() != 3 {
		t.Error("Expected ID to stay valid while still pushed")
	}
	c.PopOff()
	if c.Depth() != 0 {
		t.Errorf("Expected depth 0, got %d", c.Depth())
	}
}

func TestCPUAdapter_IDRequiresPushOff(t *testing.T) {
	c := adapters.NewCPUAdapter(0, false)
	expectPanic(t, "ID with preemption enabled", func() { c.ID() })
}

func TestCPUAdapter_UnbalancedPopOff(t *testing.T) {
	c := adapters.NewCPUAdapter(0, false)
	expectPanic(t, "PopOff without PushOff", c.PopOff)
}

func TestCPUAdapter_Migrate(t *testing.T) {
	c := adapters.NewCPUAdapter(0, false)
	c.Migrate(1)
	c.PushOff()
	if c.ID() != 1 {
		t.Errorf("Expected cpu 1 after migrate, got %d", c.ID())
	}
	expectPanic(t, "Migrate with preemption disabled", func() { c.Migrate(2) })
	c.PopOff()
}

func TestCPUAdapter_Pinned(t *testing.T) {
	c := adapters.NewCPUAdapter(0, true)
	c.PushOff()
	if c.ID() != 0 {
		t.Errorf("Expected cpu 0, got %d", c.ID())
	}
	c.PopOff()
}
