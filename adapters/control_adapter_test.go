package adapters_test

import (
	"testing"

	"github.com/momentics/kmemcore/adapters"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter(map[string]any{"nbuf": 30})
	cfg := ctrl.GetConfig()
	if cfg["nbuf"] != 30 {
		t.Errorf("Expected boot key nbuf=30, got %v", cfg["nbuf"])
	}
	if err := ctrl.SetConfig(map[string]any{"nbuf": 1}); err == nil {
		t.Error("Expected boot key update to be rejected")
	}

	called := false
	ctrl.OnReload(func(map[string]any) { called = true })
	if err := ctrl.SetConfig(map[string]any{"debug": true}); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("Reload hook not called")
	}

	ctrl.PublishMetrics(map[string]any{"bcache.hits": int64(3)})
	stats := ctrl.Stats()
	if stats["bcache.hits"] != int64(3) {
		t.Errorf("Expected published metric, got %v", stats["bcache.hits"])
	}
	if _, ok := stats["debug.platform.cpus"]; !ok {
		t.Error("Expected platform probe in stats")
	}
}
