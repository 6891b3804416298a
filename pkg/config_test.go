package cache

import "testing"

func TestApplyOptions_RejectsEmptyDir(t *testing.T) {
	cfg := defaultConfig("")
	if err := applyOptions(cfg, nil); !IsKind(err, KindConfiguration) {
		t.Fatalf("expected KindConfiguration, got %v", err)
	}
}

func TestApplyOptions_RejectsNonPositiveMaxEntries(t *testing.T) {
	cfg := defaultConfig("/tmp/x")
	if err := applyOptions(cfg, []Option{WithMaxEntries(0)}); !IsKind(err, KindConfiguration) {
		t.Fatalf("expected KindConfiguration, got %v", err)
	}
}

func TestApplyOptions_RejectsNonPositiveMaxMemorySize(t *testing.T) {
	cfg := defaultConfig("/tmp/x")
	if err := applyOptions(cfg, []Option{WithMaxMemorySize(0)}); !IsKind(err, KindConfiguration) {
		t.Fatalf("expected KindConfiguration, got %v", err)
	}
}

func TestApplyOptions_AppliesEvictionPolicyOverride(t *testing.T) {
	cfg := defaultConfig("/tmp/x")
	if err := applyOptions(cfg, []Option{WithEvictionPolicy("arc")}); err != nil {
		t.Fatal(err)
	}
	if cfg.EvictionPolicy != "arc" {
		t.Fatalf("expected eviction policy to be overridden, got %v", cfg.EvictionPolicy)
	}
}
