package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaultsWhenAbsent(t *testing.T) {
	t.Setenv("MCP_HOME", t.TempDir())
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatal("expected NeedsGenesis when no config.yaml exists")
	}
	if cfg.Transport.MaxFrameBytes != 16*1024*1024 {
		t.Fatalf("default MaxFrameBytes = %d", cfg.Transport.MaxFrameBytes)
	}
	if cfg.Supervisor.MaxDepth != 8 {
		t.Fatalf("default MaxDepth = %d", cfg.Supervisor.MaxDepth)
	}
}

func TestLoadParsesYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MCP_HOME", home)
	yamlBody := "supervisor:\n  max_depth: 3\nrouter:\n  queue_cap: 50\n"
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte(yamlBody), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.NeedsGenesis {
		t.Fatal("NeedsGenesis should be false when config.yaml exists")
	}
	if cfg.Supervisor.MaxDepth != 3 {
		t.Fatalf("MaxDepth = %d, want 3", cfg.Supervisor.MaxDepth)
	}
	if cfg.Router.QueueCap != 50 {
		t.Fatalf("QueueCap = %d, want 50", cfg.Router.QueueCap)
	}
}

func TestEnvOverridesBeatYAML(t *testing.T) {
	home := t.TempDir()
	t.Setenv("MCP_HOME", home)
	t.Setenv("MCP_MAX_DEPTH", "12")
	if err := os.WriteFile(filepath.Join(home, "config.yaml"), []byte("supervisor:\n  max_depth: 3\n"), 0o644); err != nil {
		t.Fatalf("write config.yaml: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Supervisor.MaxDepth != 12 {
		t.Fatalf("MaxDepth = %d, want env override 12", cfg.Supervisor.MaxDepth)
	}
}

func TestFingerprintStableForSameConfig(t *testing.T) {
	c1 := defaultConfig()
	c2 := defaultConfig()
	if c1.Fingerprint() != c2.Fingerprint() {
		t.Fatal("fingerprints of identical configs should match")
	}
	c2.Supervisor.MaxDepth = 99
	if c1.Fingerprint() == c2.Fingerprint() {
		t.Fatal("fingerprints should differ after a behavior-affecting change")
	}
}

func TestAuthSecretReadsConfiguredEnvVar(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv(cfg.Security.HMACKeyEnv, "top-secret")
	if string(cfg.AuthSecret()) != "top-secret" {
		t.Fatalf("AuthSecret() = %q", cfg.AuthSecret())
	}
}
