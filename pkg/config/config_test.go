package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Processing.Strength != 1000 {
		t.Errorf("default strength %g, want 1000", cfg.Processing.Strength)
	}
	if cfg.Processing.NoiseWindowSize != 16 {
		t.Errorf("default noise window %d, want 16", cfg.Processing.NoiseWindowSize)
	}
	if cfg.Processing.NumCores < 1 {
		t.Errorf("default core count %d, want at least 1", cfg.Processing.NumCores)
	}
	if !cfg.Rescale.AutoInputRange {
		t.Error("auto input range should be enabled by default")
	}
	if cfg.Rescale.OutputMax != 4095 {
		t.Errorf("default output max %g, want 4095", cfg.Rescale.OutputMax)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	// A missing config file is not an error; defaults apply
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Processing.Strength != 1000 {
		t.Errorf("strength %g, want default 1000", cfg.Processing.Strength)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
processing:
  strength: 50000
  noiseWindowSize: 8
output:
  savePreviews: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Processing.Strength != 50000 {
		t.Errorf("strength %g, want 50000", cfg.Processing.Strength)
	}
	if cfg.Processing.NoiseWindowSize != 8 {
		t.Errorf("noise window %d, want 8", cfg.Processing.NoiseWindowSize)
	}
	if !cfg.Output.SavePreviews {
		t.Error("savePreviews should be true")
	}
	// Untouched fields keep their defaults
	if cfg.Rescale.OutputMax != 4095 {
		t.Errorf("output max %g, want default 4095", cfg.Rescale.OutputMax)
	}
}

func TestSaveAndReloadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Strength = 42
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Processing.Strength != 42 {
		t.Errorf("strength %g, want 42", loaded.Processing.Strength)
	}
}
