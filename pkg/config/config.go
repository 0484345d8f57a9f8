// Package config provides configuration loading and management for
// mp2ragedenoise. It handles loading configuration from YAML files and
// provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for the voxel sweep
		NumCores int `yaml:"numCores"`

		// Strength controls how aggressively background noise is flattened.
		// The useful range spans several orders of magnitude.
		Strength float64 `yaml:"strength"`

		// NoiseWindowSize is the edge length in voxels of the cubic corner
		// region sampled for background noise estimation
		NoiseWindowSize int `yaml:"noiseWindowSize"`
	} `yaml:"processing"`

	// Intensity rescaling parameters
	Rescale struct {
		// AutoInputRange derives the UNI input range from the volume's
		// min/max intensities. When false, InputMin/InputMax are used.
		AutoInputRange bool `yaml:"autoInputRange"`

		// InputMin and InputMax describe the input UNI intensity range
		// (Siemens exports use [0, 4095])
		InputMin float64 `yaml:"inputMin"`
		InputMax float64 `yaml:"inputMax"`

		// OutputMin and OutputMax describe the intensity range of the
		// suppressed output volume
		OutputMin float64 `yaml:"outputMin"`
		OutputMax float64 `yaml:"outputMax"`
	} `yaml:"rescale"`

	// Output parameters
	Output struct {
		// FloatOutput writes the output volume as float32 instead of the
		// scanner-conventional int16
		FloatOutput bool `yaml:"floatOutput"`

		// SavePreviews determines whether to export PNG slice previews of
		// the input and suppressed volumes
		SavePreviews bool `yaml:"savePreviews"`

		// PreviewDir is the directory to save slice previews to
		PreviewDir string `yaml:"previewDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Strength = 1000
	cfg.Processing.NoiseWindowSize = 16

	// Set default rescaling parameters
	cfg.Rescale.AutoInputRange = true
	cfg.Rescale.InputMin = 0
	cfg.Rescale.InputMax = 4095
	cfg.Rescale.OutputMin = 0
	cfg.Rescale.OutputMax = 4095

	// Set default output parameters
	cfg.Output.FloatOutput = false
	cfg.Output.SavePreviews = false
	cfg.Output.PreviewDir = "slice_previews"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
