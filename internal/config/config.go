package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fxnlabs/kernel-cache/internal/toolchain"
)

type LoggerConfig struct {
	Verbosity string `yaml:"verbosity"`
	// Encoding is "json" or "console".
	Encoding string `yaml:"encoding"`
}

type ToolchainConfig struct {
	Compiler       string        `yaml:"compiler"`
	Finalizer      string        `yaml:"finalizer"`
	Device         string        `yaml:"device"`
	Target         string        `yaml:"target"`
	CompilerFlags  []string      `yaml:"compilerFlags"`
	FinalizerFlags []string      `yaml:"finalizerFlags"`
	Timeout        time.Duration `yaml:"timeout"`
}

type StagingConfig struct {
	// Root is where per-compilation staging directories are created.
	// Empty means the system temp dir.
	Root string `yaml:"root"`
}

type SourcesConfig struct {
	// Dir serves kernel sources from disk. Empty means the sources
	// embedded in the binary.
	Dir string `yaml:"dir"`
}

type DriverConfig struct {
	// Backend is "auto", "hip" or "host".
	Backend string `yaml:"backend"`
}

type MetricsConfig struct {
	// ListenAddress serves /metrics when set, e.g. ":9464".
	ListenAddress string `yaml:"listenAddress"`
}

type Config struct {
	Logger    LoggerConfig    `yaml:"logger"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Staging   StagingConfig   `yaml:"staging"`
	Sources   SourcesConfig   `yaml:"sources"`
	Driver    DriverConfig    `yaml:"driver"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Logger: LoggerConfig{
			Verbosity: "info",
			Encoding:  "json",
		},
		Toolchain: ToolchainConfig{
			Compiler:  toolchain.DefaultCompiler,
			Finalizer: toolchain.DefaultFinalizer,
			Device:    toolchain.DefaultDevice,
			Target:    toolchain.DefaultTarget,
			Timeout:   5 * time.Minute,
		},
		Driver: DriverConfig{
			Backend: "auto",
		},
	}
}

// LoadConfig reads a YAML file over the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	config := Default()
	err = yaml.Unmarshal(data, config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// LoadConfigOrDefault is LoadConfig, except that a missing file yields
// the defaults.
func LoadConfigOrDefault(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return config, err
}

// Validate checks that required fields are set and enums are known.
func (c *Config) Validate() error {
	var errs []error
	if c.Toolchain.Compiler == "" {
		errs = append(errs, errors.New("toolchain.compiler is required"))
	}
	if c.Toolchain.Finalizer == "" {
		errs = append(errs, errors.New("toolchain.finalizer is required"))
	}
	if c.Toolchain.Device == "" {
		errs = append(errs, errors.New("toolchain.device is required"))
	}
	if c.Toolchain.Target == "" {
		errs = append(errs, errors.New("toolchain.target is required"))
	}
	if c.Toolchain.Timeout < 0 {
		errs = append(errs, errors.New("toolchain.timeout must not be negative"))
	}
	switch c.Driver.Backend {
	case "", "auto", "hip", "host":
	default:
		errs = append(errs, fmt.Errorf("driver.backend %q is not one of auto, hip, host", c.Driver.Backend))
	}
	switch c.Logger.Encoding {
	case "", "json", "console":
	default:
		errs = append(errs, fmt.Errorf("logger.encoding %q is not one of json, console", c.Logger.Encoding))
	}
	return errors.Join(errs...)
}
