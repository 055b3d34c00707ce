// Package runtimeconfig loads an optional YAML overlay on top of the
// environment-derived settings.
package runtimeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/PipeOpsHQ/opsbrain/internal/config"
)

// Load reads the YAML file at path, expands ${VAR} references and decodes it
// over base. Keys absent from the file keep their base value.
func Load(path string, base config.Settings) (config.Settings, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return config.Settings{}, fmt.Errorf("config path is required")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to resolve config path: %w", err)
	}
	// #nosec G304 -- path is operator-provided config path.
	data, err := os.ReadFile(absPath)
	if err != nil {
		return config.Settings{}, fmt.Errorf("failed to read config file %q: %w", absPath, err)
	}
	expanded := os.ExpandEnv(strings.ReplaceAll(string(data), "\r\n", "\n"))

	cfg := base
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return config.Settings{}, fmt.Errorf("failed to decode config file %q as YAML: %w", absPath, err)
	}
	cfg.NotifyProvider = strings.ToLower(strings.TrimSpace(cfg.NotifyProvider))
	cfg.ExecutionMode = strings.ToLower(strings.TrimSpace(cfg.ExecutionMode))
	cfg.AutoScanPaths = strings.TrimSpace(cfg.AutoScanPaths)
	if err := cfg.Validate(); err != nil {
		return config.Settings{}, fmt.Errorf("invalid config file %q: %w", absPath, err)
	}
	return cfg, nil
}
