// Package config loads the cluster/vat configuration surface from spec §6:
// a TOML file overlaid by KERNEL__-prefixed environment variables, overlaid
// by explicit CLI overrides — the same three-layer precedence the teacher's
// internal/util.NewConfigStore uses for its own config store, generalized
// here to a typed ClusterConfig instead of an untyped map.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// EndpointName is the config-time name of a vat, before the kernel assigns
// it a numbered id.EndpointId on launch.
type EndpointName = string

// VatConfig is one of {SourceSpec}|{BundleSpec}|{BundleName} (exactly one
// should be set) plus opaque per-vat option maps, per spec §6.
type VatConfig struct {
	SourceSpec string `toml:"source_spec"`
	BundleSpec string `toml:"bundle_spec"`
	BundleName string `toml:"bundle_name"`

	CreationOptions map[string]string `toml:"creation_options"`
	Parameters      map[string]string `toml:"parameters"`
	PlatformConfig  map[string]string `toml:"platform_config"`
}

// ClusterConfig is the top-level config surface a subcluster is launched
// from (spec §6).
type ClusterConfig struct {
	Bootstrap  EndpointName         `toml:"bootstrap"`
	Vats       map[string]VatConfig `toml:"vats"`
	ForceReset bool                 `toml:"force_reset"`
}

// Load reads path (a TOML file shaped like ClusterConfig; a missing file
// is skipped), then overlays the KERNEL__BOOTSTRAP and KERNEL__FORCE_RESET
// environment variables, then overlays explicit CLI overrides
// (already-parsed flag values, highest precedence). Only the bootstrap and
// force_reset keys are overlaid; other KERNEL__ variables, including any
// addressing keys under vats, are ignored.
func Load(path string, cliOverrides map[string]string) (ClusterConfig, error) {
	var cfg ClusterConfig
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, &cfg); err != nil {
				return ClusterConfig{}, err
			}
		}
	}
	applyEnvOverlay(&cfg)
	applyCLIOverlay(&cfg, cliOverrides)
	return cfg, nil
}

func applyEnvOverlay(cfg *ClusterConfig) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "KERNEL__") {
			continue
		}
		pair := strings.SplitN(env, "=", 2)
		if len(pair) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(pair[0], "KERNEL__"))
		switch {
		case key == "bootstrap":
			cfg.Bootstrap = pair[1]
		case key == "force_reset":
			cfg.ForceReset = pair[1] == "true"
		}
	}
}

func applyCLIOverlay(cfg *ClusterConfig, overrides map[string]string) {
	for k, v := range overrides {
		switch k {
		case "bootstrap":
			cfg.Bootstrap = v
		case "force_reset":
			cfg.ForceReset = v == "true"
		}
	}
}

// DefaultPath mirrors the teacher's search-path convention: prefer a
// cluster.toml alongside the binary's working directory.
func DefaultPath(dir string) string {
	return filepath.Join(dir, "cluster.toml")
}
