// Package config loads lonelycatd's optional YAML config file and merges it
// under the module's flag/env defaults, grounded on the teacher's
// pkg/config/loader.go idiom (YAML decode → dario.cat/mergo merge →
// ExpandEnv for secret-bearing fields) but scoped to this module's own
// settings rather than TARSy's agent/chain/MCP-provider registries, which
// have no SPEC_FULL.md counterpart here (LonelyCat's tool/provider wiring is
// pkg/catalog plus MCP_SERVERS_JSON, not a YAML chain registry).
package config

import (
	"fmt"
	"os"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// WebSearchConfig configures the optional pkg/webadapter-backed web_search
// and web_fetch run handlers (spec.md §4.15).
type WebSearchConfig struct {
	BaseURL   string `yaml:"base_url"`
	HomeURL   string `yaml:"home_url"`
	UserAgent string `yaml:"user_agent"`
	ProxyURL  string `yaml:"proxy_url"`
}

// SandboxConfig configures the Docker sandbox runner (spec.md §4.11).
type SandboxConfig struct {
	MaxConcurrentExecs    int `yaml:"max_concurrent_execs"`
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
}

// AppConfig is lonelycatd's optional YAML config file shape
// (<config-dir>/lonelycat.yaml). Every field is optional; a field left zero
// leaves the corresponding flag/env default in place.
type AppConfig struct {
	HTTPAddr      string          `yaml:"http_addr"`
	DBPath        string          `yaml:"db_path"`
	WorkspaceRoot string          `yaml:"workspace_root"`
	PolicyFile    string          `yaml:"policy_file"`
	WebSearch     WebSearchConfig `yaml:"web_search"`
	Sandbox       SandboxConfig   `yaml:"sandbox"`
}

// Default returns the baseline AppConfig that Load merges the file onto.
func Default() *AppConfig {
	return &AppConfig{
		Sandbox: SandboxConfig{MaxConcurrentExecs: 4, DefaultTimeoutSeconds: 300},
	}
}

// Load reads path (if present), expands ${VAR}/$VAR references in its
// bytes, and merges it over Default() with mergo so file-set fields
// override defaults and unset fields keep them (teacher's loader.go
// pattern). A missing file is not an error: it returns Default() so a
// fresh deployment without a config file still starts up.
func Load(path string) (*AppConfig, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var fromFile AppConfig
	if err := yaml.Unmarshal(ExpandEnv(raw), &fromFile); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := mergo.Merge(cfg, fromFile, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("merging config: %w", err)
	}
	return cfg, nil
}
