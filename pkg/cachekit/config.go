package cachekit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultRefreshInterval is used when no refresh interval is configured.
const DefaultRefreshInterval = 10 * time.Second

// DefaultAuthorizationKeyword is the header scheme prefix used when none is configured.
const DefaultAuthorizationKeyword = "Token"

// Config holds the resolved configuration for a Client.
type Config struct {
	// BaseURL is prefixed to relative object/query URLs handed to fetchFunc.
	BaseURL string `json:"base_url"`

	// RefreshInterval is how long a query's data is considered fresh before
	// it is eligible for a background refresh.
	RefreshInterval time.Duration `json:"-"`

	// AuthorizationKeyword is the scheme written into the Authorization
	// header, e.g. "Token" produces "Authorization: Token <value>".
	AuthorizationKeyword string `json:"authorization_keyword"`

	// AbbreviatedFolderContents controls whether list/page queries store
	// only object identity fields (rather than full bodies) in their
	// folder's result lists until an object is individually fetched.
	AbbreviatedFolderContents bool `json:"abbreviated_folder_contents"`

	// ForceHTTPS rewrites http:// URLs to https:// before dispatch.
	ForceHTTPS bool `json:"force_https"`

	// Sources tracks where each value came from (for debugging).
	Sources map[string]Source `json:"-"`
}

// Source indicates where a config value came from.
type Source string

const (
	SourceDefault Source = "default"
	SourceSystem  Source = "system"
	SourceGlobal  Source = "global"
	SourceRepo    Source = "repo"
	SourceLocal   Source = "local"
	SourceEnv     Source = "env"
	SourceFlag    Source = "flag"
)

// LoadOptions holds options for loading configuration.
type LoadOptions struct {
	// BaseURL overrides base_url from any source.
	BaseURL string
	// RefreshInterval overrides refresh_interval from any source.
	RefreshInterval time.Duration
	// AuthorizationKeyword overrides authorization_keyword from any source.
	AuthorizationKeyword string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		RefreshInterval:      DefaultRefreshInterval,
		AuthorizationKeyword: DefaultAuthorizationKeyword,
		Sources:              make(map[string]Source),
	}
}

// LoadConfig loads configuration from a JSON file, falling back to defaults
// if the file does not exist.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables,
// overriding any values already set in the config.
func (c *Config) LoadConfigFromEnv() {
	loadFromEnv(c)
}

// Load loads configuration from all sources with proper precedence.
// Precedence: flags > env > local > repo > global > system > defaults
//
// File locations:
//   - System: /etc/cachekit/config.json
//   - Global: ~/.config/cachekit/config.json (XDG-compliant)
//   - Repo: .cachekit/config.json at git root
//   - Local: .cachekit/config.json in current and parent directories
func Load(opts LoadOptions) (*Config, error) {
	cfg := defaultConfig()

	loadFromFile(cfg, systemConfigPath(), SourceSystem)
	loadFromFile(cfg, GlobalConfigPath(), SourceGlobal)

	repoPath := repoConfigPath()
	if repoPath != "" {
		loadFromFile(cfg, repoPath, SourceRepo)
	}

	localPaths := localConfigPaths(repoPath)
	for _, path := range localPaths {
		loadFromFile(cfg, path, SourceLocal)
	}

	loadFromEnv(cfg)

	applyOverrides(cfg, opts)

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file into cfg.
func loadFromFile(cfg *Config, path string, source Source) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: Path is from trusted config locations
	if err != nil {
		return
	}

	var fileCfg map[string]any
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&fileCfg); err != nil {
		return
	}

	if v, ok := fileCfg["base_url"].(string); ok && v != "" {
		cfg.BaseURL = v
		cfg.Sources["base_url"] = source
	}
	if v := getStringOrNumber(fileCfg, "refresh_interval_ms"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RefreshInterval = time.Duration(ms) * time.Millisecond
			cfg.Sources["refresh_interval"] = source
		}
	}
	if v, ok := fileCfg["authorization_keyword"].(string); ok && v != "" {
		cfg.AuthorizationKeyword = v
		cfg.Sources["authorization_keyword"] = source
	}
	if v, ok := fileCfg["abbreviated_folder_contents"].(bool); ok {
		cfg.AbbreviatedFolderContents = v
		cfg.Sources["abbreviated_folder_contents"] = source
	}
	if v, ok := fileCfg["force_https"].(bool); ok {
		cfg.ForceHTTPS = v
		cfg.Sources["force_https"] = source
	}
}

// loadFromEnv loads configuration from environment variables.
func loadFromEnv(cfg *Config) {
	if cfg.Sources == nil {
		cfg.Sources = make(map[string]Source)
	}

	if v := os.Getenv("CACHEKIT_BASE_URL"); v != "" {
		cfg.BaseURL = v
		cfg.Sources["base_url"] = SourceEnv
	}
	if v := os.Getenv("CACHEKIT_REFRESH_INTERVAL_MS"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.RefreshInterval = time.Duration(ms) * time.Millisecond
			cfg.Sources["refresh_interval"] = SourceEnv
		}
	}
	if v := os.Getenv("CACHEKIT_AUTHORIZATION_KEYWORD"); v != "" {
		cfg.AuthorizationKeyword = v
		cfg.Sources["authorization_keyword"] = SourceEnv
	}
	if v := os.Getenv("CACHEKIT_ABBREVIATED_FOLDER_CONTENTS"); v != "" {
		cfg.AbbreviatedFolderContents = strings.ToLower(v) == "true" || v == "1"
		cfg.Sources["abbreviated_folder_contents"] = SourceEnv
	}
	if v := os.Getenv("CACHEKIT_FORCE_HTTPS"); v != "" {
		cfg.ForceHTTPS = strings.ToLower(v) == "true" || v == "1"
		cfg.Sources["force_https"] = SourceEnv
	}
}

// getStringOrNumber extracts a value that may be either a string or number in JSON.
// Uses json.Number to preserve precision for large numeric values.
func getStringOrNumber(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%.0f", val)
		}
		return fmt.Sprintf("%g", val)
	case int:
		return fmt.Sprintf("%d", val)
	case int64:
		return fmt.Sprintf("%d", val)
	default:
		return ""
	}
}

// applyOverrides applies command-line flag overrides to the config.
func applyOverrides(cfg *Config, o LoadOptions) {
	if o.BaseURL != "" {
		cfg.BaseURL = o.BaseURL
		cfg.Sources["base_url"] = SourceFlag
	}
	if o.RefreshInterval != 0 {
		cfg.RefreshInterval = o.RefreshInterval
		cfg.Sources["refresh_interval"] = SourceFlag
	}
	if o.AuthorizationKeyword != "" {
		cfg.AuthorizationKeyword = o.AuthorizationKeyword
		cfg.Sources["authorization_keyword"] = SourceFlag
	}
}

// Path helpers

func systemConfigPath() string {
	return "/etc/cachekit/config.json"
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GlobalConfigDir(), "config.json")
}

func repoConfigPath() string {
	dir, _ := os.Getwd()
	for {
		gitPath := filepath.Join(dir, ".git")
		if _, err := os.Stat(gitPath); err == nil {
			cfgPath := filepath.Join(dir, ".cachekit", "config.json")
			if _, err := os.Stat(cfgPath); err == nil {
				return cfgPath
			}
			return ""
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// localConfigPaths returns all .cachekit/config.json paths from root to current directory,
// excluding the repo config path (already loaded as SourceRepo).
// Paths are returned in order from furthest ancestor to closest, so closer configs override.
func localConfigPaths(repoConfigPath string) []string {
	dir, _ := os.Getwd()
	var paths []string

	for {
		cfgPath := filepath.Join(dir, ".cachekit", "config.json")
		if _, err := os.Stat(cfgPath); err == nil {
			if cfgPath != repoConfigPath {
				paths = append(paths, cfgPath)
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	for i, j := 0, len(paths)-1; i < j; i, j = i+1, j-1 {
		paths[i], paths[j] = paths[j], paths[i]
	}

	return paths
}

// GlobalConfigDir returns the global config directory path.
func GlobalConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "cachekit")
}

// NormalizeBaseURL ensures consistent URL format (no trailing slashes).
func NormalizeBaseURL(url string) string {
	return strings.TrimRight(url, "/")
}

// GetSource returns the source of a configuration value.
func (c *Config) GetSource(key string) Source {
	if c.Sources == nil {
		return SourceDefault
	}
	if src, ok := c.Sources[key]; ok {
		return src
	}
	return SourceDefault
}
