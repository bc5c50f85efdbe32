// Package config handles configuration loading and management for keen.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// ProjectConfigName is the file searched for in the project directory and its parents.
const ProjectConfigName = ".keen.yaml"

// EnvPrefix prefixes environment overrides, e.g. KEEN_GIT_DEFAULT_BRANCH.
const EnvPrefix = "KEEN"

// Config holds all configuration for keen.
type Config struct {
	Git     GitConfig     `mapstructure:"git"`
	State   StateConfig   `mapstructure:"state"`
	Log     LogConfig     `mapstructure:"log"`
	Tenant  TenantConfig  `mapstructure:"tenant"`
	Tree    TreeConfig    `mapstructure:"tree"`
	Signals SignalsConfig `mapstructure:"signals"`
}

// GitConfig holds branch settings.
type GitConfig struct {
	// DefaultBranch is the root agent's branch.
	DefaultBranch string `mapstructure:"default_branch"`
	// BranchPrefix namespaces agent branches.
	BranchPrefix string `mapstructure:"branch_prefix"`
}

// StateConfig holds session mirror settings.
type StateConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Driver is the SQL driver: sqlite (pure Go) or sqlite3 (cgo).
	Driver string `mapstructure:"driver"`
	// Scope selects the database: project (.keen/state.db in the
	// repository) or global (shared by every repository of the user).
	Scope string `mapstructure:"scope"`
	// Path overrides the database location chosen by Scope.
	Path string `mapstructure:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// TenantConfig identifies who owns mirrored sessions.
type TenantConfig struct {
	UserID   string `mapstructure:"user_id"`
	TenantID string `mapstructure:"tenant_id"`
}

// TreeConfig holds agent tree limits.
type TreeConfig struct {
	// MaxDepth limits tree depth; 0 means unlimited.
	MaxDepth int `mapstructure:"max_depth"`
}

// SignalsConfig holds cancellation signal settings.
type SignalsConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Load loads configuration for the current directory.
// Precedence (highest to lowest):
// 1. Environment variables (KEEN_<SECTION>_<KEY>)
// 2. Project config (.keen.yaml in the directory or a parent)
// 3. User config (~/.config/keen/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("get working directory: %w", err)
	}
	return LoadFor(cwd)
}

// LoadFor loads configuration with the project config searched upward from dir.
func LoadFor(dir string) (*Config, error) {
	v, err := newViper(dir)
	if err != nil {
		return nil, err
	}
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	return unmarshal(v)
}

// Settings returns every effective key and value for dir, keys sorted.
func Settings(dir string) ([]string, map[string]any, error) {
	v, err := newViper(dir)
	if err != nil {
		return nil, nil, err
	}
	keys := v.AllKeys()
	sort.Strings(keys)
	values := make(map[string]any, len(keys))
	for _, k := range keys {
		values[k] = v.Get(k)
	}
	return keys, values, nil
}

// SetProjectValue writes key=value into the project config at path,
// creating the file if needed. Unknown keys are rejected.
func SetProjectValue(path, key, value string) error {
	defaults := viper.New()
	setDefaults(defaults)
	if !slices.Contains(defaults.AllKeys(), strings.ToLower(key)) {
		return fmt.Errorf("unknown config key %q", key)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
	}
	v.Set(key, value)

	check := viper.New()
	setDefaults(check)
	if err := check.MergeConfigMap(v.AllSettings()); err != nil {
		return fmt.Errorf("merging %s: %w", path, err)
	}
	cfg, err := unmarshal(check)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	return v.WriteConfigAs(path)
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return write(cfg, filepath.Join(userConfigDir, "config.yaml"))
}

// SaveProject writes cfg as the project config in dir.
func SaveProject(dir string, cfg *Config) error {
	return write(cfg, filepath.Join(dir, ProjectConfigName))
}

func write(cfg *Config, path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("git.default_branch", cfg.Git.DefaultBranch)
	v.Set("git.branch_prefix", cfg.Git.BranchPrefix)
	v.Set("state.enabled", cfg.State.Enabled)
	v.Set("state.driver", cfg.State.Driver)
	v.Set("state.scope", cfg.State.Scope)
	v.Set("state.path", cfg.State.Path)
	v.Set("log.level", cfg.Log.Level)
	v.Set("log.file", cfg.Log.File)
	v.Set("log.console", cfg.Log.Console)
	v.Set("tenant.user_id", cfg.Tenant.UserID)
	v.Set("tenant.tenant_id", cfg.Tenant.TenantID)
	v.Set("tree.max_depth", cfg.Tree.MaxDepth)
	v.Set("signals.poll_interval", cfg.Signals.PollInterval.String())

	return v.WriteConfigAs(path)
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the project config found upward from dir, or "".
func GetProjectConfigPath(dir string) string {
	return findProjectConfig(dir)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Git.DefaultBranch) == "" {
		return fmt.Errorf("git.default_branch must not be empty")
	}
	if strings.Trim(c.Git.BranchPrefix, " -/") == "" {
		return fmt.Errorf("git.branch_prefix must not be empty")
	}
	if c.State.Driver != "sqlite" && c.State.Driver != "sqlite3" {
		return fmt.Errorf("state.driver must be sqlite or sqlite3, got %q", c.State.Driver)
	}
	if c.State.Scope != "project" && c.State.Scope != "global" {
		return fmt.Errorf("state.scope must be project or global, got %q", c.State.Scope)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	if c.Tree.MaxDepth < 0 {
		return fmt.Errorf("tree.max_depth must not be negative, got %d", c.Tree.MaxDepth)
	}
	if c.Signals.PollInterval <= 0 {
		return fmt.Errorf("signals.poll_interval must be positive, got %s", c.Signals.PollInterval)
	}
	return nil
}

// newViper layers defaults, user config, project config and environment.
func newViper(dir string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(dir); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Tenant.UserID = os.ExpandEnv(cfg.Tenant.UserID)
	cfg.Tenant.TenantID = os.ExpandEnv(cfg.Tenant.TenantID)
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("git.default_branch", "main")
	v.SetDefault("git.branch_prefix", "keen/agent")

	v.SetDefault("state.enabled", true)
	v.SetDefault("state.driver", "sqlite")
	v.SetDefault("state.scope", "project")
	v.SetDefault("state.path", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", DefaultLogFile)
	v.SetDefault("log.console", false)

	v.SetDefault("tenant.user_id", "")
	v.SetDefault("tenant.tenant_id", "")

	v.SetDefault("tree.max_depth", 0)

	v.SetDefault("signals.poll_interval", "500ms")
}

// DefaultLogFile is the debug log location relative to the repository.
const DefaultLogFile = ".keen/logs/keen-debug.log"

// getUserConfigDir returns the XDG config directory for keen.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "keen")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "keen")
	}
	return filepath.Join(home, ".config", "keen")
}

// findProjectConfig searches for .keen.yaml in dir and its parents.
func findProjectConfig(dir string) string {
	if dir == "" {
		return ""
	}
	cwd, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Git: GitConfig{
			DefaultBranch: "main",
			BranchPrefix:  "keen/agent",
		},
		State: StateConfig{
			Enabled: true,
			Driver:  "sqlite",
			Scope:   "project",
		},
		Log: LogConfig{
			Level: "info",
			File:  DefaultLogFile,
		},
		Tree: TreeConfig{
			MaxDepth: 0,
		},
		Signals: SignalsConfig{
			PollInterval: 500 * time.Millisecond,
		},
	}
}
