// Package appconfig loads cmd/chimesgate's own process-wide TOML config:
// the listen address, model directory, JWT material and scheduled job
// list — distinct from internal/config, which only ever describes one
// namespace's model file.
package appconfig

import (
	"fmt"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// JobConfig is one scheduler entry read from the server config file,
// mirroring internal/scheduler.Job's two kinds.
type JobConfig struct {
	Key              string   `toml:"key"`
	Schedule         string   `toml:"schedule"`
	Kind             string   `toml:"kind"` // "uri" or "shell"
	URI              string   `toml:"uri,omitempty"`
	IdentityUserID   string   `toml:"identity_user_id,omitempty"`
	IdentityUsername string   `toml:"identity_username,omitempty"`
	IdentityRoles    []string `toml:"identity_roles,omitempty"`
	Commands         []string `toml:"commands,omitempty"`
	CodePage         string   `toml:"code_page,omitempty"`
}

// Config is the top-level server config: the model directory namespaces
// are loaded from, plus this server's own operational settings — none of
// which belong inside any single namespace's model file.
type Config struct {
	ListenAddr     string      `toml:"listen_addr"`
	ModelDir       string      `toml:"model_dir"`
	JWTSecret      string      `toml:"jwt_secret"`
	JWTTTL         string      `toml:"jwt_ttl"`
	MetricsAddr    string      `toml:"metrics_addr,omitempty"`
	EventPoolSize  int         `toml:"event_pool_size,omitempty"`
	PluginPoolSize int         `toml:"plugin_pool_size,omitempty"`
	Jobs           []JobConfig `toml:"jobs,omitempty"`
}

// JWTTTLDuration parses JWTTTL, defaulting to 24h when unset.
func (c *Config) JWTTTLDuration() (time.Duration, error) {
	if c.JWTTTL == "" {
		return 24 * time.Hour, nil
	}
	return time.ParseDuration(c.JWTTTL)
}

// Load reads and parses a server config file from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("appconfig: reading %s: %w", path, err)
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("appconfig: parsing %s: %w", path, err)
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.ModelDir == "" {
		return nil, fmt.Errorf("appconfig: %s: model_dir is required", path)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("appconfig: %s: jwt_secret is required", path)
	}
	return &cfg, nil
}
