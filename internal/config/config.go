// Package config loads and validates the agent configuration file. Values
// run through environment expansion before parsing, and unknown keys are
// rejected so typos fail at startup instead of silently defaulting.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/haasonsaas/bastion/internal/audit"
	"github.com/haasonsaas/bastion/internal/inventory"
)

// Defaults applied when the file omits a key.
const (
	DefaultModel                 = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens             = 4096
	DefaultMaxToolIterations     = 10
	DefaultCommandTimeout        = 30
	DefaultMaxConversationTokens = 150000
	DefaultSocketPath            = "/run/bastion-agent/agent.sock"
)

// EnvConfigPath overrides the default config file location.
const EnvConfigPath = "BASTION_AGENT_CONFIG"

// ServerConfig mirrors one inventory entry in the file.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	User            string   `yaml:"user"`
	Role            string   `yaml:"role"`
	SSH             *bool    `yaml:"ssh"`
	SSHKeyPath      string   `yaml:"ssh_key_path"`
	KnownHostsPath  string   `yaml:"known_hosts_path"`
	HostKeyChecking *bool    `yaml:"host_key_checking"`
	Services        []string `yaml:"services"`
	MetricsURL      string   `yaml:"metrics_url"`
}

// RoleConfig mirrors one role's allowlists.
type RoleConfig struct {
	AllowedCommands   []string `yaml:"allowed_commands"`
	AllowedPathsRead  []string `yaml:"allowed_paths_read"`
	AllowedPathsWrite []string `yaml:"allowed_paths_write"`
}

// AuditConfig mirrors the audit section.
type AuditConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Config is the full agent configuration.
type Config struct {
	Model                 string `yaml:"model"`
	MaxTokens             int    `yaml:"max_tokens"`
	MaxToolIterations     int    `yaml:"max_tool_iterations"`
	CommandTimeout        int    `yaml:"command_timeout"`
	MaxConversationTokens int    `yaml:"max_conversation_tokens"`

	Socket      string `yaml:"socket"`
	SessionsDir string `yaml:"sessions_dir"`
	// MetricsListen enables the Prometheus endpoint when set (host:port).
	MetricsListen string `yaml:"metrics_listen"`

	Audit AuditConfig `yaml:"audit"`

	Servers          map[string]*ServerConfig `yaml:"servers"`
	Roles            map[string]*RoleConfig   `yaml:"roles"`
	ApprovalPatterns []string                 `yaml:"approval_patterns"`
}

// DefaultPath resolves the config file location: the env override, then
// ~/.config/bastion-agent/config.yaml.
func DefaultPath() string {
	if path := os.Getenv(EnvConfigPath); path != "" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".config", "bastion-agent", "config.yaml")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "bastion-agent"
	}
	return filepath.Join(home, ".local", "share", "bastion-agent")
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes config bytes. Environment references ($VAR, ${VAR}) are
// expanded before decoding; unknown keys are errors.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)

	cfg := &Config{}
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.MaxToolIterations <= 0 {
		c.MaxToolIterations = DefaultMaxToolIterations
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = DefaultCommandTimeout
	}
	if c.MaxConversationTokens <= 0 {
		c.MaxConversationTokens = DefaultMaxConversationTokens
	}
	if c.Socket == "" {
		c.Socket = DefaultSocketPath
	}
	if c.SessionsDir == "" {
		c.SessionsDir = filepath.Join(defaultDataDir(), "sessions")
	}
	if c.Audit.Path == "" {
		c.Audit.Path = filepath.Join(defaultDataDir(), "audit.log")
	}
}

// Validate checks internal consistency: every server's role must exist,
// remote servers need host and user.
func (c *Config) Validate() error {
	var problems []string
	for name, server := range c.Servers {
		if server == nil {
			problems = append(problems, fmt.Sprintf("server %q: empty entry", name))
			continue
		}
		if server.Role == "" {
			problems = append(problems, fmt.Sprintf("server %q: role is required", name))
		} else if _, ok := c.Roles[server.Role]; !ok {
			problems = append(problems, fmt.Sprintf("server %q: role %q is not defined", name, server.Role))
		}
		remote := server.SSH == nil || *server.SSH
		if remote && server.Host == "" {
			problems = append(problems, fmt.Sprintf("server %q: host is required for remote servers", name))
		}
		if remote && server.User == "" {
			problems = append(problems, fmt.Sprintf("server %q: user is required for remote servers", name))
		}
	}
	for name, role := range c.Roles {
		if role == nil {
			problems = append(problems, fmt.Sprintf("role %q: empty entry", name))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config:\n  %s", strings.Join(problems, "\n  "))
	}
	return nil
}

// AuditEnabled defaults to on.
func (c *Config) AuditEnabled() bool {
	return c.Audit.Enabled == nil || *c.Audit.Enabled
}

// AuditConfigFor builds the audit logger configuration.
func (c *Config) AuditConfigFor() audit.Config {
	return audit.Config{Enabled: c.AuditEnabled(), Path: c.Audit.Path}
}

// Inventory materializes the server/role sections for the security layer.
func (c *Config) Inventory() *inventory.Inventory {
	inv := &inventory.Inventory{
		Servers:          make(map[string]*inventory.ServerEntry, len(c.Servers)),
		Roles:            make(map[string]*inventory.RolePermissions, len(c.Roles)),
		ApprovalPatterns: append([]string(nil), c.ApprovalPatterns...),
	}
	for name, s := range c.Servers {
		inv.Servers[name] = &inventory.ServerEntry{
			Name:           name,
			Host:           s.Host,
			User:           s.User,
			Role:           s.Role,
			SSH:            s.SSH,
			SSHKeyPath:     s.SSHKeyPath,
			KnownHostsPath: s.KnownHostsPath,
			HostKeyCheck:   s.HostKeyChecking,
			Services:       append([]string(nil), s.Services...),
			MetricsURL:     s.MetricsURL,
		}
	}
	for name, r := range c.Roles {
		inv.Roles[name] = &inventory.RolePermissions{
			AllowedCommands:   append([]string(nil), r.AllowedCommands...),
			AllowedPathsRead:  append([]string(nil), r.AllowedPathsRead...),
			AllowedPathsWrite: append([]string(nil), r.AllowedPathsWrite...),
		}
	}
	return inv
}
