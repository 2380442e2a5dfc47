// Package inventory holds the server fleet description the agent operates
// on: which hosts exist, how to reach them, and what each role is allowed to
// do. The inventory is built once at startup and treated as read-only by the
// dispatch kernel.
package inventory

import (
	"fmt"
	"sort"
	"strings"
)

// ServerEntry describes one managed host. Entries are immutable after load.
type ServerEntry struct {
	Name           string   `yaml:"-"`
	Host           string   `yaml:"host"`
	User           string   `yaml:"user,omitempty"`
	Role           string   `yaml:"role"`
	SSH            *bool    `yaml:"ssh,omitempty"`
	SSHKeyPath     string   `yaml:"ssh_key_path,omitempty"`
	KnownHostsPath string   `yaml:"known_hosts_path,omitempty"`
	HostKeyCheck   *bool    `yaml:"host_key_checking,omitempty"`
	Services       []string `yaml:"services,omitempty"`
	MetricsURL     string   `yaml:"metrics_url,omitempty"`
}

// IsLocal reports whether the entry is the bastion host itself (ssh: false).
func (s *ServerEntry) IsLocal() bool {
	return s.SSH != nil && !*s.SSH
}

// StrictHostKey reports whether host-key verification is required. The
// default is strict; `host_key_checking: false` is the explicit opt-out.
func (s *ServerEntry) StrictHostKey() bool {
	return s.HostKeyCheck == nil || *s.HostKeyCheck
}

// RolePermissions is the ordered set of command globs plus path prefixes a
// role may use. Immutable after load.
type RolePermissions struct {
	AllowedCommands   []string `yaml:"allowed_commands"`
	AllowedPathsRead  []string `yaml:"allowed_paths_read,omitempty"`
	AllowedPathsWrite []string `yaml:"allowed_paths_write,omitempty"`
}

// Inventory maps server names to entries and role names to permissions, plus
// the global list of approval-required substrings.
type Inventory struct {
	Servers          map[string]*ServerEntry
	Roles            map[string]*RolePermissions
	ApprovalPatterns []string
}

// Server looks up a server entry by name.
func (inv *Inventory) Server(name string) (*ServerEntry, bool) {
	s, ok := inv.Servers[name]
	return s, ok
}

// Local returns the entry for the bastion host itself, if present.
func (inv *Inventory) Local() (*ServerEntry, bool) {
	return inv.Server("localhost")
}

// RoleFor resolves the permissions for a server entry. A server whose role is
// unknown has no permissions at all.
func (inv *Inventory) RoleFor(server *ServerEntry) (*RolePermissions, bool) {
	if server == nil {
		return nil, false
	}
	perms, ok := inv.Roles[server.Role]
	return perms, ok
}

// Names returns all server names sorted for stable display.
func (inv *Inventory) Names() []string {
	names := make([]string, 0, len(inv.Servers))
	for name := range inv.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks internal consistency: every server must name a defined
// role, remote servers need a host, and the local entry may appear at most
// once. All problems are reported together.
func (inv *Inventory) Validate() error {
	var problems []string
	locals := 0
	for _, name := range inv.Names() {
		s := inv.Servers[name]
		if s.Role == "" {
			problems = append(problems, fmt.Sprintf("server %q has no role", name))
		} else if _, ok := inv.Roles[s.Role]; !ok {
			problems = append(problems, fmt.Sprintf("server %q references undefined role %q", name, s.Role))
		}
		if s.IsLocal() {
			locals++
			continue
		}
		if s.Host == "" {
			problems = append(problems, fmt.Sprintf("server %q has no host", name))
		}
		if s.User == "" {
			problems = append(problems, fmt.Sprintf("server %q has no login user", name))
		}
	}
	if locals > 1 {
		problems = append(problems, "more than one server is marked ssh: false")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid inventory: %s", strings.Join(problems, "; "))
	}
	return nil
}
