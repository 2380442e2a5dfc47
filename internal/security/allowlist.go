package security

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// AllowlistDeniedError is raised by the checking variants when a command or
// path falls outside a role's permissions.
type AllowlistDeniedError struct {
	Value string
	Role  string
	Kind  string // "command", "path_read" or "path_write"
}

func (e *AllowlistDeniedError) Error() string {
	return fmt.Sprintf("%s %q not permitted for role %q", e.Kind, e.Value, e.Role)
}

// unsafeCommandChars repeats the sanitizer's chaining rejects so the allowlist
// is safe to use stand-alone.
const unsafeCommandChars = ";|&`\n\r\x00"

// IsCommandPermitted reports whether the trimmed command matches any of the
// role's glob patterns. A pattern's `*` matches any run of characters and the
// whole string must match; an empty pattern list denies everything.
func IsCommandPermitted(command string, perms *inventory.RolePermissions) bool {
	if perms == nil || len(perms.AllowedCommands) == 0 {
		return false
	}
	trimmed := strings.TrimSpace(command)
	if trimmed == "" || strings.ContainsAny(trimmed, unsafeCommandChars) {
		return false
	}
	for _, pattern := range perms.AllowedCommands {
		if globMatch(pattern, trimmed) {
			return true
		}
	}
	return false
}

// CheckCommand is the raising variant of IsCommandPermitted. It logs a
// structured warning before failing.
func CheckCommand(command, role string, perms *inventory.RolePermissions) error {
	if IsCommandPermitted(command, perms) {
		return nil
	}
	slog.Warn("command denied by allowlist", "command", command, "role", role)
	return &AllowlistDeniedError{Value: command, Role: role, Kind: "command"}
}

// IsPathReadable reports whether the normalized path sits under one of the
// role's read prefixes.
func IsPathReadable(path string, perms *inventory.RolePermissions) bool {
	if perms == nil {
		return false
	}
	return pathAllowed(path, perms.AllowedPathsRead)
}

// IsPathWritable reports whether the normalized path sits under one of the
// role's write prefixes. No core tool writes files today; the permission set
// is honored for external callers.
func IsPathWritable(path string, perms *inventory.RolePermissions) bool {
	if perms == nil {
		return false
	}
	return pathAllowed(path, perms.AllowedPathsWrite)
}

// CheckPathRead is the raising variant of IsPathReadable.
func CheckPathRead(path, role string, perms *inventory.RolePermissions) error {
	if IsPathReadable(path, perms) {
		return nil
	}
	slog.Warn("path read denied by allowlist", "path", path, "role", role)
	return &AllowlistDeniedError{Value: path, Role: role, Kind: "path_read"}
}

// CheckPathWrite is the raising variant of IsPathWritable.
func CheckPathWrite(path, role string, perms *inventory.RolePermissions) error {
	if IsPathWritable(path, perms) {
		return nil
	}
	slog.Warn("path write denied by allowlist", "path", path, "role", role)
	return &AllowlistDeniedError{Value: path, Role: role, Kind: "path_write"}
}

func pathAllowed(path string, prefixes []string) bool {
	if len(prefixes) == 0 {
		return false
	}
	// The sanitizer already rejects traversal, but the allowlist must hold up
	// when used independently.
	if strings.Contains(path, "..") {
		return false
	}
	normalized := normalizePath(path)
	for _, prefix := range prefixes {
		allowed := normalizePath(prefix)
		if normalized == allowed || strings.HasPrefix(normalized, allowed+"/") {
			return true
		}
	}
	return false
}

// normalizePath collapses duplicate slashes, drops "." segments and strips the
// trailing slash (except at the root). It never resolves "..": traversal is
// rejected outright, not simplified.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		if seg == "" || seg == "." {
			continue
		}
		cleaned = append(cleaned, seg)
	}
	joined := strings.Join(cleaned, "/")
	if strings.HasPrefix(path, "/") {
		return "/" + joined
	}
	return joined
}

var (
	globMu    sync.Mutex
	globCache = map[string]*regexp.Regexp{}
)

// globMatch implements fnmatch-style matching: `*` matches any run of
// characters (including spaces and slashes), `?` matches one. Anchored at both
// ends so partial matches never pass.
func globMatch(pattern, s string) bool {
	globMu.Lock()
	re, ok := globCache[pattern]
	globMu.Unlock()
	if !ok {
		var b strings.Builder
		b.WriteString("^")
		for _, r := range pattern {
			switch r {
			case '*':
				b.WriteString(".*")
			case '?':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(r)))
			}
		}
		b.WriteString("$")
		compiled, err := regexp.Compile(b.String())
		if err != nil {
			return false
		}
		globMu.Lock()
		globCache[pattern] = compiled
		globMu.Unlock()
		re = compiled
	}
	return re.MatchString(s)
}
