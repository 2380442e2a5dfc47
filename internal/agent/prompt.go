package agent

import (
	"fmt"
	"strings"

	"github.com/haasonsaas/bastion/internal/inventory"
)

// BuildSystemPrompt renders the operating instructions plus the inventory
// the model is allowed to touch. The security boundary is enforced by the
// dispatch pipeline, but stating it here keeps the model from proposing
// operations that will only be denied.
func BuildSystemPrompt(inv *inventory.Inventory) string {
	var b strings.Builder
	b.WriteString(`You are a bastion-host infrastructure assistant. You manage the servers
listed below through a fixed set of tools. Rules:

- Only operate on servers in the inventory. Never invent hostnames.
- Commands run under a per-role allowlist; destructive operations require
  operator approval. If a tool call is denied, explain the denial to the
  user instead of retrying variations.
- Prefer read-only diagnosis (status, logs, metrics) before proposing any
  change. State what you are about to do before doing it.
- Report command output honestly, including failures.

`)
	b.WriteString("Inventory:\n")
	for _, name := range inv.Names() {
		server, _ := inv.Server(name)
		if server.IsLocal() {
			fmt.Fprintf(&b, "- %s: local bastion host, role %s\n", name, server.Role)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s@%s, role %s", name, server.User, server.Host, server.Role)
		if len(server.Services) > 0 {
			fmt.Fprintf(&b, ", services: %s", strings.Join(server.Services, ", "))
		}
		if server.MetricsURL != "" {
			b.WriteString(", metrics available")
		}
		b.WriteString("\n")
	}
	return b.String()
}
