package tools

import "github.com/haasonsaas/bastion/internal/inventory"

// All returns the full tool set wired to the given inventory, in the order
// they are presented to the model.
func All(inv *inventory.Inventory) []Tool {
	return []Tool{
		NewLocalCommand(),
		NewRemoteCommand(inv),
		NewReadFile(inv),
		NewListServers(inv),
		NewServerStatus(inv),
		NewDockerPs(inv),
		NewDockerLogs(inv),
		NewServiceStatus(inv),
		NewServiceJournal(inv),
		NewQueryMetrics(inv),
	}
}
