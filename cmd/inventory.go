package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/AlexanderGrooff/converge/pkg/inventory"
)

func newInventoryCmd() *cobra.Command {
	var (
		inventoryFile string
		graph         bool
		host          string
	)
	inventoryCmd := &cobra.Command{
		Use:   "inventory",
		Short: "Show the resolved inventory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("inventory") {
				cfg.Inventory = inventoryFile
			}
			inv, err := inventory.Load(context.Background(), cfg.Inventory)
			if err != nil {
				return &exitError{code: exitCode(nil, err), err: err}
			}

			out := cmd.OutOrStdout()
			switch {
			case host != "":
				h, ok := inv.Hosts[host]
				if !ok {
					return &exitError{code: ExitError, err: fmt.Errorf("host %q not found in inventory", host)}
				}
				return writeJSON(out, hostVars(inv, h))
			case graph:
				printGraph(out, inv, inventory.GroupAll, 0)
				return nil
			default:
				return writeJSON(out, listInventory(inv))
			}
		},
	}
	flags := inventoryCmd.Flags()
	flags.StringVarP(&inventoryFile, "inventory", "i", "", "Inventory file, JSON inventory or executable script")
	flags.BoolVar(&graph, "graph", false, "Print the group hierarchy as a tree")
	flags.StringVar(&host, "host", "", "Print the inline variables of one host")
	return inventoryCmd
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}

// hostVars merges the inline variables of a host over those of its groups.
func hostVars(inv *inventory.Inventory, h *inventory.Host) map[string]interface{} {
	merged := inv.VariablesFor(inventory.ScopeKey{Kind: inventory.ScopeAll})
	for _, group := range inv.GroupOrder(h.Name) {
		for k, v := range inv.VariablesFor(inventory.ScopeKey{Kind: inventory.ScopeGroup, Name: group}) {
			merged[k] = v
		}
	}
	for k, v := range inv.VariablesFor(inventory.ScopeKey{Kind: inventory.ScopeHost, Name: h.Name}) {
		merged[k] = v
	}
	return merged
}

// listInventory renders the inventory in the layout of ansible-inventory --list.
func listInventory(inv *inventory.Inventory) map[string]interface{} {
	hostvars := map[string]interface{}{}
	for _, h := range inv.ListHosts() {
		hostvars[h.Name] = hostVars(inv, h)
	}
	out := map[string]interface{}{
		"_meta": map[string]interface{}{"hostvars": hostvars},
	}
	for _, g := range inv.ListGroups() {
		entry := map[string]interface{}{}
		if len(g.Hosts) > 0 && g.Name != inventory.GroupAll {
			entry["hosts"] = g.Hosts
		}
		if len(g.Children) > 0 {
			entry["children"] = g.Children
		}
		if len(g.Vars) > 0 {
			entry["vars"] = g.Vars
		}
		out[g.Name] = entry
	}
	return out
}

func printGraph(out io.Writer, inv *inventory.Inventory, name string, depth int) {
	g, ok := inv.Groups[name]
	if !ok {
		return
	}
	prefix := ""
	for i := 0; i < depth; i++ {
		prefix += "  |"
	}
	if depth == 0 {
		fmt.Fprintf(out, "@%s:\n", name)
	} else {
		fmt.Fprintf(out, "%s--@%s:\n", prefix, name)
	}

	children := append([]string(nil), g.Children...)
	sort.Strings(children)
	for _, child := range children {
		printGraph(out, inv, child, depth+1)
	}
	if name == inventory.GroupAll {
		return
	}
	for _, h := range g.Hosts {
		fmt.Fprintf(out, "%s  |--%s\n", prefix, h)
	}
}
