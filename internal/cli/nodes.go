package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func NodesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "nodes",
		Short: "List scheduler nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.gateway()
			if err != nil {
				return err
			}
			list, err := client.ListNodes(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list nodes: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NODE ID\tREGION\tHEALTHY\tALLOCATIONS")
			for _, node := range list.Nodes {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%d\n", node.NodeID, node.Region, node.Healthy, len(node.Allocations))
			}
			return tw.Flush()
		},
	}
}
