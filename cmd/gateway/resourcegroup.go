package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nulpointcorp/aicore-gateway/internal/config"
	"github.com/nulpointcorp/aicore-gateway/internal/tokenmanager"
	"github.com/nulpointcorp/aicore-gateway/internal/upstream"
)

var resourceGroupCmd = &cobra.Command{
	Use:   "resource-group",
	Short: "Inspect provider resource groups",
}

var resourceGroupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource groups for every enabled provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		tm := tokenmanager.New(cfg.APIKeys, nil)
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tRESOURCE GROUP ID\tNAME")

		ctx := context.Background()
		for _, p := range cfg.Providers {
			if !p.Enabled {
				continue
			}
			client := upstream.New(p, tm)
			groups, err := client.ListResourceGroups(ctx)
			if err != nil {
				fmt.Fprintf(os.Stderr, "provider %q: %v\n", p.Name, err)
				continue
			}
			for _, g := range groups {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Name, g.ID, g.Name)
			}
		}
		return w.Flush()
	},
}

func init() {
	resourceGroupCmd.AddCommand(resourceGroupListCmd)
	rootCmd.AddCommand(resourceGroupCmd)
}
