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

var deploymentsResourceGroup string

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "Inspect provider deployments",
}

var deploymentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List deployments for every enabled provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		tm := tokenmanager.New(cfg.APIKeys, nil)
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "PROVIDER\tDEPLOYMENT ID\tSTATUS\tUPSTREAM MODEL")

		ctx := context.Background()
		for _, p := range cfg.Providers {
			if !p.Enabled {
				continue
			}
			rg := deploymentsResourceGroup
			if rg == "" {
				rg = p.ResourceGroup
			}
			client := upstream.New(p, tm)
			deployments, err := client.ListDeployments(ctx, rg)
			if err != nil {
				fmt.Fprintf(os.Stderr, "provider %q: %v\n", p.Name, err)
				continue
			}
			for _, d := range deployments {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, d.ID, d.Status, d.UpstreamModelName())
			}
		}
		return w.Flush()
	},
}

func init() {
	deploymentsListCmd.Flags().StringVarP(&deploymentsResourceGroup, "resource-group", "r", "", "resource group (defaults to each provider's configured one)")
	deploymentsCmd.AddCommand(deploymentsListCmd)
	rootCmd.AddCommand(deploymentsCmd)
}
