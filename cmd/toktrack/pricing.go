package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newPricingCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pricing",
		Short: "Manage the model price table",
	}
	refreshCmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch the price table now, ignoring its age",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, err := g.open()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if cfg.Pricing.Offline {
				return errors.New("pricing.offline is set; not fetching")
			}
			n, err := svc.RefreshPricing(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Loaded prices for %d models.\n", n)
			return nil
		},
	}
	cmd.AddCommand(refreshCmd)
	return cmd
}
