package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the daily summary cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, err := g.open()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if !cfg.Cache.Enabled {
				fmt.Println("Cache is disabled.")
				return nil
			}
			stats, err := svc.CacheStats()
			if err != nil {
				return err
			}
			fmt.Printf("Buckets: %d\nFiles:   %d\nHits:    %d\nMisses:  %d\nCorrupt: %d\n",
				stats.Entries, stats.Files, stats.Hits, stats.Misses, stats.Corrupt)
			return nil
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every cached summary; the next run re-reads all raw logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.open()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if err := svc.ClearCache(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Cache cleared.")
			return nil
		},
	}

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}
