package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/toktrack/pkg/mcp"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve usage queries over MCP on stdin/stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, err := g.open()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			return mcp.New(svc, version, slog.Default()).Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
