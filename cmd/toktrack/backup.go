package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pario-ai/toktrack/pkg/tracker"
)

func newBackupCmd(g *globalFlags) *cobra.Command {
	var (
		sources []string
		asJSON  bool
	)
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Copy raw session logs into the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cfg, err := g.open()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			rep, err := svc.Backup(cmd.Context(), sources)
			if errors.Is(err, tracker.ErrBackupDisabled) {
				return fmt.Errorf("%w: set backup.enabled in the config file", err)
			}
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(os.Stdout, rep)
			}
			fmt.Printf("Backup %s to %s\n", rep.RunID, cfg.BackupDir())
			fmt.Printf("Copied:  %d\nSkipped: %d\nFailed:  %d\n", rep.Copied, rep.Skipped, len(rep.Failed))
			for _, fe := range rep.Failed {
				fmt.Fprintf(os.Stderr, "  %s\n", fe.Error())
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&sources, "source", nil, "only back up these source ids")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of text")
	return cmd
}
