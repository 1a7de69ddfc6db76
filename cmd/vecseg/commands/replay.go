package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecseg"
)

func (a *app) replayCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "replay",
		Short: "Replay the operation log and persist the segment",
		Long: `Open the segment, replay every record of its operation log and flush.
The log is empty afterwards.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			metrics := &vecseg.BasicMetricsCollector{}
			db, err := a.open(cmd, nil, vecseg.WithMetricsCollector(metrics))
			if err != nil {
				return err
			}
			if err := db.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Replayed %d log records\n", metrics.GetStats().ReplayedEntries)
			return nil
		},
	}
}
