package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecseg"
	"github.com/hupe1980/vecseg/snapshot"
)

func (a *app) snapshotCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Create, list and delete snapshots in the configured store",
	}

	var skipCommit bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Snapshot the segment in --dir",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context(), a.cfg.Snapshot.Store)
			if err != nil {
				return err
			}
			opts := a.snapshotOptions()
			return a.withDB(cmd, func(ctx context.Context, db *vecseg.DB) error {
				m, err := db.Snapshot(ctx, store, opts, func(o *snapshot.Options) {
					o.SkipCommit = skipCommit
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Snapshot %s: %d files, %s (%s stored)\n",
					m.ID, len(m.Files), humanize.Bytes(uint64(m.Size())), humanize.Bytes(uint64(m.Stored())))
				return nil
			})
		},
	}
	create.Flags().BoolVar(&skipCommit, "no-commit", false, "Do not point CURRENT at the new snapshot")

	list := &cobra.Command{
		Use:   "list",
		Short: "List snapshots, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg.Snapshot.Store)
			if err != nil {
				return err
			}
			manifests, err := snapshot.List(ctx, store)
			if err != nil {
				return err
			}
			current, err := snapshot.Current(ctx, store)
			if err != nil && !errors.Is(err, snapshot.ErrNotFound) {
				return err
			}
			tw := newTable(cmd.OutOrStdout(), "ID", "Created", "Files", "Size", "Stored", "Labels", "Current")
			for _, m := range manifests {
				mark := ""
				if m.ID == current {
					mark = "*"
				}
				tw.Append([]string{
					m.ID,
					m.CreatedAt.UTC().Format(time.RFC3339),
					humanize.Comma(int64(len(m.Files))),
					humanize.Bytes(uint64(m.Size())),
					humanize.Bytes(uint64(m.Stored())),
					formatLabels(m.Labels),
					mark,
				})
			}
			tw.Render()
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a snapshot that is not CURRENT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context(), a.cfg.Snapshot.Store)
			if err != nil {
				return err
			}
			if err := snapshot.Delete(cmd.Context(), store, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted snapshot %s\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(create, list, del)
	return cmd
}

func (a *app) restoreCommand() *cobra.Command {
	var id string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore a snapshot into --dir",
		Long: `Download a snapshot into --dir and open it to verify it. The directory
must be empty or missing. Without --id the CURRENT snapshot is restored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireDir(); err != nil {
				return err
			}
			ctx := cmd.Context()
			store, err := openStore(ctx, a.cfg.Snapshot.Store)
			if err != nil {
				return err
			}
			db, err := vecseg.Restore(ctx, store, id, a.dir,
				vecseg.WithLogger(a.logger(cmd)),
				vecseg.WithRestoreOptions(a.snapshotOptions()))
			if err != nil {
				return err
			}
			info, err := db.Info()
			if err != nil {
				_ = db.Close()
				return err
			}
			if err := db.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %s points into %s\n", humanize.Comma(int64(info.Points)), a.dir)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Snapshot id (default CURRENT)")
	return cmd
}

func formatLabels(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + labels[k]
	}
	return strings.Join(parts, " ")
}
