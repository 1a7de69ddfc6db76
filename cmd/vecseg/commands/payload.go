package commands

import (
	"context"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecseg"
	"github.com/hupe1980/vecseg/model"
)

func (a *app) payloadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payload",
		Short: "Read and modify point payloads",
	}

	var version uint64
	cmd.PersistentFlags().Uint64Var(&version, "version", 0, "Operation version (the next one when omitted)")

	// mutate wraps a payload operation on the point named by the first argument.
	mutate := func(op string, nargs int, fn func(ctx context.Context, db *vecseg.DB, v model.Version, id model.PointID, args []string) (vecseg.Result, error)) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context, db *vecseg.DB) error {
				res, err := fn(ctx, db, opVersion(cmd, version), id, args[1:nargs])
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), op, res)
				return nil
			})
		}
	}

	set := &cobra.Command{
		Use:   "set ID JSON",
		Short: "Replace the payload of a point",
		Args:  cobra.ExactArgs(2),
		RunE: mutate("set payload", 2, func(ctx context.Context, db *vecseg.DB, v model.Version, id model.PointID, args []string) (vecseg.Result, error) {
			return db.SetPayloadJSON(ctx, v, id, []byte(args[0]))
		}),
	}

	del := &cobra.Command{
		Use:   "delete ID KEY",
		Short: "Remove one payload key of a point",
		Args:  cobra.ExactArgs(2),
		RunE: mutate("delete payload key", 2, func(ctx context.Context, db *vecseg.DB, v model.Version, id model.PointID, args []string) (vecseg.Result, error) {
			return db.DeletePayloadKey(ctx, v, id, args[0])
		}),
	}

	clearCmd := &cobra.Command{
		Use:   "clear ID",
		Short: "Remove every payload key of a point",
		Args:  cobra.ExactArgs(1),
		RunE: mutate("clear payload", 1, func(ctx context.Context, db *vecseg.DB, v model.Version, id model.PointID, _ []string) (vecseg.Result, error) {
			return db.ClearPayload(ctx, v, id)
		}),
	}

	get := &cobra.Command{
		Use:   "get ID",
		Short: "Print the payload of a point as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(_ context.Context, db *vecseg.DB) error {
				tree, err := db.PayloadExport(id)
				if err != nil {
					return err
				}
				out, err := json.MarshalIndent(tree, "", "  ")
				if err != nil {
					return fmt.Errorf("encode payload: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			})
		},
	}

	cmd.AddCommand(set, get, del, clearCmd)
	return cmd
}
