package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecseg"
	"github.com/hupe1980/vecseg/model"
)

func (a *app) upsertCommand() *cobra.Command {
	var (
		id      uint64
		vector  string
		version uint64
		body    string
	)

	cmd := &cobra.Command{
		Use:   "upsert",
		Short: "Insert a point or replace its vector",
		Example: `  vecseg upsert -d ./data --id 7 --vector 1,0,0,0
  vecseg upsert -d ./data --id 7 --vector 1,0,0,0 --payload '{"color": "red", "sizes": [1, 2]}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			vec, err := parseVector(vector)
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context, db *vecseg.DB) error {
				res, err := db.Upsert(ctx, opVersion(cmd, version), model.PointID(id), vec)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), "upsert", res)
				if body == "" {
					return nil
				}
				// The payload gets its own version after the vector.
				res, err = db.SetPayloadJSON(ctx, model.AutoVersion, model.PointID(id), []byte(body))
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), "set payload", res)
				return nil
			})
		},
	}

	cmd.Flags().Uint64Var(&id, "id", 0, "Point id")
	cmd.Flags().StringVar(&vector, "vector", "", "Comma separated vector components")
	cmd.Flags().Uint64Var(&version, "version", 0, "Operation version (the next one when omitted)")
	cmd.Flags().StringVar(&body, "payload", "", "Typed JSON payload to set after the upsert")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func (a *app) deleteCommand() *cobra.Command {
	var version uint64

	cmd := &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return a.withDB(cmd, func(ctx context.Context, db *vecseg.DB) error {
				res, err := db.DeletePoint(ctx, opVersion(cmd, version), id)
				if err != nil {
					return err
				}
				printResult(cmd.OutOrStdout(), "delete", res)
				return nil
			})
		},
	}
	cmd.Flags().Uint64Var(&version, "version", 0, "Operation version (the next one when omitted)")
	return cmd
}

func (a *app) searchCommand() *cobra.Command {
	var (
		vector string
		topK   int
		filter string
		ef     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Find the nearest points to a query vector",
		Example: `  vecseg search -d ./data --vector 1,0,0,0 --top-k 5 \
    --filter '{"must": [{"key": "color", "match": {"keyword": "red"}}]}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query, err := parseVector(vector)
			if err != nil {
				return err
			}
			var opts []vecseg.SearchOption
			if filter != "" {
				opts = append(opts, vecseg.WithFilterJSON([]byte(filter)))
			}
			if ef > 0 {
				opts = append(opts, vecseg.WithHNSWEf(ef))
			}
			return a.withDB(cmd, func(ctx context.Context, db *vecseg.DB) error {
				hits, err := db.Search(ctx, query, topK, opts...)
				if err != nil {
					return err
				}
				tw := newTable(cmd.OutOrStdout(), "Rank", "ID", "Score")
				for i, h := range hits {
					tw.Append([]string{
						strconv.Itoa(i + 1),
						strconv.FormatUint(uint64(h.ID), 10),
						strconv.FormatFloat(float64(h.Score), 'f', 6, 32),
					})
				}
				tw.Render()
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&vector, "vector", "", "Comma separated query components")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 10, "Number of results")
	cmd.Flags().StringVar(&filter, "filter", "", "JSON filter")
	cmd.Flags().IntVar(&ef, "ef", 0, "hnsw search breadth")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func parseID(s string) (model.PointID, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid point id %q: %w", s, err)
	}
	return model.PointID(id), nil
}

func printResult(w io.Writer, op string, res vecseg.Result) {
	if res.Applied {
		fmt.Fprintf(w, "%s applied at version %d\n", op, res.Version)
		return
	}
	fmt.Fprintf(w, "%s skipped at version %d: stale or unknown point\n", op, res.Version)
}
