package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/hupe1980/vecseg"
	"github.com/hupe1980/vecseg/segment"
)

func (a *app) infoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show segment statistics and payload schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withDB(cmd, func(_ context.Context, db *vecseg.DB) error {
				info, err := db.Info()
				if err != nil {
					return err
				}
				renderInfo(cmd.OutOrStdout(), info)
				return nil
			})
		},
	}
}

func renderInfo(w io.Writer, info segment.Info) {
	tw := newTable(w, "Property", "Value")
	tw.Append([]string{"Distance", info.Config.Distance.String()})
	tw.Append([]string{"Vector size", strconv.Itoa(info.Config.VectorSize)})
	tw.Append([]string{"Index", info.Config.Index.Kind.String()})
	tw.Append([]string{"Payload index", info.Config.PayloadIndex.String()})
	tw.Append([]string{"Storage", info.Config.Storage.String()})
	tw.Append([]string{"Points", humanize.Comma(int64(info.Points))})
	tw.Append([]string{"Vectors", humanize.Comma(int64(info.Vectors))})
	tw.Append([]string{"Deleted", humanize.Comma(int64(info.Deleted))})
	tw.Append([]string{"Max version", strconv.FormatUint(uint64(info.MaxVersion), 10)})
	tw.Append([]string{"Disk size", humanize.Bytes(uint64(info.DiskSize))})
	if g := info.Graph; g != nil {
		tw.Append([]string{"Graph nodes", humanize.Comma(int64(g.Nodes))})
		tw.Append([]string{"Graph stale", humanize.Comma(int64(g.Stale))})
		tw.Append([]string{"Graph max level", strconv.Itoa(g.MaxLevel)})
		tw.Append([]string{"Graph avg links", fmt.Sprintf("%.2f", g.AvgLinks)})
	}
	tw.Render()

	if len(info.Schema) == 0 {
		return
	}
	fmt.Fprintln(w)
	keys := make([]string, 0, len(info.Schema))
	for k := range info.Schema {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	header := []string{"Key", "Type"}
	if info.IndexedFields != nil {
		header = append(header, "Indexed")
	}
	st := newTable(w, header...)
	for _, k := range keys {
		row := []string{k, info.Schema[k].String()}
		if info.IndexedFields != nil {
			row = append(row, humanize.Comma(int64(info.IndexedFields[k])))
		}
		st.Append(row)
	}
	st.Render()
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetAutoWrapText(false)
	return tw
}
