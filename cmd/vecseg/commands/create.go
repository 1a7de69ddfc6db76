package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecseg/index/hnsw"
	"github.com/hupe1980/vecseg/internal/config"
)

func (a *app) createCommand() *cobra.Command {
	var (
		seg      config.SegmentConfig
		tunables config.HNSWConfig
		defaults = hnsw.DefaultConfig
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an empty segment",
		Long: `Create an empty segment in --dir. Flags override the segment section
of the config file. Creating over an existing segment succeeds only when
the configurations are equal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			if flags.Changed("size") {
				a.cfg.Segment.VectorSize = seg.VectorSize
			}
			if flags.Changed("distance") {
				a.cfg.Segment.Distance = seg.Distance
			}
			if flags.Changed("index") {
				a.cfg.Segment.Index = seg.Index
			}
			if flags.Changed("payload-index") {
				a.cfg.Segment.PayloadIndex = seg.PayloadIndex
			}
			if flags.Changed("storage") {
				a.cfg.Segment.Storage = seg.Storage
			}
			if flags.Changed("m") || flags.Changed("ef-construct") || flags.Changed("full-scan-threshold") {
				if a.cfg.Segment.HNSW == nil {
					a.cfg.Segment.HNSW = &config.HNSWConfig{
						M:                 defaults.M,
						EfConstruct:       defaults.EfConstruct,
						FullScanThreshold: defaults.FullScanThreshold,
					}
				}
				if flags.Changed("m") {
					a.cfg.Segment.HNSW.M = tunables.M
				}
				if flags.Changed("ef-construct") {
					a.cfg.Segment.HNSW.EfConstruct = tunables.EfConstruct
				}
				if flags.Changed("full-scan-threshold") {
					a.cfg.Segment.HNSW.FullScanThreshold = tunables.FullScanThreshold
				}
			}

			segCfg, err := a.cfg.SegmentConfig()
			if err != nil {
				return err
			}
			db, err := a.open(cmd, &segCfg)
			if err != nil {
				return err
			}
			if err := db.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s segment in %s (size %d, %s)\n",
				segCfg.Index.Kind, a.dir, segCfg.VectorSize, segCfg.Distance)
			return nil
		},
	}

	cmd.Flags().IntVar(&seg.VectorSize, "size", 0, "Vector dimension")
	cmd.Flags().StringVar(&seg.Distance, "distance", "", "Distance metric (cosine, dot, euclid)")
	cmd.Flags().StringVar(&seg.Index, "index", "", "Vector index (plain, hnsw)")
	cmd.Flags().StringVar(&seg.PayloadIndex, "payload-index", "", "Payload index (plain, struct)")
	cmd.Flags().StringVar(&seg.Storage, "storage", "", "Vector storage (in_memory, mmap)")
	cmd.Flags().IntVar(&tunables.M, "m", 0, "hnsw links per node")
	cmd.Flags().IntVar(&tunables.EfConstruct, "ef-construct", 0, "hnsw build breadth")
	cmd.Flags().IntVar(&tunables.FullScanThreshold, "full-scan-threshold", 0, "hnsw exact search cardinality threshold")
	return cmd
}
