// Package commands implements the vecseg command tree.
package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/vecseg"
	"github.com/hupe1980/vecseg/internal/config"
	"github.com/hupe1980/vecseg/model"
	"github.com/hupe1980/vecseg/segment"
)

type app struct {
	cfgFile  string
	dir      string
	logLevel string

	cfg *config.Config
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "vecseg",
		Short:         "Manage a durable vector segment",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "YAML config file")
	root.PersistentFlags().StringVarP(&a.dir, "dir", "d", "", "Segment directory")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")

	root.AddCommand(
		a.createCommand(),
		a.infoCommand(),
		a.upsertCommand(),
		a.deleteCommand(),
		a.searchCommand(),
		a.payloadCommand(),
		a.replayCommand(),
		a.snapshotCommand(),
		a.restoreCommand(),
	)
	return root
}

// Execute runs the command tree with os.Args. An interrupt cancels the
// running command.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		root.PrintErrln("Error:", err)
		return err
	}
	return nil
}

func (a *app) load() error {
	var err error
	if a.cfgFile != "" {
		a.cfg, err = config.Load(a.cfgFile)
	} else {
		a.cfg = config.Default()
	}
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		a.cfg.Log.Level = a.logLevel
		if _, err := a.cfg.LogLevel(); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) logger(cmd *cobra.Command) *vecseg.Logger {
	level, _ := a.cfg.LogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(a.cfg.Log.Format, "json") {
		return vecseg.NewLogger(slog.NewJSONHandler(cmd.ErrOrStderr(), opts))
	}
	return vecseg.NewLogger(slog.NewTextHandler(cmd.ErrOrStderr(), opts))
}

func (a *app) requireDir() error {
	if a.dir == "" {
		return errors.New("--dir is required")
	}
	return nil
}

// open opens the segment in --dir. A non-nil create config creates it.
func (a *app) open(cmd *cobra.Command, create *segment.Config, extra ...vecseg.Option) (*vecseg.DB, error) {
	if err := a.requireDir(); err != nil {
		return nil, err
	}
	walFn, err := a.cfg.WALOptions()
	if err != nil {
		return nil, err
	}
	opts := []vecseg.Option{
		vecseg.WithWAL(walFn),
		vecseg.WithLogger(a.logger(cmd)),
	}
	if create != nil {
		opts = append(opts, vecseg.Create(*create))
	}
	return vecseg.Open(cmd.Context(), a.dir, append(opts, extra...)...)
}

// withDB opens the segment, runs fn and closes it, joining the errors.
func (a *app) withDB(cmd *cobra.Command, fn func(ctx context.Context, db *vecseg.DB) error) (err error) {
	db, err := a.open(cmd, nil)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, db.Close())
	}()
	return fn(cmd.Context(), db)
}

func parseVector(s string) ([]float32, error) {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil, errors.New("empty vector")
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("vector component %d: %w", i, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// opVersion returns the --version flag value, or model.AutoVersion when the
// flag was not given.
func opVersion(cmd *cobra.Command, v uint64) model.Version {
	if !cmd.Flags().Changed("version") {
		return model.AutoVersion
	}
	return model.Version(v)
}
