package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fractal-lba/healthxai/internal/predlog"
)

// retainer is implemented by stores that support retention cleanup.
type retainer interface {
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type storeFlags struct {
	backend string
	path    string
}

func (s *storeFlags) open(opts *rootOptions, cmd *cobra.Command) (predlog.Store, error) {
	cfg, _, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	o := cfg.PredLogOptions()
	if s.backend != "" {
		o.Backend = s.backend
	}
	if s.path != "" {
		o.Path = s.path
	}
	store, err := predlog.Open(o)
	if err != nil {
		return nil, fmt.Errorf("failed to open prediction log: %w", err)
	}
	return store, nil
}

// predlogCmd groups the prediction log maintenance commands
func predlogCmd(opts *rootOptions) *cobra.Command {
	sf := &storeFlags{}
	cmd := &cobra.Command{
		Use:   "predlog",
		Short: "Inspect and maintain the prediction log",
	}
	cmd.PersistentFlags().StringVar(&sf.backend, "backend", "", "Store backend: memory, file, redis, postgres (default from config)")
	cmd.PersistentFlags().StringVar(&sf.path, "path", "", "File or snapshot path for the file and memory backends")

	cmd.AddCommand(predlogListCmd(opts, sf))
	cmd.AddCommand(predlogImportCmd(opts, sf))
	cmd.AddCommand(predlogPruneCmd(opts, sf))
	return cmd
}

func predlogListCmd(opts *rootOptions, sf *storeFlags) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded predictions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			store, err := sf.open(opts, cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			recs, err := store.List(ctx, limit, offset)
			if err != nil {
				return err
			}
			total, err := store.Count(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTIME\tMODEL\tLABEL\tPROBABILITY")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.3f\n",
					r.ID, r.Timestamp.Format(time.RFC3339), r.Model, r.Label, r.Probability)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d records\n", len(recs), total)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum records to show (0 = all)")
	cmd.Flags().IntVar(&offset, "offset", 0, "Records to skip")
	return cmd
}

// predlogImportCmd replays a JSON-lines log into the configured store
func predlogImportCmd(opts *rootOptions, sf *storeFlags) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Copy records from a JSON-lines prediction log into the store",
		Long: `Reads a prediction log written by the file backend, skipping torn or
malformed lines, and appends every record to the selected store. Records
already present are left untouched, so an import can be re-run safely.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			recs, err := predlog.Replay(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "%d records would be imported\n", len(recs))
				return nil
			}

			store, err := sf.open(opts, cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			for i, r := range recs {
				if err := store.Append(ctx, r); err != nil {
					return fmt.Errorf("record %d (%s): %w", i, r.ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d records\n", len(recs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Only count the records")
	return cmd
}

func predlogPruneCmd(opts *rootOptions, sf *storeFlags) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete records older than a retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return fmt.Errorf("--older-than must be positive")
			}
			store, err := sf.open(opts, cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			r, ok := store.(retainer)
			if !ok {
				return fmt.Errorf("backend %T does not support pruning", store)
			}
			n, err := r.DeleteBefore(context.Background(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "Retention window")
	return cmd
}
