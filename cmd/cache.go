package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/indu/internal/export"
	"github.com/agentic-research/indu/internal/lock"
	"github.com/agentic-research/indu/internal/metrics"
	"github.com/agentic-research/indu/internal/report"
)

var inspectFilter string

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and export the directory cache",
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Print the cache file as JSON",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := report.Load(cfg.CacheFile)
		if err != nil {
			return err
		}
		if inspectFilter == "" {
			return report.Write(cmd.OutOrStdout(), doc)
		}
		matches, err := report.Query(doc, inspectFilter)
		if err != nil {
			return err
		}
		return report.Write(cmd.OutOrStdout(), matches)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export [output.db]",
	Short: "Export the cache to a SQLite database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output := args[0]
		start := time.Now()

		store := openStore(metrics.New())
		defer store.Destroy()
		if err := store.Load(); err != nil {
			return err
		}
		entries := store.Entries()
		if err := export.WriteSQLite(cmd.Context(), output, entries); err != nil {
			return err
		}
		logger.Info("exported cache",
			zap.String("output", output),
			zap.Int("entries", len(entries)),
			zap.Duration("took", time.Since(start)))
		fmt.Fprintf(cmd.OutOrStdout(), "%d entries written to %s\n", len(entries), output)
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:   "lock",
	Short: "Show who holds the cache lock",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		path := cfg.CacheFile + lock.Suffix
		h, err := lock.ReadHolder(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(w, "no lock file at %s\n", path)
			return nil
		case err != nil:
			// empty or torn record: no exclusive holder has written it
			fmt.Fprintf(w, "lock\t%s\nholder\tnone (%v)\n", path, err)
			return nil
		}
		now := time.Now()
		fmt.Fprintf(w, "lock\t%s\n", path)
		fmt.Fprintf(w, "pid\t%d\n", h.PID)
		fmt.Fprintf(w, "since\t%s\n", time.Unix(h.Timestamp, 0).Format(time.RFC3339))
		fmt.Fprintf(w, "alive\t%t\n", lock.IsAlive(h.PID))
		fmt.Fprintf(w, "stale\t%t\n", h.Stale(now, lock.IsAlive))
		return nil
	},
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectFilter, "filter", "f", "", "JSONPath expression, e.g. '$.entries[*].path'")
	cacheCmd.AddCommand(inspectCmd, exportCmd, lockCmd)
	rootCmd.AddCommand(cacheCmd)
}
