package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/indu/internal/config"
	"github.com/agentic-research/indu/internal/dircache"
	"github.com/agentic-research/indu/internal/entry"
	"github.com/agentic-research/indu/internal/logging"
	"github.com/agentic-research/indu/internal/metrics"
	"github.com/agentic-research/indu/internal/scan"
	"github.com/agentic-research/indu/internal/tree"
)

// version is set at build time with -ldflags "-X .../cmd.version=...".
var version = "dev"

var (
	configPath    string
	cacheFile     string
	logLevel      string
	logFormat     string
	metricsFile   string
	oneFileSystem bool
	excludeKernFS bool
	extended      bool
	noCache       bool
)

// populated by PersistentPreRunE
var (
	cfg    config.Config
	logger = zap.NewNop()
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to indu.hcl (default: user config dir)")
	pf.StringVar(&cacheFile, "cache", "", "Path to the cache file")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "console", "Log format: console, json")
	pf.StringVar(&metricsFile, "metrics-file", "", "Write Prometheus metrics to this textfile")
	pf.BoolVarP(&oneFileSystem, "one-file-system", "x", false, "Do not cross filesystem boundaries")
	pf.BoolVar(&excludeKernFS, "exclude-kernfs", false, "Skip Linux pseudo filesystems")
	pf.BoolVarP(&extended, "extended", "e", false, "Record uid, gid and mode")

	rootCmd.Flags().BoolVar(&noCache, "no-cache", false, "Scan without reading or writing the cache")
}

var rootCmd = &cobra.Command{
	Use:               "indu [dir]",
	Short:             "Disk usage scanner with an incremental directory cache",
	Args:              cobra.MaximumNArgs(1),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) { _ = logger.Sync() },
	RunE:              runScan,
}

// setup resolves the configuration and builds the logger. Explicit flags
// win over the config file.
func setup(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.DefaultPath()
	}
	c, err := config.Load(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("cache") {
		c.CacheFile = cacheFile
	}
	if flags.Changed("log-level") {
		c.LogLevel = logLevel
	}
	if flags.Changed("log-format") {
		c.LogFormat = logFormat
	}
	if flags.Changed("metrics-file") {
		c.MetricsFile = metricsFile
	}
	if flags.Changed("one-file-system") {
		c.OneFileSystem = oneFileSystem
	}
	if flags.Changed("exclude-kernfs") {
		c.ExcludeKernFS = excludeKernFS
	}
	if flags.Changed("extended") {
		c.Extended = extended
	}
	if err := c.Validate(); err != nil {
		return err
	}

	l, err := logging.New(logging.Config{Level: c.LogLevel, Format: c.LogFormat})
	if err != nil {
		return err
	}
	cfg, logger = c, l
	return nil
}

func openStore(m *metrics.Metrics) *dircache.Store {
	if err := os.MkdirAll(filepath.Dir(cfg.CacheFile), 0o755); err != nil {
		logger.Warn("create cache directory", zap.Error(err))
	}
	return dircache.New(cfg.CacheFile,
		dircache.WithLogger(logger),
		dircache.WithMetrics(m),
		dircache.WithLockTimeouts(cfg.LoadTimeout, cfg.SaveTimeout),
		dircache.WithProgram("indu", version),
	)
}

func runScan(cmd *cobra.Command, args []string) error {
	root := "."
	if len(args) == 1 {
		root = args[0]
	}
	m := metrics.New()

	var store *dircache.Store
	if !noCache {
		store = openStore(m)
		defer store.Destroy()
		if err := store.Load(); err != nil {
			logger.Warn("ignoring unreadable cache", zap.String("path", cfg.CacheFile), zap.Error(err))
		}
	}

	b := tree.NewBuilder()
	sum, err := scan.Run(cmd.Context(), root, scan.Options{
		Cache:         store,
		Sink:          b,
		OneFileSystem: cfg.OneFileSystem,
		ExcludeKernFS: cfg.ExcludeKernFS,
		Extended:      cfg.Extended,
		Logger:        logger,
		Metrics:       m,
	})
	if err != nil {
		return err
	}
	n, err := b.Finish()
	if err != nil {
		return err
	}

	// the cache only ever reflects complete scans
	if store != nil {
		if err := store.Save(); err != nil {
			logger.Warn("cache not saved", zap.String("path", cfg.CacheFile), zap.Error(err))
		}
	}

	printSummary(cmd.OutOrStdout(), n, sum, b.HardLinks())

	if cfg.MetricsFile != "" {
		if err := m.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("write metrics", zap.String("path", cfg.MetricsFile), zap.Error(err))
		}
	}
	return nil
}

// printSummary writes tab separated totals followed by the root's direct
// children, largest first.
func printSummary(w io.Writer, n *tree.Node, sum scan.Summary, hardlinks uint64) {
	fmt.Fprintf(w, "path\t%s\n", n.Name)
	fmt.Fprintf(w, "items\t%d\n", sum.Items)
	fmt.Fprintf(w, "disk_usage\t%d\n", sum.Size)
	fmt.Fprintf(w, "apparent_size\t%d\n", sum.ASize)
	fmt.Fprintf(w, "hardlinks\t%d\n", hardlinks)
	fmt.Fprintf(w, "errors\t%d\n", sum.Errors)
	fmt.Fprintf(w, "cache_hits\t%d\n", sum.Hits)
	fmt.Fprintf(w, "cache_misses\t%d\n", sum.Misses)

	kids := append([]*tree.Node(nil), n.Children...)
	sort.SliceStable(kids, func(i, j int) bool {
		if kids[i].Size != kids[j].Size {
			return kids[i].Size > kids[j].Size
		}
		return kids[i].Name < kids[j].Name
	})
	for _, c := range kids {
		name := c.Name
		if c.Flags&entry.FlagDir != 0 {
			name += "/"
		}
		fmt.Fprintf(w, "%d\t%d\t%s\n", c.Size, c.ASize, name)
	}
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
