package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aluiziolira/go-order-export/config"
	"github.com/aluiziolira/go-order-export/exporter"
	"github.com/aluiziolira/go-order-export/pipeline"
	"github.com/aluiziolira/go-order-export/scraper"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var errListingsFailed = errors.New("some listings did not finish")

type flags struct {
	configFile       string
	envFile          string
	year             int
	includePurchases bool
	includeSales     bool
	policy           string
	output           string
	format           string
	delay            time.Duration
	maxPages         int
	maxRetries       int
	debugDump        string
	metricsAddr      string
	verbose          bool
}

func newRootCmd() *cobra.Command {
	var f *flags
	cmd := &cobra.Command{
		Use:   "order-export",
		Short: "Incrementally export marketplace purchases and sales to CSV.",
		Long: `order-export signs in to the marketplace with a browser cookie or a
username and password, walks the purchase and sales listings newest first and
appends orders it has not seen before to a local CSV file.

Credentials are read from EXPORT_COOKIE or EXPORT_SESSION_ID together with
EXPORT_USER_AGENT, or from EXPORT_USERNAME and EXPORT_PASSWORD. A .env file in
the working directory is loaded first.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := buildConfig(cmd, f)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}
	f = bindFlags(cmd)
	return cmd
}

func bindFlags(cmd *cobra.Command) *flags {
	f := &flags{}
	defaults := config.DefaultConfig()

	fs := cmd.Flags()
	fs.StringVar(&f.configFile, "config", "", "JSON5 config file (a .local variant next to it overrides it)")
	fs.StringVar(&f.envFile, "env-file", ".env", "dotenv file with EXPORT_* variables")
	fs.IntVar(&f.year, "year", 0, "only export orders dated in or after this year")
	fs.BoolVar(&f.includePurchases, "include-purchases", false, "walk the purchases listing (both listings are walked when neither --include flag is set)")
	fs.BoolVar(&f.includeSales, "include-sales", false, "walk the sales listing (both listings are walked when neither --include flag is set)")
	fs.StringVar(&f.policy, "policy", defaults.Policy, "duplicate stop policy: strict or tolerant")
	fs.StringVarP(&f.output, "output", "o", defaults.OutputFile, "CSV record file")
	fs.StringVar(&f.format, "format", defaults.OutputFormat, "output format: csv or dual (adds a JSONL mirror)")
	fs.DurationVar(&f.delay, "delay", defaults.Delay, "pause between listing pages")
	fs.IntVar(&f.maxPages, "max-pages", defaults.MaxPages, "maximum pages per listing")
	fs.IntVar(&f.maxRetries, "max-retries", defaults.MaxRetries, "retries per page on network or server errors")
	fs.StringVar(&f.debugDump, "debug-dump", "error_log.html", "where to save a page that failed the login check (empty disables)")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "enable debug logging")
	return f
}

// buildConfig layers defaults, the optional config file, the dotenv file,
// the environment and finally explicitly set flags.
func buildConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.DefaultConfig()
	cfg.DebugDumpPath = f.debugDump

	if f.configFile != "" {
		if err := cfg.LoadFile(f.configFile); err != nil {
			return nil, err
		}
	}
	if err := config.LoadDotEnv(f.envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", f.envFile, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("invalid environment: %w", err)
	}

	changed := cmd.Flags().Changed
	if changed("year") {
		cfg.Year = f.year
	}
	if changed("include-purchases") {
		cfg.IncludePurchases = f.includePurchases
	}
	if changed("include-sales") {
		cfg.IncludeSales = f.includeSales
	}
	if changed("policy") {
		cfg.Policy = strings.ToLower(f.policy)
	}
	if changed("output") {
		cfg.OutputFile = f.output
	}
	if changed("format") {
		cfg.OutputFormat = strings.ToLower(f.format)
	}
	if changed("delay") {
		cfg.Delay = f.delay
	}
	if changed("max-pages") {
		cfg.MaxPages = f.maxPages
	}
	if changed("max-retries") {
		cfg.MaxRetries = f.maxRetries
	}
	if changed("debug-dump") {
		cfg.DebugDumpPath = f.debugDump
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("verbose") {
		cfg.Verbose = f.verbose
	}

	if !cfg.IncludePurchases && !cfg.IncludeSales {
		cfg.IncludePurchases = true
		cfg.IncludeSales = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	logger, level := newLogger(cfg.Verbose)
	slog.SetDefault(logger)
	slog.SetLogLoggerLevel(level.Level())

	slog.Info("starting export",
		slog.String("base_url", cfg.BaseURL),
		slog.String("auth", cfg.AuthMode()),
		slog.String("policy", cfg.Policy),
		slog.Int("year", cfg.Year),
		slog.String("output", cfg.OutputFile),
	)

	s, err := scraper.NewScraper(cfg)
	if err != nil {
		return fmt.Errorf("initialising scraper: %w", err)
	}

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", slog.Any("error", err))
			}
		}()
		slog.Info("metrics server enabled", slog.String("addr", cfg.MetricsAddr))
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("metrics server shutdown failed", slog.Any("error", err))
			}
		}()
	}

	mirror := ""
	if cfg.OutputFormat == "dual" {
		mirror = cfg.JSONMirrorPath()
	}
	store := pipeline.NewStore(cfg.OutputFile, mirror)

	summary, runErr := exporter.New(cfg, store, s).Run(ctx)
	printSummary(summary, cfg.OutputFile, store.GetMetrics())

	if runErr != nil {
		return fmt.Errorf("%s: %w", scraper.Category(runErr), runErr)
	}
	if len(summary.Failed()) > 0 {
		return errListingsFailed
	}
	return nil
}
