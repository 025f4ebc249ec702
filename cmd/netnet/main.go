// netnet — Graham net-net screener for the Tokyo Stock Exchange
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/kawazu256/netnet/internal/config"
	"github.com/kawazu256/netnet/internal/disclosure"
	"github.com/kawazu256/netnet/internal/jquants"
	"github.com/kawazu256/netnet/internal/logging"
	"github.com/kawazu256/netnet/internal/ncav"
	"github.com/kawazu256/netnet/internal/pipeline"
	"github.com/kawazu256/netnet/internal/report"
	"github.com/kawazu256/netnet/internal/scheduler"
	"github.com/kawazu256/netnet/pkg/models"
	"github.com/kawazu256/netnet/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global config
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "netnet",
	Short: "netnet — Graham net-net screener for the Tokyo Stock Exchange",
	Long: `netnet screens the Tokyo Stock Exchange for Graham net-nets: companies
whose share price sits below a fraction of net current asset value per
share. Balance sheets and daily quotes come from the J-Quants API; each
analysis date produces a CSV of candidates under the data directory.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.LogLevel = lvl
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./netnet.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(screenCmd)
	rootCmd.AddCommand(tickersCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(statusCmd)
}

// --- Run Wiring ---

// runStack bundles the per-run plumbing: log streams, API client,
// writers, and the pipeline, all stamped with the same run ID.
type runStack struct {
	streams *logging.Streams
	client  *jquants.Client
	writer  *report.ResultWriter
	perf    *report.Recorder
	pipe    *pipeline.Pipeline
}

func newStack() (*runStack, error) {
	runID := utils.NowJST().Format("20060102_150405") + "_" + uuid.NewString()[:8]

	streams, err := logging.New(cfg.LogDir, runID, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("open log streams: %w", err)
	}

	perf, err := report.NewRecorder(cfg.DataDir, runID)
	if err != nil {
		streams.Close()
		return nil, fmt.Errorf("open performance log: %w", err)
	}

	client := jquants.New(jquants.Options{
		BaseURL:        cfg.APIURL,
		Email:          cfg.Email,
		Password:       cfg.Password,
		IDToken:        cfg.IDToken,
		RefreshToken:   cfg.RefreshToken,
		RequestsPerSec: cfg.RequestsPerSec,
		Store:          cfg,
		Transport:      &streams.Transport,
		Errors:         &streams.Errors,
	})

	writer := report.NewResultWriter(cfg.DataDir)
	engine := ncav.NewEngine(decimal.NewFromFloat(cfg.NCAVPSLimit))
	gate := pipeline.NewGate(cfg.SemaphoreLimit)

	pipe := pipeline.New(client, gate, engine, writer, pipeline.Options{
		StatementLookbackDays: cfg.StatementLookbackDays,
		OHLCLookbackDays:      cfg.OHLCLookbackDays,
	}).WithPerf(perf).WithStreams(streams)

	return &runStack{streams: streams, client: client, writer: writer, perf: perf, pipe: pipe}, nil
}

func (s *runStack) Close() {
	s.perf.Close()
	s.streams.Close()
}

func universePath() string {
	return filepath.Join(cfg.DataDir, "tickers.csv")
}

// runScreen executes the pipeline for the given dates and prints the
// per-date results table. A non-nil universe skips the listed-info
// fetch.
func runScreen(dates []time.Time, universe []models.Ticker) error {
	st, err := newStack()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sum pipeline.RunSummary
	if universe != nil {
		sum, err = st.pipe.RunWithUniverse(ctx, universe, dates)
	} else {
		sum, err = st.pipe.Run(ctx, dates)
	}
	printSummary(sum, st.writer)
	if err != nil {
		return fmt.Errorf("run interrupted: %w", err)
	}
	if sum.HadErrors() {
		fmt.Printf("⚠️  %d ticker evaluations failed; see %s\n",
			sum.TotalFailed(), filepath.Join(cfg.LogDir, "errors_"+st.streams.RunID+".log"))
	}
	return nil
}

func printSummary(sum pipeline.RunSummary, w *report.ResultWriter) {
	fmt.Printf("\n📊 %d tickers screened across %d dates in %s\n",
		sum.Universe, len(sum.Dates), sum.Elapsed.Round(time.Second))
	for _, ds := range sum.Dates {
		fmt.Printf("  %s  %4d candidates  (evaluated %d, no statement %d, no quote %d, inconsistent %d, failed %d)\n",
			utils.FormatDate(ds.Date), ds.Candidates, ds.Processed,
			ds.SkippedStatement, ds.SkippedPrice, ds.Inconsistent, ds.Failed)
		for _, c := range ds.Accepted {
			fmt.Printf("        %-5s  %s at %s of NCAVPS %s\n",
				utils.DisplayCode(c.Code),
				utils.FormatJPY(c.SharePrice.InexactFloat64()),
				utils.FormatPct(c.MOSRate.InexactFloat64()),
				utils.FormatJPY(c.NCAVPS.InexactFloat64()))
		}
		fmt.Printf("        %s\n", w.ResultPath(ds.Date))
	}
}

func parseDateList(raw string) ([]time.Time, error) {
	var dates []time.Time
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		d, err := utils.ParseDateJST(part)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", part, err)
		}
		dates = append(dates, d)
	}
	if len(dates) == 0 {
		return nil, fmt.Errorf("no dates given")
	}
	return dates, nil
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("netnet %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Collect Command ---

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Collect net-net candidates across a range of historical dates",
	Long: `Screens one analysis date per year between --from-year and --to-year,
anchored at --month-day, writing one candidate CSV per date. Pass
--dates to screen an explicit comma-separated list instead.

Examples:
  netnet collect
  netnet collect --from-year 2015 --to-year 2020
  netnet collect --dates 2015-12-21,2016-06-30`,
	RunE: func(cmd *cobra.Command, args []string) error {
		explicit, _ := cmd.Flags().GetString("dates")
		fromYear, _ := cmd.Flags().GetInt("from-year")
		toYear, _ := cmd.Flags().GetInt("to-year")
		monthDay, _ := cmd.Flags().GetString("month-day")
		refresh, _ := cmd.Flags().GetBool("refresh")

		var (
			dates []time.Time
			err   error
		)
		if explicit != "" {
			dates, err = parseDateList(explicit)
		} else {
			if toYear == 0 {
				toYear = utils.NowJST().Year()
			}
			dates, err = utils.YearlyAnalysisDates(fromYear, toYear, monthDay)
			// The generated horizon never extends past today; explicit
			// --dates pass through as given.
			today := utils.Day(utils.NowJST())
			for len(dates) > 0 && dates[len(dates)-1].After(today) {
				dates = dates[:len(dates)-1]
			}
		}
		if err != nil {
			return err
		}
		if len(dates) == 0 {
			return fmt.Errorf("no analysis dates on or before today in %d..%d", fromYear, toYear)
		}

		var universe []models.Ticker
		if !refresh {
			if cached, err := jquants.LoadUniverse(universePath()); err == nil {
				universe = cached
				fmt.Printf("📋 Using cached universe: %d tickers (%s, --refresh to refetch)\n",
					len(cached), universePath())
			}
		}

		fmt.Printf("🔍 Collecting net-net candidates for %d dates (%s .. %s)\n",
			len(dates), utils.FormatDate(dates[0]), utils.FormatDate(dates[len(dates)-1]))
		return runScreen(dates, universe)
	},
}

func init() {
	collectCmd.Flags().Int("from-year", 2010, "first year to screen")
	collectCmd.Flags().Int("to-year", 0, "last year to screen (default: current year)")
	collectCmd.Flags().String("month-day", "12-21", "analysis date within each year (MM-DD)")
	collectCmd.Flags().String("dates", "", "explicit comma-separated analysis dates (overrides the year range)")
	collectCmd.Flags().Bool("refresh", false, "ignore the cached ticker universe")
}

// --- Screen Command ---

var screenCmd = &cobra.Command{
	Use:   "screen",
	Short: "Screen the market for net-nets as of one date",
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("date")

		analysisDate := utils.Day(utils.NowJST())
		if raw != "" {
			var err error
			analysisDate, err = utils.ParseDateJST(raw)
			if err != nil {
				return fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", raw, err)
			}
		}

		fmt.Printf("🔍 Screening as of %s\n", utils.FormatDate(analysisDate))
		return runScreen([]time.Time{analysisDate}, nil)
	},
}

func init() {
	screenCmd.Flags().String("date", "", "analysis date YYYY-MM-DD (default: today)")
}

// --- Tickers Command ---

var tickersCmd = &cobra.Command{
	Use:   "tickers",
	Short: "Fetch and cache the screening universe of listed companies",
	RunE: func(cmd *cobra.Command, args []string) error {
		refresh, _ := cmd.Flags().GetBool("refresh")
		path := universePath()

		if !refresh {
			if tickers, err := jquants.LoadUniverse(path); err == nil {
				fmt.Printf("📋 %d tickers (cached in %s, use --refresh to refetch)\n", len(tickers), path)
				return nil
			}
		}

		st, err := newStack()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		tickers, err := st.client.ListTickers(ctx)
		if err != nil {
			return fmt.Errorf("fetch ticker universe: %w", err)
		}
		if err := jquants.SaveUniverse(path, tickers); err != nil {
			return fmt.Errorf("cache ticker universe: %w", err)
		}
		fmt.Printf("📋 %d tickers fetched and cached in %s\n", len(tickers), path)
		return nil
	},
}

func init() {
	tickersCmd.Flags().Bool("refresh", false, "refetch the universe even if a cached copy exists")
}

// --- Watch Command ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Tail the disclosure feed for new filings",
	Long: `Polls the TDnet RSS feed and prints each new filing with its normalized
ticker code. Useful for spotting earnings releases that will move a
company in or out of the net-net screen.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		feed, _ := cmd.Flags().GetString("feed")
		interval, _ := cmd.Flags().GetDuration("interval")
		if feed == "" {
			feed = cfg.FeedURL
		}
		if feed == "" {
			return fmt.Errorf("no feed URL: set feed_url in netnet.yaml or pass --feed")
		}

		st, err := newStack()
		if err != nil {
			return err
		}
		defer st.Close()

		w := disclosure.NewWatcher(feed, interval).WithLogger(&st.streams.App)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("📰 Watching %s every %s (Ctrl-C to stop)\n", feed, interval)
		err = w.Watch(ctx, func(f disclosure.Filing) {
			code := "-"
			if f.Code != "" {
				code = utils.DisplayCode(f.Code)
			}
			fmt.Printf("  %s  %-6s %s\n", f.Published.In(utils.JST).Format("01-02 15:04"), code, f.Title)
		})
		if errors.Is(err, context.Canceled) {
			fmt.Println("\n👋 Watch stopped")
			return nil
		}
		return err
	},
}

func init() {
	watchCmd.Flags().String("feed", "", "RSS/Atom feed URL (default: feed_url from config)")
	watchCmd.Flags().Duration("interval", 5*time.Minute, "poll interval")
}

// --- Schedule Command ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled screens until interrupted",
	Long: `Runs the screening pipeline on a cron schedule, after the Tokyo close by
default. The ticker universe is cached between firings and refetched
once every 12 hours.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		spec, _ := cmd.Flags().GetString("spec")
		if spec == "" {
			spec = cfg.ScreenSchedule
		}

		st, err := newStack()
		if err != nil {
			return err
		}
		defer st.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ucache := jquants.NewUniverseCache(12 * time.Hour)
		job := func() {
			analysisDate := utils.Day(utils.NowJST())
			universe, ok := ucache.Get()
			if !ok {
				var err error
				universe, err = st.client.ListTickers(ctx)
				if err != nil {
					st.streams.App.Error().Err(err).Msg("scheduled screen aborted: ticker universe fetch failed")
					return
				}
				ucache.Set(universe)
				if err := jquants.SaveUniverse(universePath(), universe); err != nil {
					st.streams.App.Warn().Err(err).Msg("universe cache write failed")
				}
			}
			sum, err := st.pipe.RunWithUniverse(ctx, universe, []time.Time{analysisDate})
			if err != nil {
				st.streams.App.Error().Err(err).Msg("scheduled screen interrupted")
				return
			}
			fmt.Printf("📊 %s  %d candidates (%d evaluated) → %s\n",
				utils.FormatDate(analysisDate), sum.TotalCandidates(), sum.Universe,
				st.writer.ResultPath(analysisDate))
		}

		sched := scheduler.New(utils.JST, &st.streams.App)
		if err := sched.Add(spec, "screen", job); err != nil {
			return err
		}
		sched.Start()
		fmt.Printf("⏰ Screening on schedule %q (Ctrl-C to stop)\n", spec)

		<-ctx.Done()
		fmt.Println("\n👋 Waiting for running jobs to finish...")
		sched.Stop()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().String("spec", "", "cron spec override (default: screen_schedule from config)")
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  netnet — System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatus())
		fmt.Printf("  Time (JST):    %s\n", utils.FormatDateTime(utils.NowJST()))
		fmt.Println()

		// Config summary
		fmt.Println("  Configuration:")
		fmt.Printf("    API URL:            %s\n", cfg.APIURL)
		fmt.Printf("    NCAVPS Limit:       %s\n", utils.FormatPct(cfg.NCAVPSLimit))
		fmt.Printf("    Concurrency:        %d\n", cfg.SemaphoreLimit)
		fmt.Printf("    Statement Lookback: %d days\n", cfg.StatementLookbackDays)
		fmt.Printf("    OHLC Lookback:      %d days\n", cfg.OHLCLookbackDays)
		fmt.Printf("    Data Dir:           %s\n", cfg.DataDir)
		fmt.Printf("    Log Dir:            %s\n", cfg.LogDir)
		fmt.Println()

		// Data dir contents
		fmt.Println("  Data:")
		results, _ := filepath.Glob(filepath.Join(cfg.DataDir, "netnet_*.csv"))
		fmt.Printf("    Result CSVs:        %d\n", len(results))
		if fi, err := os.Stat(universePath()); err == nil {
			fmt.Printf("    Ticker cache:       %s (updated %s)\n",
				universePath(), utils.FormatDate(fi.ModTime()))
		} else {
			fmt.Println("    Ticker cache:       not present")
		}
		fmt.Println()

		// Credential status
		fmt.Println("  J-Quants Credentials:")
		creds := config.CheckCredentials(cfg)
		for _, k := range creds {
			status := "❌ not set"
			if k.IsSet {
				status = fmt.Sprintf("✅ set (%s: %s)", k.Source, k.Masked)
			}
			fmt.Printf("    %-25s %s\n", k.Name+":", status)
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
