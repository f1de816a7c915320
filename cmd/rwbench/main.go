package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"gitlab.com/slon/fairrw/rwmutex"
	"gitlab.com/slon/fairrw/rwstats"
	"gitlab.com/slon/fairrw/workload"
)

type options struct {
	configPath  string
	strategy    string
	readers     int
	writers     int
	duration    time.Duration
	metricsAddr string
	verbose     bool
}

func newRootCmd() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "rwbench",
		Short: "Measure reader and writer starvation of reader/writer locks",
		Long: "rwbench runs a crowd of readers and a few periodic writers against a\n" +
			"reader/writer lock and reports how often each class got in and how long\n" +
			"it waited. Strategies: " + fmt.Sprint(workload.Strategies()) + ".",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	opts.register(cmd.Flags())
	return cmd
}

func (opts *options) register(flags *pflag.FlagSet) {
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to .yaml workload config")
	flags.StringVarP(&opts.strategy, "strategy", "s", "", "lock strategy, overrides config")
	flags.IntVar(&opts.readers, "readers", 0, "number of reader goroutines, overrides config")
	flags.IntVar(&opts.writers, "writers", 0, "number of writer goroutines, overrides config")
	flags.DurationVarP(&opts.duration, "duration", "d", 0, "run duration, overrides config")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every lock transition")
}

func loadConfig(cmd *cobra.Command, opts options) (workload.Config, error) {
	cfg := workload.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = workload.LoadConfig(opts.configPath); err != nil {
			return cfg, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("strategy") {
		cfg.Strategy = opts.strategy
	}
	if flags.Changed("readers") {
		cfg.Readers = opts.readers
	}
	if flags.Changed("writers") {
		cfg.Writers = opts.writers
	}
	if flags.Changed("duration") {
		cfg.Duration = opts.duration
	}
	return cfg, cfg.Validate()
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(cmd *cobra.Command, opts options) error {
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		logger.Error("failed to load config", zap.Error(err), zap.String("path", opts.configPath))
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())

	metrics, err := rwstats.NewMetrics(reg, cfg.Strategy)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	observers := []rwmutex.Observer{metrics}
	if opts.verbose {
		observers = append(observers, rwstats.NewLogger(logger.Named("lock")))
	}

	if opts.metricsAddr != "" {
		srv := newMetricsServer(opts.metricsAddr, reg)
		go serve(srv, logger)
		defer shutdown(srv, logger)
	}

	report, err := workload.Run(ctx, cfg,
		workload.WithLogger(logger),
		workload.WithObserver(rwstats.Multi(observers...)),
	)
	if err != nil {
		return err
	}

	printReport(cmd.OutOrStdout(), report)
	if report.Violations != 0 {
		return fmt.Errorf("mutual exclusion violated %d times", report.Violations)
	}
	return nil
}

func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func serve(srv *http.Server, logger *zap.Logger) {
	logger.Info("serving metrics", zap.String("addr", srv.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("metrics server failed", zap.Error(err))
	}
}

func shutdown(srv *http.Server, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("metrics server shutdown error", zap.Error(err))
	}
}

func printReport(w io.Writer, r workload.Report) {
	fmt.Fprintf(w, "run %s, strategy %s, elapsed %s\n\n", r.RunID, r.Strategy, r.Elapsed.Round(time.Millisecond))

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tACQUISITIONS\tMEAN WAIT\tMAX WAIT")
	for _, row := range []struct {
		name  string
		stats workload.ClassStats
	}{
		{"readers", r.Readers},
		{"writers", r.Writers},
	} {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
			row.name, row.stats.Acquisitions, row.stats.MeanWait(), row.stats.MaxWait)
	}
	_ = tw.Flush()

	total := r.Readers.Acquisitions + r.Writers.Acquisitions
	if total > 0 {
		fmt.Fprintf(w, "\nwriter share %.3f %%\n", 100*float64(r.Writers.Acquisitions)/float64(total))
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
