package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pthm-cable/algaeseek/config"
	"github.com/pthm-cable/algaeseek/metrics"
	"github.com/pthm-cable/algaeseek/search"
	"github.com/pthm-cable/algaeseek/sim"
	"github.com/pthm-cable/algaeseek/store"
	"github.com/pthm-cable/algaeseek/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logStats := flag.Bool("log-stats", false, "Output window stats via slog")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	snapshotDir := flag.String("snapshot-dir", "", "Directory for the final snapshot file")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs and config snapshot")
	maxTicks := flag.Int("max-ticks", -1, "Stop after N ticks (0 = unlimited, -1 = use config)")
	technique := flag.String("technique", "", "Search technique: steepest_descent or fixed_step (empty = use config)")
	peakX := flag.Float64("peak-x", 0, "Move the primary component mean to this x (with -move-peak)")
	peakY := flag.Float64("peak-y", 0, "Move the primary component mean to this y (with -move-peak)")
	movePeak := flag.Bool("move-peak", false, "Re-center the primary field component at (-peak-x, -peak-y)")
	storePath := flag.String("store", "", "SQLite run history path (empty = use config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = use config)")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "invalid -log-level %q\n", *logLevel)
		return 2
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}
	cfg := config.Cfg()

	if err := applyFlags(cfg, *statsWindow, *maxTicks, *technique, *storePath, *metricsAddr); err != nil {
		slog.Error("invalid flags", "error", err)
		return 1
	}

	f, err := cfg.BuildField()
	if err != nil {
		slog.Error("failed to build field", "error", err)
		return 1
	}
	if *movePeak {
		primary := cfg.Field.Components[0]
		f, err = f.SetPrimaryComponent(*peakX, *peakY, primary.Covariance)
		if err != nil {
			slog.Error("failed to move peak", "error", err)
			return 1
		}
		cfg.Field.Components[0].Mean = [2]float64{*peakX, *peakY}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.New(reg)
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer shutdown(srv)
	}

	om, err := telemetry.NewOutputManager(*outputDir, cfg.Telemetry.Trajectory)
	if err != nil {
		slog.Error("failed to create output", "error", err)
		return 1
	}
	defer om.Close()
	if err := om.WriteConfig(cfg); err != nil {
		slog.Warn("writing config snapshot failed", "error", err)
	}

	runID := store.NewRunID()
	s, err := sim.New(cfg, f, sim.Options{
		RunID:          runID,
		Output:         om,
		Metrics:        m,
		LogStats:       *logStats,
		KeepTrajectory: cfg.Store.Path != "",
	})
	if err != nil {
		slog.Error("failed to create simulation", "error", err)
		return 1
	}

	px, py := s.Peak()
	slog.Info("starting simulation",
		"run_id", runID,
		"boats", s.Boats(),
		"technique", cfg.Search.Technique.String(),
		"policy", cfg.Search.Policy.String(),
		"peak_x", px,
		"peak_y", py,
		"max_ticks", cfg.Sim.MaxTicks,
	)

	start := time.Now()
	runErr := s.Run(ctx)
	elapsed := time.Since(start)

	if errors.Is(runErr, search.ErrInvalidState) {
		slog.Error("search controller failed", "error", runErr, "tick", s.Tick())
		return 1
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("simulation failed", "error", runErr)
		return 1
	}
	if runErr != nil {
		slog.Warn("simulation interrupted", "tick", s.Tick())
	}

	results := s.Results()
	if err := om.WriteRuns(results); err != nil {
		slog.Warn("writing run summaries failed", "error", err)
	}

	if *snapshotDir != "" {
		path, err := telemetry.SaveSnapshot(s.Snapshot(), *snapshotDir)
		if err != nil {
			slog.Warn("saving snapshot failed", "error", err)
		} else {
			slog.Info("snapshot saved", "path", path)
		}
	}

	if cfg.Store.Path != "" {
		if err := saveRun(cfg.Store.Path, runID, results, s.Trajectory()); err != nil {
			slog.Error("saving run history failed", "error", err)
			return 1
		}
	}

	converged := 0
	for _, r := range results {
		if r.Converged {
			converged++
		}
		slog.Info("run summary", "summary", r)
		fmt.Fprintf(os.Stderr, "boat %d: %s after %s ticks (%s m travelled), %s m from peak\n",
			r.Boat, r.State, humanize.Comma(int64(r.Ticks)),
			humanize.FtoaWithDigits(r.Distance, 2), humanize.FtoaWithDigits(r.PeakDistance, 3))
	}
	fmt.Fprintf(os.Stderr, "%d of %d boats converged in %s ticks (%s)\n",
		converged, len(results), humanize.Comma(int64(s.Tick())), elapsed.Round(time.Millisecond))

	if runErr != nil {
		return 130
	}
	return 0
}

// applyFlags overrides config fields set on the command line and
// re-validates the result.
func applyFlags(cfg *config.Config, statsWindow float64, maxTicks int, technique, storePath, metricsAddr string) error {
	if statsWindow > 0 {
		cfg.Telemetry.StatsWindow = statsWindow
	}
	if maxTicks >= 0 {
		cfg.Sim.MaxTicks = maxTicks
	}
	if technique != "" {
		t, err := search.ParseTechnique(technique)
		if err != nil {
			return err
		}
		cfg.Search.Technique = t
	}
	if storePath != "" {
		cfg.Store.Path = storePath
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg.Finalize()
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("metrics server shutdown", "error", err)
	}
}

func saveRun(path, runID string, results []telemetry.RunSummary, points []telemetry.TrajectoryPoint) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.SaveRun(runID, results, points); err != nil {
		return err
	}
	slog.Info("run saved", "path", path, "run_id", runID, "points", len(points))
	return nil
}
