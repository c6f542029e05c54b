package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/pthm-cable/advect/advect"
	"github.com/pthm-cable/advect/config"
	"github.com/pthm-cable/advect/telemetry"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV results and config snapshot")
	repeat := flag.Int("repeat", 1, "Number of runs (diagnostics are appended per run)")
	seed := flag.Int64("seed", 0, "Override seeds.rand_seed (0 = use config)")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (empty = use config)")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Parse()

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *seed != 0 {
		cfg.Seeds.RandSeed = *seed
	}
	if *metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = *metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, cfg, *outputDir, *repeat, logger); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, outputDir string, repeat int, logger *slog.Logger) error {
	prob, err := advect.FromConfig(cfg)
	if err != nil {
		return err
	}

	out, err := telemetry.NewOutputManager(outputDir)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.WriteConfig(cfg); err != nil {
		return err
	}

	prom := telemetry.NewPromSink()
	if addr := cfg.Telemetry.MetricsAddr; addr != "" {
		srv := &http.Server{Addr: addr, Handler: metricsMux(prom), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
		defer srv.Close()
		logger.Info("serving metrics", "addr", addr)
	}

	diag := telemetry.NewDiagnostics(cfg.Telemetry.DiagnosticsFile)
	for i := 0; i < max(repeat, 1); i++ {
		res, err := advect.RunLocal(ctx, prob, logger)
		if err != nil {
			return err
		}

		snaps := res.Snapshots()
		prom.Observe(snaps)
		if err := diag.Dump(res.RunID, snaps); err != nil {
			return err
		}
		if err := writeResults(out, cfg, res, i); err != nil {
			return err
		}
		logger.Info("run finished",
			"run", res.RunID,
			"index", i,
			"total_seeds", res.TotalSeeds,
			"sent", res.Counter(telemetry.CounterParticlesSent),
			"steps", res.Counter(telemetry.CounterAdvectSteps),
		)
	}
	return nil
}

func writeResults(out *telemetry.OutputManager, cfg *config.Config, res *advect.ClusterResult, run int) error {
	rounds := make([]telemetry.RoundStatsCSV, len(res.Ranks))
	for i, r := range res.Ranks {
		rounds[i] = r.Rounds.ToCSV(r.Rank)
	}
	if err := out.WriteRounds(rounds); err != nil {
		return err
	}
	if err := out.WriteSummaries(telemetry.Summarize(res.Snapshots())); err != nil {
		return err
	}
	if !cfg.Output.DumpFiles {
		return nil
	}
	for _, r := range res.Ranks {
		if err := out.WriteTerminal(r.Output.TerminalRecords(run)); err != nil {
			return err
		}
		if err := out.WriteStreamlines(r.Output.StreamlineRecords(run)); err != nil {
			return err
		}
	}
	return nil
}

func metricsMux(prom *telemetry.PromSink) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", prom.Handler())
	return mux
}
