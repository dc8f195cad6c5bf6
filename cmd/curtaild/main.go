package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/timzifer/curtail/config"
	"github.com/timzifer/curtail/curtailment"
	"github.com/timzifer/curtail/internal/logging"
	"github.com/timzifer/curtail/internal/reload"
	"github.com/timzifer/curtail/snapshot"
	"github.com/timzifer/curtail/telemetry"
	"github.com/timzifer/curtail/tenant"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "Path to configuration file")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	tenantName := flag.String("tenant", "", "Tenant session used by the console (defaults to the first configured tenant)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if *configCheck {
			fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		os.Exit(executeConfigCheck(cfg, os.Stdout))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		logger.Warn().Err(err).Msg("telemetry disabled")
		collector = telemetry.Noop()
	}
	if cfg.Telemetry.Enabled && cfg.Telemetry.Listen != "" {
		go serveMetrics(ctx, cfg.Telemetry.Listen, logger)
	}

	registry, err := newRegistry(cfg, logger, collector)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create tenant registry")
	}
	defer func() {
		if err := registry.CloseAll(); err != nil {
			logger.Error().Err(err).Msg("failed to close tenant sessions")
		}
	}()

	for _, name := range cfg.Tenants {
		if _, err := registry.Open(name); err != nil {
			logger.Fatal().Err(err).Str("tenant", name).Msg("failed to open tenant session")
		}
	}

	if cfg.Reload.Enabled {
		watcher := reload.NewWatcher(cfg.Source)
		go watcher.Watch(ctx, cfg.ReloadInterval(), func(changed []string) {
			reloadConfig(cfg.Source, changed, registry, collector, logger)
		})
	}

	con, err := newConsole(registry, consoleTenant(*tenantName, cfg.Tenants), os.Stdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open console")
	}

	done := make(chan error, 1)
	go func() {
		done <- con.run(os.Stdin)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-done:
		if err != nil {
			logger.Error().Err(err).Msg("console stopped with error")
		}
	}
}

// consoleTenant picks the session the console starts in: the -tenant flag,
// else the first configured tenant, else "default".
func consoleTenant(flagValue string, configured []string) string {
	if name := strings.TrimSpace(flagValue); name != "" {
		return name
	}
	if len(configured) > 0 {
		return configured[0]
	}
	return "default"
}

func newRegistry(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) (*tenant.Registry, error) {
	table, err := cfg.StandardTable()
	if err != nil {
		return nil, err
	}
	combiner, err := cfg.Combiner()
	if err != nil {
		return nil, err
	}
	opts := []tenant.Option{
		tenant.WithLogger(logger),
		tenant.WithStoreOptions(
			curtailment.WithTelemetry(collector),
			curtailment.WithCombiner(combiner),
		),
	}
	if dir := strings.TrimSpace(cfg.Snapshots.Dir); dir != "" {
		files, err := snapshot.NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		opts = append(opts, tenant.WithSnapshots(files, cfg.Snapshots.SaveOnClose))
	}
	return tenant.NewRegistry(table, opts...)
}

// reloadConfig applies a changed standard table to tenant sessions opened
// from now on. Logging, telemetry and snapshot settings require a restart.
func reloadConfig(path string, changed []string, registry *tenant.Registry, collector telemetry.Collector, logger zerolog.Logger) {
	for _, file := range changed {
		collector.IncHotReload(file)
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error().Err(err).Msg("failed to reload configuration")
		return
	}
	table, err := cfg.StandardTable()
	if err != nil {
		logger.Error().Err(err).Msg("reloaded configuration invalid")
		return
	}
	if err := registry.UpdateTable(table); err != nil {
		logger.Error().Err(err).Msg("failed to apply reloaded standard levels")
		return
	}
	logger.Info().Strs("files", changed).Msg("configuration reloaded")
}

func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("serving metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics endpoint stopped")
	}
}

func executeConfigCheck(cfg *config.Config, out io.Writer) int {
	table, err := cfg.StandardTable()
	if err != nil {
		fmt.Fprintf(out, "configuration invalid: %v\n", err)
		return 1
	}
	combiner, err := cfg.Combiner()
	if err != nil {
		fmt.Fprintf(out, "configuration invalid: %v\n", err)
		return 1
	}

	fmt.Fprintln(out, "Standard levels:")
	levels := table.Levels()
	for _, category := range curtailment.Categories() {
		fmt.Fprintf(out, "  %-12s %s\n", category, formatLevel(levels[category]))
	}
	fmt.Fprintf(out, "Combination: %s\n", combiner.Source())
	if len(cfg.Tenants) == 0 {
		fmt.Fprintln(out, "Tenants: <none>")
	} else {
		fmt.Fprintf(out, "Tenants: %s\n", strings.Join(cfg.Tenants, ", "))
	}
	fmt.Fprintln(out, "Configuration check completed successfully.")
	return 0
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		collector, err := telemetry.NewPrometheusCollector(nil)
		if err != nil {
			return nil, err
		}
		return collector, nil
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}

func formatLevel(level float64) string {
	return strconv.FormatFloat(level, 'f', -1, 64)
}
