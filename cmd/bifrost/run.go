package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/bifrost/internal/app"
	"github.com/eugener/bifrost/internal/auth"
	"github.com/eugener/bifrost/internal/config"
	"github.com/eugener/bifrost/internal/provider"
	"github.com/eugener/bifrost/internal/server"
	"github.com/eugener/bifrost/internal/storage"
	"github.com/eugener/bifrost/internal/storage/sqlite"
	"github.com/eugener/bifrost/internal/telemetry"
	"github.com/eugener/bifrost/internal/worker"
)

func run(args []string) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.LogLevel(),
	}))
	slog.SetDefault(log)

	flags, err := config.ParseFlags(args)
	if err != nil {
		return err
	}

	var seed *config.Seed
	if flags.SeedPath != "" {
		seed, err = config.LoadSeed(flags.SeedPath)
		if err != nil {
			return err
		}
	}

	ctx := context.Background()

	store, err := sqlite.New(flags.DSN)
	if err != nil {
		return err
	}

	cfg, err := config.Resolve(ctx, store, flags, seed)
	if err != nil {
		store.Close()
		return err
	}

	// A prior hot-reconfig may have moved the database; the persisted row
	// wins over the flag.
	if cfg.DSN != flags.DSN {
		log.Info("config row overrides dsn", "dsn", cfg.DSN)
		store.Close()
		store, err = sqlite.New(cfg.DSN)
		if err != nil {
			return err
		}
	}

	if seed != nil {
		if err := config.Bootstrap(ctx, store, seed); err != nil {
			store.Close()
			return err
		}
	}

	slog.Info("starting bifrost", "version", version, "addr", cfg.Addr())

	promReg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promReg)

	if ep := os.Getenv("BIFROST_OTLP_ENDPOINT"); ep != "" {
		shutdown, err := telemetry.SetupTracing(ctx, ep, 1.0)
		if err != nil {
			return err
		}
		defer shutdown(context.Background()) //nolint:errcheck
	}

	bus := storage.NewBus(store, log, metrics)

	registry, err := provider.NewRegistry(bus)
	if err != nil {
		return err
	}

	authn := auth.New()
	application := app.New(bus, registry, authn, cfg, log)
	if err := application.Reload(ctx); err != nil {
		return err
	}

	handler := server.New(server.Deps{
		Auth:     authn,
		Registry: registry,
		App:      application,
		Sink:     bus,
		Metrics:  metrics,
		MetricsH: promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}),
	})

	runCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runner := worker.NewRunner(
		worker.Named{Name: "storage_bus", Worker: bus},
		worker.Named{Name: "http_ingress", Worker: worker.Func(func(ctx context.Context) error {
			return server.Serve(ctx, handler, cfg.Addr(), application.BindWatch(), log)
		})},
	)
	err = runner.Run(runCtx)

	if cerr := bus.Store().Close(); cerr != nil {
		log.Warn("close store", "error", cerr)
	}
	slog.Info("bifrost stopped")
	return err
}
