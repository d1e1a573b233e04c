package main

import (
	"context"
	"log"
	"time"

	"github.com/joho/godotenv"

	"dronedispatch/internal/api"
	"dronedispatch/internal/app"
	"dronedispatch/internal/config"
	"dronedispatch/internal/dispatch"
	"dronedispatch/internal/live"
	"dronedispatch/internal/logger"
	"dronedispatch/internal/metrics"
	"dronedispatch/internal/opt"
	"dronedispatch/internal/seed"
	"dronedispatch/internal/simulator"
	"dronedispatch/internal/store"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	defer func() { _ = logger.Z().Sync() }()
	sugar := logger.S()

	metrics.RegisterDefault()

	ctx := context.Background()
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		sugar.Fatalw("store_init_failed", "error", err)
	}
	defer closeStore()

	if cfg.Seed.File != "" {
		f, err := seed.LoadFile(cfg.Seed.File)
		if err != nil {
			sugar.Fatalw("seed_load_failed", "file", cfg.Seed.File, "error", err)
		}
		c, err := seed.Apply(ctx, st, f)
		if err != nil {
			sugar.Fatalw("seed_apply_failed", "file", cfg.Seed.File, "error", err)
		}
		sugar.Infow("seed_applied", "file", cfg.Seed.File, "stores", c.Stores, "drones", c.Drones, "orders", c.Orders)
	}

	broker, closeBroker := live.Open(ctx, live.Options{
		Driver:      cfg.Live.Driver,
		RedisURL:    cfg.Live.RedisURL,
		RedisPrefix: cfg.Live.RedisPrefix,
		NATS: live.NATSOptions{
			URL:           cfg.Live.NATSURL,
			Name:          "dronedispatch",
			SubjectPrefix: cfg.Live.NATSSubjectPrefix,
		},
		RatePerSecond: cfg.Live.RatePerSecond,
		Burst:         cfg.Live.Burst,
	}, sugar)
	defer func() { _ = closeBroker() }()

	rangeModel := opt.RangeModel{DistancePerUnit: cfg.Dispatch.DistancePerUnit, SafetyMargin: cfg.Dispatch.SafetyMargin}
	sim := simulator.New(st, broker, simulator.Config{
		Tick:             cfg.Simulator.Tick(),
		SpeedKmh:         cfg.Simulator.SpeedKmh,
		MaxSamplesPerLeg: cfg.Simulator.MaxSamplesPerLeg,
		MaxConcurrent:    cfg.Simulator.MaxConcurrentFlights,
		Range:            rangeModel,
		UnitTimeout:      5 * time.Second,
	}, sugar.With("component", "simulator"))

	batcher := dispatch.NewBatcher(st, sim, dispatch.Config{
		Range: rangeModel,
		Params: dispatch.Params{
			CruiseSpeedKmh:  cfg.Dispatch.CruiseSpeedKmh,
			StopHandlingMin: cfg.Dispatch.StopHandlingMin,
		},
		IdleDroneScope: cfg.Dispatch.IdleDroneScope,
		TwoOptPasses:   cfg.Dispatch.TwoOptPasses,
	}, sugar.With("component", "dispatch"))

	srv := api.NewServer(api.Deps{
		Store:      st,
		Dispatcher: batcher,
		Flights:    sim,
		Broker:     broker,
		Config:     cfg.Summary(),
		Logger:     sugar.With("component", "http"),
	})

	// http first so it stops accepting before flights are drained
	services := []app.Service{app.NewHTTPService(cfg.Server.Addr, srv.Routes())}
	if cfg.Scheduler.Enabled {
		trigger, err := dispatch.NewCronTrigger(cfg.Scheduler.Cron, batcher,
			time.Duration(cfg.Scheduler.CycleTimeoutSeconds)*time.Second, sugar.With("component", "cron"))
		if err != nil {
			sugar.Fatalw("scheduler_init_failed", "cron", cfg.Scheduler.Cron, "error", err)
		}
		services = append(services, trigger)
	}
	services = append(services, sim)

	sugar.Infow("api_starting", "addr", cfg.Server.Addr, "config", cfg.Summary())
	if err := app.RunWithOptions(app.NewRunner(services...), app.Options{
		Logger:          sugar,
		ShutdownTimeout: time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
	}); err != nil {
		sugar.Errorw("api_stopped", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, func(), error) {
	if cfg.Database.URL == "" {
		logger.Infow("store_selected", "driver", "memory")
		return store.NewMemory(), func() {}, nil
	}
	pg, err := store.NewPostgres(cfg.Database.URL, store.PoolOptions{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime(),
	})
	if err != nil {
		return nil, nil, err
	}
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, err
		}
	}
	logger.Infow("store_selected", "driver", "postgres")
	return pg, func() { _ = pg.Close() }, nil
}
