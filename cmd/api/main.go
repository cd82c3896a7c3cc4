package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samirrijal/bilbopass/internal/adapters/http"
	natsadapter "github.com/samirrijal/bilbopass/internal/adapters/nats"
	"github.com/samirrijal/bilbopass/internal/adapters/postgres"
	"github.com/samirrijal/bilbopass/internal/adapters/valkey"
	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/usecases"
	"github.com/samirrijal/bilbopass/internal/pkg/config"
	"github.com/samirrijal/bilbopass/internal/pkg/logging"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
	"github.com/samirrijal/bilbopass/internal/pkg/telemetry"
	"github.com/samirrijal/bilbopass/internal/routing/loader"
)

func main() {
	cfg, err := config.Load("bilbopass-api")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	logging.Setup("bilbopass-api", logLevel, "json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Telemetry.Enabled {
		shutdown, err := telemetry.InitTracer(ctx, cfg.Telemetry.ServiceName, cfg.Telemetry.TempoAddr)
		if err != nil {
			slog.Warn("telemetry init failed", "error", err)
		} else {
			defer shutdown()
		}
	}

	// Database: source of truth the loader snapshots from.
	db, err := postgres.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	go db.ReportPoolMetrics(ctx, time.Minute)

	// Cache: read-through for places-nearby (see internal/adapters/http.PlacesNearbyHandler).
	cache, err := valkey.New(cfg.Valkey.Addr)
	if err != nil {
		slog.Warn("valkey unavailable", "error", err)
		cache = nil
	} else {
		defer cache.Close()
	}

	journeySvc := usecases.NewJourneyService(usecases.RoutingOptions{
		MaxNbOfLegs:          cfg.Routing.MaxNbOfLegs,
		MaxJourneyDuration:   cfg.Routing.MaxJourneyDurationSec,
		TooLateThreshold:     cfg.Routing.TooLateThresholdSec,
		ArrivalPenaltyPerLeg: cfg.Routing.ArrivalPenaltyPerLeg,
		WalkingPenaltyFactor: cfg.Routing.WalkingPenaltyFactor,
		UseLoads:             cfg.Routing.UseLoads,
	})

	routingLoc, err := time.LoadLocation(cfg.Routing.Timezone)
	if err != nil {
		slog.Warn("unknown routing timezone, falling back to UTC", "timezone", cfg.Routing.Timezone, "error", err)
		routingLoc = time.UTC
	}
	if err := reloadRoutingSnapshot(ctx, db.Pool, journeySvc, cfg.Routing.SnapshotWindowDays, routingLoc); err != nil {
		slog.Warn("initial routing snapshot load failed, journeys will error until the next reload", "error", err)
	}
	go runSnapshotReloader(ctx, db.Pool, journeySvc, cfg.Routing, routingLoc)

	// NATS realtime-overlay disruption feed. A disconnected
	// broker only means disruptions never arrive; the base schedule still
	// serves journeys.
	var natsConn *natsadapter.Subscriber
	if sub, err := natsadapter.NewSubscriber(cfg.NATS.URL); err != nil {
		slog.Warn("nats unavailable, realtime disruptions disabled", "error", err)
	} else {
		natsConn = sub
		defer natsConn.Close()
		if err := natsConn.SubscribeDisruptions(ctx, func(_ context.Context, d domain.RealtimeDisruption) error {
			if err := journeySvc.ApplyDisruption(d); err != nil {
				slog.Warn("realtime disruption rejected", "trip_id", d.TripID, "kind", d.Kind, "error", err)
				metrics.DisruptionsApplied.WithLabelValues(string(d.Kind), "rejected").Inc()
				return err
			}
			metrics.DisruptionsApplied.WithLabelValues(string(d.Kind), "applied").Inc()
			return nil
		}); err != nil {
			slog.Warn("nats subscribe failed, realtime disruptions disabled", "error", err)
		}
	}

	deps := &http.Dependencies{
		Journeys: journeySvc,
		DB:       db,
		Cache:    cache,
	}
	if natsConn != nil {
		deps.NATS = natsConn.RawConn()
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    1024 * 1024,
		AppName:      "BilboPass API",
	})
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     "http://localhost:3000, http://localhost:5173, https://*.bilbopass.eus",
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept",
		AllowCredentials: false,
		MaxAge:           3600,
	}))

	http.SetupRoutes(app, deps)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		slog.Info("API server starting", "addr", addr)
		if err := app.Listen(addr); err != nil {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutdown signal received, draining connections...", "signal", sig.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("forced shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// reloadRoutingSnapshot rebuilds a transitdata.Data snapshot for
// [now, now+windowDays) from Postgres and swaps it into svc. Journeys
// planned concurrently with a reload observe either the old or the new
// snapshot, never a torn one, since SetData only replaces the pointer
// under its own lock (single-writer, many-reader). Any realtime
// disruptions applied to the previous snapshot do not carry over; the
// feed is expected to re-announce standing disruptions periodically, the
// same assumption the delay-event pipeline makes.
func reloadRoutingSnapshot(ctx context.Context, pool *pgxpool.Pool, svc *usecases.JourneyService, windowDays int, loc *time.Location) error {
	first := time.Now().In(loc).Truncate(24 * time.Hour)
	last := first.AddDate(0, 0, windowDays)

	snap, err := loader.Load(ctx, pool, first, last, loc)
	if err != nil {
		return fmt.Errorf("load routing snapshot: %w", err)
	}
	svc.SetData(snap.Data, snap.TripByID, snap.BaseDays, snap.TZ)
	slog.Info("routing snapshot loaded", "stops", len(snap.Data.Stops), "trips", len(snap.TripByID), "window_days", windowDays)
	return nil
}

// runSnapshotReloader periodically rebuilds and swaps the routing
// snapshot so schedule changes ingested by cmd/ingestor become visible
// to the API without a restart.
func runSnapshotReloader(ctx context.Context, pool *pgxpool.Pool, svc *usecases.JourneyService, cfg config.RoutingConfig, loc *time.Location) {
	interval := time.Duration(cfg.ReloadIntervalSeconds) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reloadRoutingSnapshot(ctx, pool, svc, cfg.SnapshotWindowDays, loc); err != nil {
				slog.Warn("routing snapshot reload failed, keeping previous snapshot", "error", err)
			}
		}
	}
}
