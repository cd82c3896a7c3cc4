package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/core/usecases"
	"github.com/samirrijal/bilbopass/internal/pkg/config"
	"github.com/samirrijal/bilbopass/internal/routing/loader"
	"github.com/samirrijal/bilbopass/internal/workflows"
)

func main() {
	cfg, err := config.Load("bilbopass-compensator")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The replan activity searches the same snapshot shape cmd/api serves,
	// loaded here from the same Postgres source.
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	journeySvc := usecases.NewJourneyService(usecases.RoutingOptions{
		MaxNbOfLegs:          cfg.Routing.MaxNbOfLegs,
		MaxJourneyDuration:   cfg.Routing.MaxJourneyDurationSec,
		TooLateThreshold:     cfg.Routing.TooLateThresholdSec,
		ArrivalPenaltyPerLeg: cfg.Routing.ArrivalPenaltyPerLeg,
		WalkingPenaltyFactor: cfg.Routing.WalkingPenaltyFactor,
	})
	loc, err := time.LoadLocation(cfg.Routing.Timezone)
	if err != nil {
		loc = time.UTC
	}
	first := time.Now().In(loc).Truncate(24 * time.Hour)
	snap, err := loader.Load(ctx, pool, first, first.AddDate(0, 0, cfg.Routing.SnapshotWindowDays), loc)
	if err != nil {
		log.Printf("WARNING: routing snapshot load failed, replan activity will return no alternatives: %v", err)
	} else {
		journeySvc.SetData(snap.Data, snap.TripByID, snap.BaseDays, snap.TZ)
	}

	// Connect to Temporal
	c, err := client.Dial(client.Options{
		HostPort: "localhost:7233",
	})
	if err != nil {
		log.Fatalf("temporal client: %v", err)
	}
	defer c.Close()

	w := worker.New(c, "compensation-queue", worker.Options{})

	// Register workflow & activities
	w.RegisterWorkflow(workflows.MissedConnectionWorkflow)
	w.RegisterActivity(&workflows.CompensationActivities{
		// Store and notifier stay nil until real providers are injected;
		// the service degrades those steps to no-ops.
		CompensationService: usecases.NewCompensationService(journeySvc, nil, nil),
	})

	// Delay events detected by cmd/realtime trigger one workflow each.
	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer nc.Drain()

	_, err = nc.Subscribe("transit.delays.detected", func(msg *nats.Msg) {
		var ev domain.DelayEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			log.Printf("bad delay event: %v", err)
			return
		}
		date, err := time.ParseInLocation("2006-01-02", ev.Date, loc)
		if err != nil {
			date = time.Now().In(loc)
		}
		input := domain.MissedConnection{
			TripID:       ev.TripID,
			StopID:       ev.StopID,
			Date:         date,
			DelaySeconds: ev.DelaySec,
		}
		opts := client.StartWorkflowOptions{
			ID:        fmt.Sprintf("missed-connection-%s-%s-%s", ev.TripID, ev.StopID, ev.Date),
			TaskQueue: "compensation-queue",
		}
		if _, err := c.ExecuteWorkflow(context.Background(), opts, workflows.MissedConnectionWorkflow, input); err != nil {
			log.Printf("start workflow for trip %s: %v", ev.TripID, err)
		}
	})
	if err != nil {
		log.Fatalf("subscribe delays: %v", err)
	}

	log.Println("compensator worker started")
	if err := w.Run(worker.InterruptCh()); err != nil {
		log.Fatalf("worker: %v", err)
	}
}
