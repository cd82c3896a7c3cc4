package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	natsadapter "github.com/samirrijal/bilbopass/internal/adapters/nats"
	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/gtfsrt"
	"github.com/samirrijal/bilbopass/internal/pkg/config"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
)

// delayThresholdSec is the per-stop delay above which a delay event is
// published (and a compensation workflow may fire downstream).
const delayThresholdSec = 180

// ---------------------------------------------------------------------------
// Manifest types (same as ingestor)
// ---------------------------------------------------------------------------

type Manifest struct {
	Source   string        `json:"source"`
	Agencies []AgencyEntry `json:"agencies"`
}

type AgencyEntry struct {
	Name    string       `json:"name"`
	Slug    string       `json:"slug"`
	GTFSURL string       `json:"gtfs_url"`
	GTFSRT  *GTFSRTEntry `json:"gtfs_rt,omitempty"`
}

type GTFSRTEntry struct {
	VehiclePositions string `json:"vehicle_positions,omitempty"`
	TripUpdates      string `json:"trip_updates,omitempty"`
	Alerts           string `json:"alerts,omitempty"`
}

// ---------------------------------------------------------------------------
// Main
// ---------------------------------------------------------------------------

func main() {
	cfg, err := config.Load("bilbopass-realtime")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database: resolves feed trip/stop ids to the snapshot identifiers
	// and supplies base stop-times for full overrides.
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	loc, err := time.LoadLocation(cfg.Routing.Timezone)
	if err != nil {
		loc = time.UTC
	}

	// Load manifest
	manifestPath := "manifest.json"
	if len(os.Args) > 1 {
		manifestPath = os.Args[1]
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		log.Fatalf("read manifest: %v", err)
	}

	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		log.Fatalf("parse manifest: %v", err)
	}

	// Filter to agencies that have a trip-updates feed
	var rtAgencies []AgencyEntry
	for _, a := range manifest.Agencies {
		if a.GTFSRT != nil && a.GTFSRT.TripUpdates != "" {
			rtAgencies = append(rtAgencies, a)
		}
	}

	log.Printf("BilboPass Realtime Poller — %d agencies with trip-update feeds", len(rtAgencies))

	poller := &tripUpdatePoller{
		pool:     pool,
		pub:      pub,
		loc:      loc,
		client:   &http.Client{Timeout: 30 * time.Second},
		tripUUID: make(map[string]string),
	}

	pollInterval := 30 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	log.Printf("polling every %s", pollInterval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Run once immediately
	poller.pollAll(ctx, rtAgencies)

	for {
		select {
		case <-ticker.C:
			poller.pollAll(ctx, rtAgencies)
		case <-ctx.Done():
			return
		case sig := <-quit:
			log.Printf("received signal %v, shutting down realtime poller", sig)
			cancel()
			// Give in-flight polls time to finish
			time.Sleep(2 * time.Second)
			return
		}
	}
}

// ---------------------------------------------------------------------------
// Poller
// ---------------------------------------------------------------------------

type tripUpdatePoller struct {
	pool   *pgxpool.Pool
	pub    *natsadapter.Publisher
	loc    *time.Location
	client *http.Client

	mu       sync.Mutex
	tripUUID map[string]string // external trip_id -> trips.id
}

func (p *tripUpdatePoller) pollAll(ctx context.Context, agencies []AgencyEntry) {
	var wg sync.WaitGroup
	sem := make(chan struct{}, 8) // max 8 concurrent fetches

	for _, a := range agencies {
		wg.Add(1)
		go func(agency AgencyEntry) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			err := p.pollTripUpdates(ctx, agency)
			metrics.FeedPollDuration.WithLabelValues(agency.Slug).Observe(time.Since(start).Seconds())
			if err != nil {
				metrics.FeedPollErrors.WithLabelValues(agency.Slug).Inc()
				log.Printf("[%s] trip_updates: %v", agency.Slug, err)
			}
		}(a)
	}

	wg.Wait()
}

func (p *tripUpdatePoller) fetchFeed(url string) (*gtfsrt.FeedMessage, error) {
	resp, err := p.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d for %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return gtfsrt.Unmarshal(body)
}

func (p *tripUpdatePoller) pollTripUpdates(ctx context.Context, agency AgencyEntry) error {
	feed, err := p.fetchFeed(agency.GTFSRT.TripUpdates)
	if err != nil {
		return err
	}

	disruptions, delays := 0, 0
	for _, entity := range feed.Entity {
		tu := entity.TripUpdate
		if tu == nil || tu.Trip.TripID == "" {
			continue
		}

		tripUUID, err := p.resolveTrip(ctx, tu.Trip.TripID)
		if err != nil {
			// Feed trips the static snapshot doesn't know are skipped, same
			// as the loader skips unresolvable stop-times.
			continue
		}

		serviceDate := p.serviceDate(tu.Trip.StartDate)

		if tu.Trip.ScheduleRelationship == gtfsrt.TripCanceled {
			d := domain.RealtimeDisruption{Kind: domain.DisruptionDeleted, TripID: tripUUID, Date: serviceDate}
			if err := p.pub.PublishDisruption(ctx, d); err != nil {
				log.Printf("[%s] publish cancel %s: %v", agency.Slug, tu.Trip.TripID, err)
				continue
			}
			disruptions++
			continue
		}

		delays += p.publishDelays(ctx, agency, tu, serviceDate)

		override, err := p.buildOverride(ctx, tripUUID, tu)
		if err != nil {
			log.Printf("[%s] build override %s: %v", agency.Slug, tu.Trip.TripID, err)
			continue
		}
		if override == nil {
			continue // no material change
		}
		d := domain.RealtimeDisruption{Kind: domain.DisruptionModified, TripID: tripUUID, Date: serviceDate, StopTimes: override}
		if err := p.pub.PublishDisruption(ctx, d); err != nil {
			log.Printf("[%s] publish modify %s: %v", agency.Slug, tu.Trip.TripID, err)
			continue
		}
		disruptions++
	}

	if disruptions > 0 || delays > 0 {
		log.Printf("[%s] %d disruptions published, %d significant delays", agency.Slug, disruptions, delays)
	}
	return nil
}

func (p *tripUpdatePoller) serviceDate(startDate string) time.Time {
	if d, err := time.ParseInLocation("20060102", startDate, p.loc); err == nil {
		return d
	}
	now := time.Now().In(p.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, p.loc)
}

func (p *tripUpdatePoller) resolveTrip(ctx context.Context, externalID string) (string, error) {
	p.mu.Lock()
	if id, ok := p.tripUUID[externalID]; ok {
		p.mu.Unlock()
		return id, nil
	}
	p.mu.Unlock()

	var id string
	err := p.pool.QueryRow(ctx, `SELECT id FROM trips WHERE trip_id = $1 LIMIT 1`, externalID).Scan(&id)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.tripUUID[externalID] = id
	p.mu.Unlock()
	return id, nil
}

// publishDelays emits one delay event per stop whose delay exceeds the
// threshold, returning how many were published.
func (p *tripUpdatePoller) publishDelays(ctx context.Context, agency AgencyEntry, tu *gtfsrt.TripUpdate, serviceDate time.Time) int {
	published := 0
	for _, stu := range tu.StopTimeUpdate {
		delay := stopDelay(stu, tu.Delay)
		if delay <= delayThresholdSec {
			continue
		}
		ev := domain.DelayEvent{
			TripID:   tu.Trip.TripID,
			StopID:   stu.StopID,
			DelaySec: delay,
			Date:     serviceDate.Format("2006-01-02"),
		}
		if err := p.pub.PublishDelayEvent(ctx, ev); err != nil {
			log.Printf("[%s] publish delay event: %v", agency.Slug, err)
			continue
		}
		metrics.DelaysDetected.WithLabelValues(agency.Slug).Inc()
		published++
	}
	return published
}

func stopDelay(stu gtfsrt.StopTimeUpdate, fallback int32) int {
	switch {
	case stu.Arrival != nil && stu.Arrival.HasDelay:
		return int(stu.Arrival.Delay)
	case stu.Departure != nil && stu.Departure.HasDelay:
		return int(stu.Departure.Delay)
	default:
		return int(fallback)
	}
}

// buildOverride merges the feed's per-stop delays into the trip's base
// stop-times, producing the full stop-times override the realtime overlay
// requires (a partial TripUpdate only names the stops that changed; the
// overlay replaces the whole sequence on modify). A delay reported at one
// stop propagates to every later stop until a newer figure supersedes it,
// and SKIPPED stops become no-board/no-debark positions. Returns nil when
// no stop actually changed.
func (p *tripUpdatePoller) buildOverride(ctx context.Context, tripUUID string, tu *gtfsrt.TripUpdate) ([]domain.RealtimeStopTime, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT st.stop_id, EXTRACT(EPOCH FROM st.arrival_time)::int, EXTRACT(EPOCH FROM st.departure_time)::int,
		       st.stop_sequence, st.pickup_type, st.drop_off_type
		FROM stop_times st
		WHERE st.trip_id = $1
		ORDER BY st.stop_sequence
	`, tripUUID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bySequence := make(map[uint32]gtfsrt.StopTimeUpdate, len(tu.StopTimeUpdate))
	for _, stu := range tu.StopTimeUpdate {
		bySequence[stu.StopSequence] = stu
	}

	var out []domain.RealtimeStopTime
	currentDelay := 0
	changed := false
	seq := uint32(0)
	for rows.Next() {
		var stopUUID string
		var arrivalSec, departureSec, stopSequence, pickup, dropOff int
		if err := rows.Scan(&stopUUID, &arrivalSec, &departureSec, &stopSequence, &pickup, &dropOff); err != nil {
			return nil, err
		}
		seq = uint32(stopSequence)

		if stu, ok := bySequence[seq]; ok {
			if stu.ScheduleRelationship == gtfsrt.StopTimeSkipped {
				out = append(out, domain.RealtimeStopTime{
					StopID:        stopUUID,
					BoardSeconds:  uint32(departureSec + currentDelay),
					DebarkSeconds: uint32(arrivalSec + currentDelay),
					PickupType:    1,
					DropOffType:   1,
				})
				changed = true
				continue
			}
			if d := stopDelay(stu, tu.Delay); d != currentDelay {
				currentDelay = d
				changed = true
			}
		}

		out = append(out, domain.RealtimeStopTime{
			StopID:        stopUUID,
			BoardSeconds:  uint32(departureSec + currentDelay),
			DebarkSeconds: uint32(arrivalSec + currentDelay),
			PickupType:    pickup,
			DropOffType:   dropOff,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !changed || len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
