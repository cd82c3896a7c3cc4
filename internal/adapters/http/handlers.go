package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/samirrijal/bilbopass/internal/core/domain"
	"github.com/samirrijal/bilbopass/internal/pkg/metrics"
	"github.com/samirrijal/bilbopass/internal/pkg/telemetry"
	"github.com/samirrijal/bilbopass/internal/routing/routingerr"
)

// JourneyHandler exposes the routing engine over HTTP at GET /v1/journeys.
// Callers pass either (from, to) stop ids or (from_name, to_name); the
// latter resolves names against the loaded snapshot before planning.
func JourneyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, span := telemetry.Tracer("bilbopass/api").Start(requestContext(c), "routing.plan_journey")
		defer span.End()

		var departAt *time.Time
		if raw := c.Query("datetime"); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return errBadRequest(c, "datetime must be RFC3339")
			}
			departAt = &t
		}

		maxTransfers := -1
		if raw := c.Query("max_transfers"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return errBadRequest(c, "max_transfers must be a non-negative integer")
			}
			maxTransfers = n
		}

		var (
			journeys []domain.Journey
			err      error
		)
		if fromName, toName := c.Query("from_name"), c.Query("to_name"); fromName != "" && toName != "" {
			journeys, err = deps.Journeys.PlanJourneyByName(ctx, fromName, toName, departAt)
		} else if from, to := c.Query("from"), c.Query("to"); from != "" && to != "" {
			journeys, err = deps.Journeys.PlanJourney(ctx, from, to, departAt, maxTransfers)
		} else {
			return errBadRequest(c, "either from/to stop ids or from_name/to_name are required")
		}
		if err != nil {
			metrics.JourneysPlanned.WithLabelValues("error").Inc()
			return renderRoutingError(c, err)
		}

		metrics.JourneysPlanned.WithLabelValues("ok").Inc()
		metrics.JourneysReturned.Observe(float64(len(journeys)))
		return c.JSON(fiber.Map{"journeys": renderJourneys(journeys)})
	}
}

func renderJourneys(journeys []domain.Journey) []fiber.Map {
	out := make([]fiber.Map, len(journeys))
	for i, j := range journeys {
		sections := make([]fiber.Map, len(j.Sections))
		for k, s := range j.Sections {
			sections[k] = fiber.Map{
				"kind":      s.Kind,
				"from_stop": s.FromStopID,
				"to_stop":   s.ToStopID,
				"line":      s.Line,
				"network":   s.Network,
				"mode":      s.Mode,
				"departure": s.Departure,
				"arrival":   s.Arrival,
				"duration":  s.Duration.String(),
			}
		}
		m := fiber.Map{
			"duration":       j.Duration.String(),
			"departure_time": j.DepartureTime,
			"arrival_time":   j.ArrivalTime,
			"transfers":      j.Transfers,
			"sections":       sections,
		}
		if j.Load != nil {
			m["load"] = *j.Load
		}
		out[i] = m
	}
	return out
}

// PlacesNearbyHandler exposes places-nearby over HTTP at
// GET /v1/places/nearby, read-through cached in Valkey since identical
// (entry_point, radius, filter) queries are common from a map client
// panning around a fixed viewport.
func PlacesNearbyHandler(deps *Dependencies) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx := requestContext(c)

		entryPoint := c.Query("entry_point")
		if entryPoint == "" {
			return errBadRequest(c, "entry_point is required")
		}
		radius, err := strconv.ParseFloat(c.Query("radius", "500"), 64)
		if err != nil || radius <= 0 {
			return errBadRequest(c, "radius must be a positive number of meters")
		}
		filter := c.Query("filter")

		cacheKey := placesCacheKey(entryPoint, filter, radius)
		if deps.Cache != nil {
			if cached, cacheErr := deps.Cache.Get(ctx, cacheKey); cacheErr == nil && len(cached) > 0 {
				c.Set("X-Cache", "hit")
				c.Set("Content-Type", "application/json")
				return c.Send(cached)
			}
		}

		places, err := deps.Journeys.PlacesNearby(entryPoint, filter, radius)
		if err != nil {
			return renderRoutingError(c, err)
		}

		out := make([]fiber.Map, len(places))
		for i, p := range places {
			out[i] = fiber.Map{
				"stop_id":         p.StopID,
				"name":            p.Name,
				"lat":             p.Lat,
				"lon":             p.Lon,
				"distance_meters": p.DistanceMeters,
			}
		}

		body := fiber.Map{"places": out}
		if deps.Cache != nil {
			if encoded, encErr := json.Marshal(body); encErr == nil {
				_ = deps.Cache.Set(ctx, cacheKey, encoded, 60)
			}
		}

		return c.JSON(body)
	}
}

func placesCacheKey(entryPoint, filter string, radius float64) string {
	return fmt.Sprintf("places:%s:%s:%d", entryPoint, strings.ToLower(filter), int64(radius))
}

// requestContext hands PlanJourney/PlacesNearby the fasthttp request
// context, which satisfies context.Context directly (deadline/cancel
// propagate from the fiber timeout middleware wrapping each route).
func requestContext(c *fiber.Ctx) context.Context {
	return c.Context()
}

// renderRoutingError maps the routingerr taxonomy onto HTTP status codes.
func renderRoutingError(c *fiber.Ctx, err error) error {
	var rerr *routingerr.Error
	if errors.As(err, &rerr) {
		switch {
		case strings.HasPrefix(string(rerr.Kind), "bad_request."):
			return errBadRequest(c, rerr.Error())
		case strings.HasPrefix(string(rerr.Kind), "realtime."):
			return errConflict(c, rerr.Error())
		case rerr.Kind == routingerr.KindEngineTimeout:
			metrics.EngineTimeouts.Inc()
			return newError(c, fiber.StatusGatewayTimeout, "engine_timeout", rerr.Error())
		default:
			return errInternal(c, rerr.Error())
		}
	}
	return errBadRequest(c, err.Error())
}
