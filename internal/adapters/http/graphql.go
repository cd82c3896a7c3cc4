package http

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/samirrijal/bilbopass/internal/core/domain"
)

// buildSchema creates the GraphQL schema wired to the journey planner. It
// resolves through the exact same JourneyService entrypoints as the REST
// handlers, so REST and GraphQL can never disagree about a journey.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	sectionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "JourneySection",
		Fields: graphql.Fields{
			"kind":      &graphql.Field{Type: graphql.String},
			"from_stop": &graphql.Field{Type: graphql.String, Resolve: sectionField(func(s domain.JourneySection) interface{} { return s.FromStopID })},
			"to_stop":   &graphql.Field{Type: graphql.String, Resolve: sectionField(func(s domain.JourneySection) interface{} { return s.ToStopID })},
			"line":      &graphql.Field{Type: graphql.String},
			"network":   &graphql.Field{Type: graphql.String},
			"mode":      &graphql.Field{Type: graphql.String},
			"departure": &graphql.Field{Type: graphql.String, Resolve: sectionField(func(s domain.JourneySection) interface{} { return s.Departure.Format(time.RFC3339) })},
			"arrival":   &graphql.Field{Type: graphql.String, Resolve: sectionField(func(s domain.JourneySection) interface{} { return s.Arrival.Format(time.RFC3339) })},
			"duration":  &graphql.Field{Type: graphql.String, Resolve: sectionField(func(s domain.JourneySection) interface{} { return s.Duration.String() })},
		},
	})

	journeyType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Journey",
		Fields: graphql.Fields{
			"departure_time": &graphql.Field{Type: graphql.String, Resolve: journeyField(func(j domain.Journey) interface{} { return j.DepartureTime.Format(time.RFC3339) })},
			"arrival_time":   &graphql.Field{Type: graphql.String, Resolve: journeyField(func(j domain.Journey) interface{} { return j.ArrivalTime.Format(time.RFC3339) })},
			"duration":       &graphql.Field{Type: graphql.String, Resolve: journeyField(func(j domain.Journey) interface{} { return j.Duration.String() })},
			"transfers":      &graphql.Field{Type: graphql.Int},
			"load": &graphql.Field{Type: graphql.Int, Resolve: journeyField(func(j domain.Journey) interface{} {
				if j.Load == nil {
					return nil
				}
				return int(*j.Load)
			})},
			"sections": &graphql.Field{Type: graphql.NewList(sectionType)},
		},
	})

	placeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Place",
		Fields: graphql.Fields{
			"stop_id":         &graphql.Field{Type: graphql.String},
			"name":            &graphql.Field{Type: graphql.String},
			"lat":             &graphql.Field{Type: graphql.Float},
			"lon":             &graphql.Field{Type: graphql.Float},
			"distance_meters": &graphql.Field{Type: graphql.Float},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"journeys": &graphql.Field{
				Type:        graphql.NewList(journeyType),
				Description: "Plan Pareto-optimal journeys between two stop ids",
				Args: graphql.FieldConfigArgument{
					"from":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"to":            &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"depart_at":     &graphql.ArgumentConfig{Type: graphql.String},
					"max_transfers": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: -1},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					from := p.Args["from"].(string)
					to := p.Args["to"].(string)
					maxTransfers := p.Args["max_transfers"].(int)
					departAt, err := parseDepartAt(p.Args["depart_at"])
					if err != nil {
						return nil, err
					}
					return deps.Journeys.PlanJourney(p.Context, from, to, departAt, maxTransfers)
				},
			},
			"journeysByName": &graphql.Field{
				Type:        graphql.NewList(journeyType),
				Description: "Plan journeys resolving stop names against the loaded snapshot",
				Args: graphql.FieldConfigArgument{
					"from_name": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"to_name":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"depart_at": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					fromName := p.Args["from_name"].(string)
					toName := p.Args["to_name"].(string)
					departAt, err := parseDepartAt(p.Args["depart_at"])
					if err != nil {
						return nil, err
					}
					return deps.Journeys.PlanJourneyByName(p.Context, fromName, toName, departAt)
				},
			},
			"placesNearby": &graphql.Field{
				Type:        graphql.NewList(placeType),
				Description: "Stops within a radius of an entry point (stop_point:, stop_area:, coord:<lon>:<lat>)",
				Args: graphql.FieldConfigArgument{
					"entry_point": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"radius":      &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 500.0},
					"filter":      &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					entryPoint := p.Args["entry_point"].(string)
					radius := p.Args["radius"].(float64)
					filter := p.Args["filter"].(string)
					return deps.Journeys.PlacesNearby(entryPoint, filter, radius)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
}

func parseDepartAt(arg interface{}) (*time.Time, error) {
	raw, ok := arg.(string)
	if !ok || raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func journeyField(f func(domain.Journey) interface{}) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		if j, ok := p.Source.(domain.Journey); ok {
			return f(j), nil
		}
		return nil, nil
	}
}

func sectionField(f func(domain.JourneySection) interface{}) graphql.FieldResolveFn {
	return func(p graphql.ResolveParams) (interface{}, error) {
		if s, ok := p.Source.(domain.JourneySection); ok {
			return f(s), nil
		}
		return nil, nil
	}
}

// GraphQLHandler serves the GraphQL endpoint.
func GraphQLHandler(deps *Dependencies) fiber.Handler {
	schema, err := buildSchema(deps)
	if err != nil {
		// This would be a programming error in the schema definition
		panic("graphql schema build: " + err.Error())
	}

	type gqlRequest struct {
		Query         string                 `json:"query"`
		OperationName string                 `json:"operationName"`
		Variables     map[string]interface{} `json:"variables"`
	}

	return func(c *fiber.Ctx) error {
		var req gqlRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
		}

		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        c.Context(),
		})

		return c.JSON(result)
	}
}
