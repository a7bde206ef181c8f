package http

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/graphql-go/graphql"

	"github.com/korope-ng/korope/internal/core/domain"
	"github.com/korope-ng/korope/internal/core/usecases"
)

const userIDKey ctxKey = "user_id"

var errNoCaller = errors.New(HeaderUserID + " header is required")

// resolveArgs builds a ResolveInput from prefixed GraphQL arguments such as
// fromId, fromLat, fromLon and fromAddress.
func resolveArgs(args map[string]interface{}, prefix string) usecases.ResolveInput {
	var in usecases.ResolveInput
	if v, ok := args[prefix+"Id"].(string); ok {
		in.LocationID = v
	}
	if v, ok := args[prefix+"Address"].(string); ok {
		in.Address = v
	}
	lat, okLat := args[prefix+"Lat"].(float64)
	lon, okLon := args[prefix+"Lon"].(float64)
	if okLat && okLon {
		in.Coordinate = &domain.GeoPoint{Lat: lat, Lon: lon}
	}
	return in
}

func placeArgs(prefix string) graphql.FieldConfigArgument {
	return graphql.FieldConfigArgument{
		prefix + "Id":      &graphql.ArgumentConfig{Type: graphql.String},
		prefix + "Lat":     &graphql.ArgumentConfig{Type: graphql.Float},
		prefix + "Lon":     &graphql.ArgumentConfig{Type: graphql.Float},
		prefix + "Address": &graphql.ArgumentConfig{Type: graphql.String},
	}
}

// buildSchema creates the GraphQL schema wired to our services. Field
// resolution falls back to the json tags on the domain types.
func buildSchema(deps *Dependencies) (graphql.Schema, error) {
	geoPointType := graphql.NewObject(graphql.ObjectConfig{
		Name: "GeoPoint",
		Fields: graphql.Fields{
			"lat": &graphql.Field{Type: graphql.Float},
			"lon": &graphql.Field{Type: graphql.Float},
		},
	})

	locationRefType := graphql.NewObject(graphql.ObjectConfig{
		Name: "LocationRef",
		Fields: graphql.Fields{
			"id":         &graphql.Field{Type: graphql.String},
			"name":       &graphql.Field{Type: graphql.String},
			"coordinate": &graphql.Field{Type: geoPointType},
		},
	})

	locationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Location",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"name":         &graphql.Field{Type: graphql.String},
			"coordinate":   &graphql.Field{Type: geoPointType},
			"address":      &graphql.Field{Type: graphql.String},
			"city":         &graphql.Field{Type: graphql.String},
			"state":        &graphql.Field{Type: graphql.String},
			"type":         &graphql.Field{Type: graphql.String},
			"verified":     &graphql.Field{Type: graphql.Boolean},
			"search_count": &graphql.Field{Type: graphql.Int},
			"distance":     &graphql.Field{Type: graphql.Float},
		},
	})

	fareEstimateType := graphql.NewObject(graphql.ObjectConfig{
		Name: "FareEstimate",
		Fields: graphql.Fields{
			"min":          &graphql.Field{Type: graphql.Float},
			"max":          &graphql.Field{Type: graphql.Float},
			"estimate":     &graphql.Field{Type: graphql.Float},
			"currency":     &graphql.Field{Type: graphql.String},
			"confidence":   &graphql.Field{Type: graphql.String},
			"sample_count": &graphql.Field{Type: graphql.Int},
		},
	})

	stepType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RouteStep",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"order":        &graphql.Field{Type: graphql.Int},
			"from":         &graphql.Field{Type: locationRefType},
			"to":           &graphql.Field{Type: locationRefType},
			"mode":         &graphql.Field{Type: graphql.String},
			"instruction":  &graphql.Field{Type: graphql.String},
			"distance_m":   &graphql.Field{Type: graphql.Float},
			"duration_min": &graphql.Field{Type: graphql.Float},
			"min_fare":     &graphql.Field{Type: graphql.Float},
			"max_fare":     &graphql.Field{Type: graphql.Float},
		},
	})

	routeType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Route",
		Fields: graphql.Fields{
			"id":           &graphql.Field{Type: graphql.String},
			"start":        &graphql.Field{Type: locationRefType},
			"end":          &graphql.Field{Type: locationRefType},
			"steps":        &graphql.Field{Type: graphql.NewList(stepType)},
			"modes":        &graphql.Field{Type: graphql.NewList(graphql.String)},
			"distance_m":   &graphql.Field{Type: graphql.Float},
			"duration_min": &graphql.Field{Type: graphql.Float},
			"min_fare":     &graphql.Field{Type: graphql.Float},
			"max_fare":     &graphql.Field{Type: graphql.Float},
			"verified":     &graphql.Field{Type: graphql.Boolean},
		},
	})

	rankedRouteType := graphql.NewObject(graphql.ObjectConfig{
		Name: "RankedRoute",
		Fields: graphql.Fields{
			"id":               &graphql.Field{Type: graphql.String},
			"strategy":         &graphql.Field{Type: graphql.String},
			"confidence":       &graphql.Field{Type: graphql.Int},
			"is_reversed":      &graphql.Field{Type: graphql.Boolean},
			"requires_walking": &graphql.Field{Type: graphql.Boolean},
			"notes":            &graphql.Field{Type: graphql.NewList(graphql.String)},
			"instructions":     &graphql.Field{Type: graphql.NewList(graphql.String)},
			"route":            &graphql.Field{Type: routeType},
			"fare_estimate":    &graphql.Field{Type: fareEstimateType},
		},
	})

	tripType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Trip",
		Fields: graphql.Fields{
			"id":                &graphql.Field{Type: graphql.String},
			"route_id":          &graphql.Field{Type: graphql.String},
			"route":             &graphql.Field{Type: routeType},
			"status":            &graphql.Field{Type: graphql.String},
			"current_step":      &graphql.Field{Type: graphql.Int},
			"current_location":  &graphql.Field{Type: geoPointType},
			"estimated_arrival": &graphql.Field{Type: graphql.DateTime},
			"started_at":        &graphql.Field{Type: graphql.DateTime},
			"ended_at":          &graphql.Field{Type: graphql.DateTime},
		},
	})

	planArgs := placeArgs("from")
	for k, v := range placeArgs("to") {
		planArgs[k] = v
	}

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"location": &graphql.Field{
				Type:        locationType,
				Description: "Get a location by ID",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Locations.Get(p.Context, p.Args["id"].(string))
				},
			},
			"nearbyLocations": &graphql.Field{
				Type:        graphql.NewList(locationType),
				Description: "Find locations near a coordinate",
				Args: graphql.FieldConfigArgument{
					"lat":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"lon":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"radius": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 500.0},
					"limit":  &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					pt := domain.GeoPoint{Lat: p.Args["lat"].(float64), Lon: p.Args["lon"].(float64)}
					return deps.Locations.Nearby(p.Context, pt, p.Args["radius"].(float64), p.Args["limit"].(int))
				},
			},
			"searchLocations": &graphql.Field{
				Type:        graphql.NewList(locationType),
				Description: "Search locations by name or address (fuzzy matching)",
				Args: graphql.FieldConfigArgument{
					"query": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"limit": &graphql.ArgumentConfig{Type: graphql.Int, DefaultValue: 20},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Locations.Search(p.Context, p.Args["query"].(string), p.Args["limit"].(int))
				},
			},
			"planRoutes": &graphql.Field{
				Type:        graphql.NewList(rankedRouteType),
				Description: "Ranked routes between two places",
				Args:        planArgs,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Planner.PlanRoutes(p.Context, resolveArgs(p.Args, "from"), resolveArgs(p.Args, "to"))
				},
			},
			"fareEstimate": &graphql.Field{
				Type:        fareEstimateType,
				Description: "Estimate the fare for a ride",
				Args: graphql.FieldConfigArgument{
					"mode":        &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"distanceKm":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.Float)},
					"durationMin": &graphql.ArgumentConfig{Type: graphql.Float, DefaultValue: 0.0},
					"city":        &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
					"state":       &graphql.ArgumentConfig{Type: graphql.String, DefaultValue: ""},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return deps.Fares.EstimateFare(p.Context, domain.FareRequest{
						Mode:        domain.TransportMode(p.Args["mode"].(string)),
						DistanceKm:  p.Args["distanceKm"].(float64),
						DurationMin: p.Args["durationMin"].(float64),
						City:        p.Args["city"].(string),
						State:       p.Args["state"].(string),
					})
				},
			},
			"trip": &graphql.Field{
				Type:        tripType,
				Description: "One of the caller's trips",
				Args: graphql.FieldConfigArgument{
					"id": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					uid, _ := p.Context.Value(userIDKey).(string)
					if uid == "" {
						return nil, errNoCaller
					}
					return deps.Trips.GetTrip(p.Context, p.Args["id"].(string), uid)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query: queryType,
	})
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
			return errBadRequest(c, "invalid request body")
		}

		ctx := context.WithValue(c.UserContext(), userIDKey, c.Get(HeaderUserID))
		result := graphql.Do(graphql.Params{
			Schema:         schema,
			RequestString:  req.Query,
			VariableValues: req.Variables,
			OperationName:  req.OperationName,
			Context:        ctx,
		})

		return c.JSON(result)
	}
}
