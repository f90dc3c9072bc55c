package maps

import (
	"context"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"outing/internal/types"
)

// RouteService handles geocoding and travel-time lookups.
type RouteService struct {
	client *maps.Client
	opts   Options
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, opts Options) (*RouteService, error) {
	client, err := newClient(apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &RouteService{client: client, opts: opts}, nil
}

// Geocode resolves a free-form address. A nil point with a nil error means no match.
func (s *RouteService) Geocode(ctx context.Context, address string) (*types.Point, error) {
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Language: s.opts.Language,
		Region:   s.opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("geocode %q: %w", address, err)
	}
	if len(results) == 0 {
		return nil, nil
	}
	loc := results[0].Geometry.Location
	return &types.Point{Lat: loc.Lat, Lng: loc.Lng}, nil
}

// TravelTimes returns one duration per destination from origin; unreachable destinations are nil.
// transportation "car" selects driving, anything else transit.
func (s *RouteService) TravelTimes(ctx context.Context, origin types.Point, dests []types.Point, transportation string) ([]*time.Duration, error) {
	if len(dests) == 0 {
		return nil, nil
	}
	destStrs := make([]string, len(dests))
	for i, d := range dests {
		destStrs[i] = d.String()
	}

	resp, err := s.client.DistanceMatrix(ctx, &maps.DistanceMatrixRequest{
		Origins:      []string{origin.String()},
		Destinations: destStrs,
		Mode:         TravelMode(transportation),
		Language:     s.opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("distance matrix: %w", err)
	}

	out := make([]*time.Duration, len(dests))
	if len(resp.Rows) == 0 {
		return out, nil
	}
	for i, el := range resp.Rows[0].Elements {
		if i >= len(out) || el == nil || el.Status != "OK" {
			continue
		}
		d := el.Duration
		out[i] = &d
	}
	return out, nil
}

// TravelMode maps a transportation preference to a Maps travel mode.
func TravelMode(transportation string) maps.Mode {
	if transportation == "car" {
		return maps.TravelModeDriving
	}
	return maps.TravelModeTransit
}
