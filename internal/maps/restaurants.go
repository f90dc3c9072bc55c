package maps

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"googlemaps.github.io/maps"
)

const (
	defaultRestaurantRadius  = 1000
	maxRestaurantRadius      = 5000
	defaultRestaurantResults = 5
	maxRestaurantResults     = 20
	minRestaurantRating      = 3.5
)

var (
	adultOnlyTypes = []string{"bar", "night_club", "liquor_store"}
	adultOnlyNames = []string{"居酒屋", "スナック", "ワインバー", "ショットバー", "ダイニングバー", "ビアバー", "パブ"}
	familyNames    = []string{"ファミリー", "キッズ", "子供", "こども", "ファミレス", "family", "Family"}
	familyChains   = []string{"ガスト", "サイゼリヤ", "デニーズ", "ジョナサン", "バーミヤン", "ココス", "ロイヤルホスト", "びっくりドンキー"}
)

// RestaurantQuery narrows a nearby restaurant search. Zero values select defaults.
type RestaurantQuery struct {
	Radius     uint
	MaxResults int
	ChildAge   int
}

// Restaurant is a ranked nearby restaurant.
type Restaurant struct {
	PlaceSummary
	PhotoURL      string  `json:"photo_url,omitempty"`
	ChildFriendly bool    `json:"child_friendly"`
	Score         float64 `json:"score"`
}

// NearbyRestaurants finds child-friendly restaurants around placeID.
func (s *PlacesService) NearbyRestaurants(ctx context.Context, placeID string, q RestaurantQuery) ([]Restaurant, error) {
	q = q.normalized()

	origin, err := s.Details(ctx, placeID, []string{"geometry", "name"})
	if err != nil {
		return nil, err
	}

	resp, err := s.client.NearbySearch(ctx, &maps.NearbySearchRequest{
		Location: &maps.LatLng{Lat: origin.Location.Lat, Lng: origin.Location.Lng},
		Radius:   q.Radius,
		Type:     maps.PlaceTypeRestaurant,
		Language: s.opts.Language,
	})
	if err != nil {
		return nil, fmt.Errorf("nearby restaurants: %w", err)
	}

	summaries := make([]PlaceSummary, 0, len(resp.Results))
	for _, r := range resp.Results {
		summaries = append(summaries, toSummary(r))
	}
	ranked := RankRestaurants(summaries, q)
	for i := range ranked {
		ranked[i].PhotoURL = s.PhotoURL(ranked[i].PhotoReference)
	}
	return ranked, nil
}

func (q RestaurantQuery) normalized() RestaurantQuery {
	if q.Radius == 0 {
		q.Radius = defaultRestaurantRadius
	}
	if q.Radius > maxRestaurantRadius {
		q.Radius = maxRestaurantRadius
	}
	if q.MaxResults <= 0 {
		q.MaxResults = defaultRestaurantResults
	}
	if q.MaxResults > maxRestaurantResults {
		q.MaxResults = maxRestaurantResults
	}
	return q
}

// RankRestaurants drops adult-only and poorly rated places and orders the rest by family suitability.
func RankRestaurants(candidates []PlaceSummary, q RestaurantQuery) []Restaurant {
	q = q.normalized()

	var out []Restaurant
	for _, c := range candidates {
		if c.Rating < minRestaurantRating || isAdultOnly(c) {
			continue
		}
		family := containsAny(c.Name, familyNames) || containsAny(c.Name, familyChains)
		score := float64(c.Rating)
		if family {
			bonus := 0.5
			if q.ChildAge > 0 && q.ChildAge <= 6 {
				bonus = 1.0
			}
			score += bonus
		}
		if c.PriceLevel > 0 && c.PriceLevel <= 2 {
			score += 0.2
		}
		out = append(out, Restaurant{PlaceSummary: c, ChildFriendly: family, Score: score})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > q.MaxResults {
		out = out[:q.MaxResults]
	}
	return out
}

func isAdultOnly(p PlaceSummary) bool {
	for _, t := range p.Types {
		for _, bad := range adultOnlyTypes {
			if t == bad {
				return true
			}
		}
	}
	return containsAny(p.Name, adultOnlyNames)
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
