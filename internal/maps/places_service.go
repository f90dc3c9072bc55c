package maps

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"outing/internal/ai"
	"outing/internal/types"
)

const (
	// PhotoPath is the API route that proxies Place Photos so the key stays server side.
	PhotoPath          = "/api/places/photo"
	PhotoMaxWidth      = 400
	photoMaxWidthLimit = 1600
	textSearchRadius   = 20000
	maxGroundingPlaces = 10
)

// DetailFields is the field set requested when enriching a suggested facility.
var DetailFields = []string{
	"name", "formatted_address", "geometry", "rating", "user_ratings_total", "photos",
	"opening_hours", "website", "formatted_phone_number", "types", "reviews", "place_id",
}

// Options configures the Maps clients. BaseURL is for tests.
type Options struct {
	Language string
	Region   string
	BaseURL  string
}

func newClient(apiKey string, opts Options) (*maps.Client, error) {
	clientOpts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, maps.WithBaseURL(opts.BaseURL))
	}
	client, err := maps.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// PlacesService handles interactions with Google Places API.
type PlacesService struct {
	client *maps.Client
	opts   Options
}

// NewPlacesService creates a new PlacesService with the given API Key.
func NewPlacesService(apiKey string, opts Options) (*PlacesService, error) {
	client, err := newClient(apiKey, opts)
	if err != nil {
		return nil, err
	}
	return &PlacesService{client: client, opts: opts}, nil
}

// FindByText returns the best text-search match for query, biased towards bias when given.
// A nil summary with a nil error means no candidate was found.
func (s *PlacesService) FindByText(ctx context.Context, query string, bias *types.Point) (*PlaceSummary, error) {
	r := &maps.TextSearchRequest{
		Query:    query,
		Language: s.opts.Language,
		Region:   strings.ToLower(s.opts.Region),
	}
	if bias != nil {
		r.Location = &maps.LatLng{Lat: bias.Lat, Lng: bias.Lng}
		r.Radius = textSearchRadius
	}

	resp, err := s.client.TextSearch(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("places text search: %w", err)
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	summary := toSummary(resp.Results[0])
	return &summary, nil
}

// Details fetches the requested fields for placeID.
func (s *PlacesService) Details(ctx context.Context, placeID string, fields []string) (*PlaceDetail, error) {
	masks := make([]maps.PlaceDetailsFieldMask, 0, len(fields))
	for _, f := range fields {
		m, err := maps.ParsePlaceDetailsFieldMask(f)
		if err != nil {
			return nil, fmt.Errorf("place details field %q: %w", f, err)
		}
		masks = append(masks, m)
	}

	res, err := s.client.PlaceDetails(ctx, &maps.PlaceDetailsRequest{
		PlaceID:  placeID,
		Language: s.opts.Language,
		Region:   strings.ToLower(s.opts.Region),
		Fields:   masks,
	})
	if err != nil {
		return nil, fmt.Errorf("place details %s: %w", placeID, err)
	}

	detail := &PlaceDetail{
		PlaceID:          res.PlaceID,
		Name:             res.Name,
		Address:          res.FormattedAddress,
		Location:         types.Point{Lat: res.Geometry.Location.Lat, Lng: res.Geometry.Location.Lng},
		Rating:           res.Rating,
		UserRatingsTotal: res.UserRatingsTotal,
		Website:          res.Website,
		Phone:            res.FormattedPhoneNumber,
		Types:            res.Types,
	}
	if detail.PlaceID == "" {
		detail.PlaceID = placeID
	}
	for _, p := range res.Photos {
		if p.PhotoReference != "" {
			detail.PhotoReferences = append(detail.PhotoReferences, p.PhotoReference)
		}
	}
	if res.OpeningHours != nil {
		detail.OpeningHours = &OpeningHours{OpenNow: res.OpeningHours.OpenNow, WeekdayText: res.OpeningHours.WeekdayText}
	}
	for _, r := range res.Reviews {
		detail.Reviews = append(detail.Reviews, Review{
			Author:       r.AuthorName,
			Rating:       r.Rating,
			Text:         r.Text,
			RelativeTime: r.RelativeTimeDescription,
			Time:         time.Unix(int64(r.Time), 0).UTC(),
		})
	}
	return detail, nil
}

// PhotoURL returns the proxied photo path for ref, relative to the API host. An
// empty ref yields "".
func (s *PlacesService) PhotoURL(ref string) string {
	if ref == "" {
		return ""
	}
	q := url.Values{}
	q.Set("ref", ref)
	return PhotoPath + "?" + q.Encode()
}

// Photo is an image fetched from the Place Photo API. Callers close Data.
type Photo struct {
	ContentType string
	Data        io.ReadCloser
}

// Photo fetches the image behind ref, capped at maxWidth pixels (0 means the default).
func (s *PlacesService) Photo(ctx context.Context, ref string, maxWidth uint) (*Photo, error) {
	if maxWidth == 0 {
		maxWidth = PhotoMaxWidth
	}
	if maxWidth > photoMaxWidthLimit {
		maxWidth = photoMaxWidthLimit
	}
	resp, err := s.client.PlacePhoto(ctx, &maps.PlacePhotoRequest{PhotoReference: ref, MaxWidth: maxWidth})
	if err != nil {
		return nil, fmt.Errorf("place photo: %w", err)
	}
	if !strings.HasPrefix(resp.ContentType, "image/") {
		resp.Data.Close()
		return nil, fmt.Errorf("place photo: unexpected content type %q", resp.ContentType)
	}
	return &Photo{ContentType: resp.ContentType, Data: resp.Data}, nil
}

// Retrieve implements ai.Retriever: well-rated places matching query around bias.
func (s *PlacesService) Retrieve(ctx context.Context, query string, bias *types.Point, radiusMeters uint) ([]ai.GroundingSource, error) {
	var (
		resp maps.PlacesSearchResponse
		err  error
	)
	if bias != nil {
		resp, err = s.client.NearbySearch(ctx, &maps.NearbySearchRequest{
			Location: &maps.LatLng{Lat: bias.Lat, Lng: bias.Lng},
			Radius:   radiusMeters,
			Keyword:  query,
			Language: s.opts.Language,
		})
	} else {
		if query == "" {
			return nil, nil
		}
		resp, err = s.client.TextSearch(ctx, &maps.TextSearchRequest{
			Query:    query,
			Language: s.opts.Language,
			Region:   strings.ToLower(s.opts.Region),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("grounding search: %w", err)
	}

	var out []ai.GroundingSource
	for _, r := range resp.Results {
		if r.PlaceID == "" {
			continue
		}
		out = append(out, ai.GroundingSource{
			PlaceID: r.PlaceID,
			Name:    r.Name,
			Address: firstNonEmpty(r.FormattedAddress, r.Vicinity),
			Rating:  r.Rating,
			Types:   r.Types,
		})
		if len(out) >= maxGroundingPlaces {
			break
		}
	}
	return out, nil
}

func toSummary(r maps.PlacesSearchResult) PlaceSummary {
	s := PlaceSummary{
		PlaceID:          r.PlaceID,
		Name:             r.Name,
		Address:          firstNonEmpty(r.FormattedAddress, r.Vicinity),
		Location:         types.Point{Lat: r.Geometry.Location.Lat, Lng: r.Geometry.Location.Lng},
		Rating:           r.Rating,
		UserRatingsTotal: r.UserRatingsTotal,
		PriceLevel:       r.PriceLevel,
		Types:            r.Types,
	}
	if len(r.Photos) > 0 {
		s.PhotoReference = r.Photos[0].PhotoReference
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
