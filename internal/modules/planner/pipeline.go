// README: Plan generation and place enrichment. One facility failing never aborts the batch.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"outing/internal/ai"
	"outing/internal/maps"
	"outing/internal/types"
)

const (
	MaxReviews           = 5
	defaultEnrichWorkers = 3
)

var ErrEmptyPlan = errors.New("generator returned an empty plan")

// PlaceLookup resolves generated facility names to provider records.
type PlaceLookup interface {
	FindByText(ctx context.Context, query string, bias *types.Point) (*maps.PlaceSummary, error)
	Details(ctx context.Context, placeID string, fields []string) (*maps.PlaceDetail, error)
	PhotoURL(ref string) string
}

// TravelTimer estimates travel durations from one origin. Nil entries are unreachable.
type TravelTimer interface {
	TravelTimes(ctx context.Context, origin types.Point, dests []types.Point, transportation string) ([]*time.Duration, error)
}

// Place is a generated facility verified against the places provider.
type Place struct {
	PlaceID          string             `json:"place_id"`
	Name             string             `json:"name"`
	Address          string             `json:"address"`
	Location         types.Point        `json:"location"`
	Rating           float32            `json:"rating,omitempty"`
	UserRatingsTotal int                `json:"user_ratings_total,omitempty"`
	PhotoURL         string             `json:"photo_url,omitempty"`
	OpeningHours     *maps.OpeningHours `json:"opening_hours,omitempty"`
	Website          string             `json:"website,omitempty"`
	Phone            string             `json:"phone,omitempty"`
	Types            []string           `json:"types,omitempty"`
	Reviews          []maps.Review      `json:"reviews,omitempty"`
	Description      string             `json:"description,omitempty"`
	TravelMinutes    *int               `json:"travel_minutes,omitempty"`
}

type Request struct {
	Prefs       Resolved
	Exclude     []string
	Temperature *float32
	// Purpose defaults to ai.PurposePlan.
	Purpose string
}

type Plan struct {
	Text      string               `json:"text"`
	Places    []Place              `json:"places"`
	Sources   []ai.GroundingSource `json:"sources,omitempty"`
	Citations []ai.Citation        `json:"citations,omitempty"`
}

// PlaceIDs lists enriched place ids in plan order.
func (p *Plan) PlaceIDs() []string {
	ids := make([]string, 0, len(p.Places))
	for _, pl := range p.Places {
		ids = append(ids, pl.PlaceID)
	}
	return ids
}

// Pipeline turns resolved preferences into an enriched plan.
type Pipeline struct {
	gen     ai.Generator
	places  PlaceLookup
	travel  TravelTimer
	workers int
}

// NewPipeline wires the pipeline. travel may be nil to skip travel-time annotation.
func NewPipeline(gen ai.Generator, places PlaceLookup, travel TravelTimer) *Pipeline {
	return &Pipeline{gen: gen, places: places, travel: travel, workers: defaultEnrichWorkers}
}

// Generate runs prompt, generation, parse and enrichment. Only the generation call can fail the plan.
func (p *Pipeline) Generate(ctx context.Context, req Request) (*Plan, error) {
	purpose := req.Purpose
	if purpose == "" {
		purpose = ai.PurposePlan
	}
	res, err := p.gen.Generate(ctx, ai.Request{
		Prompt:         BuildPlanPrompt(req.Prefs, req.Exclude),
		Purpose:        purpose,
		Grounding:      true,
		GroundingQuery: req.Prefs.ActivityType,
		RadiusMeters:   SearchRadius(req.Prefs),
		Bias:           req.Prefs.Origin,
		Temperature:    req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	if strings.TrimSpace(res.Text) == "" {
		return nil, ErrEmptyPlan
	}

	plan := &Plan{Text: res.Text, Sources: res.Sources, Citations: res.Citations}
	facilities := ParseFacilities(res.Text)
	if len(facilities) == 0 {
		log.Printf("plan text has no facility headers, returning text only")
		return plan, nil
	}
	plan.Places = p.enrich(ctx, facilities, req.Prefs.Origin)
	p.annotateTravel(ctx, plan.Places, req.Prefs)
	return plan, nil
}

func (p *Pipeline) enrich(ctx context.Context, facilities []Facility, bias *types.Point) []Place {
	descriptions := make(map[string]string, len(facilities))
	for _, f := range facilities {
		descriptions[f.Name] = f.Description
	}

	results := make([]*Place, len(facilities))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, f := range facilities {
		i, f := i, f
		g.Go(func() error {
			place, err := p.resolve(ctx, f.Name, bias)
			if err != nil {
				log.Printf("skip facility %q: %v", f.Name, err)
				return nil
			}
			if place == nil {
				log.Printf("skip facility %q: no places match", f.Name)
				return nil
			}
			place.Description = descriptions[f.Name]
			results[i] = place
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Place, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out
}

func (p *Pipeline) resolve(ctx context.Context, name string, bias *types.Point) (*Place, error) {
	summary, err := p.places.FindByText(ctx, name, bias)
	if err != nil {
		return nil, fmt.Errorf("text search: %w", err)
	}
	if summary == nil {
		return nil, nil
	}
	detail, err := p.places.Details(ctx, summary.PlaceID, maps.DetailFields)
	if err != nil {
		return nil, fmt.Errorf("details %s: %w", summary.PlaceID, err)
	}
	if detail == nil {
		return nil, nil
	}

	place := &Place{
		PlaceID:          detail.PlaceID,
		Name:             detail.Name,
		Address:          detail.Address,
		Location:         detail.Location,
		Rating:           detail.Rating,
		UserRatingsTotal: detail.UserRatingsTotal,
		OpeningHours:     detail.OpeningHours,
		Website:          detail.Website,
		Phone:            detail.Phone,
		Types:            detail.Types,
		Reviews:          detail.Reviews,
	}
	if place.PlaceID == "" {
		place.PlaceID = summary.PlaceID
	}
	if place.Name == "" {
		place.Name = summary.Name
	}
	if len(place.Reviews) > MaxReviews {
		place.Reviews = place.Reviews[:MaxReviews]
	}
	if len(detail.PhotoReferences) > 0 {
		place.PhotoURL = p.places.PhotoURL(detail.PhotoReferences[0])
	} else if summary.PhotoReference != "" {
		place.PhotoURL = p.places.PhotoURL(summary.PhotoReference)
	}
	return place, nil
}

func (p *Pipeline) annotateTravel(ctx context.Context, places []Place, prefs Resolved) {
	if p.travel == nil || prefs.Origin == nil || len(places) == 0 {
		return
	}
	dests := make([]types.Point, len(places))
	for i, pl := range places {
		dests[i] = pl.Location
	}
	durations, err := p.travel.TravelTimes(ctx, *prefs.Origin, dests, prefs.Transportation)
	if err != nil {
		log.Printf("travel time annotation failed: %v", err)
		return
	}
	for i := range places {
		if i >= len(durations) || durations[i] == nil {
			continue
		}
		minutes := int(math.Round(durations[i].Minutes()))
		places[i].TravelMinutes = &minutes
	}
}
