package planner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outing/internal/ai"
	"outing/internal/maps"
	"outing/internal/modules/conversation"
	"outing/internal/types"
)

type stubGenerator struct {
	text string
	err  error
	reqs []ai.Request
}

func (s *stubGenerator) Generate(_ context.Context, req ai.Request) (*ai.Result, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return &ai.Result{
		Text:      s.text,
		Sources:   []ai.GroundingSource{{PlaceID: "src-1", Name: "ソース"}},
		Citations: []ai.Citation{{URI: "https://example.com", Start: 1, End: 5}},
	}, nil
}

type fakeLookup struct {
	mu         sync.Mutex
	summaries  map[string]*maps.PlaceSummary
	details    map[string]*maps.PlaceDetail
	searchErr  map[string]error
	detailErr  map[string]error
	searchBias []*types.Point
}

func (f *fakeLookup) FindByText(_ context.Context, query string, bias *types.Point) (*maps.PlaceSummary, error) {
	f.mu.Lock()
	f.searchBias = append(f.searchBias, bias)
	f.mu.Unlock()
	if err := f.searchErr[query]; err != nil {
		return nil, err
	}
	return f.summaries[query], nil
}

func (f *fakeLookup) Details(_ context.Context, placeID string, fields []string) (*maps.PlaceDetail, error) {
	if err := f.detailErr[placeID]; err != nil {
		return nil, err
	}
	return f.details[placeID], nil
}

func (f *fakeLookup) PhotoURL(ref string) string {
	return "https://photos.example/" + ref
}

type fakeTravel struct {
	err   error
	calls int
	mode  string
}

func (f *fakeTravel) TravelTimes(_ context.Context, _ types.Point, dests []types.Point, transportation string) ([]*time.Duration, error) {
	f.calls++
	f.mode = transportation
	if f.err != nil {
		return nil, f.err
	}
	out := make([]*time.Duration, len(dests))
	for i := range dests {
		d := time.Duration(10*(i+1))*time.Minute + 20*time.Second
		out[i] = &d
	}
	return out, nil
}

func zooLookup() *fakeLookup {
	reviews := make([]maps.Review, 8)
	for i := range reviews {
		reviews[i] = maps.Review{Author: fmt.Sprintf("r%d", i), Rating: 5}
	}
	return &fakeLookup{
		summaries: map[string]*maps.PlaceSummary{
			"よこはま動物園ズーラシア": {PlaceID: "zoorasia", Name: "よこはま動物園ズーラシア"},
			"野毛山動物園": {PlaceID: "nogeyama", Name: "野毛山動物園", PhotoReference: "summary-photo"},
			"金沢動物園": {PlaceID: "kanazawa", Name: "金沢動物園"},
		},
		details: map[string]*maps.PlaceDetail{
			"zoorasia": {PlaceID: "zoorasia", Name: "よこはま動物園ズーラシア", Rating: 4.4, PhotoReferences: []string{"p1", "p2"}, Reviews: reviews, Location: types.Point{Lat: 35.49, Lng: 139.52}},
			"nogeyama": {PlaceID: "nogeyama", Name: "野毛山動物園", Rating: 4.2, Location: types.Point{Lat: 35.45, Lng: 139.62}},
			"kanazawa": {PlaceID: "kanazawa", Name: "金沢動物園", Rating: 4.1, Location: types.Point{Lat: 35.34, Lng: 139.63}},
		},
		searchErr: map[string]error{},
		detailErr: map[string]error{},
	}
}

func resolvedYokohama() Resolved {
	return ApplyDefaults(conversation.Preferences{
		Location:       conversation.LocationAt("横浜駅", types.Point{Lat: 35.4658, Lng: 139.6223}),
		TravelTime:     &conversation.TravelTime{Value: 30, Unit: conversation.UnitMinutes, Direction: conversation.DirectionOneWay},
		ActivityType:   "動物園",
		ChildAge:       "3",
		Transportation: conversation.TransportCar,
	})
}

func TestPipelineGenerateEnrichesInOrder(t *testing.T) {
	gen := &stubGenerator{text: samplePlan}
	lookup := zooLookup()
	travel := &fakeTravel{}
	p := NewPipeline(gen, lookup, travel)

	plan, err := p.Generate(context.Background(), Request{Prefs: resolvedYokohama()})
	require.NoError(t, err)

	require.Len(t, gen.reqs, 1)
	req := gen.reqs[0]
	assert.True(t, req.Grounding)
	assert.Equal(t, ai.PurposePlan, req.Purpose)
	assert.Equal(t, "動物園", req.GroundingQuery)
	assert.Equal(t, uint(19500), req.RadiusMeters)
	require.NotNil(t, req.Bias)
	assert.InDelta(t, 35.4658, req.Bias.Lat, 1e-9)
	assert.Nil(t, req.Temperature)

	assert.Equal(t, samplePlan, plan.Text)
	assert.Len(t, plan.Sources, 1)
	assert.Len(t, plan.Citations, 1)
	assert.Equal(t, []string{"zoorasia", "nogeyama", "kanazawa"}, plan.PlaceIDs())

	zoo := plan.Places[0]
	assert.Len(t, zoo.Reviews, MaxReviews)
	assert.Equal(t, "https://photos.example/p1", zoo.PhotoURL)
	assert.Contains(t, zoo.Description, "動物を間近に")
	assert.Equal(t, "https://photos.example/summary-photo", plan.Places[1].PhotoURL)
	assert.Empty(t, plan.Places[2].PhotoURL)

	assert.Equal(t, 1, travel.calls)
	assert.Equal(t, conversation.TransportCar, travel.mode)
	require.NotNil(t, zoo.TravelMinutes)
	assert.Equal(t, 10, *zoo.TravelMinutes)
	assert.Equal(t, 30, *plan.Places[2].TravelMinutes)

	for _, bias := range lookup.searchBias {
		require.NotNil(t, bias)
	}
}

func TestPipelineSkipsFailedFacilities(t *testing.T) {
	lookup := zooLookup()
	delete(lookup.summaries, "野毛山動物園")
	lookup.detailErr["kanazawa"] = errors.New("OVER_QUERY_LIMIT")

	plan, err := NewPipeline(&stubGenerator{text: samplePlan}, lookup, nil).Generate(context.Background(), Request{Prefs: resolvedYokohama()})
	require.NoError(t, err)
	assert.Equal(t, []string{"zoorasia"}, plan.PlaceIDs())
	assert.Nil(t, plan.Places[0].TravelMinutes)
}

func TestPipelineSearchErrorSkipsOnlyThatFacility(t *testing.T) {
	lookup := zooLookup()
	lookup.searchErr["よこはま動物園ズーラシア"] = errors.New("network unreachable")

	plan, err := NewPipeline(&stubGenerator{text: samplePlan}, lookup, nil).Generate(context.Background(), Request{Prefs: resolvedYokohama()})
	require.NoError(t, err)
	assert.Equal(t, []string{"nogeyama", "kanazawa"}, plan.PlaceIDs())
}

func TestPipelineTravelFailureLeavesMinutesUnset(t *testing.T) {
	plan, err := NewPipeline(&stubGenerator{text: samplePlan}, zooLookup(), &fakeTravel{err: errors.New("boom")}).
		Generate(context.Background(), Request{Prefs: resolvedYokohama()})
	require.NoError(t, err)
	require.Len(t, plan.Places, 3)
	for _, pl := range plan.Places {
		assert.Nil(t, pl.TravelMinutes)
	}
}

func TestPipelineShowMoreRequest(t *testing.T) {
	gen := &stubGenerator{text: samplePlan}
	_, err := NewPipeline(gen, zooLookup(), nil).Generate(context.Background(), Request{
		Prefs:       resolvedYokohama(),
		Exclude:     []string{"old-1"},
		Temperature: ai.Float32(0.9),
		Purpose:     ai.PurposeShowMore,
	})
	require.NoError(t, err)
	req := gen.reqs[0]
	assert.Equal(t, ai.PurposeShowMore, req.Purpose)
	require.NotNil(t, req.Temperature)
	assert.InDelta(t, 0.9, *req.Temperature, 1e-6)
	assert.Contains(t, req.Prompt, "- old-1")
}

func TestPipelineGenerationFailures(t *testing.T) {
	_, err := NewPipeline(&stubGenerator{err: context.DeadlineExceeded}, zooLookup(), nil).Generate(context.Background(), Request{Prefs: resolvedYokohama()})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = NewPipeline(&stubGenerator{text: "  \n"}, zooLookup(), nil).Generate(context.Background(), Request{Prefs: resolvedYokohama()})
	assert.ErrorIs(t, err, ErrEmptyPlan)
}

func TestPipelineTextWithoutHeaders(t *testing.T) {
	plan, err := NewPipeline(&stubGenerator{text: "条件に合う施設が見つかりませんでした。"}, zooLookup(), nil).
		Generate(context.Background(), Request{Prefs: resolvedYokohama()})
	require.NoError(t, err)
	assert.Empty(t, plan.Places)
	assert.Empty(t, plan.PlaceIDs())
}
