package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"outing/internal/ai"
	"outing/internal/config"
	"outing/internal/modules/conversation"
	"outing/internal/modules/extract"
	"outing/internal/modules/planner"
	"outing/internal/types"
)

const richUtterance = "3歳の子供と横浜駅から車で30分くらいで行ける動物園を探しています"

type fakeExtractor struct {
	mu      sync.Mutex
	replies map[string]string
	err     error
	calls   int
}

func (f *fakeExtractor) Extract(_ context.Context, text string) (extract.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return extract.Extraction{}, f.err
	}
	raw, ok := f.replies[text]
	if !ok {
		raw = `{"enough_to_generate": false}`
	}
	return extract.ParseExtraction(raw)
}

type fakePlanner struct {
	mu    sync.Mutex
	err   error
	calls int
	reqs  []planner.Request
}

func (f *fakePlanner) Generate(_ context.Context, req planner.Request) (*planner.Plan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.reqs = append(f.reqs, req)
	if f.err != nil {
		return nil, f.err
	}
	n := f.calls
	return &planner.Plan{
		Text: fmt.Sprintf("### 1. 施設%d-1\n説明\n### 2. 施設%d-2\n説明", n, n),
		Places: []planner.Place{
			{PlaceID: fmt.Sprintf("p%d-1", n), Name: fmt.Sprintf("施設%d-1", n)},
			{PlaceID: fmt.Sprintf("p%d-2", n), Name: fmt.Sprintf("施設%d-2", n)},
		},
	}, nil
}

type fakeGeocoder struct {
	points map[string]types.Point
	calls  int
}

func (f *fakeGeocoder) Geocode(_ context.Context, address string) (*types.Point, error) {
	f.calls++
	p, ok := f.points[address]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

type chatFixture struct {
	chat      *ChatService
	sessions  *conversation.Service
	extractor *fakeExtractor
	planner   *fakePlanner
	geocoder  *fakeGeocoder
	clock     *time.Time
}

func newChatFixture(t *testing.T, mode string) *chatFixture {
	t.Helper()
	keywords, err := extract.NewKeywordExtractor()
	if err != nil {
		t.Fatalf("NewKeywordExtractor: %v", err)
	}
	now := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)
	clock := &now
	sessions := conversation.NewService(conversation.NewMemoryStore(), config.SessionConfig{
		Timeout:         30 * time.Minute,
		CleanupInterval: time.Minute,
	}).WithClock(func() time.Time {
		*clock = clock.Add(time.Second)
		return *clock
	})

	f := &chatFixture{
		sessions: sessions,
		extractor: &fakeExtractor{replies: map[string]string{
			richUtterance: `{
				"location": {"address": "横浜駅", "explicit": true},
				"travel_time": {"value": 30, "direction": "one-way", "unit": "minutes"},
				"activity_type": "動物園",
				"meals": null,
				"child_age": "3",
				"transportation": "car",
				"enough_to_generate": true
			}`,
			"週末に子供とどこか遊びに行きたい": `{"location": null, "travel_time": null, "activity_type": null, "meals": null,
				"child_age": null, "transportation": null, "destination": null, "special_requirements": [], "enough_to_generate": false}`,
			"横浜駅から出発します":        `{"location": {"address": "横浜駅", "explicit": true}, "enough_to_generate": false}`,
			"横浜駅で子供向けの公園を探しています": `{"location": {"address": "横浜駅", "explicit": true}, "activity_type": "子供向けの公園", "enough_to_generate": false}`,
			"35.6812, 139.7671 から動物園に行きたい": `{"location": {"address": "渋谷", "explicit": true}, "activity_type": "動物園", "enough_to_generate": true}`,
		}},
		planner:  &fakePlanner{},
		geocoder: &fakeGeocoder{points: map[string]types.Point{"横浜駅": {Lat: 35.4658, Lng: 139.6223}}},
		clock:    clock,
	}
	f.chat = NewChatService(ChatDeps{
		Sessions:  sessions,
		Keywords:  keywords,
		Extractor: f.extractor,
		Planner:   f.planner,
		Geocoder:  f.geocoder,
	}, ChatOptions{Mode: mode, ShowMoreTemperature: 0.9})
	return f
}

func (f *chatFixture) start(t *testing.T) string {
	t.Helper()
	start, err := f.chat.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	return start.SessionID
}

func (f *chatFixture) turn(t *testing.T, id, text string) *TurnResult {
	t.Helper()
	res, err := f.chat.HandleTurn(context.Background(), id, text)
	if err != nil {
		t.Fatalf("HandleTurn(%q): %v", text, err)
	}
	return res
}

func (f *chatFixture) session(t *testing.T, id string) *conversation.Session {
	t.Helper()
	sess, err := f.sessions.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return sess
}

func TestCreateSessionGreets(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	start, err := f.chat.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if start.SessionID == "" || start.Greeting != msgGreeting || start.State != conversation.StateInitial {
		t.Fatalf("unexpected start %+v", start)
	}
	h, err := f.chat.History(context.Background(), start.SessionID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h.Messages) != 0 {
		t.Fatalf("greeting must not be stored, got %d messages", len(h.Messages))
	}
}

func TestColdStartRichInputGeneratesInSameTurn(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)

	res := f.turn(t, id, richUtterance)

	if res.State != conversation.StatePresentingPlan {
		t.Fatalf("expected PRESENTING_PLAN, got %s (%q)", res.State, res.Response)
	}
	if f.extractor.calls != 1 || f.planner.calls != 1 {
		t.Fatalf("expected one extraction and one generation, got %d/%d", f.extractor.calls, f.planner.calls)
	}
	prefs := f.session(t, id).Preferences
	if prefs.Location.Address != "横浜駅" || prefs.TravelTime == nil || prefs.TravelTime.Value != 30 ||
		prefs.ActivityType != "動物園" || prefs.ChildAge != "3" || prefs.Transportation != conversation.TransportCar {
		t.Fatalf("unexpected preferences %+v", prefs)
	}
	if !prefs.Location.HasCoordinates() {
		t.Fatal("expected the origin to be geocoded")
	}
	req := f.planner.reqs[0]
	if req.Prefs.Origin == nil || req.Prefs.Origin.Lat != 35.4658 || req.Purpose != ai.PurposePlan || req.Temperature != nil {
		t.Fatalf("unexpected plan request %+v", req)
	}
	if len(prefs.ShownPlaceIDs) != 2 || prefs.ShownPlaceIDs[0] != "p1-1" {
		t.Fatalf("shown ids not recorded: %v", prefs.ShownPlaceIDs)
	}
	if len(res.Places) != 2 || len(res.QuickReplies) != 1 || res.QuickReplies[0] != QuickReplyShowMore {
		t.Fatalf("unexpected reply %+v", res)
	}
}

func TestColdStartEmptyIntentAsksForLocation(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)

	res := f.turn(t, id, "週末に子供とどこか遊びに行きたい")

	if res.State != conversation.StateFreeInput {
		t.Fatalf("expected FREE_INPUT, got %s", res.State)
	}
	if res.Response != questions[conversation.FieldLocation].text {
		t.Fatalf("expected location question, got %q", res.Response)
	}
	if f.planner.calls != 0 {
		t.Fatal("planner must not run without a location")
	}
	if sess := f.session(t, id); sess.PendingQuestion != conversation.FieldLocation {
		t.Fatalf("expected pending location question, got %q", sess.PendingQuestion)
	}
}

func TestKeywordFastPathSkipsExtractor(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	f.turn(t, id, "週末に子供とどこか遊びに行きたい")
	calls := f.extractor.calls

	res := f.turn(t, id, "60分")

	if f.extractor.calls != calls {
		t.Fatalf("keyword match must not call the AI extractor (%d -> %d)", calls, f.extractor.calls)
	}
	tt := f.session(t, id).Preferences.TravelTime
	if tt == nil || tt.Value != 60 || tt.Unit != conversation.UnitMinutes {
		t.Fatalf("unexpected travel time %+v", tt)
	}
	if res.State != conversation.StateFreeInput || res.Response != questions[conversation.FieldLocation].text {
		t.Fatalf("expected another location question, got %s %q", res.State, res.Response)
	}

	res = f.turn(t, id, "横浜駅から出発します")
	if res.State != conversation.StatePresentingPlan || f.planner.calls != 1 {
		t.Fatalf("expected a plan once location is known, got %s after %d generations", res.State, f.planner.calls)
	}
}

func TestKeywordMatchStillExtractsUnmatchedLocation(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	f.turn(t, id, "週末に子供とどこか遊びに行きたい")
	f.extractor.replies["横浜駅から車で行きます"] = `{
		"location": {"address": "横浜駅", "explicit": true},
		"transportation": "public",
		"enough_to_generate": false
	}`
	calls := f.extractor.calls

	res := f.turn(t, id, "横浜駅から車で行きます")

	if f.extractor.calls != calls+1 {
		t.Fatalf("expected one AI extraction for the leftover place name, got %d", f.extractor.calls-calls)
	}
	prefs := f.session(t, id).Preferences
	if prefs.Location.Address != "横浜駅" {
		t.Fatalf("location lost, got %q", prefs.Location.Address)
	}
	if prefs.Transportation != conversation.TransportCar {
		t.Fatalf("keyword transport must win over inference, got %q", prefs.Transportation)
	}
	if res.Response == questions[conversation.FieldLocation].text {
		t.Fatalf("location asked again after it was given")
	}
}

func TestKeywordOnlyAnswerWithFillerSkipsExtractor(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	f.turn(t, id, "週末に子供とどこか遊びに行きたい")
	calls := f.extractor.calls

	f.turn(t, id, "車で行きます")

	if f.extractor.calls != calls {
		t.Fatalf("nothing beyond the keyword was said; extractor called %d times", f.extractor.calls-calls)
	}
}

func TestChildAgeIsAskedOnceThenTolerated(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)

	res := f.turn(t, id, "横浜駅で子供向けの公園を探しています")
	if res.Response != questions[conversation.FieldChildAge].text {
		t.Fatalf("expected child age question, got %q", res.Response)
	}

	res = f.turn(t, id, "4")
	if res.State != conversation.StatePresentingPlan {
		t.Fatalf("expected plan after age answer, got %s %q", res.State, res.Response)
	}
	if got := f.session(t, id).Preferences.ChildAge; got != "4" {
		t.Fatalf("expected child age 4, got %q", got)
	}
}

func TestChildAgeSkip(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	f.turn(t, id, "横浜駅で子供向けの公園を探しています")

	res := f.turn(t, id, "特にないです")
	if res.State != conversation.StatePresentingPlan {
		t.Fatalf("skipping the age should still generate, got %s %q", res.State, res.Response)
	}
	if !f.session(t, id).Skipped(conversation.FieldChildAge) {
		t.Fatal("expected child_age to be marked skipped")
	}
}

func TestCoordinatesAreAuthoritative(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)

	f.turn(t, id, "35.6812, 139.7671 から動物園に行きたい")

	loc := f.session(t, id).Preferences.Location
	if loc.Address != conversation.CurrentLocationLabel || !loc.HasCoordinates() || *loc.Lat != 35.6812 {
		t.Fatalf("coordinates were overridden: %+v", loc)
	}
	if f.geocoder.calls != 0 {
		t.Fatal("coordinates must not be geocoded")
	}
}

func TestExtractorFailureFallsBackToPrompt(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	f.extractor.err = errors.New("model unavailable")
	id := f.start(t)

	res := f.turn(t, id, "こんにちは")
	if res.State != conversation.StateFreeInput || res.Response != msgNeedMoreDetail {
		t.Fatalf("expected fallback prompt in FREE_INPUT, got %s %q", res.State, res.Response)
	}
}

func TestGenerationFailureApologizesAndRetries(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	f.planner.err = fmt.Errorf("generate plan: %w", context.DeadlineExceeded)
	id := f.start(t)

	res := f.turn(t, id, richUtterance)
	if res.State != conversation.StateGeneratingPlan || res.Response != Apology(ai.FailureTimeout) {
		t.Fatalf("expected timeout apology in GENERATING_PLAN, got %s %q", res.State, res.Response)
	}

	f.planner.err = nil
	res = f.turn(t, id, "もう一度お願いします")
	if res.State != conversation.StatePresentingPlan {
		t.Fatalf("expected retry to present a plan, got %s", res.State)
	}
}

func TestApologyClasses(t *testing.T) {
	tests := []struct {
		err  error
		kind ai.FailureKind
	}{
		{errors.New("rpc error: code = ResourceExhausted desc = Quota exceeded"), ai.FailureQuota},
		{errors.New("dial tcp: lookup generativelanguage.googleapis.com: no such host"), ai.FailureNetwork},
		{errors.New("googleapi: Error 403: API key not valid"), ai.FailureAuth},
		{planner.ErrEmptyPlan, ai.FailureUnknown},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			f := newChatFixture(t, config.ModeFree)
			f.planner.err = tc.err
			id := f.start(t)
			res := f.turn(t, id, richUtterance)
			if res.Response != Apology(tc.kind) {
				t.Fatalf("expected %s apology, got %q", tc.kind, res.Response)
			}
		})
	}
}

func TestShowMoreIsCappedAtTwo(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	f.turn(t, id, richUtterance)

	first := f.turn(t, id, QuickReplyShowMore)
	if len(first.QuickReplies) != 1 {
		t.Fatalf("one more request should remain, got %v", first.QuickReplies)
	}
	second := f.turn(t, id, "別の場所を教えて")
	if len(second.QuickReplies) != 0 {
		t.Fatalf("no more requests should be offered, got %v", second.QuickReplies)
	}
	if f.planner.calls != 3 {
		t.Fatalf("expected 3 generations, got %d", f.planner.calls)
	}

	req := f.planner.reqs[2]
	if req.Purpose != ai.PurposeShowMore || req.Temperature == nil || *req.Temperature != 0.9 {
		t.Fatalf("unexpected show-more request %+v", req)
	}
	if len(req.Exclude) != 4 || req.Exclude[0] != "p1-1" || req.Exclude[3] != "p2-2" {
		t.Fatalf("unexpected exclusions %v", req.Exclude)
	}

	third := f.turn(t, id, QuickReplyShowMore)
	if third.Response != msgShowMoreLimit || f.planner.calls != 3 {
		t.Fatalf("expected refusal without generation, got %q after %d calls", third.Response, f.planner.calls)
	}
	prefs := f.session(t, id).Preferences
	if prefs.AdditionalRequests != conversation.MaxAdditionalRequests || len(prefs.ShownPlaceIDs) != 6 {
		t.Fatalf("unexpected pagination state %+v", prefs)
	}
}

func TestShowMoreFailureKeepsCounter(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	f.turn(t, id, richUtterance)

	f.planner.err = errors.New("connection reset by peer")
	res := f.turn(t, id, QuickReplyShowMore)
	if res.State != conversation.StatePresentingPlan || res.Response != Apology(ai.FailureNetwork) {
		t.Fatalf("unexpected failure reply %s %q", res.State, res.Response)
	}
	if got := f.session(t, id).Preferences.AdditionalRequests; got != 0 {
		t.Fatalf("failed request must not count, got %d", got)
	}
}

func TestPresentingOffTopic(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	f.turn(t, id, richUtterance)

	res := f.turn(t, id, "ありがとう")
	if res.Response != msgAnythingElse+msgAskShowMore || res.State != conversation.StatePresentingPlan {
		t.Fatalf("unexpected reply %s %q", res.State, res.Response)
	}
	if f.planner.calls != 1 {
		t.Fatal("off-topic input must not regenerate")
	}
}

func TestPresentingWithIncompletePreferencesReverts(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	err := f.sessions.Update(context.Background(), id, func(s *conversation.Session) error {
		s.State = conversation.StatePresentingPlan
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	res := f.turn(t, id, "こんにちは")
	if res.State != conversation.StateFreeInput || res.Response != questions[conversation.FieldLocation].text {
		t.Fatalf("expected revert to FREE_INPUT with a location question, got %s %q", res.State, res.Response)
	}
}

func TestUnhandledStatesReplyGenerically(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	err := f.sessions.Update(context.Background(), id, func(s *conversation.Session) error {
		s.State = conversation.StateCompleted
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	res := f.turn(t, id, "60分")
	if res.Response != msgGeneric || res.State != conversation.StateCompleted {
		t.Fatalf("unexpected reply %s %q", res.State, res.Response)
	}
	if f.session(t, id).Preferences.TravelTime != nil {
		t.Fatal("unhandled states must not mutate preferences")
	}
}

func TestScriptedModeAsksFiveQuestions(t *testing.T) {
	f := newChatFixture(t, config.ModeScripted)
	id := f.start(t)

	steps := []struct {
		say  string
		want conversation.Field
	}{
		{"こんにちは", conversation.FieldActivityType},
		{"アクティブ", conversation.FieldMeals},
		{"とる", conversation.FieldChildAge},
		{"特にない", conversation.FieldTravelTime},
		{"1時間", conversation.FieldTransportation},
	}
	for _, s := range steps {
		res := f.turn(t, id, s.say)
		if res.State != conversation.StateGatheringPreferences || res.Response != questions[s.want].text {
			t.Fatalf("after %q expected %s question, got %s %q", s.say, s.want, res.State, res.Response)
		}
	}

	res := f.turn(t, id, "車")
	if res.State != conversation.StatePresentingPlan {
		t.Fatalf("expected a plan after the last answer, got %s %q", res.State, res.Response)
	}
	if f.extractor.calls != 0 {
		t.Fatal("scripted mode must not call the AI extractor")
	}
	req := f.planner.reqs[0]
	if req.Prefs.Address != planner.DefaultAddress || req.Prefs.Transportation != conversation.TransportCar ||
		req.Prefs.TravelTime.Value != 60 || req.Prefs.ActivityType != extract.ActivityActive {
		t.Fatalf("unexpected resolved preferences %+v", req.Prefs)
	}
	if got := f.session(t, id).Preferences.Location.Address; got != planner.DefaultAddress {
		t.Fatalf("default landmark should be recorded, got %q", got)
	}
}

func TestNotFound(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	ctx := context.Background()

	if _, err := f.chat.HandleTurn(ctx, "nonexistent-id", "hello"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("HandleTurn: expected ErrNotFound, got %v", err)
	}
	if _, err := f.chat.History(ctx, "nonexistent-id"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("History: expected ErrNotFound, got %v", err)
	}
	if err := f.chat.DeleteSession(ctx, "nonexistent-id"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("DeleteSession: expected ErrNotFound, got %v", err)
	}
}

func TestEmptyMessageIsBadRequest(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	if _, err := f.chat.HandleTurn(context.Background(), id, "   "); !errors.Is(err, conversation.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestHistoryHasTwoMessagesPerTurn(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	id := f.start(t)
	turns := []string{"週末に子供とどこか遊びに行きたい", "60分", "横浜駅から出発します", "ありがとう"}
	for _, text := range turns {
		f.turn(t, id, text)
	}

	h, err := f.chat.History(context.Background(), id)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(h.Messages) != 2*len(turns) {
		t.Fatalf("expected %d messages, got %d", 2*len(turns), len(h.Messages))
	}
	for i, m := range h.Messages {
		want := conversation.RoleUser
		if i%2 == 1 {
			want = conversation.RoleAssistant
		}
		if m.Role != want {
			t.Fatalf("message %d: expected role %s, got %s", i, want, m.Role)
		}
		if i%2 == 0 && m.Content != turns[i/2] {
			t.Fatalf("message %d out of order: %q", i, m.Content)
		}
		if i > 0 && m.Timestamp.Before(h.Messages[i-1].Timestamp) {
			t.Fatalf("timestamps went backwards at %d", i)
		}
	}
	if h.CreatedAt.After(h.LastUpdated) {
		t.Fatalf("created_at %v after last_updated %v", h.CreatedAt, h.LastUpdated)
	}
}

func TestDeleteAndSweep(t *testing.T) {
	f := newChatFixture(t, config.ModeFree)
	ctx := context.Background()
	kept := f.start(t)
	gone := f.start(t)

	if err := f.chat.DeleteSession(ctx, gone); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := f.chat.History(ctx, gone); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("deleted session still readable: %v", err)
	}

	*f.clock = f.clock.Add(time.Hour)
	n, err := f.chat.SweepExpired(ctx, 30*time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("SweepExpired = %d, %v", n, err)
	}
	if _, err := f.chat.HandleTurn(ctx, kept, "hello"); !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("swept session should be not found, got %v", err)
	}
	if count, _ := f.chat.ActiveSessions(ctx); count != 0 {
		t.Fatalf("expected no active sessions, got %d", count)
	}
}
