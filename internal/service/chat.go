// README: Dialogue state machine. Turns a user utterance into a reply, serialized per session.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"outing/internal/ai"
	"outing/internal/config"
	"outing/internal/metrics"
	"outing/internal/modules/conversation"
	"outing/internal/modules/extract"
	"outing/internal/modules/planner"
	"outing/internal/types"
)

// maxReentries caps how many extra passes one utterance may take through the machine.
const maxReentries = 1

var scriptedOrder = []conversation.Field{
	conversation.FieldActivityType,
	conversation.FieldMeals,
	conversation.FieldChildAge,
	conversation.FieldTravelTime,
	conversation.FieldTransportation,
}

// FreeTextExtractor reads preferences out of an arbitrary utterance.
type FreeTextExtractor interface {
	Extract(ctx context.Context, text string) (extract.Extraction, error)
}

// PlanGenerator produces an enriched plan.
type PlanGenerator interface {
	Generate(ctx context.Context, req planner.Request) (*planner.Plan, error)
}

// Geocoder resolves a textual origin to coordinates; nil means no match.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*types.Point, error)
}

type ChatDeps struct {
	Sessions  *conversation.Service
	Keywords  *extract.KeywordExtractor
	Extractor FreeTextExtractor
	Planner   PlanGenerator
	// Geocoder is optional; without it textual origins stay ungeocoded.
	Geocoder Geocoder
}

type ChatOptions struct {
	// Mode is config.ModeFree or config.ModeScripted.
	Mode                string
	ShowMoreTemperature float32
}

// ChatService runs the dialogue for every session.
type ChatService struct {
	sessions  *conversation.Service
	keywords  *extract.KeywordExtractor
	extractor FreeTextExtractor
	planner   PlanGenerator
	geocoder  Geocoder
	opts      ChatOptions
}

func NewChatService(deps ChatDeps, opts ChatOptions) *ChatService {
	if opts.Mode == "" {
		opts.Mode = config.ModeFree
	}
	return &ChatService{
		sessions:  deps.Sessions,
		keywords:  deps.Keywords,
		extractor: deps.Extractor,
		planner:   deps.Planner,
		geocoder:  deps.Geocoder,
		opts:      opts,
	}
}

// SessionStart is returned when a conversation begins.
type SessionStart struct {
	SessionID    string             `json:"session_id"`
	Greeting     string             `json:"message"`
	QuickReplies []string           `json:"quick_replies,omitempty"`
	State        conversation.State `json:"state"`
}

// TurnResult is the reply to one utterance.
type TurnResult struct {
	SessionID    string               `json:"session_id"`
	Response     string               `json:"response"`
	QuickReplies []string             `json:"quick_replies,omitempty"`
	Places       []planner.Place      `json:"places,omitempty"`
	Sources      []ai.GroundingSource `json:"sources,omitempty"`
	Citations    []ai.Citation        `json:"citations,omitempty"`
	State        conversation.State   `json:"state"`
}

// History is a read-only view of a session.
type History struct {
	SessionID   string                   `json:"session_id"`
	State       conversation.State       `json:"state"`
	Messages    []conversation.Message   `json:"messages"`
	Preferences conversation.Preferences `json:"preferences"`
	CreatedAt   time.Time                `json:"created_at"`
	LastUpdated time.Time                `json:"last_updated"`
}

// CreateSession starts a conversation. The greeting is returned but not stored,
// so history holds exactly one user and one assistant message per turn.
func (c *ChatService) CreateSession(ctx context.Context) (*SessionStart, error) {
	sess, err := c.sessions.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	log.Printf("session %s: created", sess.ID)
	start := &SessionStart{SessionID: sess.ID, Greeting: msgGreeting, State: sess.State}
	if c.opts.Mode == config.ModeScripted {
		start.QuickReplies = questions[conversation.FieldActivityType].quickReplies
	}
	return start, nil
}

// HandleTurn processes one utterance. Only conversation.ErrNotFound and
// conversation.ErrBadRequest are returned for conversational input; every other
// failure becomes a reply.
func (c *ChatService) HandleTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", conversation.ErrBadRequest)
	}

	var result TurnResult
	err := c.sessions.Update(ctx, sessionID, func(sess *conversation.Session) error {
		from := sess.State
		metrics.Turns.WithLabelValues(string(from)).Inc()

		sess.AddMessage(conversation.RoleUser, text, c.sessions.Now())
		result = c.process(ctx, sess, text)
		sess.AddMessage(conversation.RoleAssistant, result.Response, c.sessions.Now())

		log.Printf("session %s: processed message in state %s (now %s)", sess.ID, from, sess.State)
		return nil
	})
	if err != nil {
		return nil, err
	}
	result.SessionID = sessionID
	return &result, nil
}

func (c *ChatService) History(ctx context.Context, sessionID string) (*History, error) {
	sess, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &History{
		SessionID:   sess.ID,
		State:       sess.State,
		Messages:    sess.Messages,
		Preferences: sess.Preferences,
		CreatedAt:   sess.CreatedAt,
		LastUpdated: sess.LastUpdated,
	}, nil
}

func (c *ChatService) DeleteSession(ctx context.Context, sessionID string) error {
	if err := c.sessions.Delete(ctx, sessionID); err != nil {
		return err
	}
	log.Printf("session %s: deleted", sessionID)
	return nil
}

// SweepExpired removes sessions idle for longer than maxIdle.
func (c *ChatService) SweepExpired(ctx context.Context, maxIdle time.Duration) (int, error) {
	return c.sessions.Sweep(ctx, maxIdle)
}

// ActiveSessions counts stored sessions.
func (c *ChatService) ActiveSessions(ctx context.Context) (int, error) {
	return c.sessions.Count(ctx)
}

// outcome is the result of one pass through the machine.
type outcome struct {
	reply   TurnResult
	reenter bool
}

func reply(text string, quickReplies ...string) outcome {
	return outcome{reply: TurnResult{Response: text, QuickReplies: quickReplies}}
}

func reenter() outcome {
	return outcome{reenter: true}
}

// process runs the utterance against the current state, re-running it at most
// maxReentries times when a state hands off to the next one.
func (c *ChatService) process(ctx context.Context, sess *conversation.Session, text string) TurnResult {
	out := c.step(ctx, sess, text)
	for i := 0; out.reenter && i < maxReentries; i++ {
		out = c.step(ctx, sess, text)
	}
	if out.reenter {
		log.Printf("session %s: re-entry cap reached in state %s", sess.ID, sess.State)
		out = reply(msgHolding)
	}
	out.reply.State = sess.State
	return out.reply
}

func (c *ChatService) step(ctx context.Context, sess *conversation.Session, text string) outcome {
	switch sess.State {
	case conversation.StateInitial:
		if c.opts.Mode == config.ModeScripted {
			return c.initialScripted(sess, text)
		}
		return c.initialFree(ctx, sess, text)
	case conversation.StateFreeInput:
		return c.freeInput(ctx, sess, text)
	case conversation.StateGatheringPreferences:
		return c.gathering(sess, text)
	case conversation.StateGeneratingPlan:
		return c.generating(ctx, sess)
	case conversation.StatePresentingPlan:
		return c.presenting(ctx, sess, text)
	default:
		return reply(msgGeneric)
	}
}

func (c *ChatService) moveTo(sess *conversation.Session, to conversation.State) {
	from := sess.State
	if err := sess.Transition(to, c.sessions.Now()); err != nil {
		log.Printf("session %s: refusing %s -> %s: %v", sess.ID, from, to, err)
		return
	}
	if from != to {
		log.Printf("session %s: %s -> %s", sess.ID, from, to)
	}
}

// captureCoordinates records a "lat, lng" pair as the authoritative origin.
func (c *ChatService) captureCoordinates(sess *conversation.Session, text string) bool {
	lat, lng, ok := extract.ParseCoordinates(text)
	if !ok {
		return false
	}
	sess.Preferences.Location = conversation.LocationAt(conversation.CurrentLocationLabel, types.Point{Lat: lat, Lng: lng})
	return true
}

func (c *ChatService) initialFree(ctx context.Context, sess *conversation.Session, text string) outcome {
	coords := c.captureCoordinates(sess, text)

	x, err := c.extractor.Extract(ctx, text)
	if err != nil {
		log.Printf("session %s: extraction failed: %v", sess.ID, err)
		c.moveTo(sess, conversation.StateFreeInput)
		return reply(msgNeedMoreDetail)
	}
	patch := x.Patch()
	if coords {
		patch.Location = nil
	}
	sess.Preferences.Overwrite(patch)

	if x.Enough() && conversation.IsSufficient(sess.Preferences) {
		c.moveTo(sess, conversation.StateGeneratingPlan)
		return reenter()
	}
	c.moveTo(sess, conversation.StateFreeInput)
	return c.askFree(sess)
}

func (c *ChatService) freeInput(ctx context.Context, sess *conversation.Session, text string) outcome {
	coords := c.captureCoordinates(sess, text)
	pending := sess.PendingQuestion
	sess.PendingQuestion = ""

	kw := c.keywords.Extract(text)
	skipped := false
	if pending != "" && !sess.Preferences.Known(pending) {
		answer := c.keywords.ExtractField(pending, text)
		if answer.IsEmpty() && c.keywords.IsSkip(text) {
			sess.MarkSkipped(pending)
			skipped = true
		}
		kw = kw.Or(answer)
	}

	extractionFailed := false
	if !kw.IsEmpty() {
		sess.Preferences.Overwrite(kw)
		// "横浜駅から車で" matches only the car keyword; the place still needs the AI.
		if !coords && !sess.Preferences.Known(conversation.FieldLocation) && c.keywords.HasUnmatchedContent(text) {
			if x, err := c.extractor.Extract(ctx, text); err != nil {
				log.Printf("session %s: extraction failed: %v", sess.ID, err)
			} else {
				c.mergeInferred(sess, x, coords)
			}
		}
	} else if !skipped {
		x, err := c.extractor.Extract(ctx, text)
		if err != nil {
			log.Printf("session %s: extraction failed: %v", sess.ID, err)
			extractionFailed = true
		} else {
			c.mergeInferred(sess, x, coords)
		}
	}

	if c.readyFree(sess) {
		c.moveTo(sess, conversation.StateGeneratingPlan)
		return reenter()
	}
	if extractionFailed && !coords {
		return reply(msgNeedMoreDetail)
	}
	return c.askFree(sess)
}

// mergeInferred applies an AI extraction without clobbering known values. Only an
// explicitly stated location replaces the current one, and never coordinates
// captured from this same utterance.
func (c *ChatService) mergeInferred(sess *conversation.Session, x extract.Extraction, coords bool) {
	patch := x.Patch()
	loc := patch.Location
	patch.Location = nil
	sess.Preferences.Fill(patch)
	if loc == nil || coords {
		return
	}
	if x.LocationExplicit() || sess.Preferences.Location.Address == "" {
		sess.Preferences.Overwrite(conversation.Patch{Location: loc})
	}
}

// actionableMissing returns the first critical field still worth asking about.
// A child age that was already asked for is tolerated as missing.
func (c *ChatService) actionableMissing(sess *conversation.Session) (conversation.Field, bool) {
	for _, f := range conversation.CriticalMissing(sess.Preferences) {
		if f == conversation.FieldChildAge && (sess.Asked(f) || sess.Skipped(f)) {
			continue
		}
		return f, true
	}
	return "", false
}

func (c *ChatService) readyFree(sess *conversation.Session) bool {
	if !conversation.IsSufficient(sess.Preferences) {
		return false
	}
	_, missing := c.actionableMissing(sess)
	return !missing
}

// askFree asks exactly one question: the first actionable critical field, then
// whatever would make the preferences sufficient.
func (c *ChatService) askFree(sess *conversation.Session) outcome {
	if f, ok := c.actionableMissing(sess); ok {
		return c.ask(sess, f)
	}
	for _, f := range []conversation.Field{conversation.FieldActivityType, conversation.FieldTravelTime} {
		if !sess.Preferences.Known(f) && !sess.Asked(f) {
			return c.ask(sess, f)
		}
	}
	return reply(msgTellMore)
}

func (c *ChatService) ask(sess *conversation.Session, f conversation.Field) outcome {
	sess.MarkAsked(f)
	q := questions[f]
	return reply(q.text, q.quickReplies...)
}

func (c *ChatService) initialScripted(sess *conversation.Session, text string) outcome {
	c.captureCoordinates(sess, text)
	sess.Preferences.Overwrite(c.keywords.Extract(text))
	c.moveTo(sess, conversation.StateGatheringPreferences)
	return c.nextScripted(sess)
}

func (c *ChatService) gathering(sess *conversation.Session, text string) outcome {
	c.captureCoordinates(sess, text)
	pending := sess.PendingQuestion
	sess.PendingQuestion = ""

	if pending != "" {
		answer := c.keywords.ExtractField(pending, text)
		if answer.IsEmpty() && c.keywords.IsSkip(text) {
			sess.MarkSkipped(pending)
		}
		sess.Preferences.Overwrite(answer)
	}
	sess.Preferences.Fill(c.keywords.Extract(text))
	return c.nextScripted(sess)
}

func (c *ChatService) scriptedComplete(sess *conversation.Session) bool {
	for _, f := range scriptedOrder {
		if !sess.Preferences.Known(f) && !sess.Skipped(f) {
			return false
		}
	}
	return true
}

func (c *ChatService) nextScripted(sess *conversation.Session) outcome {
	for _, f := range scriptedOrder {
		if !sess.Preferences.Known(f) && !sess.Skipped(f) {
			return c.ask(sess, f)
		}
	}
	c.moveTo(sess, conversation.StateGeneratingPlan)
	return reenter()
}

func (c *ChatService) gatheringState() conversation.State {
	if c.opts.Mode == config.ModeScripted {
		return conversation.StateGatheringPreferences
	}
	return conversation.StateFreeInput
}

func (c *ChatService) generating(ctx context.Context, sess *conversation.Session) outcome {
	if c.opts.Mode != config.ModeScripted && sess.Preferences.Location.Address == "" {
		c.moveTo(sess, conversation.StateFreeInput)
		return c.ask(sess, conversation.FieldLocation)
	}

	c.resolveOrigin(ctx, sess)
	resolved := planner.ApplyDefaults(sess.Preferences)
	plan, err := c.planner.Generate(ctx, planner.Request{
		Prefs:   resolved,
		Exclude: sess.Preferences.ShownPlaceIDs,
		Purpose: ai.PurposePlan,
	})
	if err != nil {
		return c.apologize(sess, err)
	}

	if sess.Preferences.Location.Address == "" {
		if resolved.Origin != nil {
			sess.Preferences.Location = conversation.LocationAt(resolved.Address, *resolved.Origin)
		} else {
			sess.Preferences.Location = conversation.Location{Address: resolved.Address}
		}
	}
	sess.Preferences.AddShown(plan.PlaceIDs()...)
	c.moveTo(sess, conversation.StatePresentingPlan)
	return c.planReply(sess, plan)
}

// resolveOrigin geocodes a textual origin once; failures leave it ungeocoded.
func (c *ChatService) resolveOrigin(ctx context.Context, sess *conversation.Session) {
	loc := sess.Preferences.Location
	if c.geocoder == nil || loc.Address == "" || loc.HasCoordinates() || loc.Address == conversation.CurrentLocationLabel {
		return
	}
	p, err := c.geocoder.Geocode(ctx, loc.Address)
	if err != nil {
		log.Printf("session %s: geocode %q: %v", sess.ID, loc.Address, err)
		return
	}
	if p == nil {
		return
	}
	sess.Preferences.Location = conversation.LocationAt(loc.Address, *p)
}

func (c *ChatService) presenting(ctx context.Context, sess *conversation.Session, text string) outcome {
	if c.incomplete(sess) {
		log.Printf("session %s: preferences incomplete while presenting, reprocessing", sess.ID)
		c.moveTo(sess, c.gatheringState())
		return reenter()
	}

	if !c.keywords.IsShowMore(text) {
		if sess.Preferences.CanShowMore() {
			return reply(msgAnythingElse+msgAskShowMore, QuickReplyShowMore)
		}
		return reply(msgAnythingElse)
	}
	if !sess.Preferences.CanShowMore() {
		return reply(msgShowMoreLimit)
	}

	c.resolveOrigin(ctx, sess)
	plan, err := c.planner.Generate(ctx, planner.Request{
		Prefs:       planner.ApplyDefaults(sess.Preferences),
		Exclude:     append([]string(nil), sess.Preferences.ShownPlaceIDs...),
		Temperature: ai.Float32(c.opts.ShowMoreTemperature),
		Purpose:     ai.PurposeShowMore,
	})
	if err != nil {
		return c.apologize(sess, err)
	}
	sess.Preferences.AddShown(plan.PlaceIDs()...)
	sess.Preferences.AdditionalRequests++
	return c.planReply(sess, plan)
}

func (c *ChatService) incomplete(sess *conversation.Session) bool {
	if c.opts.Mode == config.ModeScripted {
		return !c.scriptedComplete(sess)
	}
	return !conversation.IsSufficient(sess.Preferences)
}

func (c *ChatService) planReply(sess *conversation.Session, plan *planner.Plan) outcome {
	text := plan.Text
	if len(plan.Places) == 0 && len(planner.ParseFacilities(plan.Text)) > 0 {
		text += msgNoPlaces
	}
	out := outcome{reply: TurnResult{
		Response:  text,
		Places:    plan.Places,
		Sources:   plan.Sources,
		Citations: plan.Citations,
	}}
	if sess.Preferences.CanShowMore() {
		out.reply.QuickReplies = []string{QuickReplyShowMore}
	}
	return out
}

func (c *ChatService) apologize(sess *conversation.Session, err error) outcome {
	kind := ai.Classify(err)
	if errors.Is(err, planner.ErrEmptyPlan) {
		kind = ai.FailureUnknown
	}
	log.Printf("session %s: plan generation failed (%s): %v", sess.ID, kind, err)
	return reply(Apology(kind))
}
