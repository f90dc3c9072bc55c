// README: Conversation session aggregate and dialogue state definitions.
package conversation

import (
	"errors"
	"time"
)

type State string

const (
	StateInitial              State = "INITIAL"
	StateGatheringPreferences State = "GATHERING_PREFERENCES"
	StateFreeInput            State = "FREE_INPUT"
	StateGeneratingPlan       State = "GENERATING_PLAN"
	StatePresentingPlan       State = "PRESENTING_PLAN"
	StateRefining             State = "REFINING"
	StateCompleted            State = "COMPLETED"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

var (
	ErrNotFound          = errors.New("session not found")
	ErrBadRequest        = errors.New("bad request")
	ErrInvalidTransition = errors.New("invalid state transition")
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Session struct {
	ID          string      `json:"id"`
	State       State       `json:"state"`
	Preferences Preferences `json:"preferences"`
	Messages    []Message   `json:"messages"`
	CreatedAt   time.Time   `json:"created_at"`
	LastUpdated time.Time   `json:"last_updated"`

	// PendingQuestion is the field the last assistant reply asked about.
	PendingQuestion Field   `json:"pending_question,omitempty"`
	AskedFields     []Field `json:"asked_fields,omitempty"`
	SkippedFields   []Field `json:"skipped_fields,omitempty"`
}

// AllowedTransitions represents the dialogue flow (diagram) as code.
var AllowedTransitions = map[State][]State{
	StateInitial:              {StateGatheringPreferences, StateFreeInput, StateGeneratingPlan},
	StateGatheringPreferences: {StateGeneratingPlan},
	StateFreeInput:            {StateGeneratingPlan},
	StateGeneratingPlan:       {StatePresentingPlan, StateFreeInput},
	StatePresentingPlan:       {StateFreeInput, StateGatheringPreferences, StateRefining, StateCompleted},
	StateRefining:             {StatePresentingPlan, StateCompleted},
}

func CanTransition(from, to State) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:          id,
		State:       StateInitial,
		Messages:    []Message{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// Touch bumps LastUpdated without ever moving it backwards.
func (s *Session) Touch(now time.Time) {
	if now.After(s.LastUpdated) {
		s.LastUpdated = now
	}
}

func (s *Session) AddMessage(role Role, content string, now time.Time) {
	s.Messages = append(s.Messages, Message{Role: role, Content: content, Timestamp: now})
	s.Touch(now)
}

// Transition moves the session to another state. Staying in the same state is always allowed.
func (s *Session) Transition(to State, now time.Time) error {
	if s.State == to {
		return nil
	}
	if !CanTransition(s.State, to) {
		return ErrInvalidTransition
	}
	s.State = to
	s.Touch(now)
	return nil
}

func (s *Session) MarkAsked(f Field) {
	s.PendingQuestion = f
	if !containsField(s.AskedFields, f) {
		s.AskedFields = append(s.AskedFields, f)
	}
}

func (s *Session) Asked(f Field) bool {
	return containsField(s.AskedFields, f)
}

func (s *Session) MarkSkipped(f Field) {
	if !containsField(s.SkippedFields, f) {
		s.SkippedFields = append(s.SkippedFields, f)
	}
}

func (s *Session) Skipped(f Field) bool {
	return containsField(s.SkippedFields, f)
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (s *Session) Clone() *Session {
	c := *s
	c.Preferences = s.Preferences.Clone()
	c.Messages = append([]Message(nil), s.Messages...)
	if c.Messages == nil {
		c.Messages = []Message{}
	}
	c.AskedFields = append([]Field(nil), s.AskedFields...)
	c.SkippedFields = append([]Field(nil), s.SkippedFields...)
	return &c
}

func containsField(fields []Field, f Field) bool {
	for _, x := range fields {
		if x == f {
			return true
		}
	}
	return false
}
