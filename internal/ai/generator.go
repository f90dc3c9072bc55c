// README: Generation collaborator contract shared by the Gemini and OpenAI providers.
package ai

import (
	"context"

	"outing/internal/types"
)

// Purposes tag generation calls for the usage ledger and metrics.
const (
	PurposeExtract  = "extract"
	PurposePlan     = "plan"
	PurposeShowMore = "show_more"
)

// Request is a single text generation call.
type Request struct {
	Prompt  string
	Purpose string

	// Grounding enables retrieval of nearby places before generation.
	Grounding      bool
	GroundingQuery string
	RadiusMeters   uint
	Bias           *types.Point

	// Temperature overrides the provider default when set.
	Temperature *float32
}

// Result carries generated text plus the grounding payload, which callers pass through untouched.
type Result struct {
	Text      string            `json:"text"`
	Sources   []GroundingSource `json:"sources,omitempty"`
	Citations []Citation        `json:"citations,omitempty"`
}

// Citation is a provider-reported attribution span.
type Citation struct {
	URI     string `json:"uri,omitempty"`
	License string `json:"license,omitempty"`
	Start   int32  `json:"start"`
	End     int32  `json:"end"`
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Float32 returns a pointer to v, for Request.Temperature.
func Float32(v float32) *float32 {
	return &v
}
