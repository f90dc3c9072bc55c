package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"outing/internal/types"
)

const defaultGroundingRadius = 10000

// GroundingSource is a real place offered to the model as reference material.
type GroundingSource struct {
	PlaceID string   `json:"place_id"`
	Name    string   `json:"name"`
	Address string   `json:"address,omitempty"`
	Rating  float32  `json:"rating,omitempty"`
	Types   []string `json:"types,omitempty"`
}

// Retriever looks up places relevant to a query around bias.
type Retriever interface {
	Retrieve(ctx context.Context, query string, bias *types.Point, radiusMeters uint) ([]GroundingSource, error)
}

// groundPrompt prepends retrieved places to the prompt. Retrieval failures degrade to an ungrounded call.
func groundPrompt(ctx context.Context, r Retriever, req Request) (string, []GroundingSource) {
	if !req.Grounding || r == nil {
		return req.Prompt, nil
	}
	radius := req.RadiusMeters
	if radius == 0 {
		radius = defaultGroundingRadius
	}
	sources, err := r.Retrieve(ctx, req.GroundingQuery, req.Bias, radius)
	if err != nil {
		log.Printf("grounding retrieval failed, continuing ungrounded: %v", err)
		return req.Prompt, nil
	}
	if len(sources) == 0 {
		return req.Prompt, nil
	}

	var b strings.Builder
	b.WriteString("以下はGoogleマップで見つかった周辺の実在する施設です。可能な限りこの中から選んでください。\n")
	for _, s := range sources {
		fmt.Fprintf(&b, "- %s (place_id: %s", s.Name, s.PlaceID)
		if s.Address != "" {
			fmt.Fprintf(&b, ", 住所: %s", s.Address)
		}
		if s.Rating > 0 {
			fmt.Fprintf(&b, ", 評価: %.1f", s.Rating)
		}
		b.WriteString(")\n")
	}
	b.WriteString("\n")
	b.WriteString(req.Prompt)
	return b.String(), sources
}
