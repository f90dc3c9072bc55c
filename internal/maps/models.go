// README: Place value objects returned by the Maps collaborator.
package maps

import (
	"time"

	"outing/internal/types"
)

// PlaceSummary is a text/nearby search hit.
type PlaceSummary struct {
	PlaceID          string      `json:"place_id"`
	Name             string      `json:"name"`
	Address          string      `json:"address"`
	Location         types.Point `json:"location"`
	Rating           float32     `json:"rating,omitempty"`
	UserRatingsTotal int         `json:"user_ratings_total,omitempty"`
	PriceLevel       int         `json:"price_level,omitempty"`
	Types            []string    `json:"types,omitempty"`
	PhotoReference   string      `json:"-"`
}

// PlaceDetail is the expanded record from a details lookup.
type PlaceDetail struct {
	PlaceID          string        `json:"place_id"`
	Name             string        `json:"name"`
	Address          string        `json:"address"`
	Location         types.Point   `json:"location"`
	Rating           float32       `json:"rating,omitempty"`
	UserRatingsTotal int           `json:"user_ratings_total,omitempty"`
	PhotoReferences  []string      `json:"-"`
	OpeningHours     *OpeningHours `json:"opening_hours,omitempty"`
	Website          string        `json:"website,omitempty"`
	Phone            string        `json:"phone,omitempty"`
	Types            []string      `json:"types,omitempty"`
	Reviews          []Review      `json:"reviews,omitempty"`
}

type OpeningHours struct {
	OpenNow     *bool    `json:"open_now,omitempty"`
	WeekdayText []string `json:"weekday_text,omitempty"`
}

type Review struct {
	Author       string    `json:"author"`
	Rating       int       `json:"rating"`
	Text         string    `json:"text"`
	RelativeTime string    `json:"relative_time"`
	Time         time.Time `json:"time"`
}
