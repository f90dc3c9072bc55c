package conversation

import (
	"outing/internal/types"
)

// Field names a preference the dialogue can ask about.
type Field string

const (
	FieldLocation       Field = "location"
	FieldActivityType   Field = "activity_type"
	FieldMeals          Field = "meals"
	FieldChildAge       Field = "child_age"
	FieldTravelTime     Field = "travel_time"
	FieldTransportation Field = "transportation"
)

const (
	UnitMinutes        = "minutes"
	DirectionOneWay    = "one-way"
	DirectionRoundTrip = "round-trip"

	TransportCar    = "car"
	TransportPublic = "public"

	// CurrentLocationLabel is the address recorded when the client sends coordinates.
	CurrentLocationLabel = "現在地"

	MaxAdditionalRequests = 2
)

type Location struct {
	Address string   `json:"address"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

// Point returns the coordinates when both are known.
func (l Location) Point() *types.Point {
	if l.Lat == nil || l.Lng == nil {
		return nil
	}
	return &types.Point{Lat: *l.Lat, Lng: *l.Lng}
}

func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lng != nil
}

// LocationAt builds a location with coordinates.
func LocationAt(address string, p types.Point) Location {
	lat, lng := p.Lat, p.Lng
	return Location{Address: address, Lat: &lat, Lng: &lng}
}

type TravelTime struct {
	Value     int    `json:"value"`
	Unit      string `json:"unit"`
	Direction string `json:"direction"`
}

// Preferences accumulates what the family wants. Empty strings and nil mean unknown;
// a non-nil empty Meals slice means "no meals".
type Preferences struct {
	Location           Location    `json:"location"`
	TravelTime         *TravelTime `json:"travel_time,omitempty"`
	ActivityType       string      `json:"activity_type,omitempty"`
	Meals              []string    `json:"meals"`
	ChildAge           string      `json:"child_age,omitempty"`
	Transportation     string      `json:"transportation,omitempty"`
	ShownPlaceIDs      []string    `json:"shown_place_ids,omitempty"`
	AdditionalRequests int         `json:"additional_requests"`
}

// Patch is the closed set of preference updates. Nil members (and empty strings) leave
// the current value untouched; a non-nil empty Meals sets "no meals".
type Patch struct {
	Location       *Location
	TravelTime     *TravelTime
	ActivityType   string
	Meals          []string
	ChildAge       string
	Transportation string
}

func (p Patch) IsEmpty() bool {
	return p.Location == nil && p.TravelTime == nil && p.ActivityType == "" &&
		p.Meals == nil && p.ChildAge == "" && p.Transportation == ""
}

// Or returns p with its absent members taken from q.
func (p Patch) Or(q Patch) Patch {
	if p.Location == nil {
		p.Location = q.Location
	}
	if p.TravelTime == nil {
		p.TravelTime = q.TravelTime
	}
	if p.ActivityType == "" {
		p.ActivityType = q.ActivityType
	}
	if p.Meals == nil {
		p.Meals = q.Meals
	}
	if p.ChildAge == "" {
		p.ChildAge = q.ChildAge
	}
	if p.Transportation == "" {
		p.Transportation = q.Transportation
	}
	return p
}

// Overwrite applies every member present in the patch.
func (p *Preferences) Overwrite(patch Patch) {
	if patch.Location != nil && patch.Location.Address != "" {
		p.Location = cloneLocation(*patch.Location)
	}
	if patch.TravelTime != nil {
		tt := *patch.TravelTime
		p.TravelTime = &tt
	}
	if patch.ActivityType != "" {
		p.ActivityType = patch.ActivityType
	}
	if patch.Meals != nil {
		p.Meals = append([]string{}, patch.Meals...)
	}
	if patch.ChildAge != "" {
		p.ChildAge = patch.ChildAge
	}
	if patch.Transportation != "" {
		p.Transportation = patch.Transportation
	}
}

// Fill applies only members whose current value is unknown.
func (p *Preferences) Fill(patch Patch) {
	var gaps Patch
	if p.Location.Address == "" {
		gaps.Location = patch.Location
	}
	if p.TravelTime == nil {
		gaps.TravelTime = patch.TravelTime
	}
	if p.ActivityType == "" {
		gaps.ActivityType = patch.ActivityType
	}
	if p.Meals == nil {
		gaps.Meals = patch.Meals
	}
	if p.ChildAge == "" {
		gaps.ChildAge = patch.ChildAge
	}
	if p.Transportation == "" {
		gaps.Transportation = patch.Transportation
	}
	p.Overwrite(gaps)
}

// Known reports whether f has a value.
func (p Preferences) Known(f Field) bool {
	switch f {
	case FieldLocation:
		return p.Location.Address != ""
	case FieldActivityType:
		return p.ActivityType != ""
	case FieldMeals:
		return p.Meals != nil
	case FieldChildAge:
		return p.ChildAge != ""
	case FieldTravelTime:
		return p.TravelTime != nil
	case FieldTransportation:
		return p.Transportation != ""
	}
	return false
}

// AddShown appends place ids that have not been shown yet, preserving order.
func (p *Preferences) AddShown(ids ...string) {
	seen := make(map[string]bool, len(p.ShownPlaceIDs))
	for _, id := range p.ShownPlaceIDs {
		seen[id] = true
	}
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		p.ShownPlaceIDs = append(p.ShownPlaceIDs, id)
	}
}

func (p Preferences) CanShowMore() bool {
	return p.AdditionalRequests < MaxAdditionalRequests
}

func (p Preferences) Clone() Preferences {
	c := p
	c.Location = cloneLocation(p.Location)
	if p.TravelTime != nil {
		tt := *p.TravelTime
		c.TravelTime = &tt
	}
	if p.Meals != nil {
		c.Meals = append([]string{}, p.Meals...)
	}
	c.ShownPlaceIDs = append([]string(nil), p.ShownPlaceIDs...)
	return c
}

func cloneLocation(l Location) Location {
	c := Location{Address: l.Address}
	if l.Lat != nil {
		v := *l.Lat
		c.Lat = &v
	}
	if l.Lng != nil {
		v := *l.Lng
		c.Lng = &v
	}
	return c
}
