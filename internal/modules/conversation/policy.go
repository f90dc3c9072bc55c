package conversation

import "strings"

// childMarkers is the narrow heuristic for "this activity is about children".
var childMarkers = []string{"子", "child", "kid", "family", "家族"}

// MentionsChildren reports whether an activity description signals a child-centred outing.
func MentionsChildren(activity string) bool {
	lower := strings.ToLower(activity)
	for _, m := range childMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// IsSufficient reports whether a plan can be generated: a location plus either an
// activity type or a travel-time budget.
func IsSufficient(p Preferences) bool {
	return p.Location.Address != "" && (p.ActivityType != "" || p.TravelTime != nil)
}

// CriticalMissing lists, in priority order, the fields worth asking about.
// Callers ask about at most the first entry per turn.
func CriticalMissing(p Preferences) []Field {
	var out []Field
	if p.Location.Address == "" {
		out = append(out, FieldLocation)
	}
	if p.ChildAge == "" && MentionsChildren(p.ActivityType) {
		out = append(out, FieldChildAge)
	}
	return out
}
