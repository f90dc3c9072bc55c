// README: Deterministic keyword extractor for short scripted answers (YAML rule table).
package extract

import (
	_ "embed"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/width"
	"gopkg.in/yaml.v3"

	"outing/internal/modules/conversation"
)

//go:embed keywords.yaml
var defaultRules []byte

// Rules is the keyword table loaded from YAML.
type Rules struct {
	Transportation struct {
		Public        []string `yaml:"public"`
		Car           []string `yaml:"car"`
		CarExclusions []string `yaml:"car_exclusions"`
		CarNegations  []string `yaml:"car_negations"`
	} `yaml:"transportation"`
	Activity struct {
		Active []string `yaml:"active"`
		Indoor []string `yaml:"indoor"`
		Either []string `yaml:"either"`
	} `yaml:"activity"`
	Meals struct {
		No  []string `yaml:"no"`
		Yes []string `yaml:"yes"`
	} `yaml:"meals"`
	RoundTrip []string `yaml:"round_trip"`
	Skip      []string `yaml:"skip"`
	ShowMore  []string `yaml:"show_more"`
}

const (
	ActivityActive = "アクティブ（屋外）"
	ActivityIndoor = "インドア（屋内）"
	ActivityEither = "どちらでも"
	MealLunch      = "lunch"
)

var (
	childAgePattern   = regexp.MustCompile(`(\d{1,2})\s*(?:[~〜\-ー－]\s*(\d{1,2})\s*)?(?:歳|才|さい|years?\s*old|y/?o\b)`)
	hoursPattern      = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:時間|hours?|hrs?)\s*(?:(\d{1,2})\s*分|(半))?`)
	minutesPattern    = regexp.MustCompile(`(\d{1,3})\s*(?:分|min(?:utes?|s)?)`)
	bareAgePattern    = regexp.MustCompile(`^(\d{1,2})(?:\s*[~〜\-ー－]\s*(\d{1,2}))?$`)
	coordinatePattern = regexp.MustCompile(`(-?\d{1,3}\.\d+)\s*[,、，\s]\s*(-?\d{1,3}\.\d+)`)
)

// KeywordExtractor matches fixed keyword tables against short answers.
type KeywordExtractor struct {
	rules Rules
	// every keyword, longest first, for Residual
	tokens []string
}

// NewKeywordExtractor loads the embedded rule table.
func NewKeywordExtractor() (*KeywordExtractor, error) {
	return NewKeywordExtractorFromYAML(defaultRules)
}

func NewKeywordExtractorFromYAML(raw []byte) (*KeywordExtractor, error) {
	var rules Rules
	if err := yaml.Unmarshal(raw, &rules); err != nil {
		return nil, fmt.Errorf("parse keyword rules: %w", err)
	}
	return &KeywordExtractor{rules: rules, tokens: rules.tokens()}, nil
}

func (r Rules) tokens() []string {
	lists := [][]string{
		r.Transportation.Public, r.Transportation.Car,
		r.Transportation.CarExclusions, r.Transportation.CarNegations,
		r.Activity.Active, r.Activity.Indoor, r.Activity.Either,
		r.Meals.No, r.Meals.Yes, r.RoundTrip, r.Skip, r.ShowMore,
	}
	var out []string
	for _, l := range lists {
		for _, tok := range l {
			if tok != "" {
				out = append(out, strings.ToLower(tok))
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// Normalize folds full-width ASCII (digits, punctuation) to half-width and trims space.
func Normalize(text string) string {
	return strings.TrimSpace(width.Fold.String(text))
}

// Extract returns every field it could match, one rule per field, first match wins.
func (k *KeywordExtractor) Extract(text string) conversation.Patch {
	text = Normalize(text)
	lower := strings.ToLower(text)

	var p conversation.Patch
	p.Transportation = k.transportation(lower)
	p.ChildAge = childAge(lower)
	p.TravelTime = k.travelTime(lower)
	p.ActivityType = k.activity(lower)
	p.Meals = k.meals(lower)
	return p
}

// ExtractField matches only the rule for f, for answers to a scripted question.
func (k *KeywordExtractor) ExtractField(f conversation.Field, text string) conversation.Patch {
	lower := strings.ToLower(Normalize(text))
	var p conversation.Patch
	switch f {
	case conversation.FieldTransportation:
		p.Transportation = k.transportation(lower)
	case conversation.FieldChildAge:
		p.ChildAge = childAge(lower)
		if p.ChildAge == "" {
			p.ChildAge = bareNumber(lower)
		}
	case conversation.FieldTravelTime:
		p.TravelTime = k.travelTime(lower)
	case conversation.FieldActivityType:
		p.ActivityType = k.activity(lower)
	case conversation.FieldMeals:
		p.Meals = k.meals(lower)
	}
	return p
}

func (k *KeywordExtractor) transportation(lower string) string {
	public := containsAny(lower, k.rules.Transportation.Public)

	negated := containsAny(lower, k.rules.Transportation.CarNegations)
	stripped := lower
	for _, ex := range k.rules.Transportation.CarExclusions {
		stripped = strings.ReplaceAll(stripped, strings.ToLower(ex), " ")
	}
	for _, neg := range k.rules.Transportation.CarNegations {
		stripped = strings.ReplaceAll(stripped, strings.ToLower(neg), " ")
	}
	car := !negated && containsAny(stripped, k.rules.Transportation.Car)

	switch {
	case car && public:
		return ""
	case car:
		return conversation.TransportCar
	case public:
		return conversation.TransportPublic
	}
	return ""
}

func childAge(lower string) string {
	m := childAgePattern.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[1] + "-" + m[2]
	}
	return m[1]
}

// bareNumber accepts "3" or "3-5" as a whole answer.
func bareNumber(lower string) string {
	m := bareAgePattern.FindStringSubmatch(lower)
	if m == nil {
		return ""
	}
	if m[2] != "" {
		return m[1] + "-" + m[2]
	}
	return m[1]
}

func (k *KeywordExtractor) travelTime(lower string) *conversation.TravelTime {
	minutes := 0
	if m := hoursPattern.FindStringSubmatch(lower); m != nil {
		h, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			minutes = int(h * 60)
			if m[2] != "" {
				extra, _ := strconv.Atoi(m[2])
				minutes += extra
			} else if m[3] != "" {
				minutes += 30
			}
		}
	} else if m := minutesPattern.FindStringSubmatch(lower); m != nil {
		minutes, _ = strconv.Atoi(m[1])
	}
	if minutes <= 0 {
		return nil
	}
	direction := conversation.DirectionOneWay
	if containsAny(lower, k.rules.RoundTrip) {
		direction = conversation.DirectionRoundTrip
	}
	return &conversation.TravelTime{Value: minutes, Unit: conversation.UnitMinutes, Direction: direction}
}

func (k *KeywordExtractor) activity(lower string) string {
	switch {
	case containsAny(lower, k.rules.Activity.Either):
		return ActivityEither
	case containsAny(lower, k.rules.Activity.Active):
		return ActivityActive
	case containsAny(lower, k.rules.Activity.Indoor):
		return ActivityIndoor
	}
	return ""
}

func (k *KeywordExtractor) meals(lower string) []string {
	if containsAny(lower, k.rules.Meals.No) {
		return []string{}
	}
	if containsAny(lower, k.rules.Meals.Yes) {
		return []string{MealLunch}
	}
	return nil
}

// Residual strips every keyword and numeric pattern match from text and returns
// what is left, lowercased and width-folded.
func (k *KeywordExtractor) Residual(text string) string {
	rest := strings.ToLower(Normalize(text))
	for _, re := range []*regexp.Regexp{coordinatePattern, hoursPattern, minutesPattern, childAgePattern} {
		rest = re.ReplaceAllString(rest, " ")
	}
	for _, tok := range k.tokens {
		rest = strings.ReplaceAll(rest, tok, " ")
	}
	return strings.TrimSpace(rest)
}

// HasUnmatchedContent reports whether text carries something the keyword rules did
// not account for, such as a place name. Particles and verb endings do not count:
// it needs a run of two or more kanji, katakana, letters or digits.
func (k *KeywordExtractor) HasUnmatchedContent(text string) bool {
	run := 0
	for _, r := range k.Residual(text) {
		if isContentRune(r) {
			run++
			if run >= 2 {
				return true
			}
			continue
		}
		run = 0
	}
	return false
}

func isContentRune(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Katakana, r) || r == 'ー' ||
		(r < unicode.MaxLatin1 && unicode.IsLetter(r)) || unicode.IsDigit(r)
}

// IsSkip reports whether the answer declines the current question.
func (k *KeywordExtractor) IsSkip(text string) bool {
	return containsAny(strings.ToLower(Normalize(text)), k.rules.Skip)
}

// IsShowMore reports whether the user asks for additional places.
func (k *KeywordExtractor) IsShowMore(text string) bool {
	return containsAny(strings.ToLower(Normalize(text)), k.rules.ShowMore)
}

// ParseCoordinates finds a "lat, lng" decimal pair within valid ranges.
func ParseCoordinates(text string) (lat, lng float64, ok bool) {
	for _, m := range coordinatePattern.FindAllStringSubmatch(Normalize(text), -1) {
		la, err1 := strconv.ParseFloat(m[1], 64)
		ln, err2 := strconv.ParseFloat(m[2], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		if la < -90 || la > 90 || ln < -180 || ln > 180 {
			continue
		}
		return la, ln, true
	}
	return 0, 0, false
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
