// README: AI-backed free-text preference extractor; always degrades to an empty extraction.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"outing/internal/ai"
	"outing/internal/modules/conversation"
)

var ErrNoJSON = errors.New("no JSON object in model output")

// Extraction is the structured reading of one utterance. The zero value means
// "nothing informative was said".
type Extraction struct {
	Location            *ExtractedLocation   `json:"location"`
	TravelTime          *ExtractedTravelTime `json:"travel_time"`
	ActivityType        flexString           `json:"activity_type"`
	Meals               flexStrings          `json:"meals"`
	ChildAge            flexString           `json:"child_age"`
	Transportation      flexString           `json:"transportation"`
	Destination         flexString           `json:"destination"`
	SpecialRequirements flexStrings          `json:"special_requirements"`
	EnoughToGenerate    flexBool             `json:"enough_to_generate"`
}

type ExtractedLocation struct {
	Address  flexString `json:"address"`
	Explicit flexBool   `json:"explicit"`
}

type ExtractedTravelTime struct {
	Value     flexInt    `json:"value"`
	Direction flexString `json:"direction"`
	Unit      flexString `json:"unit"`
}

// UnmarshalJSON also takes a bare address string, which counts as not explicit.
// Other shapes decode to an empty location instead of failing the extraction.
func (l *ExtractedLocation) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v.(type) {
	case map[string]any:
		type plain ExtractedLocation
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*l = ExtractedLocation(p)
	case string:
		var addr flexString
		if err := json.Unmarshal(b, &addr); err != nil {
			return err
		}
		*l = ExtractedLocation{Address: addr}
	default:
		*l = ExtractedLocation{}
	}
	return nil
}

// UnmarshalJSON also takes a bare number of minutes or a phrase like "1時間半" or
// "往復30分".
func (t *ExtractedTravelTime) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case map[string]any:
		type plain ExtractedTravelTime
		var p plain
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
		*t = ExtractedTravelTime(p)
	case float64:
		*t = ExtractedTravelTime{Value: flexInt(x), Unit: conversation.UnitMinutes}
	case string:
		*t = parseTravelPhrase(x)
	default:
		*t = ExtractedTravelTime{}
	}
	return nil
}

func parseTravelPhrase(s string) ExtractedTravelTime {
	lower := strings.ToLower(Normalize(s))
	out := ExtractedTravelTime{Unit: conversation.UnitMinutes}
	if strings.Contains(lower, "往復") || strings.Contains(lower, "round") {
		out.Direction = conversation.DirectionRoundTrip
	}
	if n, err := strconv.ParseFloat(lower, 64); err == nil {
		out.Value = flexInt(n)
		return out
	}
	if m := hoursPattern.FindStringSubmatch(lower); m != nil {
		h, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return out
		}
		minutes := int(h * 60)
		if m[2] != "" {
			extra, _ := strconv.Atoi(m[2])
			minutes += extra
		} else if m[3] != "" {
			minutes += 30
		}
		out.Value = flexInt(minutes)
		return out
	}
	if m := minutesPattern.FindStringSubmatch(lower); m != nil {
		n, _ := strconv.Atoi(m[1])
		out.Value = flexInt(n)
	}
	return out
}

// Enough reports the model's own judgement that a plan can be generated.
func (e Extraction) Enough() bool {
	return bool(e.EnoughToGenerate)
}

// LocationExplicit reports whether the user stated the location outright.
func (e Extraction) LocationExplicit() bool {
	return e.Location != nil && e.Location.Address != "" && bool(e.Location.Explicit)
}

// Patch converts the extraction to a preference update.
func (e Extraction) Patch() conversation.Patch {
	var p conversation.Patch
	if e.Location != nil && strings.TrimSpace(string(e.Location.Address)) != "" {
		p.Location = &conversation.Location{Address: strings.TrimSpace(string(e.Location.Address))}
	}
	if e.TravelTime != nil && e.TravelTime.Value > 0 {
		minutes := int(e.TravelTime.Value)
		unit := strings.ToLower(string(e.TravelTime.Unit))
		if strings.HasPrefix(unit, "hour") || strings.Contains(unit, "時間") {
			minutes *= 60
		}
		direction := conversation.DirectionOneWay
		d := strings.ToLower(string(e.TravelTime.Direction))
		if strings.Contains(d, "round") || strings.Contains(d, "往復") {
			direction = conversation.DirectionRoundTrip
		}
		p.TravelTime = &conversation.TravelTime{Value: minutes, Unit: conversation.UnitMinutes, Direction: direction}
	}
	p.ActivityType = strings.TrimSpace(string(e.ActivityType))
	if e.Meals != nil {
		p.Meals = []string(e.Meals)
	}
	p.ChildAge = normalizeAge(string(e.ChildAge))
	p.Transportation = NormalizeTransportation(string(e.Transportation))
	return p
}

// NormalizeTransportation maps free-form transport wording to car/public; anything else is dropped.
func NormalizeTransportation(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	switch {
	case v == "":
		return ""
	case v == conversation.TransportCar, strings.Contains(v, "車") && !strings.Contains(v, "電車"),
		strings.Contains(v, "driv"), strings.Contains(v, "マイカー"):
		return conversation.TransportCar
	case v == conversation.TransportPublic, strings.Contains(v, "電車"), strings.Contains(v, "バス"),
		strings.Contains(v, "train"), strings.Contains(v, "bus"), strings.Contains(v, "transit"),
		strings.Contains(v, "公共"):
		return conversation.TransportPublic
	}
	return ""
}

func normalizeAge(v string) string {
	v = Normalize(v)
	if v == "" {
		return ""
	}
	if age := childAge(v + "歳"); age != "" {
		return age
	}
	return bareNumber(v)
}

// Extractor reads preferences out of free text with the generation collaborator.
type Extractor struct {
	gen         ai.Generator
	temperature float32
}

func NewExtractor(gen ai.Generator, temperature float32) *Extractor {
	return &Extractor{gen: gen, temperature: temperature}
}

// Extract never returns a partial value: on any failure it returns the zero Extraction
// together with the cause, which callers may ignore.
func (e *Extractor) Extract(ctx context.Context, text string) (Extraction, error) {
	res, err := e.gen.Generate(ctx, ai.Request{
		Prompt:      BuildExtractionPrompt(text),
		Purpose:     ai.PurposeExtract,
		Temperature: ai.Float32(e.temperature),
	})
	if err != nil {
		return Extraction{}, fmt.Errorf("extract preferences: %w", err)
	}
	return ParseExtraction(res.Text)
}

// ParseExtraction decodes the first JSON object in raw model output.
func ParseExtraction(raw string) (Extraction, error) {
	obj := ai.ExtractJSONObject(raw)
	if obj == "" {
		return Extraction{}, ErrNoJSON
	}
	var out Extraction
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return Extraction{}, fmt.Errorf("decode extraction: %w", err)
	}
	return out, nil
}

func BuildExtractionPrompt(text string) string {
	return fmt.Sprintf(`あなたは家族のお出かけプランナーのアシスタントです。
ユーザーの発言から、お出かけの条件を抽出してください。

ユーザーの発言: 「%s」

以下のキーを持つJSONオブジェクトのみを出力してください。説明文は不要です。
{
  "location": {"address": "出発地（駅名や地名）または null", "explicit": 出発地が明示されていれば true},
  "travel_time": {"value": 数値 または null, "direction": "one-way または round-trip", "unit": "minutes または hours"},
  "activity_type": "行きたい場所の種類（例: 動物園、公園、水族館）または null",
  "meals": ["lunch" など。食事をとらない場合は空配列、言及がなければ null],
  "child_age": "子供の年齢（例: \"3\" や \"3-5\"）または null",
  "transportation": "car または public または null",
  "destination": "具体的な目的地の名前 または null",
  "special_requirements": ["ベビーカー可" などの特記事項],
  "enough_to_generate": 出発地と（行きたい場所の種類 または 移動時間）が分かっていれば true
}
言及されていない項目は null にしてください。`, text)
}

// flexString accepts strings, numbers and booleans; null decodes to "".
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = ""
	case string:
		if strings.EqualFold(x, "null") || strings.EqualFold(x, "none") {
			*f = ""
		} else {
			*f = flexString(x)
		}
	case float64:
		*f = flexString(strconv.FormatFloat(x, 'f', -1, 64))
	case bool:
		*f = flexString(strconv.FormatBool(x))
	default:
		*f = ""
	}
	return nil
}

// flexInt accepts numbers and numeric strings; anything else decodes to 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case float64:
		*f = flexInt(x)
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(Normalize(x)), 64)
		if err == nil {
			*f = flexInt(n)
		}
	}
	return nil
}

// flexBool accepts booleans and "true"/"false" strings.
type flexBool bool

func (f *flexBool) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case bool:
		*f = flexBool(x)
	case string:
		*f = flexBool(strings.EqualFold(strings.TrimSpace(x), "true"))
	}
	return nil
}

// flexStrings accepts an array or a single string. null stays nil; [] stays empty.
type flexStrings []string

func (f *flexStrings) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		*f = nil
	case string:
		if x == "" {
			*f = flexStrings{}
		} else {
			*f = flexStrings{x}
		}
	case []any:
		out := flexStrings{}
		for _, item := range x {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		*f = out
	}
	return nil
}
