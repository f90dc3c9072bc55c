// README: Plan prompt rendering and default substitution for generation-time preferences.
package planner

import (
	"fmt"
	"strings"

	"outing/internal/modules/conversation"
	"outing/internal/types"
)

const (
	DefaultAddress       = "東京駅"
	DefaultActivity      = "家族向け"
	DefaultTravelMinutes = 60

	// FacilityCount is how many facilities every plan proposes.
	FacilityCount = 3

	minSearchRadius = 2000
	maxSearchRadius = 50000
)

// DefaultOrigin is Tokyo Station.
var DefaultOrigin = types.Point{Lat: 35.6812, Lng: 139.7671}

// Resolved is a preference set with every field the prompt needs filled in.
type Resolved struct {
	Address        string
	Origin         *types.Point
	TravelTime     conversation.TravelTime
	ActivityType   string
	Meals          []string
	ChildAge       string
	Transportation string
}

// ApplyDefaults substitutes fallbacks for absent fields. It has no side effects and
// applying it to an already resolved set changes nothing.
func ApplyDefaults(p conversation.Preferences) Resolved {
	r := Resolved{
		Address:        p.Location.Address,
		Origin:         p.Location.Point(),
		ActivityType:   p.ActivityType,
		ChildAge:       p.ChildAge,
		Transportation: p.Transportation,
	}
	if r.Address == "" {
		r.Address = DefaultAddress
		origin := DefaultOrigin
		r.Origin = &origin
	}
	if p.TravelTime != nil && p.TravelTime.Value > 0 {
		r.TravelTime = *p.TravelTime
	} else {
		r.TravelTime = conversation.TravelTime{Value: DefaultTravelMinutes, Unit: conversation.UnitMinutes, Direction: conversation.DirectionOneWay}
	}
	if r.TravelTime.Unit == "" {
		r.TravelTime.Unit = conversation.UnitMinutes
	}
	if r.TravelTime.Direction == "" {
		r.TravelTime.Direction = conversation.DirectionOneWay
	}
	if r.ActivityType == "" {
		r.ActivityType = DefaultActivity
	}
	if r.Transportation == "" {
		r.Transportation = conversation.TransportPublic
	}
	if p.Meals != nil {
		r.Meals = append([]string{}, p.Meals...)
	}
	return r
}

// OneWayMinutes halves round-trip budgets.
func (r Resolved) OneWayMinutes() int {
	if r.TravelTime.Direction == conversation.DirectionRoundTrip {
		return r.TravelTime.Value / 2
	}
	return r.TravelTime.Value
}

// SearchRadius estimates how far the family can get within the one-way budget.
func SearchRadius(r Resolved) uint {
	metersPerMinute := 400 // rail plus walking
	if r.Transportation == conversation.TransportCar {
		metersPerMinute = 650
	}
	radius := r.OneWayMinutes() * metersPerMinute
	if radius < minSearchRadius {
		radius = minSearchRadius
	}
	if radius > maxSearchRadius {
		radius = maxSearchRadius
	}
	return uint(radius)
}

func transportLabel(t string) string {
	switch t {
	case conversation.TransportCar:
		return "車"
	case conversation.TransportPublic:
		return "電車・バス"
	}
	return t
}

func mealLabel(meals []string) string {
	if len(meals) == 0 {
		return "なし"
	}
	labels := make([]string, 0, len(meals))
	for _, m := range meals {
		switch m {
		case "lunch":
			labels = append(labels, "昼食")
		case "dinner":
			labels = append(labels, "夕食")
		default:
			labels = append(labels, m)
		}
	}
	return strings.Join(labels, "、")
}

const systemInstruction = `あなたは日本の家族向け週末お出かけプランを提案するアシスタントです。
- 実在する場所のみを提案する（Google Mapsで確認できる施設）
- 家族で楽しめる安全な場所を優先する
- 移動時間と交通手段を考慮する
- 子供の年齢に合った提案をする
回答は親しみやすい日本語で、具体的な施設名・住所・アクセス方法を記載してください。`

// BuildPlanPrompt renders the generation prompt. Facilities listed in exclude must not be proposed again.
func BuildPlanPrompt(r Resolved, exclude []string) string {
	var b strings.Builder
	b.WriteString(systemInstruction)
	b.WriteString("\n\n週末の家族向けお出かけプランを作成してください。\n\n## 条件\n")
	fmt.Fprintf(&b, "- 出発地: %s", r.Address)
	if r.Origin != nil {
		fmt.Fprintf(&b, "（座標: %s）", r.Origin.String())
	}
	b.WriteString("\n")
	direction := "片道"
	if r.TravelTime.Direction == conversation.DirectionRoundTrip {
		direction = "往復"
	}
	fmt.Fprintf(&b, "- 移動時間: %s %d 分以内\n", direction, r.TravelTime.Value)
	fmt.Fprintf(&b, "- アクティビティ: %s\n", r.ActivityType)
	fmt.Fprintf(&b, "- 食事: %s\n", mealLabel(r.Meals))
	if r.ChildAge != "" {
		fmt.Fprintf(&b, "- 子供の年齢: %s歳\n", r.ChildAge)
	}
	fmt.Fprintf(&b, "- 移動手段: %s\n", transportLabel(r.Transportation))

	if len(exclude) > 0 {
		b.WriteString("\n## 除外する施設\n以下の place_id の施設はすでに提案済みです。これらとは別の施設を提案してください。\n")
		for _, id := range exclude {
			fmt.Fprintf(&b, "- %s\n", id)
		}
	}

	fmt.Fprintf(&b, "\n## プラン内容\n以下の形式でちょうど%dつの施設を提案してください。\n\n", FacilityCount)
	for i := 1; i <= FacilityCount; i++ {
		fmt.Fprintf(&b, "### %d. [施設名]\n", i)
		if i == 1 {
			b.WriteString("- **場所**: [住所または最寄り駅]\n")
			fmt.Fprintf(&b, "- **アクセス**: %sから約○○分\n", r.Address)
			b.WriteString("- **おすすめポイント**: [具体的な魅力を2-3行]\n")
			b.WriteString("- **所要時間**: 約○時間\n")
			if r.ChildAge != "" {
				b.WriteString("- **子供向け設備**: [あれば記載]\n")
			}
			b.WriteString("\n")
		} else {
			b.WriteString("（同様の形式）\n\n")
		}
	}
	if len(r.Meals) > 0 {
		fmt.Fprintf(&b, "## 食事の提案\n各施設の近くで%sがとれるお店も簡潔に紹介してください。\n\n", mealLabel(r.Meals))
	}
	b.WriteString("## 注意事項\n- 見出しは必ず「### 番号. 施設名」の形式にしてください\n- 施設名は正式名称で記載してください\n- 各施設200文字程度で簡潔に\n")
	return b.String()
}
