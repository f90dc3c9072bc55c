package planner

import (
	"regexp"
	"strings"
)

var (
	facilityHeader = regexp.MustCompile(`(?m)^#{2,4}[ \t]*(\d+)[.．、)][ \t]*(.+?)[ \t]*$`)
	sectionHeader  = regexp.MustCompile(`(?m)^##[ \t]`)
	nameDecoration = strings.NewReplacer("**", "", "__", "", "[", "", "]", "", "【", "", "】", "", "`", "")
)

// Facility is one numbered entry recovered from generated markdown.
type Facility struct {
	Name        string
	Description string
}

// ParseFacilities splits generated text on "### N. 名前" headers. Text without headers yields nil.
func ParseFacilities(text string) []Facility {
	locs := facilityHeader.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return nil
	}
	out := make([]Facility, 0, len(locs))
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		block := text[loc[0]:end]
		// A trailing "## ..." section (meal suggestions, notes) is not part of the facility.
		headerLen := loc[1] - loc[0]
		if m := sectionHeader.FindStringIndex(block[headerLen:]); m != nil {
			block = block[:headerLen+m[0]]
		}
		name := cleanName(text[loc[4]:loc[5]])
		if name == "" {
			continue
		}
		out = append(out, Facility{Name: name, Description: strings.TrimSpace(block)})
	}
	return out
}

func cleanName(raw string) string {
	name := strings.TrimSpace(nameDecoration.Replace(raw))
	return strings.TrimRight(name, " :：")
}
