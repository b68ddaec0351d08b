// Package plan turns loosely structured model output into a fixed 30-day
// content calendar.
package plan

// Days 是一份计划固定包含的天数。
const Days = 30

// Step 是一条带时间码的拍摄指引。
type Step struct {
	StartS      int    `json:"start_s"`
	EndS        int    `json:"end_s"`
	Instruction string `json:"instruction"`
	Overlay     string `json:"overlay,omitempty"`
}

// Day 是一天的内容卡片。
type Day struct {
	Day               int      `json:"day"`
	Hook              string   `json:"hook"`
	Caption           string   `json:"caption"`
	VideoIdea         string   `json:"video_idea"`
	FilmingDirections []Step   `json:"filming_directions"`
	EditingNotes      []string `json:"editing_notes"`
	CTA               string   `json:"cta"`
	Hashtags          []string `json:"hashtags"`
	PostingSuggestion string   `json:"posting_suggestion"`
	PlatformNotes     string   `json:"platform_notes"`
}

// Plan 是完整的内容日历。
type Plan struct {
	Days []Day `json:"days"`
}

func fallbackDay(i int) Day {
	n := i + 1
	return Day{
		Day:       n,
		Hook:      "Hook " + itoa(n),
		Caption:   "Caption " + itoa(n),
		VideoIdea: "Idea " + itoa(n),
		FilmingDirections: []Step{
			{StartS: 0, EndS: 2, Instruction: "Show subject clearly", Overlay: "Start"},
			{StartS: 2, EndS: 6, Instruction: "Move closer, reveal detail", Overlay: "Detail"},
			{StartS: 6, EndS: 10, Instruction: "Show main action", Overlay: "Action"},
			{StartS: 10, EndS: 12, Instruction: "Show result", Overlay: "Result"},
		},
		EditingNotes:      append([]string(nil), defaultEditingNotes...),
		CTA:               "Try this today and tag us.",
		Hashtags:          []string{"#tips", "#guide", "#howto", "#niche"},
		PostingSuggestion: "Post at peak hour.",
		PlatformNotes:     "Add captions.",
	}
}

// EnsureExactly 截断或用占位天补齐到 n 天，并重新编号。
func EnsureExactly(p Plan, n int) Plan {
	days := make([]Day, 0, n)
	for i := 0; i < n; i++ {
		var d Day
		if i < len(p.Days) {
			d = p.Days[i]
		} else {
			d = fallbackDay(i)
		}
		d.Day = i + 1
		days = append(days, d)
	}
	return Plan{Days: days}
}
