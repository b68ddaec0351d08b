package plan

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
)

var (
	fenceOpen     = regexp.MustCompile("(?i)^```[a-z]*\\s*")
	fenceClose    = regexp.MustCompile("\\s*```$")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	bulletPrefix  = regexp.MustCompile(`^\s*(?:[\x{2022}*-]|\d+[.)])\s*`)
	tagSeparators = regexp.MustCompile(`[\s,]+`)
	tagInvalid    = regexp.MustCompile(`[^a-z0-9_]`)
)

// Repair 去掉代码围栏、截取最外层对象，并在必要时删除尾随逗号。
func Repair(raw string) string {
	s := strings.TrimSpace(raw)
	s = fenceOpen.ReplaceAllString(s, "")
	s = strings.TrimSpace(fenceClose.ReplaceAllString(s, ""))
	first := strings.IndexByte(s, '{')
	last := strings.LastIndexByte(s, '}')
	if first >= 0 && last > first {
		s = s[first : last+1]
	}
	if gjson.Valid(s) {
		return s
	}
	return trailingComma.ReplaceAllString(s, "$1")
}

// Coerce 宽松解析模型输出。没有任何可用天数时返回可重试的 MALFORMED_OUTPUT 错误。
func Coerce(raw string) (Plan, error) {
	s := Repair(raw)
	if !gjson.Valid(s) {
		return Plan{}, xerrors.New(xerrors.CodeMalformedOutput, "model output is not valid JSON")
	}
	root := gjson.Parse(s)
	list := root.Get("days")
	if !list.IsArray() && root.IsArray() {
		list = root
	}

	var p Plan
	usable := 0
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		d := coerceDay(item)
		d.Day = len(p.Days) + 1
		if d.Hook != "" || d.Caption != "" || d.VideoIdea != "" {
			usable++
		}
		p.Days = append(p.Days, d)
		return true
	})
	if usable == 0 {
		return Plan{}, xerrors.New(xerrors.CodeMalformedOutput, "model output contains no usable days")
	}
	return p, nil
}

func coerceDay(item gjson.Result) Day {
	steps := item.Get("filming_directions")
	if !steps.Exists() || (steps.IsArray() && len(steps.Array()) == 0) {
		steps = item.Get("storyboard")
	}
	return Day{
		Hook:              text(item.Get("hook")),
		Caption:           text(item.Get("caption")),
		VideoIdea:         text(item.Get("video_idea")),
		FilmingDirections: coerceSteps(steps),
		EditingNotes:      coerceList(item.Get("editing_notes")),
		CTA:               text(item.Get("cta")),
		Hashtags:          coerceTags(item.Get("hashtags")),
		PostingSuggestion: text(item.Get("posting_suggestion")),
		PlatformNotes:     text(item.Get("platform_notes")),
	}
}

func text(v gjson.Result) string {
	if !v.Exists() || v.Type == gjson.Null || v.IsObject() || v.IsArray() {
		return ""
	}
	return strings.TrimSpace(v.String())
}

func firstText(v gjson.Result, keys ...string) string {
	for _, k := range keys {
		if s := text(v.Get(k)); s != "" {
			return s
		}
	}
	return ""
}

func splitBullets(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		for _, part := range strings.Split(line, "•") {
			part = strings.TrimSpace(bulletPrefix.ReplaceAllString(part, ""))
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// coerceSteps 接受对象数组、字符串数组或单个项目符号字符串。
func coerceSteps(v gjson.Result) []Step {
	type raw struct {
		step  Step
		timed bool
	}
	var items []raw
	switch {
	case v.IsArray():
		v.ForEach(func(_, e gjson.Result) bool {
			if e.IsObject() {
				instr := firstText(e, "instruction", "direction", "step", "text")
				if instr == "" {
					return true
				}
				start, end := e.Get("start_s"), e.Get("end_s")
				items = append(items, raw{
					step: Step{
						StartS:      int(start.Int()),
						EndS:        int(end.Int()),
						Instruction: instr,
						Overlay:     text(e.Get("overlay")),
					},
					timed: start.Exists() || end.Exists(),
				})
				return true
			}
			for _, line := range splitBullets(text(e)) {
				items = append(items, raw{step: Step{Instruction: line}})
			}
			return true
		})
	case v.Type == gjson.String:
		for _, line := range splitBullets(v.String()) {
			items = append(items, raw{step: Step{Instruction: line}})
		}
	}

	// 先去重再排时间，未标时间的步骤才能首尾相接。
	seen := make(map[string]struct{}, len(items))
	steps := make([]Step, 0, len(items))
	cursor := 0
	for _, it := range items {
		s := it.step
		key := strings.ToLower(strings.TrimSpace(s.Instruction))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !it.timed {
			s.StartS, s.EndS = cursor, cursor+3
		}
		if s.StartS < 0 {
			s.StartS = 0
		}
		if s.EndS <= s.StartS {
			s.EndS = s.StartS + 2
		}
		cursor = s.EndS
		steps = append(steps, s)
	}
	return steps
}

func coerceList(v gjson.Result) []string {
	var out []string
	switch {
	case v.IsArray():
		v.ForEach(func(_, e gjson.Result) bool {
			if s := text(e); s != "" {
				out = append(out, s)
			}
			return true
		})
	case v.Type == gjson.String:
		for _, line := range splitBullets(strings.ReplaceAll(v.String(), ";", "\n")) {
			out = append(out, line)
		}
	}
	return out
}

func coerceTags(v gjson.Result) []string {
	var raw []string
	switch {
	case v.IsArray():
		v.ForEach(func(_, e gjson.Result) bool {
			raw = append(raw, tagSeparators.Split(text(e), -1)...)
			return true
		})
	case v.Type == gjson.String:
		raw = tagSeparators.Split(v.String(), -1)
	}
	out := make([]string, 0, len(raw))
	for _, t := range raw {
		if tag := NormalizeTag(t); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

// NormalizeTag 返回带 # 前缀的小写话题标签，无有效字符时返回空串。
func NormalizeTag(s string) string {
	s = strings.ToLower(strings.TrimLeft(strings.TrimSpace(s), "#"))
	s = tagInvalid.ReplaceAllString(s, "")
	if s == "" {
		return ""
	}
	return "#" + s
}
