package plan

import (
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

const (
	minSteps    = 3
	maxSteps    = 7
	minHashtags = 5
	maxHashtags = 7
	maxNotes    = 5
)

// NicheRule 在细分领域匹配 Pattern 时注入 Tags。
type NicheRule struct {
	Pattern *regexp.Regexp
	Tags    []string
}

// NewNicheRule 编译大小写不敏感的匹配规则。
func NewNicheRule(pattern string, tags []string) (NicheRule, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return NicheRule{}, fmt.Errorf("compile niche rule %q: %w", pattern, err)
	}
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if tag := NormalizeTag(t); tag != "" {
			normalized = append(normalized, tag)
		}
	}
	return NicheRule{Pattern: re, Tags: normalized}, nil
}

// Polisher 对计划做轻量整理。随机源可注入，便于测试复现。
type Polisher struct {
	mu    sync.Mutex
	rng   *rand.Rand
	rules []NicheRule
}

// NewPolisher 使用给定种子创建 Polisher，种子为 0 时使用当前时间。
func NewPolisher(seed uint64, rules ...NicheRule) *Polisher {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &Polisher{
		rng:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		rules: rules,
	}
}

// Polish 裁剪各字段长度、补齐拍摄步骤与话题标签、保证每天内容互不重复，
// 并在平台备注末尾附加格式轮换提示。
func (p *Polisher) Polish(pl Plan, in questionnaire.Inputs) Plan {
	p.mu.Lock()
	defer p.mu.Unlock()

	angles := p.shuffled(angleTags)
	nicheTags := p.nicheTags(in.Niche)

	out := Plan{Days: make([]Day, len(pl.Days))}
	for i, d := range pl.Days {
		out.Days[i] = p.sanitize(d, in, angles[i%len(angles)], nicheTags)
	}
	p.ensureUnique(out.Days, nicheTags)
	for i := range out.Days {
		hint := fmt.Sprintf("Format: %s • %s norms respected.", angles[i%len(angles)], in.PrimaryPlatform)
		out.Days[i].PlatformNotes = strings.TrimSpace(out.Days[i].PlatformNotes + " " + hint)
	}
	return out
}

func (p *Polisher) sanitize(d Day, in questionnaire.Inputs, angle string, nicheTags []string) Day {
	d.VideoIdea = cleanVideoIdea(d.VideoIdea, angle)

	d.Hook = limitWords(d.Hook, 12)
	if d.Hook == "" {
		d.Hook = limitWords(fmt.Sprintf("%s: what nobody tells you about %s", angle, in.Niche), 12)
	}
	d.CTA = limitWords(d.CTA, 12)
	if d.CTA == "" {
		d.CTA = ctaAlts[p.rng.IntN(len(ctaAlts))]
	}

	d.Caption = limitSentences(d.Caption, 3)
	if d.Caption == "" {
		d.Caption = fallbackCaption
	}

	d.FilmingDirections = fixSteps(d.FilmingDirections, in.VideoComfort)
	d.EditingNotes = dedupe(d.EditingNotes, maxNotes)
	if len(d.EditingNotes) == 0 {
		d.EditingNotes = append([]string(nil), defaultEditingNotes...)
	}
	d.Hashtags = p.fixHashtags(d.Hashtags, nicheTags)

	if strings.TrimSpace(d.PostingSuggestion) == "" {
		d.PostingSuggestion = fmt.Sprintf("Post when your audience is most active on %s.", in.PrimaryPlatform)
	}
	if strings.TrimSpace(d.PlatformNotes) == "" {
		d.PlatformNotes = fmt.Sprintf("%s: use native text overlays and an engaging cover frame.", in.PrimaryPlatform)
	}
	return d
}

var trailingIdea = regexp.MustCompile(`(?i)\s*\bidea\s*$`)

func cleanVideoIdea(s, angle string) string {
	s = strings.TrimSpace(trailingIdea.ReplaceAllString(strings.TrimSpace(s), ""))
	words := strings.Fields(s)
	switch {
	case len(words) == 0:
		s = angle
	case len(words) == 1:
		s = angle + " " + words[0]
	case len(words) > 6:
		s = strings.Join(words[:6], " ")
	default:
		s = strings.Join(words, " ")
	}
	if len(strings.Fields(s)) < 2 {
		s += " Spotlight"
	}
	return titleCase(limitWords(s, 6))
}

func limitWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

func limitSentences(s string, n int) string {
	sentences := splitSentences(s)
	if len(sentences) > n {
		sentences = sentences[:n]
	}
	return strings.Join(sentences, " ")
}

func splitSentences(s string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(strings.TrimSpace(s))
	for i, r := range runes {
		cur.WriteRune(r)
		end := r == '.' || r == '!' || r == '?'
		if end && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			if t := strings.TrimSpace(cur.String()); t != "" {
				out = append(out, t)
			}
			cur.Reset()
		}
	}
	if t := strings.TrimSpace(cur.String()); t != "" {
		out = append(out, t)
	}
	return out
}

func titleCase(s string) string {
	runes := []rune(s)
	for i, r := range runes {
		if i == 0 || runes[i-1] == ' ' || runes[i-1] == '/' || runes[i-1] == '-' {
			runes[i] = unicode.ToUpper(r)
		}
	}
	return string(runes)
}

func dedupe(items []string, limit int) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		key := strings.ToLower(it)
		if it == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, it)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func noTalking(comfort string) bool {
	c := strings.ToLower(comfort)
	return strings.Contains(c, "no_talking") || strings.Contains(c, "no-talking") ||
		strings.Contains(c, "camera-shy") || strings.Contains(c, "b-roll")
}

func fixSteps(steps []Step, comfort string) []Step {
	seen := make(map[string]struct{}, len(steps))
	out := make([]Step, 0, maxSteps)
	for _, s := range steps {
		s.Instruction = strings.TrimSpace(s.Instruction)
		key := strings.ToLower(s.Instruction)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
		if len(out) == maxSteps {
			break
		}
	}

	pool := arollShots
	if noTalking(comfort) {
		pool = brollShots
	}
	for _, shot := range pool {
		if len(out) >= minSteps {
			break
		}
		if _, ok := seen[strings.ToLower(shot)]; ok {
			continue
		}
		start := 0
		if n := len(out); n > 0 {
			start = out[n-1].EndS
		}
		out = append(out, Step{StartS: start, EndS: start + 3, Instruction: shot})
	}
	return out
}

func (p *Polisher) nicheTags(niche string) []string {
	var tags []string
	for _, rule := range p.rules {
		if rule.Pattern != nil && rule.Pattern.MatchString(niche) {
			tags = append(tags, rule.Tags...)
		}
	}
	return dedupe(tags, 0)
}

// fixHashtags 规范化并去重，必要时用细分标签替换泛化标签，最终保持 5 到 7 个。
func (p *Polisher) fixHashtags(tags, nicheTags []string) []string {
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if tag := NormalizeTag(t); tag != "" {
			normalized = append(normalized, tag)
		}
	}
	tags = dedupe(normalized, 0)

	if len(nicheTags) > 0 && !containsAny(tags, nicheTags) {
		inject := nicheTags
		if len(inject) > 2 {
			inject = inject[:2]
		}
		for _, tag := range inject {
			if len(tags) >= maxHashtags {
				tags = removeFirstGeneric(tags)
			}
			tags = append([]string{tag}, tags...)
		}
	}
	if len(tags) > maxHashtags {
		tags = tags[:maxHashtags]
	}
	for _, tag := range p.shuffled(hashtagPool) {
		if len(tags) >= minHashtags {
			break
		}
		if !containsAny(tags, []string{tag}) {
			tags = append(tags, tag)
		}
	}
	for len(tags) < minHashtags {
		tags = append(tags, fillerHashtag)
	}
	return tags
}

func containsAny(tags, wanted []string) bool {
	for _, t := range tags {
		for _, w := range wanted {
			if strings.EqualFold(t, w) {
				return true
			}
		}
	}
	return false
}

func removeFirstGeneric(tags []string) []string {
	for _, g := range genericTags {
		for i, t := range tags {
			if t == g {
				return append(tags[:i:i], tags[i+1:]...)
			}
		}
	}
	return tags[:len(tags)-1]
}

func signature(d Day) string {
	norm := func(s string) string { return strings.ToLower(strings.Join(strings.Fields(s), " ")) }
	return norm(d.VideoIdea) + "|" + norm(d.Hook) + "|" + norm(d.Caption)
}

// ensureUnique 对签名重复的天做最多三次微调，仍重复时给钩子追加标记，
// 标记也撞车时追加天数。
func (p *Polisher) ensureUnique(days []Day, nicheTags []string) {
	seen := make(map[string]struct{}, len(days))
	for i := range days {
		d := &days[i]
		sig := signature(*d)
		for guard := 0; guard < 3; guard++ {
			if _, dup := seen[sig]; !dup {
				break
			}
			p.nudge(d, nicheTags)
			sig = signature(*d)
		}
		if _, dup := seen[sig]; dup {
			hook := limitWords(d.Hook, 9)
			for _, tag := range p.shuffled(hookTags) {
				d.Hook = hook + " — " + tag
				if sig = signature(*d); !has(seen, sig) {
					break
				}
			}
			if has(seen, sig) {
				d.Hook = fmt.Sprintf("%s — Day %d", hook, i+1)
				sig = signature(*d)
			}
		}
		seen[sig] = struct{}{}
	}
}

func has(set map[string]struct{}, key string) bool {
	_, ok := set[key]
	return ok
}

func (p *Polisher) nudge(d *Day, nicheTags []string) {
	d.CTA = p.pickDifferent(ctaAlts, d.CTA)
	angle := p.pickDifferent(angleTags, d.VideoIdea)
	d.VideoIdea = titleCase(limitWords(angle+": "+d.VideoIdea, 6))
	remix := p.shuffled(hashtagPool)[:6]
	d.Hashtags = p.fixHashtags(remix, nicheTags)
}

func (p *Polisher) pickDifferent(list []string, current string) string {
	shuffled := p.shuffled(list)
	for _, s := range shuffled {
		if !strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(current)) {
			return s
		}
	}
	return shuffled[0]
}

func (p *Polisher) shuffled(list []string) []string {
	out := append([]string(nil), list...)
	p.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
