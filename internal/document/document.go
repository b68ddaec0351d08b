// Package document renders a polished plan into a Word document.
package document

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fumiama/go-docx"
	"github.com/google/uuid"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/plan"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

// ContentType 是 .docx 的 MIME 类型。
const ContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

const (
	title        = "QuickPostKit — 30-Day Content Plan"
	colorPrimary = "4338CA"
	colorLabel   = "475569"
)

type appendix struct {
	heading string
	body    []string
}

var appendices = []appendix{
	{"Appendix A — Hook Formulas", []string{
		"Call out the viewer: \"If you ___, stop scrolling.\"",
		"Flip a belief: \"Everyone says ___. Here is what actually works.\"",
		"Show the payoff first, then rewind to how you got there.",
		"Number it: \"3 things I wish I knew before ___.\"",
	}},
	{"Appendix B — CTA Bank", []string{
		"Save this for your next shoot.",
		"Comment your biggest question and I will answer it on camera.",
		"Share this with someone who needs it this week.",
		"Tap the link in bio to book.",
	}},
	{"Appendix C — Filming Checklist", []string{
		"Natural light, lens wiped, phone locked at eye level or top-down.",
		"Hook visible in the first two seconds, subject in frame.",
		"Grab three B-roll angles per setup: wide, mid, detail.",
	}},
	{"Appendix D — Editing Checklist", []string{
		"Cut every pause, keep pacing between 0.8x and 1.1x.",
		"Native captions on, one on-screen text line per beat.",
		"Bold cover frame that reads at thumbnail size.",
	}},
	{"Appendix E — Repurposing Guide", []string{
		"Turn each video into a carousel of its filming steps.",
		"Pull the caption into a short post or newsletter blurb.",
		"Re-cut the best hook as a 7-second teaser for stories.",
	}},
}

// Renderer 负责生成 Word 文档。
type Renderer struct {
	Brand     string
	Copyright string
	// Now 返回生成时间，测试可替换。
	Now func() time.Time
}

// NewRenderer 使用品牌名称与版权声明创建 Renderer。
func NewRenderer(brand, copyright string) *Renderer {
	if brand == "" {
		brand = "Fifth Element Labs"
	}
	if copyright == "" {
		copyright = "© 2025 " + brand + " — One-time license"
	}
	return &Renderer{Brand: brand, Copyright: copyright, Now: time.Now}
}

// Render 把计划写入 w。
func (r *Renderer) Render(w io.Writer, p plan.Plan, in questionnaire.Inputs) error {
	doc := docx.New().WithDefaultTheme()

	r.cover(doc, in)
	for _, d := range p.Days {
		day(doc, d)
	}
	for _, a := range appendices {
		doc.AddParagraph()
		doc.AddParagraph().AddText(a.heading).Bold().Size("28").Color(colorPrimary)
		for _, line := range a.body {
			doc.AddParagraph().AddText("• " + line)
		}
	}
	doc.AddParagraph()
	foot := doc.AddParagraph()
	foot.Justification("center")
	foot.AddText(r.Copyright).Size("16").Color(colorLabel)

	if _, err := doc.WriteTo(w); err != nil {
		return xerrors.Wrap(xerrors.CodeRenderFailure, err, "写入文档失败")
	}
	return nil
}

func (r *Renderer) cover(doc *docx.Docx, in questionnaire.Inputs) {
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}

	head := doc.AddParagraph()
	head.Justification("center")
	head.AddText(title).Bold().Size("40").Color(colorPrimary)
	doc.AddParagraph()

	tailored := doc.AddParagraph()
	tailored.Justification("center")
	tailored.AddText("Tailored for: " + in.Niche).Size("28")
	doc.AddParagraph()

	stamp := doc.AddParagraph()
	stamp.Justification("center")
	stamp.AddText(fmt.Sprintf("Generated on %s • Powered by %s", now().Format("January 2, 2006"), r.Brand)).Size("20").Color(colorLabel)
	doc.AddParagraph()

	doc.AddParagraph().AddText("Inputs used:").Bold().Color(colorPrimary)
	for _, kv := range in.Labels() {
		doc.AddParagraph().AddText(kv[0] + ": " + kv[1])
	}
}

func day(doc *docx.Docx, d plan.Day) {
	doc.AddParagraph()
	doc.AddParagraph().AddText(fmt.Sprintf("Day %d — %s", d.Day, d.VideoIdea)).Bold().Size("28").Color(colorPrimary)

	field(doc, "Caption", d.Caption)
	field(doc, "Video Idea", d.VideoIdea)
	label(doc, "Filming Directions")
	for _, s := range d.FilmingDirections {
		doc.AddParagraph().AddText("• " + FormatStep(s))
	}
	if len(d.EditingNotes) > 0 {
		label(doc, "Editing Notes")
		for _, n := range d.EditingNotes {
			doc.AddParagraph().AddText("• " + n)
		}
	}
	field(doc, "Hook", d.Hook)
	field(doc, "CTA", d.CTA)
	field(doc, "Hashtags", strings.Join(d.Hashtags, " "))
	field(doc, "Posting Suggestion", d.PostingSuggestion)
	if strings.TrimSpace(d.PlatformNotes) != "" {
		field(doc, "Platform Notes", d.PlatformNotes)
	}
}

func label(doc *docx.Docx, text string) {
	doc.AddParagraph().AddText(text).Color(colorLabel)
}

func field(doc *docx.Docx, name, value string) {
	label(doc, name)
	doc.AddParagraph().AddText(value)
}

// FormatStep 把一条拍摄指引格式化为 "0–3s: 指令  [overlay: 文本]"。
func FormatStep(s plan.Step) string {
	out := fmt.Sprintf("%d–%ds: %s", s.StartS, s.EndS, s.Instruction)
	if s.Overlay != "" {
		out += "  [overlay: " + s.Overlay + "]"
	}
	return out
}

// Filename 返回 QuickPostKit_<slug>_<毫秒时间戳>_<tag>.docx。
// tag 区分同一毫秒内同一细分领域的文档，为空时随机生成。
func Filename(in questionnaire.Inputs, now time.Time, tag string) string {
	return fmt.Sprintf("QuickPostKit_%s_%d_%s.docx", questionnaire.Slug(in.Niche), now.UnixMilli(), fileTag(tag))
}

const fileTagLen = 8

func fileTag(tag string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(tag) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" {
		out = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	if len(out) > fileTagLen {
		out = out[len(out)-fileTagLen:]
	}
	return out
}
