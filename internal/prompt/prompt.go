// Package prompt renders the model instructions for a 30-day plan.
package prompt

import (
	"fmt"
	"strings"

	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

// Days 是计划包含的天数。
const Days = 30

const systemPrompt = "You output JSON only. You are QuickPostKit, a hands-on social media coach " +
	"who writes specific, human-sounding short-form video plans for small businesses."

// System 返回系统提示词。
func System() string { return systemPrompt }

// User 根据问卷生成用户提示词。
func User(in questionnaire.Inputs) string {
	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}

	line("ROLE: Return a single compact JSON object only. No markdown, no code fences, no commentary.")
	line("Use double quotes for every key and string. No trailing commas.")
	line(`TOP LEVEL: an object with a "days" array holding exactly %d items.`, Days)
	line(`PER-DAY KEYS (exact): "day", "hook", "caption", "video_idea", "filming_directions", "editing_notes", "cta", "hashtags", "posting_suggestion", "platform_notes".`)
	line("DAY: integer 1..%d in order.", Days)
	line("HOOK: at most 12 words, visible in the first two seconds.")
	line("CAPTION: 1 to 3 sentences, platform ready, in the requested tone.")
	line("VIDEO_IDEA: 2 to 6 words.")
	line(`FILMING_DIRECTIONS: array of 5 to 7 objects {"start_s": int, "end_s": int, "instruction": string, "overlay": string}. Show how to film the craft being performed, with action verbs like capture, show, highlight. Total 12 to 20 seconds.`)
	line("EDITING_NOTES: array of 3 to 5 specific techniques matched to the idea.")
	line("CTA: at most 12 words, aligned with the monthly goal, never generic.")
	line("HASHTAGS: array of 4 to 6 lowercase tags, niche aware, %s.", hashtagRule(in.HashtagStyle))
	line("POSTING_SUGGESTION: a brief timing or packaging tip for %s.", in.PrimaryPlatform)
	line("PLATFORM_NOTES: a short note on %s norms (length, cover, overlays).", in.PrimaryPlatform)
	line("ROTATE FORMATS daily (myth vs fact, quick tips, demo, FAQ, before and after, case study, behind the scenes) so no two days share a skeleton.")
	line("")

	line("Niche: %s.", in.Niche)
	line("Audience: %s.", in.Audience)
	line("Product or service: %s.", in.ProductOrService)
	line("Primary platform: %s.", in.PrimaryPlatform)
	line("Tone: %s.", in.Tone)
	line("Video comfort: %s. %s", in.VideoComfort, comfortRule(in.VideoComfort))
	line("Monthly goal: %s.", in.MonthlyGoal)
	line("Content balance: %d%% educational, %d%% promotional or entertaining.", in.ContentBalance.Percent(), 100-in.ContentBalance.Percent())
	line("Hashtag style: %s.", in.HashtagStyle)
	if in.Location != "" {
		line("Location: %s. Reference local details where natural.", in.Location)
	}
	if in.SpecialInstructions != "" {
		line("Special instructions: %s", in.SpecialInstructions)
	}
	line("")

	line("CREATIVE CONTEXT:")
	line("The buyer is a local creator or small business showing their craft through short social videos.")
	line("Filming directions describe how to capture emotion, movement, lighting and story so the work looks cinematic. Never give tutorial advice on the craft itself.")
	b.WriteString("QUALITY GUARDRAILS: no cliches, no repetition, no filler. Return JSON only.")
	return b.String()
}

func hashtagRule(style string) string {
	switch strings.ToLower(style) {
	case "broad":
		return "mostly broad discovery tags with one or two niche tags"
	case "niche":
		return "mostly niche community tags with at most one broad tag"
	default:
		return "a mix of broad and niche tags"
	}
}

func comfortRule(comfort string) string {
	c := strings.ToLower(comfort)
	switch {
	case strings.Contains(c, "no") || strings.Contains(c, "shy"):
		return "Use B-roll only with on-screen text; never ask the creator to talk to camera."
	case strings.Contains(c, "talking") || strings.Contains(c, "on-camera"):
		return "Open with talking-head A-roll and cut to one or two B-roll inserts."
	default:
		return "Short A-roll hook, a B-roll sequence, then an A-roll CTA."
	}
}
