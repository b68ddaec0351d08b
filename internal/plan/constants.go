package plan

import "strconv"

var angleTags = []string{
	"Myth vs Fact", "3 Quick Tips", "Mini Demo", "FAQ Bite", "Before & After",
	"Case Study", "Testimonial Bite", "Objection Flip", "Origin Story",
	"Hot Take", "Checklist", "Challenge/Poll", "Stitch This", "Price vs Value", "Seasonal Tie-in",
	"Process Breakdown", "Tool Tip", "Trend Remix", "Do/Don't List", "Speed Run",
	"Behind The Scenes", "Day In The Life", "Micro-Case", "Common Mistake", "Rule Of Thumb",
	"What I'd Do Now", "Buyer Guide", "Template Walkthrough", "Before You Post", "Rapid Q&A",
}

var ctaAlts = []string{
	"Try this today", "Save this for later", "Comment your take",
	"Share your version", "DM if you want help", "Grab the kit link",
}

var hashtagPool = []string{
	"#smallbusiness", "#contenttips", "#marketing", "#reelsideas", "#creator",
	"#nichecommunity", "#howto", "#behindthescenes", "#learnontiktok", "#buildinpublic",
	"#solopreneur", "#growonline", "#brandtips", "#onlinemarketing",
}

// 注入细分标签时优先替换的泛化标签。
var genericTags = []string{"#buildinpublic", "#growonline", "#reelsideas", "#creator", "#onlinemarketing"}

var hookTags = []string{"Today Only", "New Angle", "Pro Tip", "Try This", "Zero Fluff"}

var defaultEditingNotes = []string{"Tight cuts", "On-screen text", "Native captions"}

var brollShots = []string{
	"Close-up on the key motion for 1-2 seconds",
	"Mid-shot of the setup with step text overlay",
	"Slow reveal pan, hold the final frame for 1s",
}

var arollShots = []string{
	"A-roll opener, then B-roll cutaway showing the key step",
	"Top-down process shot with step text overlays",
	"Wide to tight punch-in, show the result in one second",
}

const (
	fallbackCaption = "Quick hit worth saving. Try it and report back."
	fillerHashtag   = "#smallbusiness"
)

func itoa(n int) string { return strconv.Itoa(n) }
