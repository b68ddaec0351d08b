package plan

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

func TestRepairStripsFencesAndTrailingCommas(t *testing.T) {
	raw := "Sure! ```json\n{\"days\": [{\"hook\": \"a\",},],}\n```"
	assert.Equal(t, `{"days": [{"hook": "a"}]}`, Repair(raw))
}

func TestCoerceAcceptsMixedShapes(t *testing.T) {
	raw := `{"days": [
	  {"hook": " Stop scrolling ", "caption": "One. Two.", "video_idea": "Driveway reveal",
	   "filming_directions": [{"start_s": -4, "end_s": 0, "direction": "Capture the first pass"},
	                          {"start_s": 2, "end_s": 6, "step": "Show the stripe", "overlay": "Before"}],
	   "editing_notes": "Speed ramp; Match cut",
	   "hashtags": "PowerWashing, #Satisfying!! #before-after",
	   "cta": "Book now"},
	  {"hook": "Day two", "storyboard": "• Wide shot of the house\n- Close-up on the nozzle\n1. Final reveal"},
	  "not an object"
	]}`

	p, err := Coerce(raw)
	require.NoError(t, err)
	require.Len(t, p.Days, 2)

	first := p.Days[0]
	assert.Equal(t, "Stop scrolling", first.Hook)
	require.Len(t, first.FilmingDirections, 2)
	assert.Equal(t, Step{StartS: 0, EndS: 2, Instruction: "Capture the first pass"}, first.FilmingDirections[0])
	assert.Equal(t, "Before", first.FilmingDirections[1].Overlay)
	assert.Equal(t, []string{"Speed ramp", "Match cut"}, first.EditingNotes)
	assert.Equal(t, []string{"#powerwashing", "#satisfying", "#beforeafter"}, first.Hashtags)

	second := p.Days[1]
	require.Len(t, second.FilmingDirections, 3)
	assert.Equal(t, "Close-up on the nozzle", second.FilmingDirections[1].Instruction)
	assert.Equal(t, 3, second.FilmingDirections[1].StartS)
	assert.Equal(t, 2, second.Day)
}

func TestCoerceTimesUntimedStepsAfterDedupe(t *testing.T) {
	raw := `{"days": [{"hook": "Day one", "filming_directions":
	  ["Wide shot of the driveway", "wide shot of the driveway ", "Close-up on the nozzle", "Final reveal"]}]}`

	p, err := Coerce(raw)
	require.NoError(t, err)
	steps := p.Days[0].FilmingDirections
	require.Len(t, steps, 3)
	assert.Equal(t, Step{StartS: 0, EndS: 3, Instruction: "Wide shot of the driveway"}, steps[0])
	for i := 1; i < len(steps); i++ {
		assert.Equal(t, steps[i-1].EndS, steps[i].StartS, "gap before %q", steps[i].Instruction)
	}

	polished := NewPolisher(1).Polish(EnsureExactly(p, Days), testInputs())
	got := polished.Days[0].FilmingDirections
	for i := 1; i < len(got); i++ {
		assert.Equal(t, got[i-1].EndS, got[i].StartS, "gap before %q", got[i].Instruction)
	}
}

func TestCoerceRejectsUnusableOutput(t *testing.T) {
	for _, raw := range []string{"I cannot help with that", `{"days": []}`, `{"days": [{"cta": "x"}]}`} {
		_, err := Coerce(raw)
		require.Error(t, err, raw)
		assert.Equal(t, xerrors.CodeMalformedOutput, xerrors.CodeOf(err))
		assert.True(t, xerrors.RetryableError(err))
	}
}

func TestEnsureExactlyPadsAndTruncates(t *testing.T) {
	padded := EnsureExactly(Plan{Days: []Day{{Hook: "real"}}}, Days)
	require.Len(t, padded.Days, Days)
	assert.Equal(t, "real", padded.Days[0].Hook)
	assert.Equal(t, "Hook 30", padded.Days[29].Hook)
	assert.Equal(t, 30, padded.Days[29].Day)

	long := make([]Day, 35)
	assert.Len(t, EnsureExactly(Plan{Days: long}, Days).Days, Days)
}

func testInputs() questionnaire.Inputs {
	return questionnaire.Inputs{
		Niche:            "Pressure washing",
		Audience:         "homeowners",
		ProductOrService: "driveway cleaning",
		VideoComfort:     "no_talking_head",
	}.Normalize()
}

func powerWashRule(t *testing.T) NicheRule {
	rule, err := NewNicheRule(`power\s*-?\s*wash|pressure\s*wash|cleaning`, []string{"#powerwashing", "cleaningtips", "#satisfyingvideo"})
	require.NoError(t, err)
	return rule
}

func TestPolishProducesBoundedUniqueDays(t *testing.T) {
	base := EnsureExactly(Plan{}, Days)
	for i := range base.Days {
		base.Days[i].Hook = "Same hook every day because the model got lazy again today"
		base.Days[i].Caption = "Same caption. Again. And again. And once more."
		base.Days[i].VideoIdea = "Driveway transformation idea"
		base.Days[i].FilmingDirections = []Step{{Instruction: "Wide shot"}, {Instruction: "wide SHOT"}}
		base.Days[i].Hashtags = []string{"#a", "#b", "#c", "#d", "#e", "#f", "#g", "#h"}
	}

	polished := NewPolisher(42, powerWashRule(t)).Polish(base, testInputs())
	require.Len(t, polished.Days, Days)

	seen := map[string]bool{}
	for _, d := range polished.Days {
		sig := signature(d)
		assert.False(t, seen[sig], "duplicate signature %q", sig)
		seen[sig] = true

		assert.LessOrEqual(t, len(strings.Fields(d.Hook)), 12+2)
		assert.LessOrEqual(t, len(strings.Fields(d.CTA)), 12)
		assert.LessOrEqual(t, len(splitSentences(d.Caption)), 3)
		words := len(strings.Fields(d.VideoIdea))
		assert.True(t, words >= 2 && words <= 6, "video idea %q", d.VideoIdea)
		assert.False(t, strings.HasSuffix(strings.ToLower(d.VideoIdea), "idea"))

		assert.GreaterOrEqual(t, len(d.FilmingDirections), minSteps)
		assert.LessOrEqual(t, len(d.FilmingDirections), maxSteps)
		assert.GreaterOrEqual(t, len(d.Hashtags), minHashtags)
		assert.LessOrEqual(t, len(d.Hashtags), maxHashtags)
		assert.Contains(t, d.Hashtags, "#powerwashing")
		assert.Contains(t, d.PlatformNotes, "norms respected.")
	}
}

func TestPolishIsDeterministicForSeed(t *testing.T) {
	base := EnsureExactly(Plan{}, Days)
	a := NewPolisher(7).Polish(base, testInputs())
	b := NewPolisher(7).Polish(base, testInputs())
	assert.Equal(t, a, b)
}

func TestFixStepsPadsByComfort(t *testing.T) {
	steps := fixSteps([]Step{{StartS: 0, EndS: 4, Instruction: "Hero shot"}}, "no_talking_head")
	require.Len(t, steps, minSteps)
	assert.Equal(t, brollShots[0], steps[1].Instruction)
	assert.Equal(t, 4, steps[1].StartS)

	steps = fixSteps(nil, "mixed")
	require.Len(t, steps, minSteps)
	assert.Equal(t, arollShots[0], steps[0].Instruction)
}

func TestCaptionFallbackAndSentenceLimit(t *testing.T) {
	p := NewPolisher(1)
	d := p.sanitize(Day{Caption: ""}, testInputs(), "Mini Demo", nil)
	assert.Equal(t, fallbackCaption, d.Caption)

	d = p.sanitize(Day{Caption: "One. Two! Three? Four."}, testInputs(), "Mini Demo", nil)
	assert.Equal(t, "One. Two! Three?", d.Caption)
}

func TestNormalizeTag(t *testing.T) {
	assert.Equal(t, "#dogs_of_nyc", NormalizeTag("##Dogs_of_NYC"))
	assert.Equal(t, "", NormalizeTag("#!!"))
}
