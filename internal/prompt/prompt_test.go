package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

func TestUserIncludesInputsAndRules(t *testing.T) {
	in := questionnaire.Inputs{
		Niche:               "dog grooming",
		Audience:            "busy pet owners",
		ProductOrService:    "mobile grooming van",
		VideoComfort:        "no_talking_head",
		HashtagStyle:        "niche",
		ContentBalance:      questionnaire.BalanceOf(70),
		Location:            "Denver",
		SpecialInstructions: "Mention spring discount",
	}.Normalize()

	got := User(in)
	for _, want := range []string{
		"exactly 30 items",
		"Niche: dog grooming.",
		"Audience: busy pet owners.",
		"70% educational, 30% promotional",
		"B-roll only",
		"mostly niche community tags",
		"Location: Denver.",
		"Special instructions: Mention spring discount",
		"Instagram Reels",
	} {
		assert.Contains(t, got, want)
	}
}

func TestUserOmitsEmptyOptionalFields(t *testing.T) {
	got := User(questionnaire.Inputs{Niche: "bakery", Audience: "locals", ProductOrService: "bread"}.Normalize())
	assert.False(t, strings.Contains(got, "Location:"))
	assert.False(t, strings.Contains(got, "Special instructions:"))
	assert.Contains(t, got, "A-roll CTA")
}

func TestSystemAsksForJSON(t *testing.T) {
	assert.Contains(t, System(), "JSON only")
}
