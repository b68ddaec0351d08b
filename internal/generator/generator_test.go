package generator

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reeseleonb-crypto/quickpostkit/internal/artifact"
	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/job"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm"
	"github.com/reeseleonb-crypto/quickpostkit/internal/plan"
	"github.com/reeseleonb-crypto/quickpostkit/internal/questionnaire"
)

const twoDays = "```json\n" + `{"days": [
  {"day": 1, "hook": "Watch this driveway", "caption": "Grime gone. Book today.", "video_idea": "Driveway reveal idea",
   "filming_directions": [{"start_s": 0, "end_s": 3, "instruction": "Wide shot"}],
   "hashtags": ["#PowerWashing", "#Clean"], "cta": "Book now"},
  {"day": 2, "hook": "Before and after", "caption": "Look at that.", "video_idea": "Fence refresh",
   "filming_directions": "- Close-up\n- Slow pan", "hashtags": "fence wood"},
]}` + "\n```"

func testInputs() questionnaire.Inputs {
	return questionnaire.Inputs{
		Niche:            "Power washing",
		Audience:         "homeowners",
		ProductOrService: "driveway cleaning",
	}
}

func fakeLLM(content string, calls *[]llm.Request) llm.Client {
	return llm.ClientFunc(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		if calls != nil {
			*calls = append(*calls, req)
		}
		return &llm.Response{Content: content, Model: "fake", PromptTokens: 10, CompletionTokens: 20}, nil
	})
}

func newTestGenerator(t *testing.T, client llm.Client) (*Generator, *artifact.LocalStore) {
	t.Helper()
	store, err := artifact.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	gen := New(client, store,
		WithProvider("fake"),
		WithPolisher(plan.NewPolisher(42, DefaultNicheRules()...)),
		WithClock(func() time.Time { return time.UnixMilli(1_700_000_000_123) }),
	)
	return gen, store
}

func TestBuildProducesThirtyPolishedDays(t *testing.T) {
	var calls []llm.Request
	gen, _ := newTestGenerator(t, fakeLLM(twoDays, &calls))

	p, err := gen.Build(context.Background(), testInputs())
	require.NoError(t, err)
	require.Len(t, p.Days, PlanDays)

	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSON)
	assert.Equal(t, DefaultTemperature, calls[0].Temperature)
	assert.Contains(t, calls[0].Prompt, "Power washing")
	assert.NotEmpty(t, calls[0].System)

	for i, d := range p.Days {
		assert.Equal(t, i+1, d.Day)
		assert.GreaterOrEqual(t, len(d.FilmingDirections), 3)
		assert.Contains(t, d.Hashtags, "#powerwashing")
		assert.Contains(t, d.PlatformNotes, "Format: ")
	}
	assert.NotContains(t, strings.ToLower(p.Days[0].VideoIdea), "idea")
}

func TestBuildRejectsInvalidInputs(t *testing.T) {
	var calls []llm.Request
	gen, _ := newTestGenerator(t, fakeLLM(twoDays, &calls))

	_, err := gen.Build(context.Background(), questionnaire.Inputs{})
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
	assert.Empty(t, calls)
}

func TestBuildMapsLLMErrors(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code xerrors.Code
	}{
		{"plain", errors.New("connection reset"), xerrors.CodeLLMUnavailable},
		{"deadline", context.DeadlineExceeded, xerrors.CodeTimeout},
		{"coded", xerrors.New(xerrors.CodeLLMRejected, "bad request"), xerrors.CodeLLMRejected},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := llm.ClientFunc(func(context.Context, llm.Request) (*llm.Response, error) {
				return nil, tc.err
			})
			gen, _ := newTestGenerator(t, client)
			_, err := gen.Build(context.Background(), testInputs())
			assert.Equal(t, tc.code, xerrors.CodeOf(err))
		})
	}
}

func TestBuildMalformedOutputIsRetryable(t *testing.T) {
	gen, _ := newTestGenerator(t, fakeLLM("Sorry, I can't do that.", nil))
	_, err := gen.Build(context.Background(), testInputs())
	assert.Equal(t, xerrors.CodeMalformedOutput, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
}

func TestBuildHonoursLLMTimeout(t *testing.T) {
	client := llm.ClientFunc(func(ctx context.Context, _ llm.Request) (*llm.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	gen, _ := newTestGenerator(t, client)
	WithLLMTimeout(20 * time.Millisecond)(gen)

	_, err := gen.Build(context.Background(), testInputs())
	assert.Equal(t, xerrors.CodeTimeout, xerrors.CodeOf(err))
}

func TestExecuteStoresDocument(t *testing.T) {
	gen, store := newTestGenerator(t, fakeLLM(twoDays, nil))

	name, err := gen.Execute(context.Background(), &job.Job{ID: "job_1", Inputs: testInputs()})
	require.NoError(t, err)
	assert.Equal(t, "QuickPostKit_power-washing_1700000000123_1.docx", name)

	obj, err := store.Open(context.Background(), name)
	require.NoError(t, err)
	defer obj.Close()
	head := make([]byte, 2)
	_, err = io.ReadFull(obj, head)
	require.NoError(t, err)
	assert.Equal(t, "PK", string(head), "docx is a zip archive")
}

func TestExecuteWithoutStore(t *testing.T) {
	gen := New(fakeLLM(twoDays, nil), nil)
	_, err := gen.Execute(context.Background(), &job.Job{ID: "job_1", Inputs: testInputs()})
	assert.Equal(t, xerrors.CodeArtifactFailure, xerrors.CodeOf(err))
	assert.False(t, xerrors.RetryableError(err))
}

func TestRulesFromConfigFallsBack(t *testing.T) {
	rules, err := RulesFromConfig(nil)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.True(t, rules[0].Pattern.MatchString("Pressure Wash Pros"))
}
