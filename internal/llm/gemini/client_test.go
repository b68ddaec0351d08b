package gemini

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	xerrors "github.com/reeseleonb-crypto/quickpostkit/internal/errors"
	"github.com/reeseleonb-crypto/quickpostkit/internal/llm"
)

type fakeModels struct {
	config *genai.GenerateContentConfig
	model  string
	resp   *genai.GenerateContentResponse
	err    error
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, _ []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = cfg
	return f.resp, f.err
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: genai.NewContentFromText(s, genai.RoleModel),
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 11, CandidatesTokenCount: 22},
	}
}

func TestGenerateSetsJSONModeAndUsage(t *testing.T) {
	fake := &fakeModels{resp: textResponse(`{"days":[]}`)}
	client := newClient(fake, "")

	resp, err := client.Generate(context.Background(), llm.Request{System: "JSON only", Prompt: "plan", Temperature: 0.5, JSON: true})
	require.NoError(t, err)

	assert.Equal(t, defaultModel, fake.model)
	assert.Equal(t, "application/json", fake.config.ResponseMIMEType)
	require.NotNil(t, fake.config.SystemInstruction)
	assert.Equal(t, float32(0.5), *fake.config.Temperature)
	assert.Equal(t, `{"days":[]}`, resp.Content)
	assert.Equal(t, 11, resp.PromptTokens)
	assert.Equal(t, 22, resp.CompletionTokens)
}

func TestGenerateClassifiesErrors(t *testing.T) {
	fake := &fakeModels{err: genai.APIError{Code: 429, Message: "quota"}}
	_, err := newClient(fake, "gemini-x").Generate(context.Background(), llm.Request{Prompt: "plan"})
	assert.Equal(t, xerrors.CodeLLMUnavailable, xerrors.CodeOf(err))

	fake.err = genai.APIError{Code: 400, Message: "bad"}
	_, err = newClient(fake, "gemini-x").Generate(context.Background(), llm.Request{Prompt: "plan"})
	assert.Equal(t, xerrors.CodeLLMRejected, xerrors.CodeOf(err))

	fake.err = errors.New("dial tcp: timeout")
	_, err = newClient(fake, "gemini-x").Generate(context.Background(), llm.Request{Prompt: "plan"})
	assert.True(t, xerrors.RetryableError(err))
}

func TestGenerateEmptyText(t *testing.T) {
	fake := &fakeModels{resp: &genai.GenerateContentResponse{}}
	_, err := newClient(fake, "").Generate(context.Background(), llm.Request{Prompt: "plan"})
	assert.Equal(t, xerrors.CodeMalformedOutput, xerrors.CodeOf(err))
}
