package openai

import (
	"strings"

	"github.com/tiktoken-go/tokenizer"
)

// tokenCounter 在服务端未返回 usage 时估算提示词 token 数。
type tokenCounter struct {
	codec tokenizer.Codec
}

func newTokenCounter(model string) *tokenCounter {
	codec, err := codecForModel(model)
	if err != nil {
		return &tokenCounter{}
	}
	return &tokenCounter{codec: codec}
}

func codecForModel(model string) (tokenizer.Codec, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case strings.HasPrefix(m, "gpt-4.1"):
		return tokenizer.ForModel(tokenizer.GPT41)
	case strings.HasPrefix(m, "gpt-4o"):
		return tokenizer.ForModel(tokenizer.GPT4o)
	case strings.HasPrefix(m, "gpt-4"):
		return tokenizer.ForModel(tokenizer.GPT4)
	case strings.HasPrefix(m, "gpt-3.5"):
		return tokenizer.ForModel(tokenizer.GPT35Turbo)
	default:
		return tokenizer.Get(tokenizer.O200kBase)
	}
}

func (t *tokenCounter) count(parts ...string) int {
	if t == nil || t.codec == nil {
		return 0
	}
	joined := strings.TrimSpace(strings.Join(parts, "\n"))
	if joined == "" {
		return 0
	}
	n, err := t.codec.Count(joined)
	if err != nil {
		return 0
	}
	return n
}
