package upstream

import (
	"bytes"
	"encoding/json"

	openai "github.com/sashabaranov/go-openai"

	"github.com/artpar/poolgate/domain/pricing"
)

// anthropicUsage is the usage block of the Messages API.
type anthropicUsage struct {
	InputTokens              int64                  `json:"input_tokens"`
	OutputTokens             int64                  `json:"output_tokens"`
	CacheCreationInputTokens int64                  `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64                  `json:"cache_read_input_tokens"`
	CacheCreation            *pricing.CacheCreation `json:"cache_creation"`
}

func (u anthropicUsage) toUsage() pricing.Usage {
	return pricing.Usage{
		InputTokens:         u.InputTokens,
		OutputTokens:        u.OutputTokens,
		CacheCreationTokens: u.CacheCreationInputTokens,
		CacheReadTokens:     u.CacheReadInputTokens,
		CacheCreation:       u.CacheCreation,
	}
}

// fromOpenAI maps OpenAI usage. Cached prompt tokens are reported inside
// prompt_tokens, so they move to the cache-read bucket.
func fromOpenAI(u openai.Usage) pricing.Usage {
	out := pricing.Usage{
		InputTokens:  int64(u.PromptTokens),
		OutputTokens: int64(u.CompletionTokens),
	}
	if u.PromptTokensDetails != nil && u.PromptTokensDetails.CachedTokens > 0 {
		cached := int64(u.PromptTokensDetails.CachedTokens)
		out.CacheReadTokens = cached
		out.InputTokens -= cached
		if out.InputTokens < 0 {
			out.InputTokens = 0
		}
	}
	return out
}

// ParseUsage reads the usage of a buffered response body in either the
// Anthropic or the OpenAI format. It returns nil when the body has none.
func ParseUsage(body []byte) *pricing.Usage {
	var doc struct {
		Usage json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || len(doc.Usage) == 0 || bytes.Equal(doc.Usage, []byte("null")) {
		return nil
	}
	return decodeUsage(doc.Usage)
}

func decodeUsage(raw json.RawMessage) *pricing.Usage {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil
	}
	if _, ok := probe["prompt_tokens"]; ok {
		var u openai.Usage
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil
		}
		out := fromOpenAI(u)
		return &out
	}
	var u anthropicUsage
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil
	}
	out := u.toUsage()
	return &out
}

// streamUsage accumulates usage from server-sent events.
type streamUsage struct {
	usage pricing.Usage
	seen  bool
}

// observe inspects one SSE data payload.
func (s *streamUsage) observe(data []byte) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return
	}

	var event struct {
		Type    string `json:"type"`
		Message struct {
			Usage *anthropicUsage `json:"usage"`
		} `json:"message"`
		Usage json.RawMessage `json:"usage"`
	}
	if err := json.Unmarshal(data, &event); err != nil {
		return
	}

	switch event.Type {
	case "message_start":
		if u := event.Message.Usage; u != nil {
			s.usage = u.toUsage()
			s.seen = true
		}
		return
	case "message_delta":
		var u anthropicUsage
		if len(event.Usage) > 0 && json.Unmarshal(event.Usage, &u) == nil {
			// deltas carry cumulative output tokens
			s.usage.OutputTokens = u.OutputTokens
			if u.InputTokens > 0 {
				s.usage.InputTokens = u.InputTokens
			}
			s.seen = true
		}
		return
	}

	// OpenAI chunks carry usage on the final chunk when requested
	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal(data, &chunk); err == nil && chunk.Usage != nil {
		s.usage = fromOpenAI(*chunk.Usage)
		s.seen = true
	}
}

func (s *streamUsage) result() *pricing.Usage {
	if !s.seen {
		return nil
	}
	u := s.usage
	return &u
}
