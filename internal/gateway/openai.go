package gateway

import (
	"encoding/json"
	"strings"
)

// inferenceRequest is the subset of an OpenAI-compatible request body the
// router needs to read; the rest of the body is forwarded verbatim.
type inferenceRequest struct {
	raw    map[string]interface{}
	Model  string
	Stream bool
}

func parseInferenceRequest(body []byte) (*inferenceRequest, error) {
	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	model, _ := raw["model"].(string)
	stream := false
	if v, ok := raw["stream"]; ok {
		if b, ok := v.(bool); ok {
			stream = b
		}
	}

	return &inferenceRequest{raw: raw, Model: model, Stream: stream}, nil
}

// v1RemovedParams lists chat-completion parameters vLLM's V1 engine no
// longer honors; present solely to drive the X-Cortex-Warnings header
// (§4.6 step 3: "do not reject").
var v1RemovedParams = []string{"best_of"}

// v1Warnings inspects req for parameters V1 silently ignores and returns a
// human-readable warning per offending parameter.
func v1Warnings(req *inferenceRequest) []string {
	var warnings []string
	for _, p := range v1RemovedParams {
		if _, ok := req.raw[p]; ok {
			warnings = append(warnings, p+" is ignored by the V1 engine")
		}
	}
	if lb, ok := req.raw["logit_bias"]; ok {
		if m, ok := lb.(map[string]interface{}); ok && len(m) > 0 {
			warnings = append(warnings, "logit_bias is ignored by the V1 engine")
		}
	}
	return warnings
}

// estimateTokens is the fallback estimator used when the upstream response
// carries no usage field (§4.6 step 6: "prompt tokens ~= chars/4").
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len([]rune(text)) / 4
	if n == 0 {
		return 1
	}
	return n
}

// promptText concatenates whatever text content is present in the request
// for token estimation purposes: "prompt" for completions, message
// contents for chat completions.
func promptText(req *inferenceRequest) string {
	if p, ok := req.raw["prompt"].(string); ok {
		return p
	}

	var b strings.Builder
	if msgs, ok := req.raw["messages"].([]interface{}); ok {
		for _, m := range msgs {
			mm, ok := m.(map[string]interface{})
			if !ok {
				continue
			}
			if content, ok := mm["content"].(string); ok {
				b.WriteString(content)
				b.WriteString(" ")
			}
		}
	}
	return b.String()
}

// openAIUsage mirrors the "usage" object OpenAI-compatible responses embed.
type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIResponseEnvelope struct {
	Usage openAIUsage `json:"usage"`
}

const (
	ssePrefix = "data: "
	sseDone   = "data: [DONE]"
)

// parseSSEUsage extracts a usage object from one SSE data line, if present
// (grounded on the teacher's handlers.ParseStreamRespForUsage: vLLM emits
// a final `data: {...,"usage":{...}}` frame before `data: [DONE]` when
// stream_options.include_usage is requested).
func parseSSEUsage(line string) (openAIUsage, bool) {
	trimmed := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(trimmed, ssePrefix) {
		return openAIUsage{}, false
	}
	content := strings.TrimPrefix(trimmed, ssePrefix)
	if strings.HasPrefix(content, "[DONE]") {
		return openAIUsage{}, false
	}

	var env openAIResponseEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return openAIUsage{}, false
	}
	if env.Usage.CompletionTokens == 0 && env.Usage.PromptTokens == 0 {
		return openAIUsage{}, false
	}
	return env.Usage, true
}

func parseJSONUsage(body []byte) (openAIUsage, bool) {
	var env openAIResponseEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return openAIUsage{}, false
	}
	if env.Usage.CompletionTokens == 0 && env.Usage.PromptTokens == 0 {
		return openAIUsage{}, false
	}
	return env.Usage, true
}

// openAIChoice is the subset of a "choices[]" entry that carries generated
// text, across chat completions (message.content), streamed chat deltas
// (delta.content), and legacy completions (text).
type openAIChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Text string `json:"text"`
}

type openAIContentEnvelope struct {
	Choices []openAIChoice `json:"choices"`
}

// completionText extracts the generated text from a full, non-streamed
// response body, for the estimateTokens fallback used when the upstream
// carries no usage object (§4.6 step 6: "completion tokens ~= chars/4").
func completionText(body []byte) string {
	var env openAIContentEnvelope
	if err := json.Unmarshal(body, &env); err != nil || len(env.Choices) == 0 {
		return ""
	}
	c := env.Choices[0]
	if c.Message.Content != "" {
		return c.Message.Content
	}
	return c.Text
}

// sseContentFragment extracts the incremental text fragment from one SSE
// data line of a streamed completion, so the caller can accumulate a
// fallback completion-token estimate when the stream never sends a usage
// frame.
func sseContentFragment(line string) string {
	trimmed := strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(trimmed, ssePrefix) {
		return ""
	}
	content := strings.TrimPrefix(trimmed, ssePrefix)
	if strings.HasPrefix(content, "[DONE]") {
		return ""
	}

	var env openAIContentEnvelope
	if err := json.Unmarshal([]byte(content), &env); err != nil || len(env.Choices) == 0 {
		return ""
	}
	c := env.Choices[0]
	if c.Delta.Content != "" {
		return c.Delta.Content
	}
	return c.Text
}
