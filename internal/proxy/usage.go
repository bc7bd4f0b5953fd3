package proxy

import (
	"encoding/json"
	"strings"

	"github.com/Likyliang/APIHub-Gateway/internal/utils/tokenizer"
)

// upstreamUsage 上游返回的 token 用量 (OpenAI usage 字段)
type upstreamUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

func (u *upstreamUsage) empty() bool {
	return u == nil || (u.PromptTokens == 0 && u.CompletionTokens == 0 && u.TotalTokens == 0)
}

// requestMeta 从请求体里取转发需要的字段, 其余内容原样透传
type requestMeta struct {
	Model    string          `json:"model"`
	Stream   bool            `json:"stream"`
	Messages json.RawMessage `json:"messages"`
	Input    json.RawMessage `json:"input"`
	Prompt   json.RawMessage `json:"prompt"`
}

func parseRequestMeta(body []byte) requestMeta {
	var meta requestMeta
	json.Unmarshal(body, &meta)
	return meta
}

// extractUsage 从非流式响应体提取用量
func extractUsage(body []byte) *upstreamUsage {
	var envelope struct {
		Usage *upstreamUsage `json:"usage"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	return envelope.Usage
}

// streamHarvest 从 SSE 流中收集用量。优先用上游 usage 块;
// 上游不回报时用累积的增量文本做 token 估算兜底。
type streamHarvest struct {
	usage   *upstreamUsage
	model   string
	content strings.Builder
}

func (h *streamHarvest) observe(data string) {
	data = strings.TrimSpace(data)
	if data == "" || data == "[DONE]" {
		return
	}
	var chunk struct {
		Model   string         `json:"model"`
		Usage   *upstreamUsage `json:"usage"`
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return
	}
	if chunk.Model != "" {
		h.model = chunk.Model
	}
	if !chunk.Usage.empty() {
		h.usage = chunk.Usage
	}
	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			h.content.WriteString(choice.Delta.Content)
		} else if choice.Text != "" {
			h.content.WriteString(choice.Text)
		}
	}
}

// tokens 返回 (prompt, completion)。requestBody 用于上游没回报 usage 时估算
func (h *streamHarvest) tokens(requestBody []byte, modelName string) (int64, int64) {
	if !h.usage.empty() {
		prompt := h.usage.PromptTokens
		completion := h.usage.CompletionTokens
		if prompt == 0 && completion == 0 && h.usage.TotalTokens > 0 {
			completion = h.usage.TotalTokens
		}
		return prompt, completion
	}
	prompt := int64(tokenizer.CountTokens(promptText(requestBody), modelName))
	completion := int64(tokenizer.CountTokens(h.content.String(), modelName))
	return prompt, completion
}

// responseTokens 非流式响应的 (prompt, completion)。
// 上游没回报 usage 时用 token 估算兜底
func responseTokens(respBody, reqBody []byte, modelName string) (int64, int64) {
	if u := extractUsage(respBody); !u.empty() {
		prompt := u.PromptTokens
		completion := u.CompletionTokens
		if prompt == 0 && completion == 0 && u.TotalTokens > 0 {
			completion = u.TotalTokens
		}
		return prompt, completion
	}
	prompt := int64(tokenizer.CountTokens(promptText(reqBody), modelName))
	completion := int64(tokenizer.CountTokens(responseText(respBody), modelName))
	return prompt, completion
}

// responseText 提取非流式响应的生成文本
func responseText(body []byte) string {
	var envelope struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			Text string `json:"text"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, choice := range envelope.Choices {
		if choice.Message.Content != "" {
			sb.WriteString(choice.Message.Content)
		} else if choice.Text != "" {
			sb.WriteString(choice.Text)
		}
	}
	return sb.String()
}

// promptText 拼接请求里的文本内容用于估算 prompt token 数
func promptText(body []byte) string {
	var req struct {
		Messages []struct {
			Content json.RawMessage `json:"content"`
		} `json:"messages"`
		Prompt json.RawMessage `json:"prompt"`
		Input  json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, m := range req.Messages {
		sb.WriteString(rawText(m.Content))
	}
	sb.WriteString(rawText(req.Prompt))
	sb.WriteString(rawText(req.Input))
	return sb.String()
}

// rawText 兼容 string 和 string 数组两种形态
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, "")
	}
	return ""
}
