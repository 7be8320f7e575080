package llmbroker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// OpenAICompatClient speaks the OpenAI chat-completions wire format, which
// Groq, Fireworks, Together, Ollama's /v1 endpoint and OpenRouter all also
// implement — so one client, parameterized by baseURL, covers every one of
// those providers from the domain stack. Grounded on lowkaihon-cli-coding-
// agent's llm/client.go (OpenAIClient), generalized to take baseURL rather
// than hardcoding api.openai.com.
type OpenAICompatClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	// extraHeaders lets OpenRouter-style providers attach attribution
	// headers without a new client type.
	extraHeaders map[string]string
}

func NewOpenAICompatClient(apiKey, baseURL string, httpClient *http.Client, extraHeaders map[string]string) *OpenAICompatClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OpenAICompatClient{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, extraHeaders: extraHeaders}
}

type openaiMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []openaiToolDef `json:"tools,omitempty"`
}

type openaiToolDef struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

func convertToOpenAIMessages(msgs []Message) []openaiMessage {
	out := make([]openaiMessage, 0, len(msgs))
	for _, m := range msgs {
		om := openaiMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			otc := openaiToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out = append(out, om)
	}
	return out
}

func (c *OpenAICompatClient) Stream(ctx context.Context, req ChatRequest) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		var tools []openaiToolDef
		for _, t := range req.Tools {
			td := openaiToolDef{Type: "function"}
			td.Function.Name = t.Name
			td.Function.Description = t.Description
			td.Function.Parameters = t.InputSchema
			tools = append(tools, td)
		}

		body, err := json.Marshal(openaiRequest{
			Model: req.Model, Messages: convertToOpenAIMessages(req.Messages),
			Temperature: req.Temperature, MaxTokens: req.MaxTokens, Stream: true, Tools: tools,
		})
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}
		httpReq.Header.Set("content-type", "application/json")
		httpReq.Header.Set("authorization", "Bearer "+c.apiKey)
		for k, v := range c.extraHeaders {
			httpReq.Header.Set(k, v)
		}

		resp, err := doWithRetry(ctx, defaultRetryConfig(), func() (*http.Response, error) {
			return c.http.Do(httpReq)
		})
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			out <- ErrorChunk{Err: wrapStatusErr("openai-compat", resp.StatusCode)}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			if payload == "[DONE]" {
				out <- DoneChunk{FinishReason: "stop"}
				return
			}
			var event struct {
				Choices []struct {
					Delta struct {
						Content   string `json:"content"`
						ToolCalls []struct {
							Index    int    `json:"index"`
							ID       string `json:"id"`
							Function struct {
								Name      string `json:"name"`
								Arguments string `json:"arguments"`
							} `json:"function"`
						} `json:"tool_calls"`
					} `json:"delta"`
					FinishReason *string `json:"finish_reason"`
				} `json:"choices"`
				Usage *struct {
					PromptTokens     int `json:"prompt_tokens"`
					CompletionTokens int `json:"completion_tokens"`
					TotalTokens      int `json:"total_tokens"`
				} `json:"usage"`
			}
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			if event.Usage != nil {
				out <- UsageChunk{Usage: Usage{
					PromptTokens: event.Usage.PromptTokens, CompletionTokens: event.Usage.CompletionTokens, TotalTokens: event.Usage.TotalTokens,
				}}
			}
			for _, choice := range event.Choices {
				if choice.Delta.Content != "" {
					out <- TextChunk{Text: choice.Delta.Content}
				}
				for _, tc := range choice.Delta.ToolCalls {
					out <- ToolCallDeltaChunk{Index: tc.Index, ID: tc.ID, Name: tc.Function.Name, ArgsDelta: tc.Function.Arguments}
				}
				if choice.FinishReason != nil {
					out <- DoneChunk{FinishReason: *choice.FinishReason}
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- ErrorChunk{Err: err}
		}
	}()
	return out
}
