package llmbroker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// AnthropicClient talks to the Anthropic Messages API directly, grounded on
// lowkaihon-cli-coding-agent's llm/anthropic.go (system-prompt extraction,
// tool_use block handling) adapted to stream Chunk values instead of
// returning one accumulated Response.
type AnthropicClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewAnthropicClient(apiKey string, httpClient *http.Client) *AnthropicClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AnthropicClient{apiKey: apiKey, baseURL: "https://api.anthropic.com/v1/messages", http: httpClient}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Stream      bool               `json:"stream"`
	Tools       []anthropicToolDef `json:"tools,omitempty"`
}

type anthropicToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// convertToAnthropicMessages extracts the leading system prompt (Anthropic
// takes it out-of-band) and merges consecutive tool-result turns into a
// single user message, the way the reference client does.
func convertToAnthropicMessages(msgs []Message) (string, []anthropicMessage) {
	var system string
	var out []anthropicMessage
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			if system == "" {
				system = m.Content
			} else {
				system += "\n" + m.Content
			}
		case RoleTool:
			block := map[string]any{
				"type":        "tool_result",
				"tool_use_id": m.ToolCallID,
				"content":     m.Content,
			}
			if len(out) > 0 && out[len(out)-1].Role == "user" {
				if blocks, ok := out[len(out)-1].Content.([]any); ok {
					out[len(out)-1].Content = append(blocks, block)
					continue
				}
			}
			out = append(out, anthropicMessage{Role: "user", Content: []any{block}})
		case RoleAssistant:
			var blocks []any
			if m.Content != "" {
				blocks = append(blocks, map[string]any{"type": "text", "text": m.Content})
			}
			for _, tc := range m.ToolCalls {
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
				blocks = append(blocks, map[string]any{
					"type": "tool_use", "id": tc.ID, "name": tc.Name, "input": args,
				})
			}
			out = append(out, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			out = append(out, anthropicMessage{Role: "user", Content: m.Content})
		}
	}
	return system, out
}

func (c *AnthropicClient) Stream(ctx context.Context, req ChatRequest) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		system, messages := convertToAnthropicMessages(req.Messages)
		var tools []anthropicToolDef
		for _, t := range req.Tools {
			tools = append(tools, anthropicToolDef{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
		}

		body, err := json.Marshal(anthropicRequest{
			Model: req.Model, System: system, Messages: messages,
			MaxTokens: req.MaxTokens, Temperature: req.Temperature, Stream: true, Tools: tools,
		})
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}
		httpReq.Header.Set("content-type", "application/json")
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")

		resp, err := doWithRetry(ctx, defaultRetryConfig(), func() (*http.Response, error) {
			return c.http.Do(httpReq)
		})
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			out <- ErrorChunk{Err: wrapStatusErr("anthropic", resp.StatusCode)}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		// Anthropic numbers content blocks, not tool calls; toolOrdinal
		// renumbers tool_use blocks from zero so ToolCallDeltaChunk.Index
		// matches the OpenAI-style tool-call indexing callers expect.
		toolOrdinal := -1
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			payload := strings.TrimPrefix(line, "data: ")
			var event map[string]any
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			switch event["type"] {
			case "content_block_start":
				block, _ := event["content_block"].(map[string]any)
				if block["type"] != "tool_use" {
					continue
				}
				toolOrdinal++
				id, _ := block["id"].(string)
				name, _ := block["name"].(string)
				out <- ToolCallDeltaChunk{Index: toolOrdinal, ID: id, Name: name}
			case "content_block_delta":
				delta, _ := event["delta"].(map[string]any)
				switch delta["type"] {
				case "text_delta":
					if text, ok := delta["text"].(string); ok {
						out <- TextChunk{Text: text}
					}
				case "input_json_delta":
					if partial, ok := delta["partial_json"].(string); ok && toolOrdinal >= 0 {
						out <- ToolCallDeltaChunk{Index: toolOrdinal, ArgsDelta: partial}
					}
				}
			case "message_delta":
				if usage, ok := event["usage"].(map[string]any); ok {
					out <- UsageChunk{Usage: parseAnthropicUsage(usage)}
				}
			case "message_stop":
				out <- DoneChunk{FinishReason: "stop"}
				return
			}
		}
		if err := scanner.Err(); err != nil {
			out <- ErrorChunk{Err: err}
		}
	}()
	return out
}

func parseAnthropicUsage(m map[string]any) Usage {
	toInt := func(v any) int {
		if f, ok := v.(float64); ok {
			return int(f)
		}
		return 0
	}
	in, outTok := toInt(m["input_tokens"]), toInt(m["output_tokens"])
	return Usage{PromptTokens: in, CompletionTokens: outTok, TotalTokens: in + outTok}
}
