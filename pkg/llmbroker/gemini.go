package llmbroker

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// GeminiClient speaks Google AI Studio's generateContent streaming API,
// whose multi-part message shape (role + []Part) differs enough from the
// OpenAI/Anthropic convention to warrant its own formatter.
type GeminiClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewGeminiClient(apiKey string, httpClient *http.Client) *GeminiClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &GeminiClient{apiKey: apiKey, baseURL: "https://generativelanguage.googleapis.com/v1beta/models", http: httpClient}
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
	} `json:"generationConfig"`
}

func convertToGeminiContents(msgs []Message) (*geminiContent, []geminiContent) {
	var system *geminiContent
	var out []geminiContent
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			system = &geminiContent{Role: "system", Parts: []geminiPart{{Text: m.Content}}}
		case RoleAssistant:
			out = append(out, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out = append(out, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return system, out
}

func (c *GeminiClient) Stream(ctx context.Context, req ChatRequest) <-chan Chunk {
	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		system, contents := convertToGeminiContents(req.Messages)
		greq := geminiRequest{Contents: contents, SystemInstruction: system}
		greq.GenerationConfig.Temperature = req.Temperature
		greq.GenerationConfig.MaxOutputTokens = req.MaxTokens

		body, err := json.Marshal(greq)
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}

		url := fmt.Sprintf("%s/%s:streamGenerateContent?alt=sse&key=%s", c.baseURL, req.Model, c.apiKey)
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}
		httpReq.Header.Set("content-type", "application/json")

		resp, err := doWithRetry(ctx, defaultRetryConfig(), func() (*http.Response, error) {
			return c.http.Do(httpReq)
		})
		if err != nil {
			out <- ErrorChunk{Err: err}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			out <- ErrorChunk{Err: wrapStatusErr("gemini", resp.StatusCode)}
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
			var event struct {
				Candidates []struct {
					Content struct {
						Parts []geminiPart `json:"parts"`
					} `json:"content"`
					FinishReason string `json:"finishReason"`
				} `json:"candidates"`
				UsageMetadata *struct {
					PromptTokenCount     int `json:"promptTokenCount"`
					CandidatesTokenCount int `json:"candidatesTokenCount"`
					TotalTokenCount      int `json:"totalTokenCount"`
				} `json:"usageMetadata"`
			}
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				continue
			}
			for _, cand := range event.Candidates {
				for _, part := range cand.Content.Parts {
					if part.Text != "" {
						out <- TextChunk{Text: part.Text}
					}
				}
				if cand.FinishReason != "" {
					if event.UsageMetadata != nil {
						out <- UsageChunk{Usage: Usage{
							PromptTokens:     event.UsageMetadata.PromptTokenCount,
							CompletionTokens: event.UsageMetadata.CandidatesTokenCount,
							TotalTokens:      event.UsageMetadata.TotalTokenCount,
						}}
					}
					out <- DoneChunk{FinishReason: cand.FinishReason}
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
