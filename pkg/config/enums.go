package config

// TransportType defines MCP server transport types
type TransportType string

const (
	// TransportTypeStdio uses subprocess communication via stdin/stdout
	TransportTypeStdio TransportType = "stdio"
	// TransportTypeHTTP uses HTTP/HTTPS JSON-RPC
	TransportTypeHTTP TransportType = "http"
	// TransportTypeSSE uses Server-Sent Events
	TransportTypeSSE TransportType = "sse"
)

// IsValid checks if the transport type is valid
func (t TransportType) IsValid() bool {
	return t == TransportTypeStdio || t == TransportTypeHTTP || t == TransportTypeSSE
}

// LLMProviderType selects which pkg/llmbroker client a provider entry binds
// to. OpenRouter is OpenAI-compatible, so it is registered as an "openai"
// entry with BaseURL set to OpenRouter's endpoint rather than as its own
// provider type.
type LLMProviderType string

const (
	// LLMProviderTypeAnthropic binds to llmbroker.NewAnthropicClient.
	LLMProviderTypeAnthropic LLMProviderType = "anthropic"
	// LLMProviderTypeOpenAI binds to llmbroker.NewOpenAICompatClient. A
	// BaseURL override routes this to OpenRouter or any other
	// OpenAI-compatible gateway.
	LLMProviderTypeOpenAI LLMProviderType = "openai"
	// LLMProviderTypeGemini binds to llmbroker.NewGeminiClient.
	LLMProviderTypeGemini LLMProviderType = "gemini"
)

// IsValid checks if the LLM provider type is valid.
func (t LLMProviderType) IsValid() bool {
	switch t {
	case LLMProviderTypeAnthropic, LLMProviderTypeOpenAI, LLMProviderTypeGemini:
		return true
	default:
		return false
	}
}
