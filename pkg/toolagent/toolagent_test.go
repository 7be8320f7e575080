package toolagent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/tool"
)

func TestExtractActionCodeEdit(t *testing.T) {
	text := `I should fix the off-by-one error.
<str_replace_editor>
<command>str_replace</command>
<path>main.go</path>
<old_str>i <= len(s)</old_str>
<new_str>i < len(s)</new_str>
</str_replace_editor>`

	act, err := ExtractAction(text)
	require.NoError(t, err)
	assert.Equal(t, action.ToolCodeEdit, act.Type)
	assert.Equal(t, action.EditorCommandStrReplace, act.EditorCommand)
	assert.Equal(t, "main.go", act.FilePath)
	assert.Equal(t, "i <= len(s)", act.OldText)
	assert.Equal(t, "i < len(s)", act.NewText)
}

func TestExtractActionMcpToolArgs(t *testing.T) {
	text := `<mcp_tool>
<server_name>github</server_name>
<tool_name>search_issues</tool_name>
<tool_args>{"query": "bug", "limit": 5}</tool_args>
</mcp_tool>`

	act, err := ExtractAction(text)
	require.NoError(t, err)
	assert.Equal(t, "github", act.ServerName)
	assert.Equal(t, "search_issues", act.ToolName)
	assert.Equal(t, "bug", act.ToolArgs["query"])
}

func TestExtractActionMalformed(t *testing.T) {
	_, err := ExtractAction("I am thinking about what to do next but haven't decided.")
	require.ErrorIs(t, err, ErrMalformedAction)
}

func TestExtractActionIgnoresPreamble(t *testing.T) {
	text := "Let's look for the definition.\n<go_to_definition><file_path>a.go</file_path><line>10</line><column>4</column></go_to_definition>"
	act, err := ExtractAction(text)
	require.NoError(t, err)
	assert.Equal(t, 10, act.Line)
	assert.Equal(t, 4, act.Column)
}

type fakeProposeClient struct{ text string }

func (f *fakeProposeClient) Stream(ctx context.Context, req llmbroker.ChatRequest) <-chan llmbroker.Chunk {
	out := make(chan llmbroker.Chunk, 2)
	out <- llmbroker.TextChunk{Text: f.text}
	out <- llmbroker.DoneChunk{FinishReason: "stop"}
	close(out)
	return out
}

func TestAgentProposeRoundTrip(t *testing.T) {
	broker := llmbroker.NewBroker("", 1)
	broker.Register("primary", &fakeProposeClient{text: "Thinking...\n<think><thought>let's check tests first</thought></think>"}, nil)

	registry := tool.NewRegistry()
	tool.RegisterMetaTools(registry)

	a := NewAgent(broker, registry, "primary", "test-model")
	prop, err := a.Propose(context.Background(), BuildRequest{Instructions: "fix the bug"})
	require.NoError(t, err)
	assert.Equal(t, action.ToolThink, prop.Action.Type)
	assert.Equal(t, "let's check tests first", prop.Action.Thought)
	assert.Contains(t, prop.Thought, "Thinking")
}

func TestAgentProposeMalformedReturnsRawText(t *testing.T) {
	broker := llmbroker.NewBroker("", 1)
	broker.Register("primary", &fakeProposeClient{text: "I don't know what to do."}, nil)

	registry := tool.NewRegistry()
	tool.RegisterMetaTools(registry)

	a := NewAgent(broker, registry, "primary", "test-model")
	prop, err := a.Propose(context.Background(), BuildRequest{Instructions: "fix the bug"})
	require.ErrorIs(t, err, ErrMalformedAction)
	assert.Equal(t, "I don't know what to do.", prop.RawText)
}

func TestExtractActionAttemptCompletion(t *testing.T) {
	text := `<attempt_completion>
<result>Renamed foo to bar in src/a.py.</result>
<command>python -m pytest tests/</command>
</attempt_completion>`

	act, err := ExtractAction(text)
	require.NoError(t, err)
	assert.Equal(t, action.ToolAttemptCompletion, act.Type)
	assert.Equal(t, "Renamed foo to bar in src/a.py.", act.Summary)
	assert.Equal(t, "python -m pytest tests/", act.Command)
	assert.True(t, act.IsTerminal())
}

func TestExtractActionAttemptCompletionSummaryFallback(t *testing.T) {
	act, err := ExtractAction("<attempt_completion><summary>done</summary></attempt_completion>")
	require.NoError(t, err)
	assert.Equal(t, "done", act.Summary)
}

func TestExtractActionExplore(t *testing.T) {
	act, err := ExtractAction("<explore><question>where is parse_args defined?</question></explore>")
	require.NoError(t, err)
	assert.Equal(t, action.ToolExplore, act.Type)
	assert.Equal(t, "where is parse_args defined?", act.Query)
}

type fakeToolCallClient struct {
	name   string
	chunks []string
	tools  int
}

func (f *fakeToolCallClient) Stream(ctx context.Context, req llmbroker.ChatRequest) <-chan llmbroker.Chunk {
	f.tools = len(req.Tools)
	out := make(chan llmbroker.Chunk, len(f.chunks)+2)
	out <- llmbroker.ToolCallDeltaChunk{Index: 0, ID: "call_1", Name: f.name, ArgsDelta: f.chunks[0]}
	for _, c := range f.chunks[1:] {
		out <- llmbroker.ToolCallDeltaChunk{Index: 0, ArgsDelta: c}
	}
	out <- llmbroker.DoneChunk{FinishReason: "tool_calls"}
	close(out)
	return out
}

func TestAgentProposeJSONMode(t *testing.T) {
	client := &fakeToolCallClient{
		name:   "read_file",
		chunks: []string{`{"fs_file_path":`, `"src/a.py","start_line":3}`},
	}
	broker := llmbroker.NewBroker("", 1)
	broker.Register("primary", client, nil)

	registry := tool.NewRegistry()
	tool.RegisterMetaTools(registry)

	a := NewAgent(broker, registry, "primary", "test-model")
	a.SetJSONMode(true)
	prop, err := a.Propose(context.Background(), BuildRequest{Instructions: "read the file"})
	require.NoError(t, err)
	assert.Equal(t, action.ToolReadFile, prop.Action.Type)
	assert.Equal(t, "src/a.py", prop.Action.FilePath)
	assert.Equal(t, 3, prop.Action.StartLine)
	assert.Positive(t, client.tools, "tool definitions should be advertised in JSON mode")
}

func TestActionFromToolCallUnknownTool(t *testing.T) {
	_, err := ActionFromToolCall("bogus_tool", "{}")
	require.ErrorIs(t, err, ErrMalformedAction)
}
