package tool

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/masking"
	"github.com/opencodetree/codetree/pkg/mcpbridge"
)

// McpTool dispatches an action.ToolMcp action to a configured MCP server via
// mcpbridge.Client, concatenating the result's text content blocks into the
// observation string. masker scrubs secrets out of the result before it
// reaches the trajectory; a nil masker (as in tests) is treated as a no-op.
type McpTool struct {
	client *mcpbridge.Client
	masker *masking.Service
}

func NewMcpTool(client *mcpbridge.Client, masker *masking.Service) *McpTool {
	return &McpTool{client: client, masker: masker}
}
func (t *McpTool) Type() action.ToolType { return action.ToolMcp }

// Description enumerates the configured servers (with their operator-
// supplied instructions) so the model knows which server_name values exist
// and what each one is for.
func (t *McpTool) Description() string {
	var b strings.Builder
	b.WriteString("Call a tool exposed by a configured MCP server.")
	for _, s := range t.client.Servers() {
		fmt.Fprintf(&b, "\n- %s", s.Name)
		if s.Instructions != "" {
			fmt.Fprintf(&b, ": %s", s.Instructions)
		}
	}
	return b.String()
}
func (t *McpTool) InputFormat() string {
	return "<mcp_tool><server_name/><tool_name/><tool_args>{...json...}</tool_args></mcp_tool>"
}
func (t *McpTool) EvaluationCriteria(int) []string {
	return []string{"Did the MCP call return information that advanced the task?"}
}
func (t *McpTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -20, MaxValue: 40, Description: "External tool call, reward scaled by usefulness of the result"}}
}
func (t *McpTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	result, err := t.client.CallTool(ctx, act.ServerName, act.ToolName, act.ToolArgs)
	if err != nil {
		return "", fmt.Errorf("mcp_tool %s/%s: %w", act.ServerName, act.ToolName, err)
	}

	text := extractTextContent(result)
	if result.IsError {
		return "", fmt.Errorf("mcp_tool %s/%s returned an error result: %s", act.ServerName, act.ToolName, text)
	}
	if t.masker != nil {
		text = t.masker.Mask(act.ServerName, text)
	}
	return text, nil
}

// extractTextContent concatenates every TextContent block in result,
// skipping non-text content (images, embedded resources).
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			slog.Debug("mcp tool returned non-text content, skipping", "content_type", fmt.Sprintf("%T", c))
		}
	}
	return strings.Join(parts, "\n")
}

// RegisterMcpTool registers the MCP-backed tool.
func RegisterMcpTool(registry *Registry, client *mcpbridge.Client, masker *masking.Service) {
	registry.Register(NewMcpTool(client, masker))
}
