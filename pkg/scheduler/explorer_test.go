package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/tool"
	"github.com/opencodetree/codetree/pkg/toolagent"
)

// stubSearchTool is a canned search_files implementation so an Explorer can
// be tested without an editor process.
type stubSearchTool struct {
	calls int
}

func (s *stubSearchTool) Type() action.ToolType { return action.ToolSearchFiles }
func (s *stubSearchTool) Description() string   { return "search file contents by regex" }
func (s *stubSearchTool) InputFormat() string {
	return "<search_files><regex_pattern>...</regex_pattern></search_files>"
}
func (s *stubSearchTool) EvaluationCriteria(int) []string { return nil }
func (s *stubSearchTool) RewardScale(int) []tool.RewardScale {
	return nil
}
func (s *stubSearchTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	s.calls++
	return "src/cli.py:12:def parse_args():", nil
}

func newTestExplorer(t *testing.T, proposeTexts []string) (*Explorer, *stubSearchTool) {
	t.Helper()

	broker := llmbroker.NewBroker("", 1)
	broker.Register("propose", &scriptedClient{texts: proposeTexts}, nil)

	search := &stubSearchTool{}
	registry := tool.NewRegistry()
	registry.Register(search)

	return &Explorer{
		Agent:      toolagent.NewAgent(broker, registry, "propose", "test-model"),
		Dispatcher: tool.NewDispatcher(registry, nil),
		MaxSteps:   3,
	}, search
}

func TestExplorerCollectsReadOnlyFindings(t *testing.T) {
	searchThenDone := []string{
		"<search_files><regex_pattern>def parse_args</regex_pattern></search_files>",
		// Proposing anything outside the read-only set ends the exploration.
		"<attempt_completion><result>found it</result></attempt_completion>",
	}
	e, search := newTestExplorer(t, searchThenDone)

	digest, err := e.Explore(context.Background(), "where is parse_args defined?")
	require.NoError(t, err)
	assert.Equal(t, 1, search.calls)
	assert.Contains(t, digest, "where is parse_args defined?")
	assert.Contains(t, digest, "src/cli.py:12")
}

func TestExplorerStopsAtMaxSteps(t *testing.T) {
	sameSearch := []string{"<search_files><regex_pattern>def parse_args</regex_pattern></search_files>"}
	e, search := newTestExplorer(t, sameSearch)

	_, err := e.Explore(context.Background(), "keep looking")
	require.NoError(t, err)
	assert.Equal(t, 3, search.calls)
}

func TestReadOnlyRegistryExcludesMutatingTools(t *testing.T) {
	registry := tool.NewRegistry()
	tool.RegisterMetaTools(registry)
	registry.Register(&stubSearchTool{})

	ro := ReadOnlyRegistry(registry)
	_, hasSearch := ro.Get(action.ToolSearchFiles)
	_, hasThink := ro.Get(action.ToolThink)
	_, hasCompletion := ro.Get(action.ToolAttemptCompletion)
	assert.True(t, hasSearch)
	assert.False(t, hasThink)
	assert.False(t, hasCompletion)
}
