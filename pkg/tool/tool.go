// Package tool implements the tool registry and dispatcher: a
// typed-tool-keyed registry over action.ToolType, each entry exposing a
// description/input-format/evaluation-rubric for the prompt builder plus an
// Invoke method that talks to the editor bridge or an MCP server. Dispatch
// runs resolve → validate → invoke → mask.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/opencodetree/codetree/pkg/action"
)

// Dispatch errors.
var (
	ErrUnknownTool     = errors.New("tool: unknown tool type")
	ErrWrongToolInput  = errors.New("tool: wrong input for tool type")
	ErrParseFailure    = errors.New("tool: failed to parse tool input")
	ErrLLMNotSupported = errors.New("tool: tool not supported for this model")
)

// RewardScale documents, for the reward rubric, how a tool's outcome
// should map onto the -100..100 scale — e.g. a CodeEdit that fails to apply
// should score very low regardless of intent, while a read-only search
// simply narrows what "good" looks like.
type RewardScale struct {
	MinValue    int
	MaxValue    int
	Description string
}

// Tool is implemented by every dispatchable tool. Description/InputFormat/
// EvaluationCriteria/RewardScale feed the prompt builder and reward
// generator; Invoke performs the actual side effect.
type Tool interface {
	Type() action.ToolType
	Description() string
	InputFormat() string
	EvaluationCriteria(trajectoryLength int) []string
	RewardScale(trajectoryLength int) []RewardScale
	Invoke(ctx context.Context, act action.Action) (observation string, err error)
}

// Registry holds every tool the current config enables, keyed by type.
type Registry struct {
	tools map[action.ToolType]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[action.ToolType]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Type()] = t
}

func (r *Registry) Get(t action.ToolType) (Tool, bool) {
	tool, ok := r.tools[t]
	return tool, ok
}

// All returns the registered tools in the canonical catalog order, so the
// prompt builder emits a stable tool listing across calls.
func (r *Registry) All() []Tool {
	out := make([]Tool, 0, len(r.tools))
	for _, tt := range action.AllToolTypes() {
		if t, ok := r.tools[tt]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Dispatcher normalizes an Action into a tool invocation, per the 9-step
// flow: normalize type, resolve+validate the tool exists, parse/validate
// the typed input fields, call, convert the result, and (for MCP results)
// mask anything sensitive before it reaches the trajectory.
type Dispatcher struct {
	registry *Registry
	masker   func(string) string
}

func NewDispatcher(registry *Registry, masker func(string) string) *Dispatcher {
	if masker == nil {
		masker = func(s string) string { return s }
	}
	return &Dispatcher{registry: registry, masker: masker}
}

// Dispatch resolves act.Type against the registry and invokes it, returning
// the (masked) observation text to attach to the resulting ActionNode.
func (d *Dispatcher) Dispatch(ctx context.Context, act action.Action) (string, error) {
	t, ok := d.registry.Get(act.Type)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTool, act.Type)
	}
	if err := validateInput(act); err != nil {
		return "", err
	}
	observation, err := t.Invoke(ctx, act)
	if err != nil {
		return "", err
	}
	return d.masker(observation), nil
}

// validateInput checks that the fields required by act.Type are actually
// populated, catching a malformed parse before it reaches the tool.
func validateInput(act action.Action) error {
	switch act.Type {
	case action.ToolListFiles:
		if act.Directory == "" {
			return fmt.Errorf("%w: list_files requires directory_path", ErrWrongToolInput)
		}
	case action.ToolFindFile, action.ToolSearchFiles:
		if act.Query == "" {
			return fmt.Errorf("%w: %s requires query", ErrWrongToolInput, act.Type)
		}
	case action.ToolReadFile, action.ToolGoToDefinition, action.ToolGoToReferences, action.ToolHover, action.ToolInlayHints, action.ToolFileDiagnostics:
		if act.FilePath == "" {
			return fmt.Errorf("%w: %s requires file_path", ErrWrongToolInput, act.Type)
		}
	case action.ToolCodeEdit:
		if act.FilePath == "" {
			return fmt.Errorf("%w: str_replace_editor requires path", ErrWrongToolInput)
		}
		switch act.EditorCommand {
		case action.EditorCommandView, action.EditorCommandCreate, action.EditorCommandStrReplace,
			action.EditorCommandInsert, action.EditorCommandUndoEdit:
		default:
			return fmt.Errorf("%w: str_replace_editor requires a valid command", ErrWrongToolInput)
		}
	case action.ToolRunCommand:
		if act.Command == "" {
			return fmt.Errorf("%w: execute_command requires command", ErrWrongToolInput)
		}
	case action.ToolMcp:
		if act.ServerName == "" || act.ToolName == "" {
			return fmt.Errorf("%w: mcp_tool requires server_name and tool_name", ErrWrongToolInput)
		}
	case action.ToolExplore:
		if act.Query == "" {
			return fmt.Errorf("%w: explore requires question", ErrWrongToolInput)
		}
	}
	return nil
}
