package toolagent

import (
	"encoding/json"
	"fmt"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/tool"
)

// JSON mode is the alternative action surface: instead of emitting an XML
// tag block in free text, the model invokes the provider's native tool-call
// channel and the arguments arrive as a JSON object. Argument keys match
// the XML child tags one for one, so the two surfaces describe the same
// actions.

// ToolDefs converts every registered tool into the provider-neutral
// definition the broker advertises in a JSON-mode request.
func ToolDefs(registry *tool.Registry) []llmbroker.ToolDef {
	var defs []llmbroker.ToolDef
	for _, t := range registry.All() {
		defs = append(defs, llmbroker.ToolDef{
			Name:        string(t.Type()),
			Description: t.Description(),
			InputSchema: schemaFor(t.Type()),
		})
	}
	return defs
}

func props(kv ...string) map[string]any {
	p := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i]] = map[string]any{"type": kv[i+1]}
	}
	return p
}

func objectSchema(required []string, kv ...string) map[string]any {
	s := map[string]any{"type": "object", "properties": props(kv...)}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// schemaFor returns the JSON input schema for one tool type. Kept in one
// switch so the schema and ActionFromToolCall's decoding stay side by side.
func schemaFor(tt action.ToolType) map[string]any {
	switch tt {
	case action.ToolListFiles:
		return objectSchema([]string{"directory_path"}, "directory_path", "string", "recursive", "boolean")
	case action.ToolReadFile:
		return objectSchema([]string{"fs_file_path"}, "fs_file_path", "string", "start_line", "integer", "end_line", "integer")
	case action.ToolFindFile:
		return objectSchema([]string{"pattern"}, "pattern", "string")
	case action.ToolSearchFiles:
		return objectSchema([]string{"regex_pattern"}, "regex_pattern", "string", "directory_path", "string", "file_pattern", "string")
	case action.ToolGoToDefinition, action.ToolGoToReferences, action.ToolHover, action.ToolInlayHints:
		return objectSchema([]string{"file_path", "line", "column"}, "file_path", "string", "line", "integer", "column", "integer")
	case action.ToolFileDiagnostics:
		return objectSchema([]string{"file_path"}, "file_path", "string")
	case action.ToolQuickFix:
		return objectSchema([]string{"file_path", "line"}, "file_path", "string", "line", "integer", "diagnostic_index", "integer")
	case action.ToolCodeEdit:
		return objectSchema([]string{"command", "path"},
			"command", "string", "path", "string", "file_text", "string",
			"old_str", "string", "new_str", "string", "insert_line", "integer", "direct_apply", "boolean")
	case action.ToolRunTests:
		s := map[string]any{"type": "object", "properties": map[string]any{
			"fs_file_paths": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		}, "required": []string{"fs_file_paths"}}
		return s
	case action.ToolRunCommand:
		return objectSchema([]string{"command"}, "command", "string")
	case action.ToolDevtoolsScreenshot:
		return objectSchema(nil)
	case action.ToolMcp:
		s := objectSchema([]string{"server_name", "tool_name"}, "server_name", "string", "tool_name", "string")
		s["properties"].(map[string]any)["tool_args"] = map[string]any{"type": "object"}
		return s
	case action.ToolThink:
		return objectSchema([]string{"thought"}, "thought", "string")
	case action.ToolExplore:
		return objectSchema([]string{"question"}, "question", "string")
	case action.ToolAttemptCompletion:
		return objectSchema([]string{"result"}, "result", "string", "command", "string")
	default:
		return objectSchema(nil)
	}
}

// ActionFromToolCall decodes a provider tool call (name + raw JSON args)
// into an Action, the JSON-mode counterpart of ExtractAction.
func ActionFromToolCall(name, argsJSON string) (action.Action, error) {
	tt := action.ToolType(name)
	if !isKnownToolType(tt) {
		return action.Action{}, fmt.Errorf("%w (tool call %q)", ErrMalformedAction, name)
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return action.Action{}, fmt.Errorf("toolagent: invalid tool call arguments for %s: %w", name, err)
		}
	}

	act := action.Action{Type: tt, RawXML: fmt.Sprintf("%s(%s)", name, argsJSON)}
	switch tt {
	case action.ToolListFiles:
		act.Directory = argString(args, "directory_path")
		act.Recursive = argBool(args, "recursive")
	case action.ToolReadFile:
		act.FilePath = argString(args, "fs_file_path")
		act.StartLine = argInt(args, "start_line")
		act.EndLine = argInt(args, "end_line")
	case action.ToolFindFile:
		act.Query = argString(args, "pattern")
	case action.ToolSearchFiles:
		act.Query = argString(args, "regex_pattern")
		act.Directory = argString(args, "directory_path")
		act.PathGlob = argString(args, "file_pattern")
	case action.ToolGoToDefinition, action.ToolGoToReferences, action.ToolHover, action.ToolInlayHints:
		act.FilePath = argString(args, "file_path")
		act.Line = argInt(args, "line")
		act.Column = argInt(args, "column")
	case action.ToolFileDiagnostics:
		act.FilePath = argString(args, "file_path")
	case action.ToolQuickFix:
		act.FilePath = argString(args, "file_path")
		act.Line = argInt(args, "line")
		act.DiagnosticIndex = argInt(args, "diagnostic_index")
	case action.ToolCodeEdit:
		act.EditorCommand = action.EditorCommand(argString(args, "command"))
		act.FilePath = argString(args, "path")
		act.FileText = argString(args, "file_text")
		act.OldText = argString(args, "old_str")
		act.NewText = argString(args, "new_str")
		act.InsertLine = argInt(args, "insert_line")
		act.DirectApply = argBool(args, "direct_apply")
	case action.ToolRunTests:
		if raw, ok := args["fs_file_paths"].([]any); ok {
			for _, v := range raw {
				if s, ok := v.(string); ok && s != "" {
					act.Args = append(act.Args, s)
				}
			}
		}
	case action.ToolRunCommand:
		act.Command = argString(args, "command")
	case action.ToolDevtoolsScreenshot:
		// no fields
	case action.ToolMcp:
		act.ServerName = argString(args, "server_name")
		act.ToolName = argString(args, "tool_name")
		if m, ok := args["tool_args"].(map[string]any); ok {
			act.ToolArgs = m
		}
	case action.ToolThink:
		act.Thought = argString(args, "thought")
	case action.ToolExplore:
		act.Query = argString(args, "question")
	case action.ToolAttemptCompletion:
		act.Summary = argString(args, "result")
		act.Command = argString(args, "command")
	}
	return act, nil
}

func argString(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

func argBool(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}
