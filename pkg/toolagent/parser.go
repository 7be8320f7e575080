// Package toolagent implements the tool-use agent: it
// assembles the system/user prompt for one "pick the next action" call and
// parses the model's raw text response back into a typed action.Action.
//
// Parsing is deliberately forgiving: call the model, scan its response for
// the first recognizable tag block, and fall back to a format-error
// observation rather than erroring out. The action surface is the
// XML-tag-per-tool protocol documented by each tool.InputFormat() — one
// top-level tag per action.ToolType, its arguments as child tags.
package toolagent

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opencodetree/codetree/pkg/action"
)

// ErrMalformedAction is returned when no recognizable top-level tool tag was
// found anywhere in the model's output.
var ErrMalformedAction = fmt.Errorf("toolagent: no recognizable action tag found in model output")

var tagRe = regexp.MustCompile(`<(\w+)>`)

// ExtractAction scans text for the first top-level tag matching a known
// action.ToolType and parses its body into an Action. It is deliberately
// forgiving: surrounding prose (a "Thought" preamble, trailing commentary)
// is ignored, and only the first recognized tag block is used.
func ExtractAction(text string) (action.Action, error) {
	for _, m := range tagRe.FindAllStringSubmatch(text, -1) {
		tag := m[1]
		tt := action.ToolType(tag)
		if !isKnownToolType(tt) {
			continue
		}
		body, ok := extractBlock(text, tag)
		if !ok {
			continue
		}
		act, err := parseBody(tt, body)
		if err != nil {
			return action.Action{}, err
		}
		act.RawXML = fmt.Sprintf("<%s>%s</%s>", tag, body, tag)
		return act, nil
	}
	return action.Action{}, ErrMalformedAction
}

func isKnownToolType(tt action.ToolType) bool {
	for _, known := range action.AllToolTypes() {
		if known == tt {
			return true
		}
	}
	return false
}

// extractBlock returns the text between the first <tag> and its matching
// </tag>, non-greedy, tolerating no nested same-name tags (the action
// surface never nests a tool tag inside another).
func extractBlock(text, tag string) (string, bool) {
	open := "<" + tag + ">"
	close_ := "</" + tag + ">"
	start := strings.Index(text, open)
	if start == -1 {
		return "", false
	}
	start += len(open)
	end := strings.Index(text[start:], close_)
	if end == -1 {
		return "", false
	}
	return text[start : start+end], true
}

// childTag extracts the text content of a single, non-nested child tag.
func childTag(body, tag string) string {
	v, _ := extractBlock(body, tag)
	return strings.TrimSpace(v)
}

func childTagInt(body, tag string, def int) int {
	v := childTag(body, tag)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func childTagBool(body, tag string) bool {
	v := strings.ToLower(childTag(body, tag))
	return v == "true" || v == "1" || v == "yes"
}

func parseBody(tt action.ToolType, body string) (action.Action, error) {
	act := action.Action{Type: tt}
	switch tt {
	case action.ToolListFiles:
		act.Directory = childTag(body, "directory_path")
		act.Recursive = childTagBool(body, "recursive")
	case action.ToolReadFile:
		act.FilePath = childTag(body, "fs_file_path")
		act.StartLine = childTagInt(body, "start_line", 0)
		act.EndLine = childTagInt(body, "end_line", 0)
	case action.ToolFindFile:
		act.Query = childTag(body, "pattern")
	case action.ToolSearchFiles:
		act.Query = childTag(body, "regex_pattern")
		act.Directory = childTag(body, "directory_path")
		act.PathGlob = childTag(body, "file_pattern")
	case action.ToolGoToDefinition, action.ToolGoToReferences, action.ToolHover, action.ToolInlayHints:
		act.FilePath = childTag(body, "file_path")
		act.Line = childTagInt(body, "line", 0)
		act.Column = childTagInt(body, "column", 0)
	case action.ToolFileDiagnostics:
		act.FilePath = childTag(body, "file_path")
	case action.ToolQuickFix:
		act.FilePath = childTag(body, "file_path")
		act.Line = childTagInt(body, "line", 0)
		act.DiagnosticIndex = childTagInt(body, "diagnostic_index", 0)
	case action.ToolCodeEdit:
		act.EditorCommand = action.EditorCommand(childTag(body, "command"))
		act.FilePath = childTag(body, "path")
		act.FileText = childTag(body, "file_text")
		act.OldText = childTag(body, "old_str")
		act.NewText = childTag(body, "new_str")
		act.InsertLine = childTagInt(body, "insert_line", 0)
		act.DirectApply = childTagBool(body, "direct_apply")
	case action.ToolRunTests:
		act.Args = splitLines(childTag(body, "fs_file_paths"))
	case action.ToolRunCommand:
		act.Command = childTag(body, "command")
	case action.ToolDevtoolsScreenshot:
		// no fields
	case action.ToolMcp:
		act.ServerName = childTag(body, "server_name")
		act.ToolName = childTag(body, "tool_name")
		if raw := childTag(body, "tool_args"); raw != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return action.Action{}, fmt.Errorf("toolagent: invalid tool_args JSON: %w", err)
			}
			act.ToolArgs = args
		}
	case action.ToolThink:
		act.Thought = childTag(body, "thought")
	case action.ToolExplore:
		act.Query = childTag(body, "question")
	case action.ToolAttemptCompletion:
		act.Summary = childTag(body, "result")
		if act.Summary == "" {
			// Tolerate the older <summary> child some models emit.
			act.Summary = childTag(body, "summary")
		}
		act.Command = childTag(body, "command")
	default:
		return action.Action{}, fmt.Errorf("toolagent: unhandled tool type %s", tt)
	}
	return act, nil
}

// splitLines splits the test_runner tool's fs_file_paths child, which the
// action XML surface documents as "one_per_line", into its path list.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
