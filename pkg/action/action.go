// Package action defines the Action tagged union that flows through every
// ActionNode in the search tree: the tool an agent chose to invoke, and the
// typed arguments it gave it.
package action

import (
	"fmt"
	"strings"
)

// ToolType identifies which tool an Action invokes. The LLM only ever
// produces one of these via the XML action surface; ToolType is how the
// rest of the system (registry, selector bonuses, reward rubric) switches
// on it without string comparisons scattered everywhere. Values match the
// top-level XML tag the agent emits, byte for byte.
type ToolType string

const (
	ToolListFiles          ToolType = "list_files"
	ToolReadFile           ToolType = "read_file"
	ToolFindFile           ToolType = "find_file"
	ToolSearchFiles        ToolType = "search_files"
	ToolGoToDefinition     ToolType = "go_to_definition"
	ToolGoToReferences     ToolType = "go_to_references"
	ToolFileDiagnostics    ToolType = "file_diagnostics"
	ToolHover              ToolType = "hover"
	ToolInlayHints         ToolType = "inlay_hints"
	ToolQuickFix           ToolType = "quick_fix"
	ToolCodeEdit           ToolType = "str_replace_editor"
	ToolRunTests           ToolType = "test_runner"
	ToolRunCommand         ToolType = "execute_command"
	ToolDevtoolsScreenshot ToolType = "request_screenshot"
	ToolMcp                ToolType = "mcp_tool"
	ToolThink              ToolType = "think"
	ToolExplore            ToolType = "explore"
	ToolAttemptCompletion  ToolType = "attempt_completion"
)

// AllToolTypes lists every tool type the registry can dispatch, in the order
// they should appear in the tool catalog shown to the model.
func AllToolTypes() []ToolType {
	return []ToolType{
		ToolListFiles, ToolReadFile, ToolFindFile, ToolSearchFiles,
		ToolGoToDefinition, ToolGoToReferences, ToolFileDiagnostics,
		ToolHover, ToolInlayHints, ToolQuickFix,
		ToolCodeEdit, ToolRunTests, ToolRunCommand, ToolDevtoolsScreenshot,
		ToolMcp, ToolThink, ToolExplore, ToolAttemptCompletion,
	}
}

// EditorCommand is the sub-variant of a CodeEdit (str_replace_editor)
// action, mirroring Anthropic's text_editor tool command set.
type EditorCommand string

const (
	EditorCommandView       EditorCommand = "view"
	EditorCommandCreate     EditorCommand = "create"
	EditorCommandStrReplace EditorCommand = "str_replace"
	EditorCommandInsert     EditorCommand = "insert"
	EditorCommandUndoEdit   EditorCommand = "undo_edit"
)

// Action is the tagged union of everything an agent can do at a node. Only
// the fields relevant to Type are populated; the rest are zero. This mirrors
// the Action XML surface described in the editor protocol: one top-level
// tag per tool, attributes/children becoming the typed fields below.
type Action struct {
	Type ToolType

	// ListFiles
	Directory string
	Recursive bool

	// ReadFile (FilePath/StartLine/EndLine) / SearchFiles (Query/Directory/
	// PathGlob) / FindFile (Query only)
	Query         string
	PathGlob      string
	CaseSensitive bool
	StartLine     int
	EndLine       int

	// GoToDefinition / GoToReferences / Hover / InlayHints / QuickFix /
	// ReadFile / CodeEdit
	FilePath string
	Line     int
	Column   int

	// QuickFix
	DiagnosticIndex int

	// CodeEdit (str_replace_editor): EditorCommand selects which of the
	// remaining fields apply, following the view/create/str_replace/insert/
	// undo_edit sub-variants.
	EditorCommand EditorCommand
	FileText      string // create
	OldText       string // str_replace
	NewText       string // str_replace
	InsertLine    int    // insert
	DirectApply   bool

	// RunTests / RunCommand
	Command string
	Args    []string

	// Mcp
	ServerName string
	ToolName   string
	ToolArgs   map[string]any

	// Think
	Thought string

	// AttemptCompletion
	Summary string

	// RawXML is the original action block as emitted by the model, kept for
	// transcript replay and duplicate-action comparisons.
	RawXML string
}

// IsTerminal reports whether this action ends the trajectory at this node
// (attempt_completion is the only terminal tool type).
func (a Action) IsTerminal() bool {
	return a.Type == ToolAttemptCompletion
}

// Equal implements the "strict text equality" duplicate-detection
// convention for CodeEdit actions (and structural equality for the rest):
// two actions are duplicates only if every field that matters for that tool
// type matches exactly, byte for byte. This is the documented safe default —
// see DESIGN.md's Open Question resolution — because false-negative dedup
// (missing a real duplicate) only costs search efficiency, while
// false-positive dedup (collapsing two actions that actually differ) can
// hide a genuinely different edit behind a duplicate penalty.
func (a Action) Equal(other Action) bool {
	if a.Type != other.Type {
		return false
	}
	switch a.Type {
	case ToolListFiles:
		return a.Directory == other.Directory && a.Recursive == other.Recursive
	case ToolReadFile:
		return a.FilePath == other.FilePath && a.StartLine == other.StartLine && a.EndLine == other.EndLine
	case ToolFindFile:
		return a.Query == other.Query
	case ToolSearchFiles:
		return a.Query == other.Query && a.Directory == other.Directory &&
			a.PathGlob == other.PathGlob && a.CaseSensitive == other.CaseSensitive
	case ToolCodeEdit:
		return a.EditorCommand == other.EditorCommand &&
			a.FilePath == other.FilePath &&
			a.FileText == other.FileText &&
			a.OldText == other.OldText &&
			a.NewText == other.NewText &&
			a.InsertLine == other.InsertLine
	case ToolGoToDefinition, ToolGoToReferences, ToolHover, ToolInlayHints:
		return a.FilePath == other.FilePath && a.Line == other.Line && a.Column == other.Column
	case ToolFileDiagnostics:
		return a.FilePath == other.FilePath
	case ToolQuickFix:
		return a.FilePath == other.FilePath && a.Line == other.Line && a.DiagnosticIndex == other.DiagnosticIndex
	case ToolRunTests:
		return strings.Join(a.Args, "\x00") == strings.Join(other.Args, "\x00")
	case ToolRunCommand:
		return a.Command == other.Command && strings.Join(a.Args, "\x00") == strings.Join(other.Args, "\x00")
	case ToolMcp:
		return a.ServerName == other.ServerName && a.ToolName == other.ToolName && fmt.Sprintf("%v", a.ToolArgs) == fmt.Sprintf("%v", other.ToolArgs)
	case ToolThink:
		return a.Thought == other.Thought
	case ToolExplore:
		return a.Query == other.Query
	case ToolAttemptCompletion:
		return a.Summary == other.Summary && a.Command == other.Command
	case ToolDevtoolsScreenshot:
		return true
	default:
		return a.RawXML == other.RawXML
	}
}

// String renders a short human-readable description, used in logs and the
// printed tree (see scheduler's PrintTree).
func (a Action) String() string {
	switch a.Type {
	case ToolListFiles:
		return fmt.Sprintf("list_files(%s)", a.Directory)
	case ToolReadFile:
		return fmt.Sprintf("read_file(%s)", a.FilePath)
	case ToolFindFile:
		return fmt.Sprintf("find_file(%q)", a.Query)
	case ToolSearchFiles:
		return fmt.Sprintf("search_files(%q)", a.Query)
	case ToolCodeEdit:
		return fmt.Sprintf("str_replace_editor(%s/%s)", a.EditorCommand, a.FilePath)
	case ToolMcp:
		return fmt.Sprintf("mcp_tool(%s/%s)", a.ServerName, a.ToolName)
	case ToolExplore:
		return fmt.Sprintf("explore(%q)", a.Query)
	case ToolAttemptCompletion:
		return "attempt_completion"
	default:
		return string(a.Type)
	}
}
