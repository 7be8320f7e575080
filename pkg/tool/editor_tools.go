package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/editor"
)

// editorTool is the common shape of every tool that just forwards to one
// editor.Bridge endpoint; concrete tools embed it and supply Type/
// Description/invoke.
type editorTool struct {
	bridge *editor.Bridge
}

func toPosition(line, column int) editor.Position {
	return editor.Position{Line: line, Column: column}
}

// --- list_files / read_file / find_file / search_files ---

type ListFilesTool struct{ editorTool }

func NewListFilesTool(b *editor.Bridge) *ListFilesTool { return &ListFilesTool{editorTool{b}} }
func (t *ListFilesTool) Type() action.ToolType         { return action.ToolListFiles }
func (t *ListFilesTool) Description() string {
	return "List files and directories under a directory, optionally recursive."
}
func (t *ListFilesTool) InputFormat() string {
	return "<list_files><directory_path>…</directory_path><recursive>true|false</recursive></list_files>"
}
func (t *ListFilesTool) EvaluationCriteria(int) []string {
	return []string{"Did the listing help locate files relevant to the task?"}
}
func (t *ListFilesTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -20, MaxValue: 40, Description: "Exploratory search; modest reward for relevance"}}
}
func (t *ListFilesTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	cmd := fmt.Sprintf("find %s -maxdepth 1", shellQuote(act.Directory))
	if act.Recursive {
		cmd = fmt.Sprintf("find %s", shellQuote(act.Directory))
	}
	resp, err := t.bridge.RunCommand(ctx, cmd, "", 0)
	if err != nil {
		return "", err
	}
	if resp.Stdout == "" {
		return "no entries found", nil
	}
	return resp.Stdout, nil
}

// shellQuote single-quotes s for safe interpolation into a shell command
// run via the editor's /run_command endpoint.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

type ReadFileTool struct{ editorTool }

func NewReadFileTool(b *editor.Bridge) *ReadFileTool { return &ReadFileTool{editorTool{b}} }
func (t *ReadFileTool) Type() action.ToolType        { return action.ToolReadFile }
func (t *ReadFileTool) Description() string {
	return "Read a file's contents, optionally a line range."
}
func (t *ReadFileTool) InputFormat() string {
	return "<read_file><fs_file_path>…</fs_file_path><start_line>?</start_line><end_line>?</end_line></read_file>"
}
func (t *ReadFileTool) EvaluationCriteria(int) []string {
	return []string{"Did reading this file surface the context the task needs?"}
}
func (t *ReadFileTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -10, MaxValue: 30, Description: "Exploratory read"}}
}
func (t *ReadFileTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.FileOpen(ctx, act.FilePath, nil)
	if err != nil {
		return "", err
	}
	if !resp.Exists {
		return fmt.Sprintf("no such file %q", act.FilePath), nil
	}
	if act.StartLine == 0 && act.EndLine == 0 {
		return resp.Contents, nil
	}
	return sliceLines(resp.Contents, act.StartLine, act.EndLine), nil
}

// sliceLines returns the 1-indexed, inclusive [start,end] line range of
// contents. A zero bound means "to the beginning"/"to the end."
func sliceLines(contents string, start, end int) string {
	lines := strings.Split(contents, "\n")
	if start <= 0 {
		start = 1
	}
	if end <= 0 || end > len(lines) {
		end = len(lines)
	}
	if start > len(lines) || start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

type FindFileTool struct{ editorTool }

func NewFindFileTool(b *editor.Bridge) *FindFileTool { return &FindFileTool{editorTool{b}} }
func (t *FindFileTool) Type() action.ToolType        { return action.ToolFindFile }
func (t *FindFileTool) Description() string {
	return "Find files by name glob across the repository."
}
func (t *FindFileTool) InputFormat() string { return "<find_file><pattern>glob</pattern></find_file>" }
func (t *FindFileTool) EvaluationCriteria(int) []string {
	return []string{"Did the search narrow down to files relevant to the task?"}
}
func (t *FindFileTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -20, MaxValue: 40, Description: "Exploratory search; modest reward for relevance"}}
}
func (t *FindFileTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.RunCommand(ctx, fmt.Sprintf("find . -name %s", shellQuote(act.Query)), "", 0)
	if err != nil {
		return "", err
	}
	if resp.Stdout == "" {
		return fmt.Sprintf("no files matched %q", act.Query), nil
	}
	return resp.Stdout, nil
}

type SearchFilesTool struct{ editorTool }

func NewSearchFilesTool(b *editor.Bridge) *SearchFilesTool { return &SearchFilesTool{editorTool{b}} }
func (t *SearchFilesTool) Type() action.ToolType           { return action.ToolSearchFiles }
func (t *SearchFilesTool) Description() string             { return "Search file contents by regex." }
func (t *SearchFilesTool) InputFormat() string {
	return "<search_files><regex_pattern>…</regex_pattern><directory_path>?</directory_path><file_pattern>?</file_pattern></search_files>"
}
func (t *SearchFilesTool) EvaluationCriteria(int) []string {
	return []string{"Did the search surface the definition/usage the task needs?"}
}
func (t *SearchFilesTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -20, MaxValue: 40, Description: "Exploratory search; modest reward for relevance"}}
}
func (t *SearchFilesTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	dir := act.Directory
	if dir == "" {
		dir = "."
	}
	cmd := fmt.Sprintf("grep -rn %s %s", shellQuote(act.Query), shellQuote(dir))
	if act.PathGlob != "" {
		cmd = fmt.Sprintf("grep -rn --include=%s %s %s", shellQuote(act.PathGlob), shellQuote(act.Query), shellQuote(dir))
	}
	resp, err := t.bridge.RunCommand(ctx, cmd, "", 0)
	if err != nil {
		return "", err
	}
	if resp.Stdout == "" {
		return "no matches found", nil
	}
	return resp.Stdout, nil
}

// --- go_to_definition / go_to_references ---

type GoToDefinitionTool struct{ editorTool }

func NewGoToDefinitionTool(b *editor.Bridge) *GoToDefinitionTool {
	return &GoToDefinitionTool{editorTool{b}}
}
func (t *GoToDefinitionTool) Type() action.ToolType { return action.ToolGoToDefinition }
func (t *GoToDefinitionTool) Description() string   { return "Jump to a symbol's definition." }
func (t *GoToDefinitionTool) InputFormat() string {
	return "<go_to_definition><file_path/><line/><column/></go_to_definition>"
}
func (t *GoToDefinitionTool) EvaluationCriteria(int) []string {
	return []string{"Did this resolve to the symbol relevant to the task?"}
}
func (t *GoToDefinitionTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -10, MaxValue: 30, Description: "Navigation aid"}}
}
func (t *GoToDefinitionTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.GoToDefinition(ctx, act.FilePath, toPosition(act.Line, act.Column))
	if err != nil {
		return "", err
	}
	return formatLocations(resp.Definitions), nil
}

type GoToReferencesTool struct{ editorTool }

func NewGoToReferencesTool(b *editor.Bridge) *GoToReferencesTool {
	return &GoToReferencesTool{editorTool{b}}
}
func (t *GoToReferencesTool) Type() action.ToolType { return action.ToolGoToReferences }
func (t *GoToReferencesTool) Description() string   { return "Find all references to a symbol." }
func (t *GoToReferencesTool) InputFormat() string {
	return "<go_to_references><file_path/><line/><column/></go_to_references>"
}
func (t *GoToReferencesTool) EvaluationCriteria(int) []string {
	return []string{"Did this find the call sites the task needs to update?"}
}
func (t *GoToReferencesTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -10, MaxValue: 30, Description: "Navigation aid"}}
}
func (t *GoToReferencesTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.GoToReferences(ctx, act.FilePath, toPosition(act.Line, act.Column))
	if err != nil {
		return "", err
	}
	return formatLocations(resp.ReferenceLocations), nil
}

func formatLocations(locs []editor.FileRange) string {
	if len(locs) == 0 {
		return "no locations found"
	}
	var b strings.Builder
	for _, l := range locs {
		fmt.Fprintf(&b, "%s:%d:%d\n", l.FilePath, l.Range.Start.Line, l.Range.Start.Column)
	}
	return b.String()
}

// --- file_diagnostics / hover / inlay_hints ---

type FileDiagnosticsTool struct{ editorTool }

func NewFileDiagnosticsTool(b *editor.Bridge) *FileDiagnosticsTool {
	return &FileDiagnosticsTool{editorTool{b}}
}
func (t *FileDiagnosticsTool) Type() action.ToolType { return action.ToolFileDiagnostics }
func (t *FileDiagnosticsTool) Description() string {
	return "List compiler/linter diagnostics for a file."
}
func (t *FileDiagnosticsTool) InputFormat() string {
	return "<file_diagnostics><file_path/></file_diagnostics>"
}
func (t *FileDiagnosticsTool) EvaluationCriteria(int) []string {
	return []string{"Did checking diagnostics catch a real problem before or after an edit?"}
}
func (t *FileDiagnosticsTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -10, MaxValue: 20, Description: "Verification step"}}
}
func (t *FileDiagnosticsTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.FileDiagnostics(ctx, editor.FileDiagnosticsRequest{
		FilePath:       act.FilePath,
		WithEnrichment: true,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Diagnostics) == 0 {
		return "no diagnostics", nil
	}
	var b strings.Builder
	for _, d := range resp.Diagnostics {
		fmt.Fprintf(&b, "%d:%d %s\n", d.Range.Start.Line, d.Range.Start.Column, d.Message)
		for _, label := range d.QuickFixLabels {
			fmt.Fprintf(&b, "  quick fix: %s\n", label)
		}
	}
	return b.String(), nil
}

type HoverTool struct{ editorTool }

func NewHoverTool(b *editor.Bridge) *HoverTool { return &HoverTool{editorTool{b}} }
func (t *HoverTool) Type() action.ToolType     { return action.ToolHover }
func (t *HoverTool) Description() string       { return "Show type/doc info at a position." }
func (t *HoverTool) InputFormat() string       { return "<hover><file_path/><line/><column/></hover>" }
func (t *HoverTool) EvaluationCriteria(int) []string {
	return []string{"Did this clarify a type or contract needed for the edit?"}
}
func (t *HoverTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -10, MaxValue: 20, Description: "Navigation aid"}}
}
func (t *HoverTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.Hover(ctx, act.FilePath, toPosition(act.Line, act.Column))
	if err != nil {
		return "", err
	}
	return resp.Contents, nil
}

type InlayHintsTool struct{ editorTool }

func NewInlayHintsTool(b *editor.Bridge) *InlayHintsTool { return &InlayHintsTool{editorTool{b}} }
func (t *InlayHintsTool) Type() action.ToolType          { return action.ToolInlayHints }
func (t *InlayHintsTool) Description() string            { return "Show inferred type hints in a range." }
func (t *InlayHintsTool) InputFormat() string {
	return "<inlay_hints><file_path/><line/><column/></inlay_hints>"
}
func (t *InlayHintsTool) EvaluationCriteria(int) []string {
	return []string{"Did the inferred types help avoid a type error?"}
}
func (t *InlayHintsTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -10, MaxValue: 15, Description: "Navigation aid"}}
}
func (t *InlayHintsTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	r := editor.Range{Start: toPosition(act.Line, act.Column), End: toPosition(act.Line, act.Column)}
	resp, err := t.bridge.InlayHints(ctx, act.FilePath, r)
	if err != nil {
		return "", err
	}
	if len(resp.Hints) == 0 {
		return "no inlay hints", nil
	}
	var b strings.Builder
	for _, h := range resp.Hints {
		fmt.Fprintf(&b, "%d:%d %s\n", h.Position.Line, h.Position.Column, h.Label)
	}
	return b.String(), nil
}

// --- quick_fix ---

type QuickFixTool struct{ editorTool }

func NewQuickFixTool(b *editor.Bridge) *QuickFixTool { return &QuickFixTool{editorTool{b}} }
func (t *QuickFixTool) Type() action.ToolType        { return action.ToolQuickFix }
func (t *QuickFixTool) Description() string          { return "Apply an editor-provided quick fix." }
func (t *QuickFixTool) InputFormat() string {
	return "<quick_fix><file_path/><line/><diagnostic_index/></quick_fix>"
}
func (t *QuickFixTool) EvaluationCriteria(int) []string {
	return []string{"Did the chosen quick fix resolve the diagnostic without introducing new ones?"}
}
func (t *QuickFixTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -30, MaxValue: 50, Description: "Direct code modification"}}
}
func (t *QuickFixTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	pos := toPosition(act.Line, act.Column)
	r := editor.Range{Start: pos, End: pos}
	opts, err := t.bridge.SelectQuickFix(ctx, act.FilePath, r, fmt.Sprintf("qf-%d", act.DiagnosticIndex))
	if err != nil {
		return "", err
	}
	if act.DiagnosticIndex >= len(opts.Options) {
		return "", fmt.Errorf("%w: diagnostic_index out of range", ErrWrongToolInput)
	}
	chosen := opts.Options[act.DiagnosticIndex]
	invoke, err := t.bridge.InvokeQuickFix(ctx, act.FilePath, chosen.Index, fmt.Sprintf("qf-%d", act.DiagnosticIndex))
	if err != nil {
		return "", err
	}
	if !invoke.Success {
		return "", fmt.Errorf("quick fix %q not applied", chosen.Label)
	}
	return fmt.Sprintf("applied quick fix %q", chosen.Label), nil
}

// --- str_replace_editor (code_edit) ---

// CodeEditTool keeps a per-file stack of pre-edit snapshots so undo_edit
// can restore the previous content. The stack is per session (the editor's
// working copy is shared across tree branches, so edit order — and
// therefore undo order — is global to the session, not per branch).
type CodeEditTool struct {
	editorTool
	mu      sync.Mutex
	history map[string][]string
}

func NewCodeEditTool(b *editor.Bridge) *CodeEditTool {
	return &CodeEditTool{editorTool: editorTool{b}, history: make(map[string][]string)}
}
func (t *CodeEditTool) Type() action.ToolType { return action.ToolCodeEdit }
func (t *CodeEditTool) Description() string {
	return "Edit, create, view, or undo edits on a file using Anthropic's text-editor sub-commands: view, create, str_replace, insert, undo_edit."
}
func (t *CodeEditTool) InputFormat() string {
	return "<str_replace_editor><command>view|create|str_replace|insert|undo_edit</command><path>…</path>…</str_replace_editor>"
}
func (t *CodeEditTool) EvaluationCriteria(int) []string {
	return []string{"Did the edit apply cleanly and move the codebase toward the goal?", "Did it introduce new diagnostics?"}
}
func (t *CodeEditTool) RewardScale(int) []RewardScale {
	return []RewardScale{
		{MinValue: -100, MaxValue: -1, Description: "Edit rejected or broke the build"},
		{MinValue: 0, MaxValue: 100, Description: "Edit applied and is correct progress toward the task"},
	}
}

// Invoke dispatches on act.EditorCommand. view reads the current content
// (optionally sliced). create/str_replace/insert compute the full edited
// file text locally and send it through apply_edits, which replaces the
// selected range wholesale — the editor never sees old/new text pairs, only
// the resulting content. Each mutation snapshots the file first so
// undo_edit can re-apply the previous content the same way.
func (t *CodeEditTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	switch act.EditorCommand {
	case action.EditorCommandView:
		resp, err := t.bridge.FileOpen(ctx, act.FilePath, nil)
		if err != nil {
			return "", err
		}
		if !resp.Exists {
			return fmt.Sprintf("no such file %q", act.FilePath), nil
		}
		if act.StartLine == 0 && act.EndLine == 0 {
			return resp.Contents, nil
		}
		return sliceLines(resp.Contents, act.StartLine, act.EndLine), nil
	case action.EditorCommandCreate:
		// Snapshot whatever is there now; creating over a missing file
		// records an empty snapshot, so undo restores an empty file.
		prior := ""
		if resp, err := t.bridge.FileOpen(ctx, act.FilePath, nil); err == nil && resp.Exists {
			prior = resp.Contents
		}
		if err := t.applyFullContent(ctx, act.FilePath, act.FileText, true); err != nil {
			return "", err
		}
		t.pushSnapshot(act.FilePath, prior)
		return fmt.Sprintf("created %s (%d bytes)", act.FilePath, len(act.FileText)), nil
	case action.EditorCommandStrReplace:
		resp, err := t.bridge.FileOpen(ctx, act.FilePath, nil)
		if err != nil {
			return "", err
		}
		if !resp.Exists {
			return "", fmt.Errorf("%w: no such file %q", ErrWrongToolInput, act.FilePath)
		}
		switch strings.Count(resp.Contents, act.OldText) {
		case 0:
			return "", fmt.Errorf("%w: old_str not found in %s", ErrWrongToolInput, act.FilePath)
		case 1:
		default:
			return "", fmt.Errorf("%w: old_str is not unique in %s", ErrWrongToolInput, act.FilePath)
		}
		edited := strings.Replace(resp.Contents, act.OldText, act.NewText, 1)
		if err := t.applyFullContent(ctx, act.FilePath, edited, act.DirectApply); err != nil {
			return "", err
		}
		t.pushSnapshot(act.FilePath, resp.Contents)
		return fmt.Sprintf("edit applied to %s\n-%s\n+%s", act.FilePath, act.OldText, act.NewText), nil
	case action.EditorCommandInsert:
		resp, err := t.bridge.FileOpen(ctx, act.FilePath, nil)
		if err != nil {
			return "", err
		}
		if !resp.Exists {
			return "", fmt.Errorf("%w: no such file %q", ErrWrongToolInput, act.FilePath)
		}
		lines := strings.Split(resp.Contents, "\n")
		at := act.InsertLine
		if at < 0 || at > len(lines) {
			return "", fmt.Errorf("%w: insert_line %d out of range", ErrWrongToolInput, at)
		}
		edited := strings.Join(append(lines[:at:at], append([]string{act.NewText}, lines[at:]...)...), "\n")
		if err := t.applyFullContent(ctx, act.FilePath, edited, act.DirectApply); err != nil {
			return "", err
		}
		t.pushSnapshot(act.FilePath, resp.Contents)
		return fmt.Sprintf("inserted after line %d of %s\n+%s", at, act.FilePath, act.NewText), nil
	case action.EditorCommandUndoEdit:
		prior, ok := t.popSnapshot(act.FilePath)
		if !ok {
			return "", fmt.Errorf("%w: no edit history for %s", ErrWrongToolInput, act.FilePath)
		}
		if err := t.applyFullContent(ctx, act.FilePath, prior, act.DirectApply); err != nil {
			// Restore the snapshot so a transient apply failure doesn't
			// burn the undo entry.
			t.pushSnapshot(act.FilePath, prior)
			return "", err
		}
		return fmt.Sprintf("reverted last edit to %s (%d bytes restored)", act.FilePath, len(prior)), nil
	default:
		return "", fmt.Errorf("%w: unknown str_replace_editor command %q", ErrWrongToolInput, act.EditorCommand)
	}
}

func (t *CodeEditTool) pushSnapshot(filePath, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.history[filePath] = append(t.history[filePath], content)
}

func (t *CodeEditTool) popSnapshot(filePath string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stack := t.history[filePath]
	if len(stack) == 0 {
		return "", false
	}
	content := stack[len(stack)-1]
	t.history[filePath] = stack[:len(stack)-1]
	return content, true
}

// applyFullContent sends content as a whole-file replacement through
// apply_edits, selecting the full range of the edited text.
func (t *CodeEditTool) applyFullContent(ctx context.Context, filePath, content string, direct bool) error {
	lines := strings.Split(content, "\n")
	last := len(lines) - 1
	resp, err := t.bridge.ApplyEdits(ctx, editor.ApplyEditsRequest{
		FilePath:      filePath,
		EditedContent: content,
		SelectedRange: editor.Range{
			Start: editor.Position{Line: 0, Column: 0},
			End:   editor.Position{Line: last, Column: len(lines[last])},
		},
		ApplyDirectly: direct,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("apply_edits rejected for %s", filePath)
	}
	return nil
}

// --- test_runner / execute_command ---

type RunTestsTool struct{ editorTool }

func NewRunTestsTool(b *editor.Bridge) *RunTestsTool { return &RunTestsTool{editorTool{b}} }
func (t *RunTestsTool) Type() action.ToolType        { return action.ToolRunTests }
func (t *RunTestsTool) Description() string {
	return "Run the repository's test suite against one or more file paths."
}
func (t *RunTestsTool) InputFormat() string {
	return "<test_runner><fs_file_paths>one_per_line</fs_file_paths></test_runner>"
}
func (t *RunTestsTool) EvaluationCriteria(int) []string {
	return []string{"Do the tests pass after the edits so far?"}
}
func (t *RunTestsTool) RewardScale(int) []RewardScale {
	return []RewardScale{
		{MinValue: -80, MaxValue: -1, Description: "Tests fail"},
		{MinValue: 50, MaxValue: 100, Description: "Tests pass, strong evidence of correctness"},
	}
}
func (t *RunTestsTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.RunTests(ctx, act.Args, "")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("exit=%d\n%s", resp.ExitCode, resp.TestOutput), nil
}

type RunCommandTool struct{ editorTool }

func NewRunCommandTool(b *editor.Bridge) *RunCommandTool { return &RunCommandTool{editorTool{b}} }
func (t *RunCommandTool) Type() action.ToolType          { return action.ToolRunCommand }
func (t *RunCommandTool) Description() string            { return "Run an arbitrary shell command in the repo." }
func (t *RunCommandTool) InputFormat() string {
	return "<execute_command><command>…</command></execute_command>"
}
func (t *RunCommandTool) EvaluationCriteria(int) []string {
	return []string{"Was this command necessary and did it produce useful signal?"}
}
func (t *RunCommandTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -20, MaxValue: 30, Description: "General-purpose shell step"}}
}
func (t *RunCommandTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	cmd := act.Command
	if len(act.Args) > 0 {
		cmd = strings.TrimSpace(cmd + " " + strings.Join(act.Args, " "))
	}
	resp, err := t.bridge.RunCommand(ctx, cmd, "", 0)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("exit=%d\n%s\n%s", resp.ExitCode, resp.Stdout, resp.Stderr), nil
}

// --- devtools_screenshot ---

type DevtoolsScreenshotTool struct{ editorTool }

func NewDevtoolsScreenshotTool(b *editor.Bridge) *DevtoolsScreenshotTool {
	return &DevtoolsScreenshotTool{editorTool{b}}
}
func (t *DevtoolsScreenshotTool) Type() action.ToolType { return action.ToolDevtoolsScreenshot }
func (t *DevtoolsScreenshotTool) Description() string {
	return "Capture a screenshot of the running app via devtools."
}
func (t *DevtoolsScreenshotTool) InputFormat() string { return "<request_screenshot/>" }
func (t *DevtoolsScreenshotTool) EvaluationCriteria(int) []string {
	return []string{"Did the screenshot confirm a UI-visible change took effect?"}
}
func (t *DevtoolsScreenshotTool) RewardScale(int) []RewardScale {
	return []RewardScale{{MinValue: -10, MaxValue: 20, Description: "Verification step"}}
}
func (t *DevtoolsScreenshotTool) Invoke(ctx context.Context, act action.Action) (string, error) {
	resp, err := t.bridge.DevtoolsScreenshot(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("screenshot captured (%s, %d bytes base64)", resp.MediaType, len(resp.Data)), nil
}

// RegisterEditorTools registers every editor-bridge-backed tool with
// registry. Think/AttemptCompletion/Mcp are registered separately (toolagent
// and mcpbridge respectively), since they do not talk to the editor bridge.
func RegisterEditorTools(registry *Registry, bridge *editor.Bridge) {
	registry.Register(NewListFilesTool(bridge))
	registry.Register(NewReadFileTool(bridge))
	registry.Register(NewFindFileTool(bridge))
	registry.Register(NewSearchFilesTool(bridge))
	registry.Register(NewGoToDefinitionTool(bridge))
	registry.Register(NewGoToReferencesTool(bridge))
	registry.Register(NewFileDiagnosticsTool(bridge))
	registry.Register(NewHoverTool(bridge))
	registry.Register(NewInlayHintsTool(bridge))
	registry.Register(NewQuickFixTool(bridge))
	registry.Register(NewCodeEditTool(bridge))
	registry.Register(NewRunTestsTool(bridge))
	registry.Register(NewRunCommandTool(bridge))
	registry.Register(NewDevtoolsScreenshotTool(bridge))
}
