// Command codetree-agent runs a single MCTS search session against one
// editor instance and exits. There is no database and no queue here: flags
// fully describe the one session to run, and the tree is checkpointed to
// --log-directory rather than to Postgres.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/config"
	"github.com/opencodetree/codetree/pkg/editor"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/mcpbridge"
	"github.com/opencodetree/codetree/pkg/reward"
	"github.com/opencodetree/codetree/pkg/scheduler"
	"github.com/opencodetree/codetree/pkg/selector"
	"github.com/opencodetree/codetree/pkg/tool"
	"github.com/opencodetree/codetree/pkg/toolagent"
	"github.com/opencodetree/codetree/pkg/tree"
	"github.com/opencodetree/codetree/pkg/version"
)

// Exit codes per the CLI surface: 0 success, 2 bad args, 3 unauthorized or
// rate-limited, 4 editor unreachable, 5 budget exhausted without completion.
const (
	exitSuccess         = 0
	exitBadArgs         = 2
	exitUnauthorized    = 3
	exitEditorDown      = 4
	exitBudgetExhausted = 5
)

// problemInput is the JSON document named by --input: the root instruction
// plus the repo pin the editor's workspace was checked out at.
type problemInput struct {
	Instruction string `json:"instruction"`
	BaseCommit  string `json:"base_commit,omitempty"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		timeoutSecs      = flag.Int("timeout", 0, "session timeout in seconds (required)")
		editorURL        = flag.String("editor-url", "", "base URL of the running editor bridge (required)")
		inputPath        = flag.String("input", "", "path to problem.json (required)")
		runID            = flag.String("run-id", "", "identifier for this run, used in log/checkpoint filenames (required)")
		repoName         = flag.String("repo-name", "", "repository name being operated on (required)")
		logDirectory     = flag.String("log-directory", "", "directory to write logs and checkpoints to (required)")
		anthropicAPIKey  = flag.String("anthropic-api-key", "", "Anthropic API key")
		openrouterAPIKey = flag.String("openrouter-api-key", "", "OpenRouter API key")
		jsonMode         = flag.Bool("json-mode", false, "use the provider's native tool-call channel instead of the XML action surface")
		midwitMode       = flag.Bool("midwit-mode", false, "disable UCT search; run a single linear trajectory")
		singleTrajSearch = flag.Int("single-traj-search", 0, "run N independent depth-first trajectories instead of UCT search")
		maxDepth         = flag.Int("max-depth", 30, "maximum tree depth")
		modelName        = flag.String("model-name", "", "override the provider's configured default model")
	)
	flag.Parse()

	logger := newLogger()
	slog.SetDefault(logger)

	if *timeoutSecs <= 0 || *editorURL == "" || *inputPath == "" || *runID == "" || *repoName == "" || *logDirectory == "" {
		fmt.Fprintln(os.Stderr, "codetree-agent: --timeout, --editor-url, --input, --run-id, --repo-name and --log-directory are all required")
		return exitBadArgs
	}
	if *anthropicAPIKey == "" && *openrouterAPIKey == "" {
		fmt.Fprintln(os.Stderr, "codetree-agent: one of --anthropic-api-key or --openrouter-api-key is required")
		return exitBadArgs
	}

	if err := os.MkdirAll(*logDirectory, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "codetree-agent: creating log directory: %v\n", err)
		return exitBadArgs
	}

	raw, err := os.ReadFile(*inputPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "codetree-agent: reading --input: %v\n", err)
		return exitBadArgs
	}
	var problem problemInput
	if err := json.Unmarshal(raw, &problem); err != nil {
		fmt.Fprintf(os.Stderr, "codetree-agent: parsing --input: %v\n", err)
		return exitBadArgs
	}
	if problem.Instruction == "" {
		fmt.Fprintln(os.Stderr, "codetree-agent: --input problem.json must set \"instruction\"")
		return exitBadArgs
	}

	logger.Info("starting session", "version", version.Full(), "run_id", *runID, "repo_name", *repoName)

	provider, model, apiKey := resolveProvider(*anthropicAPIKey, *openrouterAPIKey, *modelName)

	httpClient := &http.Client{Timeout: 60 * time.Second}
	broker := llmbroker.NewBroker(provider, 3)
	switch provider {
	case string(config.LLMProviderTypeAnthropic):
		broker.Register(provider, llmbroker.NewAnthropicClient(apiKey, httpClient), rate.NewLimiter(rate.Limit(5), 10))
	case string(config.LLMProviderTypeOpenAI):
		broker.Register(provider, llmbroker.NewOpenAICompatClient(apiKey, "https://openrouter.ai/api/v1", httpClient, nil), rate.NewLimiter(rate.Limit(5), 10))
	}

	bridge := editor.New(*editorURL, httpClient)
	if err := pingEditor(*editorURL, httpClient); err != nil {
		logger.Error("editor unreachable", "error", err)
		return exitEditorDown
	}

	registry := buildToolRegistry(bridge, nil)
	dispatcher := tool.NewDispatcher(registry, nil)
	toolAgent := toolagent.NewAgent(broker, registry, provider, model)
	toolAgent.SetJSONMode(*jsonMode)
	rewardGen := reward.NewGenerator(broker, provider, model)

	roRegistry := scheduler.ReadOnlyRegistry(registry)
	explorer := &scheduler.Explorer{
		Agent:      toolagent.NewAgent(broker, roRegistry, provider, model),
		Dispatcher: tool.NewDispatcher(roRegistry, nil),
	}
	registry.Register(tool.NewExploreTool(explorer.Explore))

	weights := selector.DefaultWeights()
	sel := selector.New(weights)

	rootAction := action.Action{Type: action.ToolThink, Thought: problem.Instruction}
	searchTree := tree.New(rootAction)

	budget := scheduler.Budget{
		MaxDepth: *maxDepth,
	}
	switch {
	case *midwitMode:
		budget.MaxSearchTry = 1
	case *singleTrajSearch > 0:
		budget.MaxSearchTry = *singleTrajSearch
	}

	checkpointPath := filepath.Join(*logDirectory, fmt.Sprintf("mcts-%s.json", *runID))

	sched := &scheduler.Scheduler{
		Tree:         searchTree,
		Selector:     sel,
		ToolAgent:    toolAgent,
		Dispatcher:   dispatcher,
		Registry:     registry,
		Reward:       rewardGen,
		Budget:       budget,
		Instructions: problem.Instruction,
		Checkpoint: func(t *tree.SearchTree) error {
			return tree.SaveCheckpoint(t, checkpointPath)
		},
		OnEvent: func(event string, nodeIndex uint32, detail string) {
			logger.Debug("scheduler event", "event", event, "node", nodeIndex, "detail", detail)
		},
		Logger: logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, time.Duration(*timeoutSecs)*time.Second)
	defer cancel()

	outcome, err := sched.Run(ctx)

	// Best-effort final checkpoint, regardless of how Run ended.
	if cpErr := tree.SaveCheckpoint(searchTree, checkpointPath); cpErr != nil {
		logger.Warn("final checkpoint failed", "error", cpErr)
	}

	if err != nil {
		if isUnauthorizedErr(err) {
			logger.Error("session halted: unauthorized or rate-limited", "error", err)
			return exitUnauthorized
		}
		logger.Error("session ended with error", "error", err, "stopped_reason", outcome.StoppedReason)
		return exitBudgetExhausted
	}

	winner := searchTree.Get(outcome.WinnerIndex)
	if winner == nil || winner.Action.Type != action.ToolAttemptCompletion {
		logger.Warn("budget exhausted without a completed trajectory", "stopped_reason", outcome.StoppedReason, "iterations", outcome.Iterations)
		return exitBudgetExhausted
	}

	logger.Info("session finished",
		"winner_index", outcome.WinnerIndex,
		"reward", winner.RewardValue(),
		"iterations", outcome.Iterations,
		"stopped_reason", outcome.StoppedReason,
	)
	fmt.Println(winner.GitDiffFromRoot())
	return exitSuccess
}

func resolveProvider(anthropicKey, openrouterKey, modelOverride string) (provider, model, apiKey string) {
	if anthropicKey != "" {
		provider = string(config.LLMProviderTypeAnthropic)
		model = "claude-sonnet-4-5"
		apiKey = anthropicKey
	} else {
		provider = string(config.LLMProviderTypeOpenAI)
		model = "anthropic/claude-sonnet-4.5"
		apiKey = openrouterKey
	}
	if modelOverride != "" {
		model = modelOverride
	}
	return provider, model, apiKey
}

func pingEditor(baseURL string, httpClient *http.Client) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("editor returned status %d", resp.StatusCode)
	}
	return nil
}

func isUnauthorizedErr(err error) bool {
	return errors.Is(err, llmbroker.ErrUnauthorized) || errors.Is(err, llmbroker.ErrRateLimited)
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// buildToolRegistry mirrors pkg/session.buildToolRegistry: every editor-
// backed tool plus the meta tools, and an MCP tool when servers are
// configured. Kept as a local copy (rather than exporting the session
// package's helper) since cmd/codetree-agent never depends on pkg/session —
// it has no database-backed session to run against.
func buildToolRegistry(bridge *editor.Bridge, mcpServers []mcpbridge.ServerConfig) *tool.Registry {
	registry := tool.NewRegistry()
	registry.Register(tool.NewListFilesTool(bridge))
	registry.Register(tool.NewReadFileTool(bridge))
	registry.Register(tool.NewFindFileTool(bridge))
	registry.Register(tool.NewSearchFilesTool(bridge))
	registry.Register(tool.NewGoToDefinitionTool(bridge))
	registry.Register(tool.NewGoToReferencesTool(bridge))
	registry.Register(tool.NewFileDiagnosticsTool(bridge))
	registry.Register(tool.NewHoverTool(bridge))
	registry.Register(tool.NewInlayHintsTool(bridge))
	registry.Register(tool.NewQuickFixTool(bridge))
	registry.Register(tool.NewCodeEditTool(bridge))
	registry.Register(tool.NewRunTestsTool(bridge))
	registry.Register(tool.NewRunCommandTool(bridge))
	registry.Register(tool.NewDevtoolsScreenshotTool(bridge))
	registry.Register(tool.NewThinkTool())
	registry.Register(tool.NewAttemptCompletionTool())

	if len(mcpServers) > 0 {
		mcpRegistry := mcpbridge.NewRegistry(mcpServers...)
		mcpClient := mcpbridge.NewClient(mcpRegistry, slog.Default())
		// No config.MCPServerRegistry is loaded in single-session CLI mode,
		// so there is no per-server DataMasking config to compile; a nil
		// masker makes NewMcpTool's masking step a no-op.
		registry.Register(tool.NewMcpTool(mcpClient, nil))
	}

	return registry
}
