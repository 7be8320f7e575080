package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/config"
	"github.com/opencodetree/codetree/pkg/editor"
	"github.com/opencodetree/codetree/pkg/events"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/masking"
	"github.com/opencodetree/codetree/pkg/mcpbridge"
	"github.com/opencodetree/codetree/pkg/reward"
	"github.com/opencodetree/codetree/pkg/scheduler"
	"github.com/opencodetree/codetree/pkg/selector"
	"github.com/opencodetree/codetree/pkg/tool"
	"github.com/opencodetree/codetree/pkg/toolagent"
	"github.com/opencodetree/codetree/pkg/tree"
)

// cancelledReward is the fixed penalty assigned to the node in progress
// when a session's cancellation token fires — distinct from
// scheduler.errorReward, which covers dispatch/reward-scoring failures
// rather than a caller-initiated cancel.
const cancelledReward = -50

// RealExecutor implements Executor by building a fresh scheduler.Scheduler
// per session out of shared, pre-constructed components — it takes an
// already-wired broker/MCP registry/event publisher rather than building
// them itself.
type RealExecutor struct {
	broker           *llmbroker.Broker
	providerRegistry *config.LLMProviderRegistry
	defaultProvider  string

	weights       selector.Weights
	budget        scheduler.Budget
	checkpointDir string
	httpClient    *http.Client
	mcpServers    []mcpbridge.ServerConfig
	masker        *masking.Service

	publisher *events.EventPublisher
	store     *Store
}

func NewRealExecutor(
	broker *llmbroker.Broker,
	providerRegistry *config.LLMProviderRegistry,
	defaultProvider string,
	weights selector.Weights,
	budget scheduler.Budget,
	checkpointDir string,
	httpClient *http.Client,
	mcpServers []mcpbridge.ServerConfig,
	mcpRegistry *config.MCPServerRegistry,
	publisher *events.EventPublisher,
	store *Store,
) *RealExecutor {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &RealExecutor{
		broker:           broker,
		providerRegistry: providerRegistry,
		defaultProvider:  defaultProvider,
		weights:          weights,
		budget:           budget,
		checkpointDir:    checkpointDir,
		httpClient:       httpClient,
		mcpServers:       mcpServers,
		masker:           masking.NewService(mcpRegistry),
		publisher:        publisher,
		store:            store,
	}
}

// resolveModel maps a session's requested model name onto the (provider,
// model) pair understood by llmbroker.Broker.Stream, plus the observation
// byte budget derived from the provider's max_tool_result_tokens. When
// providerRegistry has an entry keyed by the session's ModelName, that
// entry's Type names the provider and its Model field is the literal model
// string sent to it — the requested name is a config-level profile, not a
// raw model id. With no registry (or no matching entry) the requested name
// is used directly as both provider and model, which matches how the
// broker is registered for a single-provider deployment, and the digest
// budget falls back to the toolagent default.
func (e *RealExecutor) resolveModel(requested string) (provider, model string, obsBudget int) {
	if e.providerRegistry != nil {
		if entry, err := e.providerRegistry.Get(requested); err == nil {
			// max_tool_result_tokens is a token count; the prompt digest
			// truncates on bytes, ~4 bytes per token.
			return string(entry.Type), entry.Model, entry.MaxToolResultTokens * 4
		}
	}
	if requested == "" {
		return e.defaultProvider, e.defaultProvider, 0
	}
	return requested, requested, 0
}

// Execute builds a session's tree/scheduler, runs the search to completion
// or budget exhaustion, and reports the terminal outcome — the executor
// owns the entire lifecycle internally.
func (e *RealExecutor) Execute(ctx context.Context, sess *Session) *ExecutionResult {
	log := slog.With("session_id", sess.ID, "repo", sess.RepoName)
	log.Info("session executor: starting execution")

	e.publishSessionStart(ctx, sess)

	provider, model, obsBudget := e.resolveModel(sess.ModelName)

	bridge := editor.New(sess.EditorURL, e.httpClient)
	registry := buildToolRegistry(bridge, e.mcpServers, e.masker)
	dispatcher := tool.NewDispatcher(registry, nil)

	toolAgent := toolagent.NewAgent(e.broker, registry, provider, model)
	toolAgent.SetObservationBudget(obsBudget)
	rewardGen := reward.NewGenerator(e.broker, provider, model)

	roRegistry := scheduler.ReadOnlyRegistry(registry)
	exploreAgent := toolagent.NewAgent(e.broker, roRegistry, provider, model)
	exploreAgent.SetObservationBudget(obsBudget)
	explorer := &scheduler.Explorer{
		Agent:      exploreAgent,
		Dispatcher: tool.NewDispatcher(roRegistry, nil),
	}
	registry.Register(tool.NewExploreTool(explorer.Explore))

	sel := selector.New(e.weights)

	rootAction := action.Action{Type: action.ToolThink, Thought: sess.Instruction}
	searchTree := tree.New(rootAction)

	budget := e.budget
	budget.MaxDepth = sess.MaxDepth
	if sess.SingleTraj {
		if budget.MaxSearchTry == 0 {
			budget.MaxSearchTry = 1
		}
	} else if sess.MaxExpansions > 0 {
		budget.MaxExpansions = sess.MaxExpansions
	}

	checkpointPath := filepath.Join(e.checkpointDir, fmt.Sprintf("mcts-%s.json", sess.ID))

	var lastEmitted uint32
	var iterCount int32

	sched := &scheduler.Scheduler{
		Tree:         searchTree,
		Selector:     sel,
		ToolAgent:    toolAgent,
		Dispatcher:   dispatcher,
		Registry:     registry,
		Reward:       rewardGen,
		Budget:       budget,
		Instructions: sess.Instruction,
		Logger:       slog.Default(),
		Checkpoint: func(t *tree.SearchTree) error {
			atomic.AddInt32(&iterCount, 1)

			if err := e.publishNewNodes(ctx, sess.ID, t, &lastEmitted); err != nil {
				log.Warn("publishing node events failed", "error", err)
			}
			if err := tree.SaveCheckpoint(t, checkpointPath); err != nil {
				return fmt.Errorf("file checkpoint: %w", err)
			}
			if err := e.store.PersistTree(ctx, sess.ID, t); err != nil {
				return fmt.Errorf("db checkpoint: %w", err)
			}
			e.publishCheckpointWritten(ctx, sess.ID, t.Len(), int(atomic.LoadInt32(&iterCount)))
			return nil
		},
	}

	outcome, err := sched.Run(ctx)

	if cancelErr := e.handleCancellation(ctx, sess, searchTree); cancelErr != nil {
		return cancelErr
	}

	if err != nil {
		e.publishError(ctx, sess.ID, nil, "search", err.Error(), true)
		e.publishSessionFinished(ctx, sess, StatusFailed, "", 0, outcome.Iterations)
		return &ExecutionResult{Status: StatusFailed, Error: err, Iterations: outcome.Iterations}
	}

	winner := searchTree.Get(outcome.WinnerIndex)
	finalDiff := winner.GitDiffFromRoot()
	rewardValue := winner.RewardValue()

	if err := e.store.SetRootNodeIndex(ctx, sess.ID, int(outcome.WinnerIndex)); err != nil {
		log.Warn("recording winner node index failed", "error", err)
	}

	e.publishSessionFinished(ctx, sess, StatusCompleted, finalDiff, rewardValue, outcome.Iterations)

	return &ExecutionResult{
		Status:     StatusCompleted,
		WinnerDiff: finalDiff,
		Reward:     rewardValue,
		Iterations: outcome.Iterations,
	}
}

// handleCancellation scores the node in progress when ctx is cancelled at
// the fixed -50 cancellation penalty rather than leaving it unscored,
// distinguishing a caller-initiated cancel from a dispatch/reward failure
// (scheduler's errorReward, -100).
func (e *RealExecutor) handleCancellation(ctx context.Context, sess *Session, t *tree.SearchTree) *ExecutionResult {
	if ctx.Err() == nil {
		return nil
	}

	for _, n := range t.Nodes() {
		if n.Reward == nil && !n.IsFinished && n.ParentIndex != nil {
			n.Reward = &tree.Reward{Value: cancelledReward, Explanation: "cancelled"}
		}
	}

	bg := context.Background()
	status := StatusCancelled
	if ctx.Err() == context.DeadlineExceeded {
		status = StatusTimedOut
	}
	e.publishSessionFinished(bg, sess, status, "", cancelledReward, t.Len())
	return &ExecutionResult{Status: status, Error: ctx.Err()}
}

// publishNewNodes emits tool.invoked + node.scored for every node appended
// to t since the last checkpoint, preserving the strict per-node event
// ordering. The scheduler's own CheckpointFunc hook runs after a node's
// reward has already been assigned, so both events can fire back-to-back
// here without racing the score.
func (e *RealExecutor) publishNewNodes(ctx context.Context, sessionID string, t *tree.SearchTree, lastEmitted *uint32) error {
	if e.publisher == nil {
		return nil
	}
	nodes := t.Nodes()
	for i := *lastEmitted; int(i) < len(nodes); i++ {
		n := nodes[i]
		if n.ParentIndex == nil {
			continue // root carries the instruction, not a tool invocation
		}
		now := time.Now().Format(time.RFC3339Nano)
		if err := e.publisher.PublishToolInvoked(ctx, sessionID, events.ToolInvokedPayload{
			BasePayload:   events.BasePayload{Type: events.EventTypeToolInvoked, SessionID: sessionID, Timestamp: now},
			NodeIndex:     n.Index,
			ParentIndex:   *n.ParentIndex,
			ActionType:    string(n.Action.Type),
			ActionSummary: n.Action.String(),
		}); err != nil {
			return err
		}
		for _, delta := range chunkObservation(n.Observation, observationDeltaSize) {
			_ = e.publisher.PublishToolOutputDelta(ctx, sessionID, events.ToolOutputDeltaPayload{
				BasePayload: events.BasePayload{Type: events.EventTypeToolOutputDelta, SessionID: sessionID, Timestamp: now},
				NodeIndex:   n.Index,
				Delta:       delta,
			})
		}
		if n.Reward != nil {
			if err := e.publisher.PublishNodeScored(ctx, sessionID, events.NodeScoredPayload{
				BasePayload: events.BasePayload{Type: events.EventTypeNodeScored, SessionID: sessionID, Timestamp: now},
				NodeIndex:   n.Index,
				RewardValue: n.Reward.Value,
				Explanation: n.Reward.Explanation,
				IsFinished:  n.IsFinished,
			}); err != nil {
				return err
			}
		}
	}
	*lastEmitted = uint32(len(nodes))
	return nil
}

// observationDeltaSize bounds one tool.output_delta payload; pg_notify
// caps a notification at 8000 bytes, so deltas stay well under it.
const observationDeltaSize = 4000

// chunkObservation splits a node's observation into delta-sized pieces for
// streaming. Delivery is best-effort (the node.scored event carries the
// full observation), so a failed publish is not retried.
func chunkObservation(s string, size int) []string {
	if s == "" {
		return nil
	}
	var chunks []string
	for len(s) > size {
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return append(chunks, s)
}

func (e *RealExecutor) publishSessionStart(ctx context.Context, sess *Session) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.PublishSessionStart(ctx, sess.ID, events.SessionStartPayload{
		BasePayload: events.BasePayload{Type: events.EventTypeSessionStart, SessionID: sess.ID, Timestamp: time.Now().Format(time.RFC3339Nano)},
		RunID:       sess.RunID,
		RepoName:    sess.RepoName,
		Instruction: sess.Instruction,
		ModelName:   sess.ModelName,
	})
}

func (e *RealExecutor) publishCheckpointWritten(ctx context.Context, sessionID string, nodeCount, iterations int) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.PublishCheckpointWritten(ctx, sessionID, events.CheckpointWrittenPayload{
		BasePayload: events.BasePayload{Type: events.EventTypeCheckpointWritten, SessionID: sessionID, Timestamp: time.Now().Format(time.RFC3339Nano)},
		NodeCount:   nodeCount,
		Iterations:  iterations,
	})
}

func (e *RealExecutor) publishError(ctx context.Context, sessionID string, nodeIndex *uint32, category, message string, fatal bool) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.PublishError(ctx, sessionID, events.ErrorPayload{
		BasePayload: events.BasePayload{Type: events.EventTypeSessionError, SessionID: sessionID, Timestamp: time.Now().Format(time.RFC3339Nano)},
		NodeIndex:   nodeIndex,
		Category:    category,
		Message:     message,
		Fatal:       fatal,
	})
}

func (e *RealExecutor) publishSessionFinished(ctx context.Context, sess *Session, status Status, finalDiff string, rewardValue float64, iterations int) {
	if e.publisher == nil {
		return
	}
	_ = e.publisher.PublishSessionFinished(ctx, sess.ID, events.SessionFinishedPayload{
		BasePayload: events.BasePayload{Type: events.EventTypeSessionFinished, SessionID: sess.ID, Timestamp: time.Now().Format(time.RFC3339Nano)},
		Status:      string(status),
		FinalDiff:   finalDiff,
		Reward:      rewardValue,
		Iterations:  iterations,
	})
}

// buildToolRegistry registers every editor-backed tool plus the meta tools
// against bridge, and the MCP tool when servers are configured — one
// registry per deployment describing all tools it supports.
func buildToolRegistry(bridge *editor.Bridge, mcpServers []mcpbridge.ServerConfig, masker *masking.Service) *tool.Registry {
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
		registry.Register(tool.NewMcpTool(mcpClient, masker))
	}

	return registry
}
