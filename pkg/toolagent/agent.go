package toolagent

import (
	"context"
	"fmt"
	"strings"

	"github.com/opencodetree/codetree/pkg/action"
	"github.com/opencodetree/codetree/pkg/llmbroker"
	"github.com/opencodetree/codetree/pkg/tool"
)

// Proposal is the outcome of one Propose call: the parsed action plus the
// free-text reasoning that preceded its tag block, kept for the
// trajectory/reward prompt.
type Proposal struct {
	Action  action.Action
	Thought string
	RawText string
}

// Agent proposes the next action for a node being expanded, by calling an
// LLM provider through the broker and parsing its response.
type Agent struct {
	broker    *llmbroker.Broker
	registry  *tool.Registry
	provider  string
	model     string
	jsonMode  bool
	obsBudget int
}

func NewAgent(broker *llmbroker.Broker, registry *tool.Registry, provider, model string) *Agent {
	return &Agent{broker: broker, registry: registry, provider: provider, model: model}
}

// SetJSONMode switches the agent from the XML tag surface to the provider's
// native tool-call channel: tool definitions are advertised on the request,
// and the proposed action is decoded from the streamed tool call instead of
// scanned out of the response text.
func (a *Agent) SetJSONMode(on bool) { a.jsonMode = on }

// SetObservationBudget caps the bytes of tool output replayed per
// trajectory step, sized from the provider's max_tool_result_tokens.
func (a *Agent) SetObservationBudget(bytes int) { a.obsBudget = bytes }

// Propose assembles the prompt from req, streams a completion, and parses
// the result. On a malformed response (no recognizable tool tag), it returns
// ErrMalformedAction with the raw text preserved in the zero Proposal's
// RawText field so the caller can feed a format-correction observation back
// in.
func (a *Agent) Propose(ctx context.Context, req BuildRequest) (Proposal, error) {
	if req.ObservationBudget == 0 {
		req.ObservationBudget = a.obsBudget
	}
	messages := BuildMessages(req, a.registry)

	chatReq := llmbroker.ChatRequest{
		Provider: a.provider,
		Model:    a.model,
		Messages: messages,
	}
	if a.jsonMode {
		chatReq.Tools = ToolDefs(a.registry)
	}

	var text strings.Builder
	var callName string
	var callArgs strings.Builder
	sawCall := false
	for chunk := range a.broker.Stream(ctx, chatReq) {
		switch c := chunk.(type) {
		case llmbroker.TextChunk:
			text.WriteString(c.Text)
		case llmbroker.ToolCallDeltaChunk:
			// Only the first tool call per response is honored; the prompt
			// instructs the model to emit exactly one.
			if c.Name != "" && callName == "" {
				callName = c.Name
			}
			if !sawCall || c.Index == 0 {
				callArgs.WriteString(c.ArgsDelta)
			}
			sawCall = true
		case llmbroker.ErrorChunk:
			return Proposal{}, fmt.Errorf("toolagent: generation failed: %w", c.Err)
		case llmbroker.DoneChunk:
		}
	}

	raw := text.String()

	if a.jsonMode && sawCall {
		act, err := ActionFromToolCall(callName, callArgs.String())
		if err != nil {
			return Proposal{RawText: raw}, err
		}
		return Proposal{Action: act, Thought: strings.TrimSpace(raw), RawText: raw}, nil
	}

	act, err := ExtractAction(raw)
	if err != nil {
		return Proposal{RawText: raw}, err
	}

	return Proposal{
		Action:  act,
		Thought: thoughtPrefix(raw, act.RawXML),
		RawText: raw,
	}, nil
}

// thoughtPrefix returns whatever text preceded the matched action block —
// the model's reasoning.
func thoughtPrefix(raw, actionBlock string) string {
	if actionBlock == "" {
		return strings.TrimSpace(raw)
	}
	idx := strings.Index(raw, actionBlock)
	if idx == -1 {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(raw[:idx])
}
