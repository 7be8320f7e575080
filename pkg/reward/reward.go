// Package reward implements the LLM-driven reward & feedback generator
// given a trajectory digest, ask the model to produce a
// <reward><explanation>...</explanation><feedback>...</feedback>
// <value>INT</value></reward> block and parse it with a line-oriented state
// machine. The completion request runs at 0.2 temperature and the call is
// wrapped behind a typed Generate method that returns a parsed result
// rather than raw text.
package reward

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opencodetree/codetree/pkg/llmbroker"
)

// Result is the parsed reward block.
type Result struct {
	Explanation string
	Feedback    string
	Value       int
}

// ErrNoValue is returned when the model's output never contained a
// parseable <value> block — the one field parse_output treats as mandatory.
var ErrNoValue = fmt.Errorf("reward: output contained no parseable <value> block")

// parseState tracks which tag block the line scanner is inside.
type parseState int

const (
	stateNoBlock parseState = iota
	stateBlockStart
	stateExplanationStart
	stateFeedbackStart
	stateValueStart
)

// ParseOutput runs the line-oriented state machine over a model's raw text
// output, extracting the <reward> block's three fields. It is deliberately
// permissive about everything outside the block (preamble/postamble text is
// ignored) and about value lines that fail to parse (kept as "no value yet"
// rather than erroring immediately, since a later line may still carry the
// value — the last valid value line wins).
func ParseOutput(output string) (Result, error) {
	state := stateNoBlock
	var explanation, feedback []string
	var value *int

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch state {
		case stateNoBlock:
			if line == "<reward>" {
				state = stateBlockStart
			}
		case stateBlockStart:
			switch line {
			case "<explanation>":
				state = stateExplanationStart
			case "<feedback>":
				state = stateFeedbackStart
			case "<value>":
				state = stateValueStart
			case "</reward>":
				state = stateNoBlock
			}
		case stateExplanationStart:
			if line == "</explanation>" {
				state = stateBlockStart
			} else {
				explanation = append(explanation, line)
			}
		case stateFeedbackStart:
			if line == "</feedback>" {
				state = stateBlockStart
			} else {
				feedback = append(feedback, line)
			}
		case stateValueStart:
			if line == "</value>" {
				state = stateBlockStart
			} else if v, err := strconv.Atoi(strings.TrimSpace(line)); err == nil {
				value = &v
			}
		}
	}

	if value == nil {
		return Result{}, ErrNoValue
	}
	return Result{
		Explanation: strings.Join(explanation, "\n"),
		Feedback:    strings.Join(feedback, "\n"),
		Value:       *value,
	}, nil
}

// Generator produces a Result for a trajectory by asking an LLM provider for
// a reward block and parsing the response. Unlike llmbroker.Broker.Stream's
// general streaming surface, Generate buffers the whole response before
// parsing — a reward block is read as a single unit, never incrementally
// displayed to a user.
type Generator struct {
	broker   *llmbroker.Broker
	provider string
	model    string
}

func NewGenerator(broker *llmbroker.Broker, provider, model string) *Generator {
	return &Generator{broker: broker, provider: provider, model: model}
}

// maxParseAttempts bounds how many completions Generate will request when
// the model keeps omitting the <value> block.
const maxParseAttempts = 4

// Generate streams a completion for messages (the trajectory-to-date plus a
// reward-rubric system prompt assembled by the caller) and parses the
// result. A response with no parseable <value> block is retried up to
// maxParseAttempts times, alternating between the generator's provider and
// the broker's fallback provider; if every attempt fails to parse, a
// neutral zero reward with explanation "parse_failed" is recorded so the
// search keeps moving rather than crashing on a chatty model.
func (g *Generator) Generate(ctx context.Context, messages []llmbroker.Message) (Result, error) {
	for attempt := 0; attempt < maxParseAttempts; attempt++ {
		provider := g.provider
		if attempt%2 == 1 {
			if fb := g.broker.Fallback(); fb != "" {
				provider = fb
			}
		}

		text, err := g.complete(ctx, provider, messages)
		if err != nil {
			return Result{}, err
		}

		res, err := ParseOutput(text)
		if err == nil {
			return clamp(res), nil
		}
	}
	return Result{Value: 0, Explanation: "parse_failed"}, nil
}

func (g *Generator) complete(ctx context.Context, provider string, messages []llmbroker.Message) (string, error) {
	req := llmbroker.ChatRequest{
		Provider:    provider,
		Model:       g.model,
		Messages:    messages,
		Temperature: 0.2,
	}

	var text strings.Builder
	for chunk := range g.broker.Stream(ctx, req) {
		switch c := chunk.(type) {
		case llmbroker.TextChunk:
			text.WriteString(c.Text)
		case llmbroker.ErrorChunk:
			return "", fmt.Errorf("reward: generation failed: %w", c.Err)
		case llmbroker.DoneChunk:
			// terminal, nothing more to accumulate
		}
	}
	return text.String(), nil
}

// clamp bounds a parsed value to the -100..100 reward scale; an
// out-of-scale integer from the model is pinned rather than rejected.
func clamp(r Result) Result {
	if r.Value > 100 {
		r.Value = 100
	}
	if r.Value < -100 {
		r.Value = -100
	}
	return r
}

// ErrNoFeedback is returned when a feedback_generation response never
// contained a parseable <feedback> block.
var ErrNoFeedback = fmt.Errorf("reward: output contained no parseable <feedback> block")

// ParseFeedbackOutput scans a feedback_generation response with the same
// line-oriented style as ParseOutput: a <feedback_generation> block holding
// an <analysis> section (the model comparing siblings, kept for logs) and a
// <feedback> section (the guidance routed into the next sibling's prompt).
func ParseFeedbackOutput(output string) (analysis, feedback string, err error) {
	const (
		outside = iota
		inBlock
		inAnalysis
		inFeedback
	)
	state := outside
	var analysisLines, feedbackLines []string
	seenFeedback := false

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch state {
		case outside:
			if line == "<feedback_generation>" {
				state = inBlock
			}
		case inBlock:
			switch line {
			case "<analysis>":
				state = inAnalysis
			case "<feedback>":
				state = inFeedback
				seenFeedback = true
			case "</feedback_generation>":
				state = outside
			}
		case inAnalysis:
			if line == "</analysis>" {
				state = inBlock
			} else {
				analysisLines = append(analysisLines, line)
			}
		case inFeedback:
			if line == "</feedback>" {
				state = inBlock
			} else {
				feedbackLines = append(feedbackLines, line)
			}
		}
	}

	if !seenFeedback {
		return "", "", ErrNoFeedback
	}
	return strings.Join(analysisLines, "\n"), strings.Join(feedbackLines, "\n"), nil
}

// GenerateFeedback runs the optional secondary pass that compares a node to
// its already-expanded siblings and distills "what to try differently" for
// the next expansion. Failures are soft: the caller treats an error as "no
// feedback available."
func (g *Generator) GenerateFeedback(ctx context.Context, messages []llmbroker.Message) (string, error) {
	text, err := g.complete(ctx, g.provider, messages)
	if err != nil {
		return "", err
	}
	_, feedback, err := ParseFeedbackOutput(text)
	if err != nil {
		return "", err
	}
	return feedback, nil
}
