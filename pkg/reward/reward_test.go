package reward

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencodetree/codetree/pkg/llmbroker"
)

const sampleBlock = `<reward>
<explanation>
The last executed action was a search for the definition of the escape
function, which is directly relevant to the task.
</explanation>
<feedback>
An alternative branch could first analyze the test suite to understand all
use cases before replacing the implementation.
</feedback>
<value>
85
</value>
</reward>`

func TestParseOutputWellFormed(t *testing.T) {
	res, err := ParseOutput(sampleBlock)
	require.NoError(t, err)
	assert.Equal(t, 85, res.Value)
	assert.Contains(t, res.Explanation, "escape")
	assert.Contains(t, res.Feedback, "test suite")
}

func TestParseOutputIgnoresPreambleAndPostamble(t *testing.T) {
	wrapped := "Here is my assessment:\n\n" + sampleBlock + "\n\nLet me know if you need more detail."
	res, err := ParseOutput(wrapped)
	require.NoError(t, err)
	assert.Equal(t, 85, res.Value)
}

func TestParseOutputMissingValueErrors(t *testing.T) {
	_, err := ParseOutput("<reward><explanation>no value here</explanation></reward>")
	require.ErrorIs(t, err, ErrNoValue)
}

func TestParseOutputLastValueLineWins(t *testing.T) {
	text := "<reward>\n<value>\nnot-a-number\n40\n</value>\n</reward>"
	res, err := ParseOutput(text)
	require.NoError(t, err)
	assert.Equal(t, 40, res.Value)
}

type fakeRewardClient struct{ text string }

func (f *fakeRewardClient) Stream(ctx context.Context, req llmbroker.ChatRequest) <-chan llmbroker.Chunk {
	out := make(chan llmbroker.Chunk, 2)
	out <- llmbroker.TextChunk{Text: f.text}
	out <- llmbroker.DoneChunk{FinishReason: "stop"}
	close(out)
	return out
}

func TestGeneratorGenerate(t *testing.T) {
	broker := llmbroker.NewBroker("", 1)
	broker.Register("primary", &fakeRewardClient{text: sampleBlock}, nil)
	gen := NewGenerator(broker, "primary", "test-model")

	res, err := gen.Generate(context.Background(), []llmbroker.Message{{Role: llmbroker.RoleUser, Content: "score this trajectory"}})
	require.NoError(t, err)
	assert.Equal(t, 85, res.Value)
}

func TestGeneratorGenerateParseFailureNeutral(t *testing.T) {
	broker := llmbroker.NewBroker("", 1)
	broker.Register("primary", &fakeRewardClient{text: "I cannot score this."}, nil)
	gen := NewGenerator(broker, "primary", "test-model")

	res, err := gen.Generate(context.Background(), []llmbroker.Message{{Role: llmbroker.RoleUser, Content: "score"}})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Value)
	assert.Equal(t, "parse_failed", res.Explanation)
}

func TestGeneratorGenerateClampsOutOfScale(t *testing.T) {
	block := "<reward>\n<explanation>\ngreat\n</explanation>\n<value>\n250\n</value>\n</reward>"
	broker := llmbroker.NewBroker("", 1)
	broker.Register("primary", &fakeRewardClient{text: block}, nil)
	gen := NewGenerator(broker, "primary", "test-model")

	res, err := gen.Generate(context.Background(), []llmbroker.Message{{Role: llmbroker.RoleUser, Content: "score"}})
	require.NoError(t, err)
	assert.Equal(t, 100, res.Value)
}

func TestParseFeedbackOutput(t *testing.T) {
	out := `<feedback_generation>
<analysis>
The first sibling re-read the same file; the second searched instead.
</analysis>
<feedback>
Search for call sites before editing again.
</feedback>
</feedback_generation>`

	analysis, feedback, err := ParseFeedbackOutput(out)
	require.NoError(t, err)
	assert.Contains(t, analysis, "re-read the same file")
	assert.Equal(t, "Search for call sites before editing again.", feedback)
}

func TestParseFeedbackOutputMissingBlock(t *testing.T) {
	_, _, err := ParseFeedbackOutput("no block here")
	require.ErrorIs(t, err, ErrNoFeedback)
}
