package llmbroker

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	chunks []Chunk
}

func (f *fakeClient) Stream(ctx context.Context, req ChatRequest) <-chan Chunk {
	out := make(chan Chunk, len(f.chunks))
	for _, c := range f.chunks {
		out <- c
	}
	close(out)
	return out
}

func drain(ch <-chan Chunk) []Chunk {
	var out []Chunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestBrokerStreamSuccess(t *testing.T) {
	b := NewBroker("", 2)
	b.Register("primary", &fakeClient{chunks: []Chunk{TextChunk{Text: "hi"}, DoneChunk{FinishReason: "stop"}}}, nil)

	chunks := drain(b.Stream(context.Background(), ChatRequest{Provider: "primary"}))
	require.Len(t, chunks, 2)
	assert.Equal(t, TextChunk{Text: "hi"}, chunks[0])
	assert.Equal(t, DoneChunk{FinishReason: "stop"}, chunks[1])
}

func TestBrokerFallsBackOnOddRetry(t *testing.T) {
	b := NewBroker("fallback", 2)
	b.Register("primary", &fakeClient{chunks: []Chunk{ErrorChunk{Err: errors.New("boom")}}}, nil)
	b.Register("fallback", &fakeClient{chunks: []Chunk{TextChunk{Text: "ok"}, DoneChunk{FinishReason: "stop"}}}, nil)

	chunks := drain(b.Stream(context.Background(), ChatRequest{Provider: "primary"}))
	require.Len(t, chunks, 2)
	assert.Equal(t, TextChunk{Text: "ok"}, chunks[0])
}

func TestBrokerExhaustsRetriesIntoErrorChunk(t *testing.T) {
	b := NewBroker("", 1)
	b.Register("primary", &fakeClient{chunks: []Chunk{ErrorChunk{Err: errors.New("boom")}}}, nil)

	chunks := drain(b.Stream(context.Background(), ChatRequest{Provider: "primary"}))
	require.Len(t, chunks, 1)
	_, ok := chunks[0].(ErrorChunk)
	assert.True(t, ok)
}

// sequencedClient serves a different scripted attempt per Stream call.
type sequencedClient struct {
	attempts [][]Chunk
	calls    int
}

func (s *sequencedClient) Stream(ctx context.Context, req ChatRequest) <-chan Chunk {
	chunks := s.attempts[s.calls]
	if s.calls < len(s.attempts)-1 {
		s.calls++
	}
	out := make(chan Chunk, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out
}

func TestBrokerDropsPartialTextFromFailedAttempt(t *testing.T) {
	// First attempt streams half an answer then dies; the retry restarts
	// from scratch. Consumers accumulate everything they receive, so the
	// partial first attempt must never reach the channel.
	b := NewBroker("", 2)
	b.Register("primary", &sequencedClient{attempts: [][]Chunk{
		{TextChunk{Text: "<reward><va"}, ErrorChunk{Err: errors.New("connection reset")}},
		{TextChunk{Text: "<reward><value>50</value></reward>"}, DoneChunk{FinishReason: "stop"}},
	}}, nil)

	chunks := drain(b.Stream(context.Background(), ChatRequest{Provider: "primary"}))
	require.Len(t, chunks, 2)
	assert.Equal(t, TextChunk{Text: "<reward><value>50</value></reward>"}, chunks[0])
	assert.Equal(t, DoneChunk{FinishReason: "stop"}, chunks[1])
}

func TestBrokerUnknownProvider(t *testing.T) {
	b := NewBroker("", 0)
	chunks := drain(b.Stream(context.Background(), ChatRequest{Provider: "nope"}))
	require.Len(t, chunks, 1)
	ec, ok := chunks[0].(ErrorChunk)
	require.True(t, ok)
	assert.ErrorIs(t, ec.Err, ErrNoProvider)
}
