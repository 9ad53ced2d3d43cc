package moderation

import (
	"context"
	"errors"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/operator-relay/internal/llm"
)

type fakeModerationAPI struct {
	resp openai.ModerationResponse
	err  error
	req  openai.ModerationRequest
}

func (f *fakeModerationAPI) Moderations(ctx context.Context, req openai.ModerationRequest) (openai.ModerationResponse, error) {
	f.req = req
	return f.resp, f.err
}

func TestOpenAIClassifierFlagged(t *testing.T) {
	api := &fakeModerationAPI{resp: openai.ModerationResponse{
		Results: []openai.Result{
			{Flagged: true, Categories: openai.ResultCategories{Harassment: true, Hate: true}},
		},
	}}
	c := &OpenAIClassifier{client: api}

	got, err := c.Classify(context.Background(), "text")
	require.NoError(t, err)

	assert.True(t, got.Flagged)
	assert.Contains(t, got.Reason, "harassment")
	assert.Contains(t, got.Reason, "hate")
	assert.Equal(t, "text", api.req.Input)
}

func TestOpenAIClassifierClean(t *testing.T) {
	c := &OpenAIClassifier{client: &fakeModerationAPI{resp: openai.ModerationResponse{
		Results: []openai.Result{{Flagged: false}},
	}}}

	got, err := c.Classify(context.Background(), "hello")
	require.NoError(t, err)
	assert.False(t, got.Flagged)
	assert.Empty(t, got.Reason)
}

func TestOpenAIClassifierError(t *testing.T) {
	c := &OpenAIClassifier{client: &fakeModerationAPI{err: errors.New("rate limited")}}

	_, err := c.Classify(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNewOpenAIClassifierRequiresKey(t *testing.T) {
	_, err := NewOpenAIClassifier("", "")
	assert.Error(t, err)
}

type fakeLLM struct {
	content string
	err     error
	req     *llm.CompletionRequest
}

func (f *fakeLLM) Name() string { return "fake" }

func (f *fakeLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.req = req
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

func TestLLMClassifierParsesVerdict(t *testing.T) {
	client := &fakeLLM{content: "Sure.\n{\"flagged\": true, \"reason\": \"threat\"}"}
	c := NewLLMClassifier(client, "small")

	got, err := c.Classify(context.Background(), "I will find you")
	require.NoError(t, err)

	assert.Equal(t, Classification{Flagged: true, Reason: "threat"}, got)
	assert.Equal(t, "small", client.req.Model)
	assert.Contains(t, client.req.Messages[0].Content, "I will find you")
	assert.Equal(t, "llm-fake", c.Name())
}

func TestLLMClassifierRejectsGarbage(t *testing.T) {
	c := NewLLMClassifier(&fakeLLM{content: "no idea"}, "")

	_, err := c.Classify(context.Background(), "x")
	assert.Error(t, err)
}

func TestLLMClassifierPropagatesError(t *testing.T) {
	c := NewLLMClassifier(&fakeLLM{err: context.DeadlineExceeded}, "")

	_, err := c.Classify(context.Background(), "x")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
