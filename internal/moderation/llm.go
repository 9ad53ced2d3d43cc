package moderation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/capitalize-ai/operator-relay/internal/llm"
)

const classifierPrompt = `You moderate messages posted in a public group chat.
Decide whether the message below is toxic, harassing, hateful, threatening, sexual or spam.
Answer with a single JSON object and nothing else: {"flagged": true|false, "reason": "<short reason>"}.

Message:
%s`

// LLMClassifier asks a chat completion model to judge the text.
type LLMClassifier struct {
	client llm.Client
	model  string
}

// NewLLMClassifier creates a prompt-based classifier.
func NewLLMClassifier(client llm.Client, model string) *LLMClassifier {
	return &LLMClassifier{client: client, model: model}
}

// Name returns the classifier name.
func (c *LLMClassifier) Name() string {
	return "llm-" + c.client.Name()
}

// Classify sends the prompt and parses the JSON verdict.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	resp, err := c.client.Complete(ctx, &llm.CompletionRequest{
		Model:     c.model,
		MaxTokens: 128,
		Messages: []llm.ChatMessage{
			{Role: "user", Content: fmt.Sprintf(classifierPrompt, text)},
		},
	})
	if err != nil {
		return Classification{}, err
	}
	return parseVerdict(resp.Content)
}

func parseVerdict(content string) (Classification, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Classification{}, fmt.Errorf("no JSON verdict in model output %q", content)
	}

	var v struct {
		Flagged bool   `json:"flagged"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &v); err != nil {
		return Classification{}, fmt.Errorf("failed to parse verdict: %w", err)
	}
	return Classification{Flagged: v.Flagged, Reason: v.Reason}, nil
}
