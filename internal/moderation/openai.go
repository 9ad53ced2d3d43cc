package moderation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// moderationAPI is the slice of the OpenAI client the classifier uses.
type moderationAPI interface {
	Moderations(ctx context.Context, request openai.ModerationRequest) (openai.ModerationResponse, error)
}

// OpenAIClassifier uses the OpenAI moderation endpoint.
type OpenAIClassifier struct {
	client moderationAPI
	model  string
}

// NewOpenAIClassifier creates a classifier backed by the OpenAI moderation API.
func NewOpenAIClassifier(apiKey, model string) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("OpenAI API key is required")
	}
	return &OpenAIClassifier{client: openai.NewClient(apiKey), model: model}, nil
}

// Name returns the classifier name.
func (c *OpenAIClassifier) Name() string {
	return "openai-moderation"
}

// Classify flags text if any result is flagged; the reason lists the flagged categories.
func (c *OpenAIClassifier) Classify(ctx context.Context, text string) (Classification, error) {
	resp, err := c.client.Moderations(ctx, openai.ModerationRequest{
		Input: text,
		Model: c.model,
	})
	if err != nil {
		return Classification{}, err
	}

	var out Classification
	var categories []string
	for _, r := range resp.Results {
		if !r.Flagged {
			continue
		}
		out.Flagged = true
		categories = append(categories, flaggedCategories(r.Categories)...)
	}
	out.Reason = strings.Join(dedupe(categories), ", ")
	return out, nil
}

// flaggedCategories lists the JSON names of the categories set to true.
func flaggedCategories(cats openai.ResultCategories) []string {
	data, err := json.Marshal(cats)
	if err != nil {
		return nil
	}
	var m map[string]bool
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	var out []string
	for name, set := range m {
		if set {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
