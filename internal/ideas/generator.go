package ideas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Generator produces video ideas for a normalized request.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]Idea, error)
}

var ErrEmptyCompletion = errors.New("empty_completion")

const systemPrompt = `You write YouTube video ideas for a creator. ` +
	`Reply with a JSON object {"ideas":[{"title":"...","hook":"...","angle":"..."}]} and nothing else.`

// OpenAIGenerator asks a chat completion model for ideas in JSON mode.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	return newOpenAIGenerator(openai.DefaultConfig(apiKey), model)
}

func newOpenAIGenerator(cfg openai.ClientConfig, model string) *OpenAIGenerator {
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) ([]Idea, error) {
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.8,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyCompletion
	}

	var body struct {
		Ideas []Idea `json:"ideas"`
	}
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &body); err != nil {
		return nil, fmt.Errorf("decode completion: %w", err)
	}
	if len(body.Ideas) == 0 {
		return nil, ErrEmptyCompletion
	}
	if len(body.Ideas) > req.Count {
		body.Ideas = body.Ideas[:req.Count]
	}
	return body.Ideas, nil
}

func userPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Niche: %s\n", req.Niche)
	if req.ChannelTitle != "" {
		fmt.Fprintf(&b, "Channel: %s\n", req.ChannelTitle)
	}
	if len(req.RecentTitles) > 0 {
		b.WriteString("Recent videos:\n")
		for _, title := range req.RecentTitles {
			fmt.Fprintf(&b, "- %s\n", title)
		}
	}
	fmt.Fprintf(&b, "Give %d new ideas that do not repeat the recent videos.", req.Count)
	return b.String()
}
