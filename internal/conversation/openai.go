package conversation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/kjstillabower/drone/internal/client"
)

// DefaultOpenAIURL is the API base used when none is configured.
const DefaultOpenAIURL = "https://api.openai.com/v1"

// OpenAIGenerator replies through an OpenAI-compatible chat completions API.
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	instructions string
	temperature  float32
	maxTokens    int
}

func NewOpenAIGenerator(name string, opts Options) (*OpenAIGenerator, error) {
	if strings.TrimSpace(opts.OpenAIAPIKey) == "" {
		return nil, errors.New("openai: missing api key")
	}
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	cfg.BaseURL = openAIBaseURL(opts.OpenAIURL)
	cfg.HTTPClient = &http.Client{Timeout: opts.timeout()}
	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(cfg),
		model:        name,
		instructions: opts.Instructions,
		temperature:  opts.Temperature,
		maxTokens:    int(opts.MaxOutputTokens),
	}, nil
}

// openAIBaseURL accepts either an API base or a full chat completions endpoint.
func openAIBaseURL(url string) string {
	url = strings.TrimRight(strings.TrimSpace(url), "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	if url == "" {
		return DefaultOpenAIURL
	}
	return url
}

func (g *OpenAIGenerator) Backend() string { return "openai" }

func (g *OpenAIGenerator) Generate(ctx context.Context, history []Message) (string, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	if g.instructions != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: g.instructions})
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Speaker == Bot {
			role = openai.ChatMessageRoleAssistant
		}
		msgs = append(msgs, openai.ChatCompletionMessage{Role: role, Content: m.Text})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    msgs,
		Temperature: g.temperature,
		MaxTokens:   g.maxTokens,
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: API returned empty choices array")
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyOpenAIError maps HTTP failures onto the shared upstream sentinels so the
// processor treats them like weather backend failures.
func classifyOpenAIError(err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("openai: %w: %v", client.ErrRateLimited, err)
	case status >= 500:
		return fmt.Errorf("openai: status %d: %w: %v", status, client.ErrUpstreamFailure, err)
	default:
		return fmt.Errorf("openai: %w", err)
	}
}
