package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiGenerator replies through a Gemini chat session seeded with prior history.
type GeminiGenerator struct {
	client  *genai.Client
	timeout time.Duration
	send    func(ctx context.Context, history []*genai.Content, msg genai.Part) (*genai.GenerateContentResponse, error)
}

// NewGeminiGenerator creates a generator for the named Gemini model.
func NewGeminiGenerator(ctx context.Context, name string, opts Options) (*GeminiGenerator, error) {
	if strings.TrimSpace(opts.GeminiAPIKey) == "" {
		return nil, errors.New("gemini: missing api key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(opts.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	model := client.GenerativeModel(name)
	if opts.Instructions != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(opts.Instructions)}}
	}
	if opts.Temperature > 0 {
		model.SetTemperature(opts.Temperature)
	}
	if opts.MaxOutputTokens > 0 {
		model.SetMaxOutputTokens(opts.MaxOutputTokens)
	}

	return &GeminiGenerator{
		client:  client,
		timeout: opts.timeout(),
		send: func(ctx context.Context, history []*genai.Content, msg genai.Part) (*genai.GenerateContentResponse, error) {
			cs := model.StartChat()
			cs.History = history
			return cs.SendMessage(ctx, msg)
		},
	}, nil
}

func (g *GeminiGenerator) Backend() string { return "gemini" }

func (g *GeminiGenerator) Generate(ctx context.Context, history []Message) (string, error) {
	if len(history) == 0 {
		return "", errors.New("gemini: empty history")
	}
	prior, last := geminiHistory(history[:len(history)-1]), history[len(history)-1]

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	resp, err := g.send(ctx, prior, genai.Text(last.Text))
	if err != nil {
		return "", fmt.Errorf("gemini: send message: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", errors.New("gemini: API returned empty candidates")
	}
	var parts []string
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok && strings.TrimSpace(string(txt)) != "" {
			parts = append(parts, string(txt))
		}
	}
	return strings.Join(parts, "\n"), nil
}

// Close releases the client.
func (g *GeminiGenerator) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// geminiHistory converts messages to chat contents. Gemini requires the first turn to
// come from the user, so a leading bot message is dropped.
func geminiHistory(msgs []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if len(out) == 0 && m.Speaker == Bot {
			continue
		}
		role := "user"
		if m.Speaker == Bot {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Text)}})
	}
	return out
}
