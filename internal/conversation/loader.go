package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultInstructions is the persona used when none is configured.
const DefaultInstructions = "Respond helpfully, but your responses can be quick-witted and snarky."

// Options configures the generators built by Load.
type Options struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	OpenAIURL       string
	Instructions    string
	Temperature     float32
	MaxOutputTokens int32
	HistoryLimit    int
	Timeout         time.Duration
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return 30 * time.Second
	}
	return o.Timeout
}

// Load returns a Model for the named conversation model. Names starting with "gemini-"
// use Gemini and names starting with "gpt-" use an OpenAI-compatible endpoint.
func Load(ctx context.Context, name, botName string, opts Options, logger *zap.Logger) (*Model, error) {
	if opts.Instructions == "" {
		opts.Instructions = DefaultInstructions
	}
	opts.Instructions = fmt.Sprintf("Your name is %s. %s", botName, opts.Instructions)

	var (
		gen Generator
		err error
	)
	switch {
	case strings.HasPrefix(name, "gemini-"):
		gen, err = NewGeminiGenerator(ctx, name, opts)
	case strings.HasPrefix(name, "gpt-"):
		gen, err = NewOpenAIGenerator(name, opts)
	default:
		return nil, fmt.Errorf("conversation: unsupported model %q", name)
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: load %s: %w", name, err)
	}
	if logger != nil {
		logger.Info("conversation model loaded",
			zap.String("model", name),
			zap.String("backend", gen.Backend()),
			zap.Int("history_limit", opts.HistoryLimit))
	}
	return NewModel(gen, botName, opts.HistoryLimit, logger), nil
}
