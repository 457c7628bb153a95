package nlu

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/kjstillabower/drone/internal/intent"
	"github.com/kjstillabower/drone/internal/observability"
)

const (
	// DefaultModel is used when no model name is configured.
	DefaultModel = "gemini-2.0-flash"

	// DefaultTimeout bounds a single parse.
	DefaultTimeout = 5 * time.Second

	// SlotTimeLayout is the layout requested for InstantTime slot values.
	SlotTimeLayout = "2006-01-02 15:04:05 -07:00"

	metricsBackend = "gemini_nlu"
)

var ErrEmptyResponse = errors.New("nlu: empty model response")

// contentGenerator is the subset of *genai.GenerativeModel used by Engine.
type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Engine parses utterances into intents with a Gemini model in JSON mode.
type Engine struct {
	client    *genai.Client
	model     contentGenerator
	catalogue []IntentSpec
	timeout   time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// Options configures NewGeminiEngine. Zero values use the package defaults.
type Options struct {
	Model     string
	Timeout   time.Duration
	Catalogue []IntentSpec
}

// NewGeminiEngine creates an Engine backed by the Gemini API.
func NewGeminiEngine(ctx context.Context, apiKey string, opts Options, logger *zap.Logger) (*Engine, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("nlu: missing gemini api key")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("nlu: create gemini client: %w", err)
	}
	name := opts.Model
	if name == "" {
		name = DefaultModel
	}
	model := client.GenerativeModel(name)
	model.ResponseMIMEType = "application/json"
	model.SetTemperature(0)

	e := newEngine(model, opts, logger)
	e.client = client
	return e, nil
}

func newEngine(model contentGenerator, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.Catalogue) == 0 {
		opts.Catalogue = DefaultCatalogue
	}
	return &Engine{
		model:     model,
		catalogue: opts.Catalogue,
		timeout:   opts.Timeout,
		now:       time.Now,
		logger:    logger,
	}
}

// Close releases the underlying client.
func (e *Engine) Close() error {
	if e.client == nil {
		return nil
	}
	return e.client.Close()
}

// Parse classifies text. Intents outside the catalogue come back as the empty intent
// with zero probability, and slots the intent does not declare are dropped.
func (e *Engine) Parse(ctx context.Context, text string) (intent.Parsed, error) {
	logger := observability.LoggerFromContext(ctx, e.logger)
	defer observability.Timed(logger, "nlu parse")()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	resp, err := e.model.GenerateContent(ctx, genai.Text(e.prompt(text)))
	observability.GeneratorDuration.WithLabelValues(metricsBackend).Observe(time.Since(start).Seconds())
	if err != nil {
		observability.GeneratorCallsTotal.WithLabelValues(metricsBackend, "error").Inc()
		return intent.Parsed{}, fmt.Errorf("nlu: generate content: %w", err)
	}
	observability.GeneratorCallsTotal.WithLabelValues(metricsBackend, "success").Inc()

	raw, err := responseText(resp)
	if err != nil {
		return intent.Parsed{}, err
	}

	var parsed intent.Parsed
	if err := json.Unmarshal([]byte(cleanJSONString(raw)), &parsed); err != nil {
		return intent.Parsed{}, fmt.Errorf("nlu: unmarshal intent: %w", err)
	}
	parsed.Input = text
	return e.sanitize(parsed, logger), nil
}

func (e *Engine) sanitize(p intent.Parsed, logger *zap.Logger) intent.Parsed {
	spec, ok := find(e.catalogue, p.Intent.Name)
	if !ok {
		if p.Intent.Name != "" {
			logger.Debug("nlu returned unknown intent", zap.String("intent", p.Intent.Name))
		}
		return intent.Parsed{Input: p.Input}
	}

	p.Intent.Probability = min(max(p.Intent.Probability, 0), 1)

	declared := make(map[string]bool, len(spec.Slots))
	for _, s := range spec.Slots {
		declared[s.Name] = true
	}
	slots := p.Slots[:0]
	for _, s := range p.Slots {
		if declared[s.Name] {
			slots = append(slots, s)
		}
	}
	p.Slots = slots
	return p
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrEmptyResponse
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", ErrEmptyResponse
	}
	return b.String(), nil
}

func (e *Engine) prompt(text string) string {
	var b strings.Builder
	now := e.now()
	fmt.Fprintf(&b, "You are the intent parser of a voice assistant.\n")
	fmt.Fprintf(&b, "Current time: %s (%s).\n\n", now.Format(SlotTimeLayout), now.Weekday())
	b.WriteString("Known intents:\n")
	for _, spec := range e.catalogue {
		fmt.Fprintf(&b, "- %s: %s\n", spec.Name, spec.Description)
		for _, s := range spec.Slots {
			kind := "Custom"
			if s.Time {
				kind = "InstantTime or TimeInterval"
			}
			fmt.Fprintf(&b, "    slot %s (%s): %s\n", s.Name, kind, s.Description)
		}
	}
	fmt.Fprintf(&b, `
Reply with one JSON object and nothing else:
{"intent": {"intentName": string or null, "probability": number 0..1},
 "slots": [{"slotName": string, "rawValue": string, "entity": string,
            "value": {"kind": "Custom", "value": string}}]}
Time slots use {"kind": "InstantTime", "value": "%s"} with the time resolved against the
current time, or {"kind": "TimeInterval", "from": ..., "to": ...}.
Use intentName null and probability 0 when no intent fits. Only include slots the user
actually mentioned.

Utterance: %s`, SlotTimeLayout, text)
	return b.String()
}

func cleanJSONString(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
