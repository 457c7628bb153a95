package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/client"
	"github.com/kjstillabower/drone/internal/intent"
	"github.com/kjstillabower/drone/internal/observability"
)

// DefaultConfidenceThreshold is the lowest NLU probability that is dispatched to a handler.
const DefaultConfidenceThreshold = 0.33

// Fixed replies for handler failures.
const (
	ConnectivityApology = "Sorry, but I'm having trouble connecting to the Internet to handle that for you."
	GenericApology      = "Sorry, but a problem occurred while I was looking into that for you."
)

// Dispatch outcomes used as metric labels.
const (
	outcomeHandled       = "handled"
	outcomeLowConfidence = "low_confidence"
	outcomeUnhandled     = "unhandled"
	outcomeParseError    = "parse_error"
	outcomeConnectivity  = "connectivity_error"
	outcomeError         = "error"
)

// Parser turns free text into a structured intent.
type Parser interface {
	Parse(ctx context.Context, text string) (intent.Parsed, error)
}

// Executor parses utterances and dispatches confident intents to the first handler that
// accepts them. Handlers are consulted in registration order.
type Executor struct {
	parser    Parser
	handlers  []intent.Handler
	threshold float64
	logger    *zap.Logger
}

// New creates an Executor. A threshold of 0 accepts every parsed intent; one outside
// [0, 1] uses DefaultConfidenceThreshold.
func New(parser Parser, handlers []intent.Handler, threshold float64, logger *zap.Logger) *Executor {
	if threshold < 0 || threshold > 1 {
		threshold = DefaultConfidenceThreshold
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{parser: parser, handlers: handlers, threshold: threshold, logger: logger}
}

// Converse returns a reply and true when a handler answered text. It returns false when
// the intent was not confident enough, matched no handler or could not be parsed, so the
// caller can fall back to open conversation. Handler failures are never returned: they
// become one of two fixed apologies.
func (e *Executor) Converse(ctx context.Context, text string) (reply string, handled bool) {
	logger := observability.LoggerFromContext(ctx, e.logger)
	defer observability.Timed(logger, "executor converse")()

	parseStart := time.Now()
	parsed, err := e.parser.Parse(ctx, text)
	if err != nil {
		logger.Error("intent parse failed", zap.Error(err), zap.String("category", string(client.CategorizeError(err))))
		observability.RecordIntentDispatch("", outcomeParseError)
		return "", false
	}
	logger.Debug("parsed assistant intent",
		zap.String("intent", parsed.Name()),
		zap.Float64("probability", parsed.Confidence()),
		zap.Any("slots", parsed.Slots),
		zap.Duration("parse_duration", time.Since(parseStart)))

	if parsed.Confidence() < e.threshold {
		logger.Debug("intent ignored due to low confidence", zap.Float64("threshold", e.threshold))
		observability.RecordIntentDispatch(parsed.Name(), outcomeLowConfidence)
		return "", false
	}

	for _, h := range e.handlers {
		if !h.CanHandle(parsed) {
			continue
		}
		reply, outcome := e.dispatch(ctx, logger, h, parsed)
		observability.RecordIntentDispatch(parsed.Name(), outcome)
		return reply, true
	}

	logger.Debug("no handler for intent", zap.String("intent", parsed.Name()))
	observability.RecordIntentDispatch(parsed.Name(), outcomeUnhandled)
	return "", false
}

// dispatch runs one handler, translating errors and panics into apologies.
func (e *Executor) dispatch(ctx context.Context, logger *zap.Logger, h intent.Handler, parsed intent.Parsed) (reply, outcome string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("intent handler panicked",
				zap.String("intent", parsed.Name()),
				zap.Any("panic", r),
				zap.Stack("stack"))
			reply, outcome = GenericApology, outcomeError
		}
	}()

	reply, err := h.Handle(ctx, parsed)
	if err == nil {
		return reply, outcomeHandled
	}

	fields := []zap.Field{
		zap.String("intent", parsed.Name()),
		zap.String("input", parsed.Input),
		zap.String("category", string(client.CategorizeError(err))),
		zap.Error(err),
	}
	if client.IsConnectivity(err) {
		logger.Error("intent handler could not reach upstream", fields...)
		return ConnectivityApology, outcomeConnectivity
	}
	logger.Error("intent handler failed", fields...)
	return GenericApology, outcomeError
}

// Factory builds one handler. Name identifies it in logs.
type Factory struct {
	Name string
	New  func() (intent.Handler, error)
}

// BuildHandlers constructs handlers in order. A handler that fails to build is logged
// and skipped so the rest of the assistant stays usable.
func BuildHandlers(factories []Factory, logger *zap.Logger) []intent.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	handlers := make([]intent.Handler, 0, len(factories))
	for _, f := range factories {
		done := observability.Timed(logger, fmt.Sprintf("init %s handler", f.Name))
		h, err := f.New()
		done()
		if err != nil {
			logger.Error("could not initialize intent handler", zap.String("handler", f.Name), zap.Error(err))
			continue
		}
		handlers = append(handlers, h)
	}
	return handlers
}
