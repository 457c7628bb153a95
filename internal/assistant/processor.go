// Package assistant runs conversational turns: an utterance goes to the intent executor
// first and to the conversation model when no handler answers it.
package assistant

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/executor"
	"github.com/kjstillabower/drone/internal/observability"
	"github.com/kjstillabower/drone/internal/traffic"
	"github.com/kjstillabower/drone/internal/validation"
)

// InvalidInputReply answers utterances that fail validation in interactive mode.
const InvalidInputReply = "Sorry, but I can't process a message like that."

// Turn outcomes used as metric labels.
const (
	outcomeHandled  = "handled"
	outcomeFallback = "fallback"
	outcomeApology  = "apology"
)

// Executor answers utterances that map to a supported intent.
type Executor interface {
	Converse(ctx context.Context, text string) (string, bool)
}

// Fallback answers everything the executor declines.
type Fallback interface {
	Converse(ctx context.Context, text string) (string, error)
}

// IO exchanges one line of text at a time with the user. Receive returns io.EOF when
// the user has left.
type IO interface {
	Receive(ctx context.Context) (string, error)
	Send(ctx context.Context, text string) error
}

// Processor runs one turn at a time, whichever I/O mode drives it.
type Processor struct {
	executor Executor
	fallback Fallback
	logger   *zap.Logger

	// turn holds one token while a turn runs. Waiting for it honours ctx.
	turn chan struct{}
}

func NewProcessor(exec Executor, fallback Fallback, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{executor: exec, fallback: fallback, logger: logger, turn: make(chan struct{}, 1)}
}

// Respond produces the reply to text. A fallback failure is logged and answered with
// the generic apology; the only error returned is ctx's, including when ctx ends while
// the turn is still queued behind another one.
func (p *Processor) Respond(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	select {
	case p.turn <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-p.turn }()

	if observability.CorrelationID(ctx) == "" {
		ctx = observability.WithCorrelationID(ctx, uuid.NewString())
	}
	logger := observability.LoggerFromContext(ctx, p.logger).With(zap.String("turn_id", observability.CorrelationID(ctx)))
	ctx = observability.WithLogger(ctx, logger)

	start := time.Now()
	reply, outcome := p.respond(ctx, logger, text)
	observability.TurnsTotal.WithLabelValues(outcome).Inc()
	observability.TurnDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if outcome == outcomeApology {
		traffic.Record(traffic.Apologized)
	} else {
		traffic.Record(traffic.Answered)
	}
	logger.Debug("turn complete", zap.String("outcome", outcome), zap.Duration("duration", time.Since(start)))
	return reply, nil
}

func (p *Processor) respond(ctx context.Context, logger *zap.Logger, text string) (string, string) {
	if reply, ok := p.executor.Converse(ctx, text); ok {
		if isApology(reply) {
			return reply, outcomeApology
		}
		return reply, outcomeHandled
	}

	reply, err := p.fallback.Converse(ctx, text)
	if err != nil {
		logger.Error("conversation fallback failed", zap.String("input", text), zap.Error(err))
		return executor.GenericApology, outcomeApology
	}
	return reply, outcomeFallback
}

func isApology(reply string) bool {
	return reply == executor.ConnectivityApology || reply == executor.GenericApology
}

// Converse runs a single round: receive, respond, send. Blank input is skipped.
func (p *Processor) Converse(ctx context.Context, rw IO) error {
	text, err := rw.Receive(ctx)
	if err != nil {
		return err
	}
	text, err = validation.ValidateUtterance(text)
	switch {
	case errors.Is(err, validation.ErrUtteranceEmpty):
		return nil
	case err != nil:
		p.logger.Debug("utterance rejected", zap.Error(err))
		return rw.Send(ctx, InvalidInputReply)
	}

	reply, err := p.Respond(ctx, text)
	if err != nil {
		return err
	}
	return rw.Send(ctx, reply)
}

// Start runs rounds until the user leaves or ctx is cancelled. Leaving is not an error.
func (p *Processor) Start(ctx context.Context, rw IO) error {
	for {
		if err := p.Converse(ctx, rw); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}
