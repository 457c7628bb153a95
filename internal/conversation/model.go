package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/drone/internal/observability"
)

// DefaultHistoryLimit is the number of messages sent to the generator per turn.
const DefaultHistoryLimit = 8

var ErrEmptyReply = errors.New("conversation: generator returned an empty reply")

// Generator produces the bot's next message from recent history. The last message in
// history is always the user's latest input.
type Generator interface {
	Generate(ctx context.Context, history []Message) (string, error)
	Backend() string
}

// Model keeps a bounded chat history and asks a Generator for replies.
type Model struct {
	gen     Generator
	limit   int
	botName string
	logger  *zap.Logger

	mu      sync.Mutex
	history []Message
}

// NewModel creates a Model. A limit below 1 uses DefaultHistoryLimit.
func NewModel(gen Generator, botName string, limit int, logger *zap.Logger) *Model {
	if limit < 1 {
		limit = DefaultHistoryLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Model{gen: gen, limit: limit, botName: botName, logger: logger}
}

// Converse records text, generates a reply from the most recent messages and records
// the reply. On failure the user message is discarded so history keeps alternating.
func (m *Model) Converse(ctx context.Context, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	logger := observability.LoggerFromContext(ctx, m.logger)
	defer observability.Timed(logger, m.botName+" generate")()

	m.history = append(m.history, Message{Speaker: User, Text: text})
	recent := m.recent()

	backend := m.gen.Backend()
	start := time.Now()
	reply, err := m.gen.Generate(ctx, recent)
	observability.GeneratorDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	if err == nil && strings.TrimSpace(reply) == "" {
		err = ErrEmptyReply
	}
	if err != nil {
		observability.GeneratorCallsTotal.WithLabelValues(backend, "error").Inc()
		m.history = m.history[:len(m.history)-1]
		return "", fmt.Errorf("conversation: %s: %w", backend, err)
	}
	observability.GeneratorCallsTotal.WithLabelValues(backend, "success").Inc()

	reply = strings.TrimSpace(reply)
	m.history = append(m.history, Message{Speaker: Bot, Text: reply})
	m.history = m.recent()
	logger.Debug("conversation reply generated", zap.Int("history", len(m.history)), zap.String("backend", backend))
	return reply, nil
}

// recent returns a copy of the last limit messages. Callers hold mu.
func (m *Model) recent() []Message {
	start := max(len(m.history)-m.limit, 0)
	return append([]Message(nil), m.history[start:]...)
}

// History returns a copy of the stored messages, oldest first.
func (m *Model) History() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.history...)
}

// Reset clears the history.
func (m *Model) Reset() {
	m.mu.Lock()
	m.history = nil
	m.mu.Unlock()
}

// Close releases the generator when it holds resources.
func (m *Model) Close() error {
	if c, ok := m.gen.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
