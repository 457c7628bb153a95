// Package console is the terminal I/O mode: one line in, one line out.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
)

var (
	userStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	botStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

type line struct {
	text string
	err  error
}

// Console reads utterances from in and writes replies to out.
type Console struct {
	in      io.Reader
	out     io.Writer
	botName string
	logger  *zap.Logger

	once  sync.Once
	lines chan line
}

func New(in io.Reader, out io.Writer, botName string, logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{in: in, out: out, botName: botName, logger: logger, lines: make(chan line)}
}

// read feeds lines from in until it is exhausted. It runs at most once per Console.
func (c *Console) read() {
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		c.lines <- line{text: scanner.Text()}
	}
	err := scanner.Err()
	if err == nil {
		err = io.EOF
	}
	c.lines <- line{err: err}
	close(c.lines)
}

// Receive prompts for and returns the next line. It returns io.EOF once input ends.
func (c *Console) Receive(ctx context.Context) (string, error) {
	c.once.Do(func() { go c.read() })

	if _, err := fmt.Fprint(c.out, userStyle.Render("You:")+" "); err != nil {
		return "", err
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case l, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		if l.err != nil {
			fmt.Fprintln(c.out)
			return "", l.err
		}
		c.logger.Info("You: " + l.text)
		return l.text, nil
	}
}

func (c *Console) Send(_ context.Context, text string) error {
	c.logger.Info(c.botName + ": " + text)
	_, err := fmt.Fprintf(c.out, "%s %s\n", botStyle.Render(c.botName+":"), text)
	return err
}
