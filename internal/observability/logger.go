package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func NewLogger() (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = parseLogLevel(os.Getenv("LOG_LEVEL"))

	return config.Build()
}

// NewChatLogger returns a logger that writes to stderr like NewLogger and also records
// every entry, at debug level and above, to a new numbered file in dir. It returns the
// path of that file.
func NewChatLogger(dir string) (*zap.Logger, string, error) {
	base, err := NewLogger()
	if err != nil {
		return nil, "", err
	}
	path, err := NextNumberedLogPath(dir)
	if err != nil {
		return nil, "", err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", fmt.Errorf("open chat log: %w", err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zap.DebugLevel)

	logger := base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, fileCore)
	}))
	return logger, path, nil
}

var numberedLog = regexp.MustCompile(`^(\d+)\.log$`)

// NextNumberedLogPath creates dir if needed and returns dir/N.log, where N is one more
// than the highest numbered log already present.
func NextNumberedLogPath(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read log dir: %w", err)
	}
	latest := 0
	for _, e := range entries {
		m := numberedLog.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > latest {
			latest = n
		}
	}
	return filepath.Join(dir, strconv.Itoa(latest+1)+".log"), nil
}

// Timed logs the elapsed time of an operation at debug level when the returned func runs.
//
//	defer observability.Timed(logger, "nlu parse")()
func Timed(logger *zap.Logger, op string) func() {
	start := time.Now()
	return func() {
		if logger != nil {
			logger.Debug("timed", zap.String("op", op), zap.Duration("duration", time.Since(start)))
		}
	}
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
