package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup builds the process logger. Development mode writes human readable
// console output with stack traces; otherwise JSON lines go to stderr.
// An empty level defaults to debug in development and info otherwise.
func Setup(dev bool, level string) (zerolog.Logger, error) {
	return setup(os.Stderr, dev, level)
}

func setup(out io.Writer, dev bool, level string) (zerolog.Logger, error) {
	lvl := zerolog.InfoLevel
	if dev {
		lvl = zerolog.DebugLevel
	}

	if level != "" {
		parsed, err := zerolog.ParseLevel(level)
		if err != nil {
			return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	logger := zerolog.New(out).Level(lvl).With().Timestamp().Caller().Logger()

	if dev {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out, FormatTimestamp: func(i any) string {
			return time.Now().Format(time.RFC3339)
		}}).Level(lvl).With().Stack().Logger()
	}

	return logger, nil
}
