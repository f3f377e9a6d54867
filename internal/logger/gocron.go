package logger

import (
	"errors"
	"log/slog"

	"github.com/go-co-op/gocron/v2"
)

// gocronLogger implements gocron.Logger on top of slog.
type gocronLogger struct {
	log *slog.Logger
}

// NewGocronLogger returns a gocron.Logger writing to log under the
// "gocron" component.
//
//nolint:ireturn // gocron's option takes the interface
func NewGocronLogger(log *slog.Logger) gocron.Logger {
	if log == nil {
		log = slog.Default()
	}
	return &gocronLogger{log: log.With("component", "gocron")}
}

func (l *gocronLogger) Debug(msg string, args ...any) { l.log.Debug(msg, schedulerArgs(args)...) }

func (l *gocronLogger) Info(msg string, args ...any) { l.log.Info(msg, schedulerArgs(args)...) }

func (l *gocronLogger) Warn(msg string, args ...any) { l.log.Warn(msg, schedulerArgs(args)...) }

func (l *gocronLogger) Error(msg string, args ...any) { l.log.Error(msg, schedulerArgs(args)...) }

// schedulerArgs flags the gocron errors that mean a job handle went stale,
// so they can be told apart from real scheduler failures in the logs.
func schedulerArgs(args []any) []any {
	out := make([]any, 0, len(args)+2)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			out = append(out, args[i])
			break
		}
		key, val := args[i], args[i+1]
		out = append(out, key, val)

		if err, ok := val.(error); ok && errors.Is(err, gocron.ErrJobNotFound) {
			out = append(out, "stale_job", true)
		}
	}
	return out
}
