package scheduler

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// slogCronLogger adapts *slog.Logger to cron.Logger so robfig/cron's own
// recover/skip-if-still-running job wrappers log through the same
// structured sink as the rest of the process, rather than installing a
// second logging path.
type slogCronLogger struct {
	logger *slog.Logger
}

func (l slogCronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Info(msg, keysAndValues...)
}

func (l slogCronLogger) Error(err error, msg string, keysAndValues ...any) {
	args := append([]any{"error", err}, keysAndValues...)
	l.logger.Error(msg, args...)
}

var _ cron.Logger = slogCronLogger{}
