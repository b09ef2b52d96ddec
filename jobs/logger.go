package jobs

import (
	"fmt"
	"log/slog"
	"os"
)

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct {
	logger *slog.Logger
}

func (a slogAdapter) Debug(args ...interface{}) { a.logger.Debug(fmt.Sprint(args...)) }

func (a slogAdapter) Info(args ...interface{}) { a.logger.Info(fmt.Sprint(args...)) }

func (a slogAdapter) Warn(args ...interface{}) { a.logger.Warn(fmt.Sprint(args...)) }

func (a slogAdapter) Error(args ...interface{}) { a.logger.Error(fmt.Sprint(args...)) }

// Fatal logs and exits, as asynq expects.
func (a slogAdapter) Fatal(args ...interface{}) {
	a.logger.Error(fmt.Sprint(args...))
	os.Exit(1)
}
