package jobs

import (
	"context"
	"errors"
	"strings"

	"cronwire/internal/task/job"
	logx "cronwire/pkg/logx"
)

var errNoMessage = errors.New("data.message is required")

// LogJob writes data.message to the application log.
type LogJob struct {
	log logx.Logger
}

func NewLogJob(log logx.Logger) *LogJob {
	return &LogJob{log: log.With(logx.String("comp", "job.log"))}
}

func (j *LogJob) Execute(_ context.Context, ec *job.ExecutionContext) error {
	msg := strings.TrimSpace(ec.Param("message"))
	if msg == "" {
		return errNoMessage
	}
	fs := fields(ec)
	switch logx.ParseLevel(ec.Param("level"), logx.LevelInfo) {
	case logx.LevelTrace:
		j.log.Trace(msg, fs...)
	case logx.LevelDebug:
		j.log.Debug(msg, fs...)
	case logx.LevelWarn:
		j.log.Warn(msg, fs...)
	case logx.LevelError:
		j.log.Error(msg, fs...)
	default:
		j.log.Info(msg, fs...)
	}
	return nil
}
