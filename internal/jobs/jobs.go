package jobs

import (
	"cronwire/internal/container"
	"cronwire/internal/task/job"
	logx "cronwire/pkg/logx"
)

const (
	LogType   = "log"
	ShellType = "shell"
)

// Register binds the built-in job types. Each firing gets a fresh instance.
func Register(c *container.Container, log logx.Logger) error {
	if err := c.Bind(LogType, func(container.Resolver) (any, error) {
		return NewLogJob(log), nil
	}, container.Prototype); err != nil {
		return err
	}
	return c.Bind(ShellType, func(container.Resolver) (any, error) {
		return NewShellJob(log), nil
	}, container.Prototype)
}

func fields(ec *job.ExecutionContext) []logx.Field {
	return []logx.Field{
		logx.String("job", ec.JobKey().String()),
		logx.String("fire_id", ec.FireID),
	}
}
