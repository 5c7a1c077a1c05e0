package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "250ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Storage   *StorageConfig  `json:"storage,omitempty"`
	Listeners ListenersConfig `json:"listeners,omitempty"`
	Jobs      []JobConfig     `json:"jobs"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the scheduler loop and its worker pool.
//
// Defaults (when fields are omitted/zero):
//   - name: "cronwire"
//   - timezone: local zone
//   - workers: 4
//   - misfire_threshold: "60s"
//   - retry_interval: "250ms"
//   - shutdown_timeout: "30s"
//   - default_timeout: "0s" (disabled)
//   - history_size: 200
type SchedulerConfig struct {
	Name     string `json:"name,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Workers  int    `json:"workers,omitempty"`

	MisfireThreshold string `json:"misfire_threshold,omitempty"`
	RetryInterval    string `json:"retry_interval,omitempty"`
	ShutdownTimeout  string `json:"shutdown_timeout,omitempty"`
	WaitForJobs      bool   `json:"wait_for_jobs"`

	// DefaultTimeout bounds job executions that don't set their own timeout.
	DefaultTimeout string `json:"default_timeout,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig controls the execution audit trail.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./cronwire_audit" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// ListenersConfig names listener types registered by the app.
//
// Global listeners see every job/trigger. Job and trigger listeners are only
// invoked for jobs that list them in job_listeners / trigger_listeners.
type ListenersConfig struct {
	GlobalJob     []string `json:"global_job,omitempty"`
	Job           []string `json:"job,omitempty"`
	GlobalTrigger []string `json:"global_trigger,omitempty"`
	Trigger       []string `json:"trigger,omitempty"`
	Scheduler     []string `json:"scheduler,omitempty"`
}

// JobConfig is one declarative job + cron trigger record.
type JobConfig struct {
	Name        string `json:"name"`
	Group       string `json:"group,omitempty"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`

	// Trigger defaults to the job type.
	Trigger      string `json:"trigger,omitempty"`
	TriggerGroup string `json:"trigger_group,omitempty"`
	Cron         string `json:"cron"`
	Timezone     string `json:"timezone,omitempty"`

	// StartAt and EndAt are RFC 3339 timestamps bounding the fire times.
	StartAt string `json:"start_at,omitempty"`
	EndAt   string `json:"end_at,omitempty"`

	Timeout  string `json:"timeout,omitempty"`
	Durable  bool   `json:"durable,omitempty"`
	Recover  bool   `json:"recover,omitempty"`
	Volatile bool   `json:"volatile,omitempty"`

	JobListeners     []string          `json:"job_listeners,omitempty"`
	TriggerListeners []string          `json:"trigger_listeners,omitempty"`
	Data             map[string]string `json:"data,omitempty"`
}
