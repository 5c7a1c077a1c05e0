package job

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeysDefaultGroup(t *testing.T) {
	t.Parallel()
	k := NewJobKey(" report ", "")
	assert.Equal(t, JobKey{Name: "report", Group: DefaultGroup}, k)
	assert.Equal(t, "DEFAULT.report", k.String())
	assert.Equal(t, k, JobKey{Name: "report"}.Normalize())
	assert.True(t, JobKey{Name: "  "}.IsZero())
}

func TestKeyOrdering(t *testing.T) {
	t.Parallel()
	assert.True(t, NewJobKey("b", "a").Less(NewJobKey("a", "b")))
	assert.True(t, NewJobKey("a", "daily").Less(NewJobKey("b", "daily")))
	assert.False(t, NewJobKey("a", "daily").Less(NewJobKey("a", "daily")))
	assert.True(t, NewTriggerKey("x", "").Less(NewTriggerKey("a", "z")))
}

func TestDefinitionCloneIsDeep(t *testing.T) {
	t.Parallel()
	d := Definition{Key: JobKey{Name: "n"}, ListenerNames: []string{"a"}, Data: map[string]string{"k": "v"}}
	c := d.Clone()
	c.ListenerNames[0] = "changed"
	c.Data["k"] = "changed"
	assert.Equal(t, "a", d.ListenerNames[0])
	assert.Equal(t, "v", d.Data["k"])
	assert.Equal(t, DefaultGroup, c.Key.Group)
}

func TestErrorsUnwrap(t *testing.T) {
	t.Parallel()
	cause := errors.New("disk full")
	var err error = &JobExecutionError{Key: NewJobKey("n", "g"), Err: cause}
	assert.ErrorIs(t, fmt.Errorf("wrapped: %w", err), cause)

	var ie *InstantiationError
	assert.True(t, errors.As(fmt.Errorf("x: %w", &InstantiationError{Type: "t", Err: cause}), &ie))
	assert.Equal(t, "t", ie.Type)

	w := &MisfireWarning{ScheduledFireTime: time.Unix(100, 0), DetectedAt: time.Unix(90, 0)}
	assert.Zero(t, w.Late())
}
