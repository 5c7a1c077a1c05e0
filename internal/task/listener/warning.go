package listener

import (
	"fmt"

	"go.uber.org/multierr"
)

// DispatchWarning aggregates the listener failures of one notification.
// It is informational: the notification itself is considered delivered.
type DispatchWarning struct {
	Notification string
	Err          error
}

func (w *DispatchWarning) Error() string {
	return fmt.Sprintf("%s: %d listener(s) failed: %v", w.Notification, len(w.Errors()), w.Err)
}

func (w *DispatchWarning) Unwrap() error { return w.Err }

// Errors returns the individual listener failures.
func (w *DispatchWarning) Errors() []error { return multierr.Errors(w.Err) }
