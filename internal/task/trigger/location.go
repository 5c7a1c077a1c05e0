package trigger

import (
	"errors"
	"strings"
	"time"

	"cronwire/internal/task/job"
)

var errEmpty = errors.New("empty expression")

// ResolveLocation loads an IANA time zone id.
//
// An empty id means the local zone. An unknown id also falls back to the local
// zone; in that case a ConfigurationWarning is returned next to the location so
// the caller can log it. The fallback itself is never an error.
func ResolveLocation(id string) (*time.Location, *job.ConfigurationWarning) {
	tz := strings.TrimSpace(id)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Local, &job.ConfigurationWarning{
			Field: "timezone",
			Value: tz,
			Msg:   "unknown time zone; falling back to " + time.Local.String() + ": " + err.Error(),
		}
	}
	return loc, nil
}
