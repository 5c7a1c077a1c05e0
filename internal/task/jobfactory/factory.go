// Package jobfactory turns job definitions into executable jobs.
package jobfactory

import (
	"errors"
	"fmt"

	"cronwire/internal/task/job"
)

// Constructor resolves a type identifier to a fresh or shared value.
type Constructor interface {
	Construct(typ string) (any, error)
}

type Factory struct {
	ctor Constructor
}

func New(ctor Constructor) *Factory {
	return &Factory{ctor: ctor}
}

// CreateInstance asks the constructor for def.Type. Every failure is reported
// as an *job.InstantiationError.
func (f *Factory) CreateInstance(def job.Definition) (j job.Job, err error) {
	fail := func(cause error) (job.Job, error) {
		return nil, &job.InstantiationError{Key: def.Key, Type: def.Type, Err: cause}
	}
	if def.Type == "" {
		return fail(errors.New("job type is empty"))
	}
	if f == nil || f.ctor == nil {
		return fail(errors.New("no constructor configured"))
	}
	defer func() {
		if rec := recover(); rec != nil {
			j, err = fail(fmt.Errorf("provider panicked: %v", rec))
		}
	}()

	v, cerr := f.ctor.Construct(def.Type)
	if cerr != nil {
		return fail(cerr)
	}
	if v == nil {
		return fail(errors.New("provider returned nil"))
	}
	out, ok := v.(job.Job)
	if !ok {
		return fail(fmt.Errorf("%T does not implement job.Job", v))
	}
	return out, nil
}
