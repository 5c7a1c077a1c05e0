// Package container is a small object-construction registry.
//
// Types are identified by string. A binding pairs a type with a Provider and a
// Scope; Construct resolves a type, detecting cycles between providers that
// resolve other types through the Resolver they are handed.
package container

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotBound     = errors.New("type not bound")
	ErrAlreadyBound = errors.New("type already bound")
	ErrCycle        = errors.New("dependency cycle")
)

type Scope uint8

const (
	// Prototype constructs a new value on every Construct.
	Prototype Scope = iota
	// Singleton constructs once and caches the value.
	Singleton
)

func (s Scope) String() string {
	if s == Singleton {
		return "singleton"
	}
	return "prototype"
}

// Resolver is what providers see. Nested Construct calls are tracked for cycles.
type Resolver interface {
	Construct(typ string) (any, error)
}

// Provider builds a value, possibly resolving its dependencies through r.
type Provider func(r Resolver) (any, error)

type binding struct {
	provider Provider
	scope    Scope

	once  sync.Once
	value any
	err   error
}

type Container struct {
	mu       sync.RWMutex
	bindings map[string]*binding
}

func New() *Container {
	return &Container{bindings: map[string]*binding{}}
}

func (c *Container) Bind(typ string, p Provider, scope Scope) error {
	typ = strings.TrimSpace(typ)
	if typ == "" {
		return errors.New("container: empty type")
	}
	if p == nil {
		return fmt.Errorf("container: nil provider for %q", typ)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.bindings[typ]; ok {
		return fmt.Errorf("%w: %q", ErrAlreadyBound, typ)
	}
	c.bindings[typ] = &binding{provider: p, scope: scope}
	return nil
}

// BindInstance binds an existing value as a singleton.
func (c *Container) BindInstance(typ string, v any) error {
	return c.Bind(typ, func(Resolver) (any, error) { return v, nil }, Singleton)
}

// MustBind panics on a binding error. Intended for static wiring.
func (c *Container) MustBind(typ string, p Provider, scope Scope) {
	if err := c.Bind(typ, p, scope); err != nil {
		panic(err)
	}
}

func (c *Container) Bound(typ string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.bindings[typ]
	return ok
}

// Types lists bound type identifiers in sorted order.
func (c *Container) Types() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.bindings))
	for k := range c.bindings {
		out = append(out, k)
	}
	c.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (c *Container) Construct(typ string) (any, error) {
	return (&resolver{c: c}).Construct(typ)
}

// resolver carries the chain of types under construction for one top-level call.
type resolver struct {
	c     *Container
	stack []string
}

func (r *resolver) Construct(typ string) (any, error) {
	typ = strings.TrimSpace(typ)
	if slices.Contains(r.stack, typ) {
		chain := append(slices.Clone(r.stack), typ)
		return nil, fmt.Errorf("%w: %s", ErrCycle, strings.Join(chain, " -> "))
	}
	r.c.mu.RLock()
	b, ok := r.c.bindings[typ]
	r.c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotBound, typ)
	}

	child := &resolver{c: r.c, stack: append(slices.Clone(r.stack), typ)}
	if b.scope == Singleton {
		b.once.Do(func() { b.value, b.err = child.call(typ, b.provider) })
		return b.value, b.err
	}
	return child.call(typ, b.provider)
}

func (r *resolver) call(typ string, p Provider) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("construct %q: provider panicked: %v", typ, rec)
		}
	}()
	v, err = p(r)
	if err != nil {
		return nil, fmt.Errorf("construct %q: %w", typ, err)
	}
	return v, nil
}

// Resolve constructs typ and asserts it to T.
func Resolve[T any](r Resolver, typ string) (T, error) {
	var zero T
	v, err := r.Construct(typ)
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("construct %q: unexpected type %T", typ, v)
	}
	return out, nil
}
