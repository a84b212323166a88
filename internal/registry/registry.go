// Package registry is the catalog of runnable demos. A Registry is built once
// at startup, then shared read-only by the queue and the sandbox executor.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/osvaldoandrade/netdemo/pkg/domain"
)

// ValidateFunc turns raw parameters into a typed value, or returns a
// *domain.ValidationError. It must not return a partially validated value.
type ValidateFunc func(raw map[string]any) (any, error)

// ExecuteFunc runs a demo with the value produced by its ValidateFunc.
// Protocol failures are reported through the result, never as panics.
type ExecuteFunc func(ctx context.Context, params any) domain.ExecutionResult

// RegisteredDemo binds a recipe to its validator and entry point.
type RegisteredDemo struct {
	Recipe   domain.DemoRecipe
	Validate ValidateFunc
	Execute  ExecuteFunc
}

type Registry struct {
	mu    sync.RWMutex
	demos map[string]*RegisteredDemo
	order []string
}

func New() *Registry {
	return &Registry{demos: make(map[string]*RegisteredDemo)}
}

// Register adds a demo. Re-registering an id is a *domain.DuplicateDemoError.
func (r *Registry) Register(recipe domain.DemoRecipe, execute ExecuteFunc, validate ValidateFunc) error {
	if err := recipe.Validate(); err != nil {
		return err
	}
	if execute == nil || validate == nil {
		return fmt.Errorf("demo %s: execute and validate functions are required", recipe.ID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.demos[recipe.ID]; ok {
		return &domain.DuplicateDemoError{ID: recipe.ID}
	}
	r.demos[recipe.ID] = &RegisteredDemo{Recipe: recipe, Validate: validate, Execute: execute}
	r.order = append(r.order, recipe.ID)
	sort.Strings(r.order)
	return nil
}

// MustRegister panics on registration errors; used by the static catalog.
func (r *Registry) MustRegister(recipe domain.DemoRecipe, execute ExecuteFunc, validate ValidateFunc) {
	if err := r.Register(recipe, execute, validate); err != nil {
		panic(err)
	}
}

func (r *Registry) Get(id string) (*RegisteredDemo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.demos[id]
	return d, ok
}

func (r *Registry) Exists(id string) bool {
	_, ok := r.Get(id)
	return ok
}

// List returns recipes sorted by id.
func (r *Registry) List() []domain.DemoRecipe {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DemoRecipe, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.demos[id].Recipe)
	}
	return out
}

// Validate runs the demo's validator. Unknown ids yield *domain.NotFoundError.
func (r *Registry) Validate(id string, raw map[string]any) (any, error) {
	d, ok := r.Get(id)
	if !ok {
		return nil, domain.DemoNotFound(id)
	}
	return d.Validate(raw)
}

// Execute validates then runs the demo. Validation failures are returned as
// errors so callers can tell them apart from protocol failures.
func (r *Registry) Execute(ctx context.Context, id string, raw map[string]any) (domain.ExecutionResult, error) {
	d, ok := r.Get(id)
	if !ok {
		return domain.ExecutionResult{}, domain.DemoNotFound(id)
	}
	typed, err := d.Validate(raw)
	if err != nil {
		return domain.ExecutionResult{}, err
	}
	return d.Execute(ctx, typed), nil
}
