package scripts

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownScript is returned for names nothing registered
var ErrUnknownScript = errors.New("unknown script")

// Script is a named deployment task
type Script struct {
	Name        string
	Description string
	Run         func(ctx context.Context, env *Env) error
}

// Registry maps script names to scripts
type Registry struct {
	mu      sync.RWMutex
	scripts map[string]Script
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{scripts: make(map[string]Script)}
}

// Default holds the bundled bnb, mars and matic scripts
var Default = NewRegistry()

// Register adds s, refusing duplicate names
func (r *Registry) Register(s Script) error {
	if s.Name == "" || s.Run == nil {
		return fmt.Errorf("script needs a name and a run function")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.scripts[s.Name]; ok {
		return fmt.Errorf("script %s already registered", s.Name)
	}
	r.scripts[s.Name] = s
	return nil
}

// MustRegister is Register for package init
func (r *Registry) MustRegister(scripts ...Script) {
	for _, s := range scripts {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Get looks up a script
func (r *Registry) Get(name string) (Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scripts[name]
	if !ok {
		return Script{}, fmt.Errorf("%w: %s", ErrUnknownScript, name)
	}
	return s, nil
}

// List returns the scripts sorted by name
func (r *Registry) List() []Script {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Script, 0, len(r.scripts))
	for _, s := range r.scripts {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
