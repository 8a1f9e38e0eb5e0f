package backend

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
)

// Factory constructs a MemoryBackend from environment-sourced configuration.
// Construction-time failures should be a *ConfigError.
type Factory func() (MemoryBackend, error)

// Registry is the process-wide table of named backend factories. Build one
// with NewRegistry; the zero value has no factory map or logger.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	log       *slog.Logger
}

// NewRegistry builds an empty Registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{factories: make(map[string]Factory), log: log}
}

// Register adds a named factory, overwriting any prior registration under
// the same name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// Names returns the registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Get constructs the named backend. An unknown name is a *ConfigError.
func (r *Registry) Get(name string) (MemoryBackend, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, NewConfigError(name, "no backend registered under this name")
	}
	return f()
}

// Resolve constructs the backend named by WC_MEMORY_BACKEND, defaulting to
// "null" when unset.
func (r *Registry) Resolve() (MemoryBackend, error) {
	name := os.Getenv("WC_MEMORY_BACKEND")
	if name == "" {
		name = "null"
	}
	return r.Get(name)
}

// RegisterBuiltins registers every builtin factory, warning and skipping any
// whose construction-time dependencies are visibly absent rather than
// failing the whole registry. Actual connection errors still surface lazily
// from Get/Resolve.
func (r *Registry) RegisterBuiltins(builtins map[string]Factory) {
	for name, f := range builtins {
		if f == nil {
			r.log.Warn("skipping nil backend factory", "backend", name)
			continue
		}
		r.Register(name, f)
	}
}

// MustName panics if name is empty, used by factories constructing
// *ConfigError messages that need a stable backend identifier.
func MustName(name string) string {
	if name == "" {
		panic(fmt.Errorf("backend: factory registered with empty name"))
	}
	return name
}
