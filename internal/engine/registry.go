package engine

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs an engine adapter from adapter-specific options.
type Factory func(opts map[string]string) (Engine, error)

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// Register makes an engine adapter available under name. Adapters call this
// from init; registering the same name twice panics.
func Register(name string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	if factory == nil {
		panic("engine: nil factory for adapter " + name)
	}
	if _, dup := factories[name]; dup {
		panic("engine: adapter registered twice: " + name)
	}
	factories[name] = factory
}

// New constructs the named engine adapter.
func New(name string, opts map[string]string) (Engine, error) {
	factoriesMu.RLock()
	factory, ok := factories[name]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: unknown adapter %q (available: %v)", name, Adapters())
	}
	return factory(opts)
}

// Adapters returns the registered adapter names, sorted.
func Adapters() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
