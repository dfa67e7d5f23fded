package clustering

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Spec describes a clustering request resolved through the registry.
type Spec struct {
	Config
	// Initial optionally seeds every run with this label array.
	Initial []int
	// Tuning holds engine-specific settings keyed by name. Engines reject
	// keys they do not know.
	Tuning map[string]float64
	Logger *zap.Logger
}

// Factory builds a Clusterer from a Spec.
type Factory func(spec Spec) (Clusterer, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes an engine available under name. It panics if name is
// already taken.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, dup := registry[name]; dup {
		panic("clustering: Register called twice for " + name)
	}
	registry[name] = f
}

// New builds the engine registered under name.
func New(name string, spec Spec) (Clusterer, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if !ok {
		return nil, Configf("unknown algorithm %q (available: %v)", name, Algorithms())
	}
	if spec.Logger == nil {
		spec.Logger = zap.NewNop()
	}
	return f(spec)
}

// Algorithms returns the registered engine names in sorted order.
func Algorithms() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
