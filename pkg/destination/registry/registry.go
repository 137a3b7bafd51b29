// Package registry maps destination type names to factories. Variants
// self-register from init, so importing a variant package is all it takes
// to make its type available to configuration loading.
package registry

import (
	"sort"
	"sync"

	"github.com/olkham/inference-node/pkg/destination/core"
	"github.com/olkham/inference-node/pkg/errors"
)

// Factory creates one unconfigured destination instance.
type Factory func() core.Destination

// Info describes a registered destination type for the management
// surface.
type Info struct {
	Type        string `json:"type"`
	Description string `json:"description"`
}

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
	infos     = make(map[string]Info)
)

// Register adds a destination type. Registering the same type twice is a
// programming error.
func Register(typeName, description string, factory Factory) error {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[typeName]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "destination type %q already registered", typeName)
	}
	factories[typeName] = factory
	infos[typeName] = Info{Type: typeName, Description: description}
	return nil
}

// MustRegister is Register for init-time use; it panics on duplicates.
func MustRegister(typeName, description string, factory Factory) {
	if err := Register(typeName, description, factory); err != nil {
		panic(err)
	}
}

// Create builds an unconfigured destination of the given type.
func Create(typeName string) (core.Destination, error) {
	mu.RLock()
	factory, ok := factories[typeName]
	mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrorTypeUnknownType, "unknown destination type %q", typeName).
			WithDetail("type", typeName)
	}
	return factory(), nil
}

// Has reports whether a destination type is registered.
func Has(typeName string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := factories[typeName]
	return ok
}

// List returns the registered type names, sorted.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns metadata for all registered types, sorted by type name.
func Describe() []Info {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]Info, 0, len(infos))
	for _, info := range infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
