package core

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registry   = make(map[string]*Flavor)
	registryMu sync.RWMutex
)

// Register adds a flavor to the registry.
// Panics if a flavor with the same key is already registered or the
// definition is inconsistent.
func Register(f *Flavor) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[f.Key]; exists {
		panic(fmt.Sprintf("flavor already registered: %s", f.Key))
	}
	if err := f.Validate(); err != nil {
		panic(err.Error())
	}

	registry[f.Key] = f
}

// Get returns a flavor by key.
// Returns false if not found.
func Get(key string) (*Flavor, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	f, ok := registry[key]
	return f, ok
}

// Lookup returns a flavor by key or ErrUnknownFlavor.
func Lookup(key string) (*Flavor, error) {
	f, ok := Get(key)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFlavor, key)
	}
	return f, nil
}

// All returns all registered flavors sorted by key.
func All() []*Flavor {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]*Flavor, 0, len(registry))
	for _, f := range registry {
		result = append(result, f)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})

	return result
}

// FlavorCount returns the number of registered flavors.
func FlavorCount() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Clear removes all registered flavors.
// Primarily useful for testing.
func Clear() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]*Flavor)
}
