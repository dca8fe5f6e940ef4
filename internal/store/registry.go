package store

import (
	"fmt"
	"sort"
	"sync"
)

// Factory constructs an adapter from connection parameters.
type Factory func(Params) (Adapter, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes an adapter available under the given name. It panics on a
// duplicate name; registration happens from init functions so a duplicate is
// a programming error.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("store: adapter %q registered twice", name))
	}
	registry[name] = f
}

// Open constructs the named adapter. An unknown name or a failing factory is
// reported as an InitError.
func Open(name string, params Params) (Adapter, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &InitError{Adapter: name, Err: fmt.Errorf("unknown adapter (known: %v)", Names())}
	}
	a, err := f(params)
	if err != nil {
		return nil, &InitError{Adapter: name, Err: err}
	}
	return a, nil
}

// Names lists registered adapter names, sorted.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
