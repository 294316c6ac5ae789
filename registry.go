package syncdata

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]*Importer)
)

// Register makes an importer addressable by name, usually from an init
// function of the package declaring it. Registering the same name twice
// panics.
func Register(importer *Importer) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[importer.Name()]; ok {
		panic(fmt.Sprintf("syncdata: importer '%s' registered twice", importer.Name()))
	}
	registry[importer.Name()] = importer
}

// Lookup returns the registered importer by name.
func Lookup(name string) (*Importer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	importer, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown importer '%s'", name)
	}
	return importer, nil
}

// Importers returns the registered importer names, sorted.
func Importers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
