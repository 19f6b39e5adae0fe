package observability

import (
	"fmt"
	"log/slog"
	"sync"
)

// The relay selects its observer by name through the "observer" config
// field. "noop" and "slog" are always available; embedders register
// additional observers (an OTel exporter, a test recorder) before
// constructing the relay.
var (
	registry = map[string]Observer{
		"noop": NoOpObserver{},
		"slog": NewSlogObserver(slog.Default()),
	}
	registryMu sync.RWMutex
)

// GetObserver resolves a configured observer name.
func GetObserver(name string) (Observer, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	obs, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown observer: %s", name)
	}
	return obs, nil
}

// RegisterObserver adds or replaces a named observer.
func RegisterObserver(name string, observer Observer) {
	registryMu.Lock()
	defer registryMu.Unlock()

	registry[name] = observer
}
