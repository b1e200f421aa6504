package carrier

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Registry resolves a carrier code to its adapter. Adapters are registered
// once at config-load time; adding a carrier never touches shared control
// flow elsewhere.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToUpper(a.Code())] = a
}

func (r *Registry) Get(code string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if a, ok := r.adapters[strings.ToUpper(code)]; ok {
		return a, nil
	}
	return nil, errors.Wrap(ErrNotRegistered, code)
}

func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.adapters))
	for code := range r.adapters {
		codes = append(codes, code)
	}
	return codes
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.adapters)
}
