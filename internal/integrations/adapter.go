package integrations

import (
	"context"
	"sort"
	"sync"

	"cvrpbc/internal/cvrp"
)

// InstanceSource lists and reads CVRP instances kept outside the store.
type InstanceSource interface {
	Name() string
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, ref string) (*cvrp.Instance, error)
}

// Registry holds the configured sources by name.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]InstanceSource
}

func NewRegistry(src ...InstanceSource) *Registry {
	r := &Registry{sources: map[string]InstanceSource{}}
	for _, s := range src {
		r.Register(s)
	}
	return r
}

func (r *Registry) Register(s InstanceSource) {
	r.mu.Lock()
	r.sources[s.Name()] = s
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (InstanceSource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sources[name]
	return s, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.sources))
	for n := range r.sources {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
