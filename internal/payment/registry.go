package payment

import "github.com/fjod/furnistore/internal/domain"

// Registry holds the adapter configured for each provider.
type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[domain.Provider]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Provider()] = a
	}
	return r
}

func (r *Registry) Get(p domain.Provider) (Adapter, bool) {
	a, ok := r.adapters[p]
	return a, ok
}

func (r *Registry) Providers() []domain.Provider {
	out := make([]domain.Provider, 0, len(r.adapters))
	for _, p := range []domain.Provider{domain.ProviderStripe, domain.ProviderPayPal} {
		if _, ok := r.adapters[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
