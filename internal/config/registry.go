package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/cuecard/internal/resilience"
	"github.com/MrWong99/cuecard/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by [Registry.CreateSTT] when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// STTFactory builds a speech recognition provider from its config entry.
type STTFactory func(ProviderEntry) (stt.Provider, error)

// Registry maps provider names to constructors. It is safe for concurrent
// use.
type Registry struct {
	mu  sync.RWMutex
	stt map[string]STTFactory
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{stt: make(map[string]STTFactory)}
}

// RegisterSTT registers factory under name, replacing any earlier one.
func (r *Registry) RegisterSTT(name string, factory STTFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// STTNames returns the registered names in sorted order.
func (r *Registry) STTNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.stt))
	for n := range r.stt {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// CreateSTT instantiates the provider registered under entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Provider, error) {
	r.mu.RLock()
	factory, ok := r.stt[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stt/%q", ErrProviderNotRegistered, entry.Name)
	}
	p, err := factory(entry)
	if err != nil {
		return nil, fmt.Errorf("config: create stt/%q: %w", entry.Name, err)
	}
	return p, nil
}

// BuildSTT creates the configured primary provider and wraps it with the
// configured fallbacks. It returns nil, nil when no provider is configured.
// The result implements Check(ctx) for readiness probes when fallbacks are in
// use.
func (r *Registry) BuildSTT(cfg ProvidersConfig, fb resilience.FallbackConfig) (stt.Provider, error) {
	if cfg.STT.Name == "" {
		return nil, nil
	}
	primary, err := r.CreateSTT(cfg.STT)
	if err != nil {
		return nil, err
	}
	if len(cfg.STTFallbacks) == 0 {
		return primary, nil
	}
	group := resilience.NewSTTFallback(primary, cfg.STT.Name, fb)
	for i, entry := range cfg.STTFallbacks {
		p, err := r.CreateSTT(entry)
		if err != nil {
			return nil, fmt.Errorf("config: stt_fallbacks[%d]: %w", i, err)
		}
		group.AddFallback(fmt.Sprintf("%s#%d", entry.Name, i+1), p)
	}
	return group, nil
}
