package ai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// SummarizerFactory builds a summarizer for one provider. It returns
// ErrNoCredentials when the provider needs a key that is not configured.
type SummarizerFactory func(ctx context.Context, model string) (Summarizer, error)

// Registry maps provider names (groq, openrouter, ollama) to summarizer factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]SummarizerFactory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]SummarizerFactory)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *Registry) Register(name string, f SummarizerFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = f
}

// Names lists the registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

func (r *Registry) Get(ctx context.Context, name string, model string) (Summarizer, error) {
	r.mu.RLock()
	f, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown summarizer provider %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	return f(ctx, model)
}

// Resolve is Get for narration: a provider without credentials resolves to a
// nil Summarizer, so slide text is spoken as written.
func (r *Registry) Resolve(ctx context.Context, name string, model string) (Summarizer, error) {
	s, err := r.Get(ctx, name, model)
	if errors.Is(err, ErrNoCredentials) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
