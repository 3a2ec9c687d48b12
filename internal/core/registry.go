package core

import (
	"context"
	"sync"

	"roundcore/pkg/domain"
)

type parameterKey struct {
	experimentType string
	name           string
	scope          domain.ParameterScope
}

// parameterCache memoizes registry lookups. Definitions are read-mostly: they
// are registered during experiment-type setup and then resolved on every value
// access, so hits skip the store entirely. Any define or update invalidates
// the affected key explicitly; the cache is never allowed to go stale by
// accident.
type parameterCache struct {
	mu      sync.RWMutex
	entries map[parameterKey]Parameter
}

func newParameterCache() *parameterCache {
	return &parameterCache{entries: make(map[parameterKey]Parameter)}
}

func (c *parameterCache) get(key parameterKey) (Parameter, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[key]
	return p, ok
}

func (c *parameterCache) put(p Parameter) {
	key := parameterKey{experimentType: p.ExperimentType, name: p.Name, scope: p.Scope}
	c.mu.Lock()
	c.entries[key] = p
	c.mu.Unlock()
}

func (c *parameterCache) invalidate(p Parameter) {
	key := parameterKey{experimentType: p.ExperimentType, name: p.Name, scope: p.Scope}
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// resolveParameter returns the registered parameter for the identity tuple,
// consulting the cache before the store. A miss in both yields
// ParameterNotFoundError.
func (s *Service) resolveParameter(ctx context.Context, experimentType, name string, scope domain.ParameterScope) (Parameter, error) {
	key := parameterKey{experimentType: experimentType, name: name, scope: scope}
	if p, ok := s.registry.get(key); ok {
		return p, nil
	}
	var found Parameter
	err := s.store.View(ctx, func(view TransactionView) error {
		p, ok := view.FindParameter(experimentType, name, scope)
		if !ok {
			return domain.ParameterNotFoundError{ExperimentType: experimentType, Name: name, Scope: scope}
		}
		found = p
		return nil
	})
	if err != nil {
		return Parameter{}, err
	}
	s.registry.put(found)
	return found, nil
}
