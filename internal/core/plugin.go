package core

import (
	"context"
	"fmt"

	"roundcore/pkg/domain"
)

// Plugin describes an experiment-type module that contributes parameter
// definitions, commit-time rules, and lifecycle handlers. The name doubles as
// the experiment type the contributions belong to.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// Rule aliases domain.Rule for plugin contributions.
type Rule = domain.Rule

type handlerRegistration struct {
	event   domain.EventType
	name    string
	handler SignalHandler
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	parameters []Parameter
	rules      []Rule
	handlers   []handlerRegistration
}

// NewPluginRegistry constructs an empty registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{}
}

// RegisterParameter queues a parameter definition to install with the plugin.
func (r *PluginRegistry) RegisterParameter(parameter Parameter) {
	r.parameters = append(r.parameters, parameter)
}

// RegisterRule adds an in-transaction rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// RegisterHandler subscribes a lifecycle handler under the given name.
func (r *PluginRegistry) RegisterHandler(event domain.EventType, name string, handler SignalHandler) {
	if handler == nil {
		return
	}
	r.handlers = append(r.handlers, handlerRegistration{event: event, name: name, handler: handler})
}

// Parameters returns a copy of the queued parameter definitions.
func (r *PluginRegistry) Parameters() []Parameter {
	out := make([]Parameter, len(r.parameters))
	copy(out, r.parameters)
	return out
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// PluginMetadata stores metadata describing an installed plugin.
type PluginMetadata struct {
	Name       string
	Version    string
	Parameters int
	Handlers   []string
}

// ruleRegistrar is satisfied by stores that expose their rules engine; the
// durable stores inherit it from the embedded in-memory store.
type ruleRegistrar interface {
	RulesEngine() *RulesEngine
}

// InstallPlugin registers an experiment-type plugin: its parameters are
// defined through the registry, its rules wired into the store's engine when
// the store exposes one, and its lifecycle handlers subscribed on the bus.
func (s *Service) InstallPlugin(ctx context.Context, plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, err
	}

	for _, parameter := range registry.Parameters() {
		if parameter.ExperimentType == "" {
			parameter.ExperimentType = plugin.Name()
		}
		if _, _, err := s.DefineParameter(ctx, parameter); err != nil {
			return PluginMetadata{}, fmt.Errorf("plugin %s: define parameter %s: %w", plugin.Name(), parameter.Name, err)
		}
	}

	if registrar, ok := s.store.(ruleRegistrar); ok {
		for _, rule := range registry.Rules() {
			registrar.RulesEngine().Register(rule)
		}
	} else if len(registry.rules) > 0 {
		return PluginMetadata{}, fmt.Errorf("plugin %s contributes rules but store has no rules engine", plugin.Name())
	}

	handlerNames := make([]string, 0, len(registry.handlers))
	for _, reg := range registry.handlers {
		s.signals.Subscribe(reg.event, reg.name, reg.handler)
		handlerNames = append(handlerNames, reg.name)
	}

	meta := PluginMetadata{
		Name:       plugin.Name(),
		Version:    plugin.Version(),
		Parameters: len(registry.parameters),
		Handlers:   handlerNames,
	}
	s.plugins[plugin.Name()] = meta
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	return out
}
