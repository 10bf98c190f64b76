package docstore

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
)

// Registry maps concrete types to handler names and handler names to
// handlers. It is built once by NewRegistry and never mutated afterwards, so
// it can be shared freely between goroutines.
type Registry struct {
	byName map[string]Handler
	byType map[reflect.Type]string
}

// RegistryOption configures NewRegistry.
type RegistryOption func(*registryConfig)

type registryConfig struct {
	handlers []Handler
	logger   Logger
	strict   bool
}

// WithHandlers appends handlers in registration order. When two handlers
// claim the same type or name, the later one wins. Untyped nils are skipped;
// a nil *Serializer or *Converter fails NewRegistry.
func WithHandlers(handlers ...Handler) RegistryOption {
	return func(cfg *registryConfig) {
		for _, handler := range handlers {
			if handler != nil {
				cfg.handlers = append(cfg.handlers, handler)
			}
		}
	}
}

// WithRegistryLogger receives a warning for every shadowed claim.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.logger = logger
	}
}

// WithStrictConflicts turns shadowed claims into a construction error.
func WithStrictConflicts(strict bool) RegistryOption {
	return func(cfg *registryConfig) {
		cfg.strict = strict
	}
}

// NewRegistry builds an immutable registry.
func NewRegistry(opts ...RegistryOption) (*Registry, error) {
	cfg := registryConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	logger := loggerOrNoop(cfg.logger)

	r := &Registry{
		byName: make(map[string]Handler, len(cfg.handlers)),
		byType: map[reflect.Type]string{},
	}
	for i, handler := range cfg.handlers {
		if isNilHandler(handler) {
			return nil, configError("registry", "handler %d is a nil %T", i, handler)
		}
		name := handler.Name()
		if err := validateHandler(name, handler.Types()); err != nil {
			return nil, err
		}
		if previous, exists := r.byName[name]; exists {
			if cfg.strict {
				return nil, configError("registry", "handler %q registered twice", name)
			}
			logger.Warn("handler name shadowed", "handler", name)
			for _, t := range previous.Types() {
				if r.byType[t] == name {
					delete(r.byType, t)
				}
			}
		}
		r.byName[name] = handler
		for _, t := range handler.Types() {
			if owner, claimed := r.byType[t]; claimed && owner != name {
				if cfg.strict {
					return nil, configError("registry", "type %s claimed by %q and %q", t, owner, name)
				}
				logger.Warn("type claim shadowed", "type", t.String(), "previous", owner, "handler", name)
			}
			r.byType[t] = name
		}
	}
	return r, nil
}

func isNilHandler(handler Handler) bool {
	switch h := handler.(type) {
	case *Serializer:
		return h == nil
	case *Converter:
		return h == nil
	default:
		return handler == nil
	}
}

// MustRegistry is NewRegistry that panics on error, for package-level setup.
func MustRegistry(opts ...RegistryOption) *Registry {
	r, err := NewRegistry(opts...)
	if err != nil {
		panic(err)
	}
	return r
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	return MustRegistry(WithHandlers(Builtins()...))
})

// DefaultRegistry returns the shared registry holding the built-in handlers.
func DefaultRegistry() *Registry {
	return defaultRegistry()
}

// ResolveByType returns the handler name registered for t. Only the exact
// type is consulted: a named type derived from a registered one, or a type
// implementing the same interfaces, must be registered on its own.
func (r *Registry) ResolveByType(t reflect.Type) (string, error) {
	if r == nil {
		return "", &UnknownTypeError{Type: t}
	}
	name, ok := r.byType[t]
	if !ok {
		return "", &UnknownTypeError{Type: t}
	}
	return name, nil
}

// ResolveByName returns the handler registered as name.
func (r *Registry) ResolveByName(name string) (Handler, error) {
	if r == nil {
		return nil, &UnknownHandlerError{Name: name}
	}
	handler, ok := r.byName[name]
	if !ok {
		return nil, &UnknownHandlerError{Name: name}
	}
	return handler, nil
}

// Resolve looks up the handler for value's concrete type.
func (r *Registry) Resolve(value any) (Handler, error) {
	name, err := r.ResolveByType(reflect.TypeOf(value))
	if err != nil {
		return nil, err
	}
	handler, err := r.ResolveByName(name)
	if err != nil {
		return nil, fmt.Errorf("docstore: registry inconsistent for %T: %w", value, err)
	}
	return handler, nil
}

// Names returns registered handler names sorted alphabetically.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handlers returns the registered handlers ordered by name.
func (r *Registry) Handlers() []Handler {
	names := r.Names()
	out := make([]Handler, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name])
	}
	return out
}
