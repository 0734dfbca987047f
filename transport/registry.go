package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	errspkg "github.com/drblury/ringflow/internal/runtime/errors"
)

// Registry maintains a mapping of front-end names to their builders and capabilities.
// Front-end packages should register themselves using Register.
type Registry struct {
	mu           sync.RWMutex
	builders     map[string]Builder
	capabilities map[string]Capabilities
}

// DefaultRegistry is the global front-end registry.
var DefaultRegistry = NewRegistry()

// NewRegistry creates a new front-end registry.
func NewRegistry() *Registry {
	return &Registry{
		builders:     make(map[string]Builder),
		capabilities: make(map[string]Capabilities),
	}
}

// Register adds a front-end builder to the registry.
// The name should match an entry of the frontends config value (e.g., "http", "tcp").
func (r *Registry) Register(name string, builder Builder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
}

// RegisterWithCapabilities adds a front-end builder and its capabilities to the registry.
func (r *Registry) RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builders[name] = builder
	r.capabilities[name] = caps
}

// GetCapabilities returns the capabilities for a registered front-end.
// Returns a Capabilities value carrying only the name if the front-end is unknown.
func (r *Registry) GetCapabilities(name string) Capabilities {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if caps, ok := r.capabilities[name]; ok {
		return caps
	}
	return Capabilities{Name: name}
}

// Build creates the named front-end.
func (r *Registry) Build(ctx context.Context, name string, cfg Config, deps Dependencies) (Listener, error) {
	if cfg == nil {
		return nil, errspkg.ErrConfigRequired
	}

	r.mu.RLock()
	builder, ok := r.builders[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", errspkg.ErrUnknownFrontend, name, r.Names())
	}

	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}
	return builder(ctx, cfg, deps)
}

// BuildAll creates every named front-end sharing one set of dependencies.
// When one builder fails the listeners built so far are closed.
func (r *Registry) BuildAll(ctx context.Context, names []string, cfg Config, deps Dependencies) ([]Listener, error) {
	deps, err := deps.Normalize(cfg)
	if err != nil {
		return nil, err
	}

	listeners := make([]Listener, 0, len(names))
	for _, name := range names {
		l, err := r.Build(ctx, name, cfg, deps)
		if err != nil {
			closeErr := CloseAll(listeners)
			return nil, errors.Join(fmt.Errorf("build front-end %s: %w", name, err), closeErr)
		}
		listeners = append(listeners, l)
	}
	return listeners, nil
}

// Names returns the sorted list of registered front-end names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.builders))
	for name := range r.builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has returns true if a front-end is registered with the given name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.builders[name]
	return ok
}

// CloseAll closes every listener and joins the errors.
func CloseAll(listeners []Listener) error {
	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Register adds a front-end builder to the default registry.
func Register(name string, builder Builder) {
	DefaultRegistry.Register(name, builder)
}

// RegisterWithCapabilities adds a front-end builder and its capabilities to the default registry.
func RegisterWithCapabilities(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.RegisterWithCapabilities(name, builder, caps)
}

// Build creates a front-end using the default registry.
func Build(ctx context.Context, name string, cfg Config, deps Dependencies) (Listener, error) {
	return DefaultRegistry.Build(ctx, name, cfg, deps)
}

// BuildAll creates front-ends using the default registry.
func BuildAll(ctx context.Context, names []string, cfg Config, deps Dependencies) ([]Listener, error) {
	return DefaultRegistry.BuildAll(ctx, names, cfg, deps)
}
