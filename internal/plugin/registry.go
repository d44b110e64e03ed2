package plugin

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	errors "github.com/frahmantamala/payment-orchestration/internal"
)

// Registry maps driver keys to plugin constructors. Nothing is discovered
// implicitly; every driver is registered at process start.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

func NewRegistry() *Registry {
	return &Registry{constructors: make(map[string]Constructor)}
}

func normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *Registry) Register(key string, c Constructor) error {
	key = normalizeKey(key)
	if key == "" {
		return fmt.Errorf("plugin: empty driver key")
	}
	if c == nil {
		return fmt.Errorf("plugin: nil constructor for %q", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.constructors[key]; exists {
		return fmt.Errorf("plugin: driver %q already registered", key)
	}
	r.constructors[key] = c
	return nil
}

// RegisterDefinitions registers a list where each entry carries its own key.
func (r *Registry) RegisterDefinitions(defs ...Definition) error {
	for _, d := range defs {
		if err := r.Register(d.Key, d.New); err != nil {
			return err
		}
	}
	return nil
}

// RegisterMap registers constructors keyed by driver, in key order.
func (r *Registry) RegisterMap(m map[string]Constructor) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := r.Register(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) Has(driver string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.constructors[normalizeKey(driver)]
	return ok
}

func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve builds the plugin for driver. An unknown driver is a configuration
// error, never a silent skip.
func (r *Registry) Resolve(driver string, deps Dependencies) (Plugin, error) {
	r.mu.RLock()
	c, ok := r.constructors[normalizeKey(driver)]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.NewConfigurationError(fmt.Sprintf("no plugin registered for driver %q", driver), errors.ErrCodePluginNotFound)
	}
	p, err := c(deps)
	if err != nil {
		if _, isApp := errors.IsAppError(err); isApp {
			return nil, err
		}
		return nil, errors.NewConfigurationError(fmt.Sprintf("plugin %q could not be constructed", driver), errors.ErrCodeInvalidConfiguration).WithCause(err)
	}
	return p, nil
}
