package connector

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/azrailbeat/crystalbay-sub001/internal/domain"
)

// Registry holds the configured channel connectors. Lookup is
// case-insensitive and alias-aware, so "WhatsApp" can resolve to the wazzup
// connector.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]domain.Connector
	aliases    map[string]string
	logger     *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		connectors: make(map[string]domain.Connector),
		aliases:    make(map[string]string),
		logger:     logger,
	}
}

// Register adds a connector under its canonical name. Re-registering a name
// replaces the previous connector.
func (r *Registry) Register(c domain.Connector) {
	name := strings.ToLower(c.Name())
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.connectors[name]; exists {
		r.logger.Warn("connector replaced", "channel", name)
	}
	r.connectors[name] = c
}

// Alias points an alternative channel name at a canonical one.
func (r *Registry) Alias(alias, canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[strings.ToLower(alias)] = strings.ToLower(canonical)
}

// Resolve returns the connector for the given channel name.
// Unknown names yield domain.ErrUnknownChannel.
func (r *Registry) Resolve(name string) (domain.Connector, error) {
	key := strings.ToLower(strings.TrimSpace(name))

	r.mu.RLock()
	defer r.mu.RUnlock()

	if canonical, ok := r.aliases[key]; ok {
		key = canonical
	}
	c, ok := r.connectors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownChannel, name)
	}
	return c, nil
}

// Names returns the canonical channel names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connectors))
	for name := range r.connectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered connectors keyed by canonical name.
func (r *Registry) All() map[string]domain.Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Connector, len(r.connectors))
	for name, c := range r.connectors {
		out[name] = c
	}
	return out
}
