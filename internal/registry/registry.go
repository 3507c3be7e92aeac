// Package registry turns administrator-managed provider configuration into
// ready-to-use adapters. The enabled-provider snapshot is cached for a
// bounded interval, so configuration edits become visible only after the
// interval elapses.
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/emberblog/identity/internal/cache"
	"github.com/emberblog/identity/internal/provider"
	"github.com/emberblog/identity/internal/store"
)

// ErrNotFound is returned when a provider type is unknown or disabled.
var ErrNotFound = errors.New("registry: provider not found")

const snapshotKey = "provider_configs"

// Registry maps provider-type tags to adapter constructors and builds
// adapter instances from the stored configuration.
type Registry struct {
	store     store.Store
	cache     cache.Cache
	clients   provider.Clients
	ttl       time.Duration
	logger    *slog.Logger
	factories map[string]provider.Factory
}

// New creates a registry. The factory table starts empty; call
// RegisterFactory for every supported provider type.
func New(st store.Store, c cache.Cache, clients provider.Clients, ttl time.Duration, logger *slog.Logger) *Registry {
	return &Registry{
		store:     st,
		cache:     c,
		clients:   clients,
		ttl:       ttl,
		logger:    logger,
		factories: make(map[string]provider.Factory),
	}
}

// RegisterFactory registers an adapter constructor for a provider type tag.
func (r *Registry) RegisterFactory(providerType string, factory provider.Factory) {
	r.factories[providerType] = factory
}

// Enabled returns one adapter per enabled provider row, sorted by type for
// deterministic behavior. An empty slice means the feature is unavailable,
// not an error.
func (r *Registry) Enabled(ctx context.Context) ([]provider.Adapter, error) {
	configs, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	adapters := make([]provider.Adapter, 0, len(configs))
	for _, c := range configs {
		factory, ok := r.factories[c.ProviderType]
		if !ok {
			r.logger.Warn("no adapter factory for configured provider", "type", c.ProviderType)
			continue
		}
		a, err := factory(provider.Config{
			Type:         c.ProviderType,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			CallbackURL:  c.CallbackURL,
		}, r.clients)
		if err != nil {
			r.logger.Warn("skipping misconfigured provider", "type", c.ProviderType, "error", err)
			continue
		}
		adapters = append(adapters, a)
	}

	sort.Slice(adapters, func(i, j int) bool { return adapters[i].Type() < adapters[j].Type() })
	return adapters, nil
}

// Get returns the adapter for a provider type, or ErrNotFound when the
// type is unknown or not enabled.
func (r *Registry) Get(ctx context.Context, providerType string) (provider.Adapter, error) {
	adapters, err := r.Enabled(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range adapters {
		if a.Type() == providerType {
			return a, nil
		}
	}
	return nil, ErrNotFound
}

// Invalidate drops the cached snapshot so the next read hits the store.
// Hook this to configuration writes when immediate propagation matters.
func (r *Registry) Invalidate() {
	r.cache.Delete(snapshotKey)
}

// snapshot returns the enabled provider rows, served from cache within the
// TTL window.
func (r *Registry) snapshot(ctx context.Context) ([]store.ProviderConfig, error) {
	if b, ok := r.cache.Get(snapshotKey); ok {
		var configs []store.ProviderConfig
		if err := json.Unmarshal(b, &configs); err == nil {
			return configs, nil
		}
		// Unreadable snapshot: fall through to a fresh read.
		r.cache.Delete(snapshotKey)
	}

	configs, err := r.store.EnabledProviderConfigs(ctx)
	if err != nil {
		return nil, err
	}

	if b, err := json.Marshal(configs); err == nil {
		r.cache.Set(snapshotKey, b, r.ttl)
	}
	return configs, nil
}
