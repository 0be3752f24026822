package heatmap

import (
	"strings"
	"sync"
)

// Registry hands out one Component per key, sharing a BackgroundCache.
type Registry struct {
	cache      *BackgroundCache
	renderer   *Renderer
	mutex      sync.Mutex
	components map[string]*Component
}

// NewRegistry builds an empty Registry.
func NewRegistry(cache *BackgroundCache, renderer *Renderer) *Registry {
	return &Registry{
		cache:      cache,
		renderer:   renderer,
		components: make(map[string]*Component),
	}
}

// Component returns the component for key, creating it on first use.
func (registry *Registry) Component(key string) *Component {
	normalizedKey := strings.TrimSpace(key)
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	component, exists := registry.components[normalizedKey]
	if !exists {
		component = NewComponent(registry.cache, registry.renderer)
		registry.components[normalizedKey] = component
	}
	return component
}

// Remove discards the component for key and releases its background.
func (registry *Registry) Remove(key string) {
	registry.mutex.Lock()
	normalizedKey := strings.TrimSpace(key)
	component, exists := registry.components[normalizedKey]
	delete(registry.components, normalizedKey)
	registry.mutex.Unlock()
	if exists {
		component.Release()
	}
}
