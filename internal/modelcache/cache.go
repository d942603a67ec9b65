// Package modelcache holds the process-wide cache of available model
// lists, keyed by provider. The list changes only when operators
// reconfigure providers, so entries live until explicitly cleared;
// there is no TTL.
package modelcache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kotae-ai/kotae/internal/agent"
)

// fetchTimeout bounds one upstream model-list request.
const fetchTimeout = 10 * time.Second

// Fetcher loads the model list for a provider from the agent service.
// *agent.Client satisfies it.
type Fetcher interface {
	Models(ctx context.Context, provider string) ([]agent.ModelInfo, error)
}

// Catalog caches model lists per provider. Safe for concurrent use.
type Catalog struct {
	fetcher Fetcher

	mu      sync.RWMutex
	entries map[string][]agent.ModelInfo

	group singleflight.Group
}

// New creates an empty catalog backed by the given fetcher.
func New(fetcher Fetcher) *Catalog {
	return &Catalog{
		fetcher: fetcher,
		entries: make(map[string][]agent.ModelInfo),
	}
}

// Get returns the cached model list for a provider, fetching it on first
// use. Concurrent callers for the same provider share one upstream
// request. Fetch failures are not cached; the next call retries.
func (c *Catalog) Get(ctx context.Context, provider string) ([]agent.ModelInfo, error) {
	if provider == "" {
		return nil, fmt.Errorf("modelcache: provider is required")
	}

	if models, ok := c.Peek(provider); ok {
		return models, nil
	}

	// Deduplicate concurrent fetches. Use context.Background() instead of
	// the caller's ctx because singleflight reuses the first caller's
	// context; if that caller cancels, all waiters would get a stale error.
	result, err, _ := c.group.Do(provider, func() (any, error) {
		if models, ok := c.Peek(provider); ok {
			return models, nil
		}

		fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		models, err := c.fetcher.Models(fetchCtx, provider)
		if err != nil {
			return nil, err
		}
		c.Set(provider, models)
		return models, nil
	})
	if err != nil {
		return nil, err
	}
	return copyModels(result.([]agent.ModelInfo)), nil
}

// Peek returns the cached list without fetching.
func (c *Catalog) Peek(provider string) ([]agent.ModelInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	models, ok := c.entries[provider]
	if !ok {
		return nil, false
	}
	return copyModels(models), true
}

// Set stores a model list for a provider, replacing any previous entry.
func (c *Catalog) Set(provider string, models []agent.ModelInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[provider] = copyModels(models)
}

// Clear drops the cached entry for one provider.
func (c *Catalog) Clear(provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, provider)
}

// ClearAll drops every cached entry. Used when provider configuration
// changes.
func (c *Catalog) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string][]agent.ModelInfo)
}

// Providers returns the providers currently cached, in no particular
// order.
func (c *Catalog) Providers() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for p := range c.entries {
		out = append(out, p)
	}
	return out
}

func copyModels(models []agent.ModelInfo) []agent.ModelInfo {
	if models == nil {
		return nil
	}
	out := make([]agent.ModelInfo, len(models))
	copy(out, models)
	return out
}
