package facts

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/AlexanderGrooff/converge/pkg/config"
	"github.com/AlexanderGrooff/converge/pkg/vars"
	"github.com/google/go-cmp/cmp"
)

// Cache is the per-host store of discovered facts for a run.
// Values handed out are copies; callers cannot modify the cache through them.
type Cache interface {
	Get(host string) (map[string]interface{}, bool)
	Set(host string, facts map[string]interface{}) error
	// Merge deep-merges facts into the host's existing facts and reports whether anything changed.
	Merge(host string, facts map[string]interface{}) (bool, error)
	Hosts() []string
	Close() error
}

// MemoryCache keeps facts for the lifetime of the process.
type MemoryCache struct {
	mu    sync.RWMutex
	hosts map[string]map[string]interface{}
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{hosts: make(map[string]map[string]interface{})}
}

func (c *MemoryCache) Get(host string) (map[string]interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	f, ok := c.hosts[host]
	if !ok {
		return nil, false
	}
	return vars.CopyMap(f), true
}

func (c *MemoryCache) Set(host string, facts map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hosts[host] = vars.CopyMap(facts)
	return nil
}

func (c *MemoryCache) Merge(host string, facts map[string]interface{}) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.hosts[host]
	merged := vars.Merge(current, facts)
	if current != nil && cmp.Equal(current, merged) {
		return false, nil
	}
	c.hosts[host] = merged
	return true, nil
}

func (c *MemoryCache) Hosts() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	hosts := make([]string, 0, len(c.hosts))
	for h := range c.hosts {
		hosts = append(hosts, h)
	}
	sort.Strings(hosts)
	return hosts
}

func (c *MemoryCache) Close() error {
	return nil
}

// Open returns the cache backend selected by the configuration.
func Open(ctx context.Context, cfg config.FactsConfig) (Cache, error) {
	switch cfg.Cache {
	case "", "memory":
		return NewMemoryCache(), nil
	case "sqlite":
		return OpenSQLite(ctx, cfg.Path, cfg.TTL)
	default:
		return nil, fmt.Errorf("unknown fact cache backend %q", cfg.Cache)
	}
}
