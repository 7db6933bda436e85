package executor

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"maestro/internal/types"
)

// adapterMap is the concurrency-safe tool name to adapter table.
type adapterMap struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

func newAdapterMap() adapterMap {
	return adapterMap{adapters: make(map[string]Adapter)}
}

func (m *adapterMap) set(name string, adapter Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[name] = adapter
}

func (m *adapterMap) get(name string) (Adapter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adapter, ok := m.adapters[name]
	return adapter, ok
}

// cacheEntry holds a cached tool output and the instant it was stored.
type cacheEntry struct {
	output   *types.TaskOutput
	storedAt time.Time
}

// resultCache is an LRU of successful tool outputs keyed by tool name plus
// normalized inputs. Only idempotent read-style tools benefit; mutating tools
// never reach it because only server adapters run here and the built-in
// server tools are read-only.
type resultCache struct {
	cache *lru.Cache[string, cacheEntry]
	ttl   time.Duration
}

func newResultCache(size int, ttl time.Duration) *resultCache {
	if size <= 0 {
		return &resultCache{}
	}
	cache, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return &resultCache{}
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &resultCache{cache: cache, ttl: ttl}
}

func (c *resultCache) lookup(tool string, inputs map[string]any) (*types.TaskOutput, bool) {
	if c == nil || c.cache == nil {
		return nil, false
	}
	entry, ok := c.cache.Get(cacheKey(tool, inputs))
	if !ok {
		return nil, false
	}
	if time.Since(entry.storedAt) > c.ttl {
		c.cache.Remove(cacheKey(tool, inputs))
		return nil, false
	}
	return entry.output.Clone(), true
}

func (c *resultCache) store(tool string, inputs map[string]any, output *types.TaskOutput) {
	if c == nil || c.cache == nil {
		return
	}
	c.cache.Add(cacheKey(tool, inputs), cacheEntry{output: output.Clone(), storedAt: time.Now()})
}

// cacheKey builds a stable key from the tool name and sorted input pairs.
func cacheKey(tool string, inputs map[string]any) string {
	keys := make([]string, 0, len(inputs))
	for k := range inputs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(tool)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		if raw, err := json.Marshal(inputs[k]); err == nil {
			b.Write(raw)
		}
	}
	return b.String()
}
