package compiler

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/phalanx-soar/phalanx/pkg/models"
)

const defaultCacheSize = 256

// Cache memoizes compiled graphs keyed by definition id and version.
// Definitions are content-immutable, so a cached graph is only ever
// invalidated by a version bump producing a new key.
type Cache struct {
	graphs *lru.Cache[string, *CompiledGraph]
}

// NewCache creates a compiled-graph cache. size <= 0 uses the default.
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}

	graphs, err := lru.New[string, *CompiledGraph](size)
	if err != nil {
		return nil, err
	}

	return &Cache{graphs: graphs}, nil
}

// Compile returns the cached graph for the definition's id+version or
// compiles and caches it. A compile failure is never cached.
func (c *Cache) Compile(def *models.PlaybookDefinition) (*CompiledGraph, error) {
	key := def.CacheKey()

	if graph, ok := c.graphs.Get(key); ok {
		return graph, nil
	}

	graph, err := Compile(def)
	if err != nil {
		return nil, err
	}

	c.graphs.Add(key, graph)

	return graph, nil
}
