package embedding

import (
	"container/list"
	"sync"
)

const DefaultCacheSize = 500

// Cache maps exact input text to its vector. It is bounded and evicts the
// oldest inserted entry first. Safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	max   int
	order *list.List
	items map[string]*list.Element
}

type cacheEntry struct {
	key string
	vec []float32
}

func NewCache(max int) *Cache {
	if max <= 0 {
		max = DefaultCacheSize
	}
	return &Cache{
		max:   max,
		order: list.New(),
		items: make(map[string]*list.Element, max),
	}
}

func (c *Cache) Get(text string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[text]
	if !ok {
		return nil, false
	}
	return el.Value.(*cacheEntry).vec, true
}

// Put stores vec under text. An existing key keeps its insertion position.
func (c *Cache) Put(text string, vec []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[text]; ok {
		el.Value.(*cacheEntry).vec = vec
		return
	}
	c.items[text] = c.order.PushBack(&cacheEntry{key: text, vec: vec})
	for c.order.Len() > c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
