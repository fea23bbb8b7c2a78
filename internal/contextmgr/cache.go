package contextmgr

import "container/list"

// lru is a size-bounded least-recently-used map. Not safe for concurrent
// use; Manager guards it.
type lru[V any] struct {
	max   int
	order *list.List
	items map[string]*list.Element
}

type lruEntry[V any] struct {
	key   string
	value V
}

func newLRU[V any](size int) *lru[V] {
	return &lru[V]{max: size, order: list.New(), items: make(map[string]*list.Element)}
}

func (c *lru[V]) get(key string) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToBack(el)
	return el.Value.(*lruEntry[V]).value, true
}

func (c *lru[V]) put(key string, value V) {
	if el, ok := c.items[key]; ok {
		el.Value.(*lruEntry[V]).value = value
		c.order.MoveToBack(el)
		return
	}
	c.items[key] = c.order.PushBack(&lruEntry[V]{key: key, value: value})
	for c.order.Len() > c.max {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(*lruEntry[V]).key)
	}
}

func (c *lru[V]) remove(key string) {
	if el, ok := c.items[key]; ok {
		c.order.Remove(el)
		delete(c.items, key)
	}
}

// removeFunc drops every entry whose value matches.
func (c *lru[V]) removeFunc(match func(V) bool) {
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*lruEntry[V])
		if match(e.value) {
			c.order.Remove(el)
			delete(c.items, e.key)
		}
		el = next
	}
}

func (c *lru[V]) clear() {
	c.order.Init()
	clear(c.items)
}

func (c *lru[V]) len() int { return c.order.Len() }
