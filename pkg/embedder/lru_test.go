package embedder

import "testing"

func TestLRUCacheEviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []float32{1})
	c.put("b", []float32{2})
	c.put("c", []float32{3}) // evicts "a"

	if _, ok := c.get("a"); ok {
		t.Error("expected \"a\" to be evicted")
	}
	if _, ok := c.get("b"); !ok {
		t.Error("expected \"b\" to remain")
	}
	if _, ok := c.get("c"); !ok {
		t.Error("expected \"c\" to remain")
	}
}

func TestLRUCacheRecencyProtectsFromEviction(t *testing.T) {
	c := newLRUCache(2)
	c.put("a", []float32{1})
	c.put("b", []float32{2})
	c.get("a")             // touch "a", making "b" the least recently used
	c.put("c", []float32{3}) // should evict "b", not "a"

	if _, ok := c.get("a"); !ok {
		t.Error("expected \"a\" to survive after being touched")
	}
	if _, ok := c.get("b"); ok {
		t.Error("expected \"b\" to be evicted")
	}
}
