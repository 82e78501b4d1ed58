package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
)

// Cache stages writes over a parent Store. Reads see the staged writes first
// (read-your-writes); nothing reaches the parent until Write. A Cache whose
// Write is never called leaves the parent untouched.
type Cache struct {
	parent Store

	mu      sync.RWMutex
	puts    map[string][]byte
	deletes map[string]struct{}
}

// KV is a staged key and its value; a nil Value marks a deletion.
type KV struct {
	Key   string
	Value []byte
}

// NewCache returns an empty overlay on parent.
func NewCache(parent Store) *Cache {
	return &Cache{
		parent:  parent,
		puts:    make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

func (c *Cache) Get(key string) ([]byte, error) {
	c.mu.RLock()
	if v, ok := c.puts[key]; ok {
		c.mu.RUnlock()
		return append([]byte{}, v...), nil
	}
	if _, ok := c.deletes[key]; ok {
		c.mu.RUnlock()
		return nil, nil
	}
	c.mu.RUnlock()
	return c.parent.Get(key)
}

func (c *Cache) Put(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.puts[key] = append([]byte{}, value...)
	delete(c.deletes, key)
	return nil
}

func (c *Cache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.puts, key)
	c.deletes[key] = struct{}{}
	return nil
}

// Iterate merges the parent's view with the staged writes, in key order.
func (c *Cache) Iterate(prefix string, fn func(key string, value []byte) error) error {
	merged, err := GetByPrefix(c.parent, prefix)
	if err != nil {
		return err
	}

	c.mu.RLock()
	for k := range c.deletes {
		delete(merged, k)
	}
	for k, v := range c.puts {
		if strings.HasPrefix(k, prefix) {
			merged[k] = append([]byte{}, v...)
		}
	}
	c.mu.RUnlock()

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := fn(k, merged[k]); err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Dirty returns the staged writes sorted by key.
func (c *Cache) Dirty() []KV {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]KV, 0, len(c.puts)+len(c.deletes))
	for k, v := range c.puts {
		out = append(out, KV{Key: k, Value: append([]byte{}, v...)})
	}
	for k := range c.deletes {
		out = append(out, KV{Key: k})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Len is the number of staged writes.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.puts) + len(c.deletes)
}

// Write flushes the staged writes into the parent and resets the cache. When
// the parent is a Batcher the flush is a single atomic batch.
func (c *Cache) Write() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.puts) == 0 && len(c.deletes) == 0 {
		return nil
	}

	if b, ok := c.parent.(Batcher); ok {
		deletes := make([]string, 0, len(c.deletes))
		for k := range c.deletes {
			deletes = append(deletes, k)
		}
		sort.Strings(deletes)
		if err := b.WriteBatch(c.puts, deletes); err != nil {
			return err
		}
	} else {
		keys := make([]string, 0, len(c.puts))
		for k := range c.puts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := c.parent.Put(k, c.puts[k]); err != nil {
				return err
			}
		}
		for k := range c.deletes {
			if err := c.parent.Delete(k); err != nil {
				return err
			}
		}
	}

	c.reset()
	return nil
}

// Discard drops every staged write.
func (c *Cache) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

func (c *Cache) reset() {
	c.puts = make(map[string][]byte)
	c.deletes = make(map[string]struct{})
}

// WriteBatch lets a Cache be the parent of another Cache: a child's flush
// lands in this overlay in one step.
func (c *Cache) WriteBatch(puts map[string][]byte, deletes []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range puts {
		c.puts[k] = append([]byte{}, v...)
		delete(c.deletes, k)
	}
	for _, k := range deletes {
		delete(c.puts, k)
		c.deletes[k] = struct{}{}
	}
	return nil
}
