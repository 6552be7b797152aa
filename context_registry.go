package unitrt

import (
	"sort"
	"sync"
	"sync/atomic"
)

// ContextRegistry tracks the live contexts of every unit, keyed by unit tag.
// It is injected into contexts rather than reached through globals.
//
// Writes copy the table and swap it in, so lookups never take a lock.
type ContextRegistry struct {
	mu    sync.Mutex
	table atomic.Pointer[map[string][]*Context]
}

// NewContextRegistry creates an empty registry.
func NewContextRegistry() *ContextRegistry {
	r := &ContextRegistry{}
	empty := make(map[string][]*Context)
	r.table.Store(&empty)
	return r
}

// Register adds c under tag.
func (r *ContextRegistry) Register(tag string, c *Context) {
	r.update(func(next map[string][]*Context) {
		next[tag] = append(append([]*Context(nil), next[tag]...), c)
	})
}

// Deregister removes c from tag. It reports whether c was registered.
func (r *ContextRegistry) Deregister(tag string, c *Context) bool {
	removed := false
	r.update(func(next map[string][]*Context) {
		current := next[tag]
		kept := make([]*Context, 0, len(current))
		for _, existing := range current {
			if existing == c {
				removed = true
				continue
			}
			kept = append(kept, existing)
		}
		if len(kept) == 0 {
			delete(next, tag)
			return
		}
		next[tag] = kept
	})
	return removed
}

// Lookup returns the live contexts of tag.
func (r *ContextRegistry) Lookup(tag string) []*Context {
	return append([]*Context(nil), (*r.table.Load())[tag]...)
}

// Current returns the first live context of tag.
func (r *ContextRegistry) Current(tag string) (*Context, bool) {
	list := (*r.table.Load())[tag]
	if len(list) == 0 {
		return nil, false
	}
	return list[0], true
}

// Tags returns the tags with at least one live context, sorted.
func (r *ContextRegistry) Tags() []string {
	table := *r.table.Load()
	tags := make([]string, 0, len(table))
	for tag := range table {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// Len returns the number of live contexts.
func (r *ContextRegistry) Len() int {
	n := 0
	for _, list := range *r.table.Load() {
		n += len(list)
	}
	return n
}

func (r *ContextRegistry) update(fn func(next map[string][]*Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := *r.table.Load()
	next := make(map[string][]*Context, len(current)+1)
	for tag, list := range current {
		next[tag] = list
	}
	fn(next)
	r.table.Store(&next)
}
