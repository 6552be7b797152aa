// Package config loads, merges and watches the application configuration.
//
// Configuration lives in a Tree: a nested map read from one or more files.
// Components read the part they need by dotted prefix, either as a raw map or
// decoded into a struct.
package config

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/GoCodeAlone/unitrt/feeders"
)

// Tree is the merged configuration document. It is safe for concurrent use.
type Tree struct {
	mu   sync.RWMutex
	data map[string]any
}

// NewTree creates a tree holding a normalized copy of data.
func NewTree(data map[string]any) *Tree {
	return &Tree{data: deepCopy(feeders.Normalize(data))}
}

// Lookup returns a copy of the section at the dotted prefix. An empty prefix
// returns the whole tree; an absent or non-map section returns an empty map.
func (t *Tree) Lookup(prefix string) map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if prefix == "" {
		return deepCopy(t.data)
	}
	v, ok := walk(t.data, strings.Split(prefix, "."))
	if !ok {
		return map[string]any{}
	}
	section, ok := v.(map[string]any)
	if !ok {
		return map[string]any{}
	}
	return deepCopy(section)
}

// Value returns the value at the dotted path.
func (t *Tree) Value(path string) (any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if path == "" {
		return nil, false
	}
	v, ok := walk(t.data, strings.Split(path, "."))
	if !ok {
		return nil, false
	}
	if m, isMap := v.(map[string]any); isMap {
		return deepCopy(m), true
	}
	return v, true
}

// Has reports whether a value exists at the dotted path.
func (t *Tree) Has(path string) bool {
	_, ok := t.Value(path)
	return ok
}

// Decode decodes the section at prefix into target by re-marshalling it as
// YAML, so targets use `yaml` struct tags.
func (t *Tree) Decode(prefix string, target any) error {
	section := t.Lookup(prefix)
	raw, err := yaml.Marshal(section)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, prefix, err)
	}
	if err := yaml.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDecode, prefix, err)
	}
	return nil
}

// Snapshot returns a deep copy of the whole tree.
func (t *Tree) Snapshot() map[string]any {
	return t.Lookup("")
}

// Replace swaps the tree contents and returns the dotted paths that changed.
// Nothing changes when data equals the current contents.
func (t *Tree) Replace(data map[string]any) []string {
	next := deepCopy(feeders.Normalize(data))
	t.mu.Lock()
	defer t.mu.Unlock()
	if reflect.DeepEqual(t.data, next) {
		return nil
	}
	changed := Diff(t.data, next)
	t.data = next
	return changed
}

// Merge deep-merges src over dst and returns dst. Nested maps merge key by
// key, any other value in src replaces the one in dst.
func Merge(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = Merge(dstMap, srcMap)
			continue
		}
		if srcIsMap {
			dst[k] = deepCopy(srcMap)
			continue
		}
		dst[k] = v
	}
	return dst
}

// walk resolves parts against m. Keys may themselves contain dots, so at each
// level the longest joined key wins.
func walk(m map[string]any, parts []string) (any, bool) {
	for i := len(parts); i > 0; i-- {
		v, ok := m[strings.Join(parts[:i], ".")]
		if !ok {
			continue
		}
		if i == len(parts) {
			return v, true
		}
		if sub, isMap := v.(map[string]any); isMap {
			if found, ok := walk(sub, parts[i:]); ok {
				return found, true
			}
		}
	}
	return nil, false
}

func deepCopy(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopy(val)
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = copyValue(inner)
		}
		return s
	default:
		return v
	}
}

// Diff lists the dotted paths whose values differ between before and after,
// sorted. Sections present on one side only are reported by their own path.
func Diff(before, after map[string]any) []string {
	var changed []string
	diffInto(&changed, "", before, after)
	return sortedUnique(changed)
}

func diffInto(out *[]string, prefix string, before, after map[string]any) {
	keys := maps.Clone(before)
	if keys == nil {
		keys = map[string]any{}
	}
	for k := range after {
		keys[k] = nil
	}
	for k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		b, inBefore := before[k]
		a, inAfter := after[k]
		bm, bIsMap := b.(map[string]any)
		am, aIsMap := a.(map[string]any)
		switch {
		case inBefore && inAfter && bIsMap && aIsMap:
			diffInto(out, path, bm, am)
		case inBefore != inAfter || !reflect.DeepEqual(b, a):
			*out = append(*out, path)
		}
	}
}

func sortedUnique(in []string) []string {
	slices.Sort(in)
	return slices.Compact(in)
}
