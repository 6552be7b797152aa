// Package feeders reads configuration sources into nested maps.
//
// File feeders wrap the golobby/config feeders and add FeedTree, which returns
// the whole document as a map[string]any with string keys at every level, and
// FeedKey, which decodes a single top-level key into a target value.
package feeders

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Feeder populates a target value from a source.
type Feeder interface {
	Feed(target any) error
}

// TreeFeeder is a Feeder that can also return its whole document.
type TreeFeeder interface {
	Feeder
	FeedTree() (map[string]any, error)
	FeedKey(key string, target any) error
}

// Extensions lists the file extensions ForFile understands, in lookup order.
var Extensions = []string{".yaml", ".yml", ".toml", ".json"}

// ForFile returns the feeder for path based on its extension.
func ForFile(path string) (TreeFeeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return NewYamlFeeder(path), nil
	case ".toml":
		return NewTomlFeeder(path), nil
	case ".json":
		return NewJSONFeeder(path), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func feedTree(f Feeder, fileType string) (map[string]any, error) {
	var raw map[string]any
	if err := f.Feed(&raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrReadSource, fileType, err)
	}
	return Normalize(raw), nil
}

// feedKey extracts one top-level key and decodes it into target by
// re-marshalling it in the source format. A missing key leaves target as is.
func feedKey(
	f Feeder,
	key string,
	target any,
	marshalFunc func(any) ([]byte, error),
	unmarshalFunc func([]byte, any) error,
	fileType string,
) error {
	var allData map[string]any
	if err := f.Feed(&allData); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrReadSource, fileType, err)
	}

	value, exists := allData[key]
	if !exists {
		return nil
	}

	valueBytes, err := marshalFunc(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s data: %w", fileType, err)
	}
	if err = unmarshalFunc(valueBytes, target); err != nil {
		return fmt.Errorf("failed to unmarshal %s data: %w", fileType, err)
	}
	return nil
}

// Normalize converts every nested map to map[string]any and every nested
// slice element likewise, so trees from different formats compare equal.
func Normalize(in map[string]any) map[string]any {
	if in == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return Normalize(val)
	case map[any]any:
		m := make(map[string]any, len(val))
		for k, inner := range val {
			m[fmt.Sprint(k)] = normalizeValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = normalizeValue(inner)
		}
		return s
	case []map[string]any:
		s := make([]any, len(val))
		for i, inner := range val {
			s[i] = Normalize(inner)
		}
		return s
	default:
		return v
	}
}
