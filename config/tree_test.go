package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTree() *Tree {
	return NewTree(map[string]any{
		"application": map[string]any{"name": "demo"},
		"unitrt.event.executor": map[string]any{
			"enable":   true,
			"poolSize": 4,
		},
		"greeter": map[string]any{
			"greeting": "hello",
			"enable":   false,
		},
	})
}

func TestTree_LookupAndValue(t *testing.T) {
	tree := sampleTree()

	assert.Equal(t, map[string]any{"greeting": "hello", "enable": false}, tree.Lookup("greeter"))
	assert.Equal(t, map[string]any{}, tree.Lookup("absent.section"), "absent prefixes yield an empty map")
	assert.Equal(t, map[string]any{}, tree.Lookup("greeter.greeting"), "scalar sections yield an empty map")

	exec := tree.Lookup("unitrt.event.executor")
	assert.Equal(t, true, exec["enable"], "dotted keys resolve")

	v, ok := tree.Value("application.name")
	require.True(t, ok)
	assert.Equal(t, "demo", v)
	_, ok = tree.Value("application.missing")
	assert.False(t, ok)
	assert.True(t, tree.Has("greeter.enable"))

	copied := tree.Lookup("greeter")
	copied["greeting"] = "changed"
	assert.Equal(t, "hello", tree.Lookup("greeter")["greeting"], "lookups return copies")
}

func TestTree_Decode(t *testing.T) {
	type executor struct {
		Enable   bool `yaml:"enable"`
		PoolSize int  `yaml:"poolSize"`
	}
	var got executor
	require.NoError(t, sampleTree().Decode("unitrt.event.executor", &got))
	assert.Equal(t, executor{Enable: true, PoolSize: 4}, got)

	var empty executor
	require.NoError(t, sampleTree().Decode("nothing.here", &empty))
	assert.Equal(t, executor{}, empty)

	var wrong struct {
		PoolSize []string `yaml:"poolSize"`
	}
	assert.ErrorIs(t, sampleTree().Decode("unitrt.event.executor", &wrong), ErrDecode)
}

func TestTree_ReplaceReportsChanges(t *testing.T) {
	tree := sampleTree()
	next := tree.Snapshot()
	assert.Nil(t, tree.Replace(next), "identical contents change nothing")

	greeter := next["greeter"].(map[string]any)
	greeter["greeting"] = "hi"
	next["extra"] = 1
	delete(next, "application")

	changed := tree.Replace(next)
	assert.Equal(t, []string{"application", "extra", "greeter.greeting"}, changed)
	assert.Equal(t, "hi", tree.Lookup("greeter")["greeting"])
}

func TestMerge(t *testing.T) {
	base := map[string]any{
		"a": map[string]any{"x": 1, "y": 2},
		"b": "keep",
	}
	over := map[string]any{
		"a": map[string]any{"y": 3, "z": 4},
		"c": []any{1, 2},
	}
	got := Merge(base, over)
	assert.Equal(t, map[string]any{
		"a": map[string]any{"x": 1, "y": 3, "z": 4},
		"b": "keep",
		"c": []any{1, 2},
	}, got)
	assert.Equal(t, map[string]any{"k": 1}, Merge(nil, map[string]any{"k": 1}))
}
