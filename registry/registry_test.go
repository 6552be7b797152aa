package registry

import (
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type store interface{ Name() string }

type memStore struct{ name string }

func (m *memStore) Name() string { return m.name }

func TestRegistry_InstanceAndFactoryBindings(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(reflect.TypeFor[string]()).Named("greeting").ToInstance("hello")

	var built atomic.Int32
	reg.Bind(reflect.TypeFor[*memStore]()).ToFactory(func(r Resolver) (any, error) {
		built.Add(1)
		g, err := r.Get(KeyFor[string]("greeting"))
		if err != nil {
			return nil, err
		}
		return &memStore{name: g.(string)}, nil
	})
	require.NoError(t, reg.Err())

	first, err := reg.Get(KeyFor[*memStore](""))
	require.NoError(t, err)
	second, err := reg.Get(KeyFor[*memStore](""))
	require.NoError(t, err)

	assert.Equal(t, "hello", first.(*memStore).Name())
	assert.NotSame(t, first, second, "prototype bindings build a new instance each time")
	assert.Equal(t, int32(2), built.Load())
}

func TestRegistry_SingletonIsShared(t *testing.T) {
	reg := NewRegistry()
	var built atomic.Int32
	reg.Bind(reflect.TypeFor[*memStore]()).ToFactory(func(Resolver) (any, error) {
		built.Add(1)
		return &memStore{name: "one"}, nil
	}).In(ScopeSingleton)
	reg.Bind(reflect.TypeFor[store]()).To(KeyFor[*memStore](""))

	var wg sync.WaitGroup
	results := make([]any, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := reg.Get(KeyFor[store](""))
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}
	wg.Wait()

	for _, v := range results {
		assert.Same(t, results[0], v)
	}
	assert.Equal(t, int32(1), built.Load())
}

func TestRegistry_NotFound(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get(KeyFor[store]("missing"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBindingNotFound))
	assert.Contains(t, err.Error(), "missing")

	_, err = reg.GetAll(reflect.TypeFor[store]())
	assert.ErrorIs(t, err, ErrBindingNotFound)
}

func TestRegistry_DuplicateBindingIsCollected(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(reflect.TypeFor[string]()).ToInstance("a")
	reg.Bind(reflect.TypeFor[string]()).ToInstance("b")
	reg.Bind(nil).ToInstance("c")

	err := reg.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateBinding)
	assert.ErrorIs(t, err, ErrInvalidBinding)
	assert.ErrorIs(t, err, ErrRegistryConfigError)
}

func TestRegistry_Multibinding(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(reflect.TypeFor[*memStore]()).Named("a").ToInstance(&memStore{name: "a"})
	reg.Bind(reflect.TypeFor[*memStore]()).Named("b").ToInstance(&memStore{name: "b"})

	set := reg.Multibind(reflect.TypeFor[store]())
	set.AddBinding().To(KeyFor[*memStore]("a"))
	set.AddBinding().To(KeyFor[*memStore]("b"))

	all, err := reg.GetAll(reflect.TypeFor[store]())
	require.NoError(t, err)
	require.Len(t, all, 2)
	names := []string{all[0].(store).Name(), all[1].(store).Name()}
	assert.ElementsMatch(t, []string{"a", "b"}, names)

	empty := NewRegistry()
	empty.Multibind(reflect.TypeFor[store]())
	none, err := empty.GetAll(reflect.TypeFor[store]())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRegistry_ProviderScopes(t *testing.T) {
	reg := NewRegistry()
	var calls atomic.Int32
	p := ProviderFunc(func(Resolver) (any, error) {
		calls.Add(1)
		return &memStore{name: "provided"}, nil
	})
	reg.Bind(reflect.TypeFor[*memStore]()).ToProvider(p).In(ScopeSingleton)
	reg.Bind(reflect.TypeFor[store]()).ToProvider(p).In(ScopePrototype)

	a, err := reg.Get(KeyFor[*memStore](""))
	require.NoError(t, err)
	b, err := reg.Get(KeyFor[*memStore](""))
	require.NoError(t, err)
	assert.Same(t, a, b)

	c, err := reg.Get(KeyFor[store](""))
	require.NoError(t, err)
	d, err := reg.Get(KeyFor[store](""))
	require.NoError(t, err)
	assert.NotSame(t, c, d)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegistry_CircularDependency(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(reflect.TypeFor[string]()).ToFactory(func(r Resolver) (any, error) {
		return r.Get(KeyFor[int](""))
	})
	reg.Bind(reflect.TypeFor[int]()).ToFactory(func(r Resolver) (any, error) {
		return r.Get(KeyFor[string](""))
	})

	_, err := reg.Get(KeyFor[string](""))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircularDependency)
	assert.Contains(t, err.Error(), "string -> int -> string")
}

func TestRegistry_PanicBecomesError(t *testing.T) {
	reg := NewRegistry()
	reg.Bind(reflect.TypeFor[string]()).ToFactory(func(Resolver) (any, error) {
		panic("boom")
	})
	_, err := reg.Get(KeyFor[string](""))
	assert.ErrorIs(t, err, ErrConstructionPanic)
}

func TestRegistry_HooksAndProjection(t *testing.T) {
	type base struct{ ID string }
	type derived struct {
		base
		Extra int
	}

	reg := NewRegistry()
	var hooked []any
	reg.AddHook(func(_ Resolver, instance any) error {
		hooked = append(hooked, instance)
		return nil
	})
	reg.Bind(reflect.TypeFor[*derived]()).ToFactory(func(Resolver) (any, error) {
		return &derived{base: base{ID: "d1"}, Extra: 1}, nil
	}).In(ScopeSingleton)
	reg.Bind(reflect.TypeFor[*base]()).ToProjection(KeyFor[*derived](""), func(v any) (any, error) {
		return &v.(*derived).base, nil
	})

	b, err := reg.Get(KeyFor[*base](""))
	require.NoError(t, err)
	assert.Equal(t, "d1", b.(*base).ID)
	assert.Len(t, hooked, 1, "hooks run once for the constructed instance, not for links")

	hookErr := errors.New("hook failed")
	failing := NewRegistry()
	failing.AddHook(func(Resolver, any) error { return hookErr })
	failing.Bind(reflect.TypeFor[string]()).ToFactory(func(Resolver) (any, error) { return "x", nil })
	_, err = failing.Get(KeyFor[string](""))
	assert.ErrorIs(t, err, hookErr)
}

func TestKeyString(t *testing.T) {
	assert.Equal(t, "string", KeyFor[string]("").String())
	assert.Equal(t, "string(name)", KeyFor[string]("name").String())
	assert.Equal(t, "<nil>", Key{}.String())
	assert.Equal(t, "singleton", ScopeSingleton.String())
	assert.Equal(t, "prototype", ScopePrototype.String())
}
