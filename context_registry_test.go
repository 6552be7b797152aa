package unitrt_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/unitrt"
)

func newContexts(t *testing.T, n int) []*unitrt.Context {
	t.Helper()
	catalog := unitrt.NewCatalog(
		deployRecorder(func() *alphaUnit { return &alphaUnit{} }, unitrt.UnitTag("alpha")),
	)
	factory, err := unitrt.NewContextFactory(catalog, unitrt.ContextDeps{Logger: testLogger()})
	require.NoError(t, err)
	out := make([]*unitrt.Context, n)
	for i := range out {
		out[i] = factory.NewContext(factory.Units()[0])
	}
	return out
}

func TestContextRegistry(t *testing.T) {
	contexts := newContexts(t, 3)
	r := unitrt.NewContextRegistry()

	_, ok := r.Current("alpha")
	assert.False(t, ok)

	r.Register("alpha", contexts[0])
	r.Register("alpha", contexts[1])
	r.Register("beta", contexts[2])

	assert.Equal(t, []string{"alpha", "beta"}, r.Tags())
	assert.Equal(t, 3, r.Len())
	current, ok := r.Current("alpha")
	require.True(t, ok)
	assert.Same(t, contexts[0], current)

	snapshot := r.Lookup("alpha")
	assert.True(t, r.Deregister("alpha", contexts[0]))
	assert.False(t, r.Deregister("alpha", contexts[0]))
	assert.Len(t, snapshot, 2, "lookups return a stable snapshot")
	assert.Equal(t, []*unitrt.Context{contexts[1]}, r.Lookup("alpha"))

	assert.True(t, r.Deregister("beta", contexts[2]))
	assert.Equal(t, []string{"alpha"}, r.Tags())
}

func TestContextRegistry_ConcurrentAccess(t *testing.T) {
	contexts := newContexts(t, 16)
	r := unitrt.NewContextRegistry()

	var wg sync.WaitGroup
	for _, c := range contexts {
		wg.Add(2)
		go func() {
			defer wg.Done()
			r.Register("alpha", c)
		}()
		go func() {
			defer wg.Done()
			_ = r.Lookup("alpha")
			_ = r.Len()
		}()
	}
	wg.Wait()
	assert.Equal(t, len(contexts), r.Len())

	for _, c := range contexts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Deregister("alpha", c)
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Len())
	assert.Empty(t, r.Tags())
}

func TestContextFactory_InstanceIdentity(t *testing.T) {
	contexts := newContexts(t, 2)

	a, b := contexts[0], contexts[1]
	assert.NotEqual(t, a.InstanceID(), b.InstanceID())
	assert.Equal(t, "alpha", a.Tag())
	assert.Contains(t, a.DisplayName(), "alpha#")
	assert.Equal(t, unitrt.DefaultEventSource, a.EventSource())
}
