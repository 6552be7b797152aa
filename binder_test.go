package unitrt_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/unitrt"
	"github.com/GoCodeAlone/unitrt/config"
)

type Store interface{ Kind() string }

type redisStore struct{ addr string }

func (s *redisStore) Kind() string { return "redis" }

type memStore struct{}

func (s *memStore) Kind() string { return "memory" }

type diskStore struct{ id int }

func (s *diskStore) Kind() string { return "disk" }

// hostUnit is built by the injecting factory.
type hostUnit struct {
	Default Store           `inject:""`
	Memory  Store           `inject:"mem"`
	All     []Store         `inject:""`
	Ctx     *unitrt.Context `inject:""`
}

func (h *hostUnit) Start(context.Context) error { return nil }
func (h *hostUnit) Stop(context.Context) error  { return nil }

func newRedis(unitrt.Resolver) (*redisStore, error) { return &redisStore{addr: "localhost:6379"}, nil }
func newMem(unitrt.Resolver) (*memStore, error)     { return &memStore{}, nil }
func newDisk(unitrt.Resolver) (*diskStore, error)   { return &diskStore{}, nil }

func TestBinder_PrimaryCandidateIsTheUnqualifiedDefault(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*hostUnit](nil, unitrt.UnitTag("host")),
		unitrt.Implements[Store](newRedis, unitrt.Named("redis"), unitrt.Primary()),
		unitrt.Implements[Store](newMem, unitrt.Named("mem")),
	)
	c := prepareContext(t, catalog, nil, "host")

	def, err := unitrt.Resolve[Store](c)
	require.NoError(t, err)
	assert.Equal(t, "redis", def.Kind())

	mem, err := unitrt.ResolveNamed[Store](c, "mem")
	require.NoError(t, err)
	assert.Equal(t, "memory", mem.Kind())

	all, err := unitrt.ResolveAll[Store](c)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	host, err := unitrt.Resolve[*hostUnit](c)
	require.NoError(t, err)
	assert.Equal(t, "redis", host.Default.Kind())
	assert.Equal(t, "memory", host.Memory.Kind())
	assert.Len(t, host.All, 2)
	assert.Same(t, c, host.Ctx)
	assert.Same(t, def, host.Default, "singleton candidates are shared between lookups")
}

func TestBinder_NoPrimaryLeavesNoDefault(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Implements[Store](newMem, unitrt.Named("mem")),
		unitrt.Implements[Store](newDisk, unitrt.Named("disk")),
	)
	c := prepareContext(t, catalog, nil, "alpha")

	_, err := unitrt.Resolve[Store](c)
	require.ErrorIs(t, err, unitrt.ErrBeanNotFound)

	all, err := unitrt.ResolveAll[Store](c)
	require.NoError(t, err)
	kinds := []string{all[0].Kind(), all[1].Kind()}
	assert.ElementsMatch(t, []string{"memory", "disk"}, kinds)

	disk, err := unitrt.ResolveNamed[Store](c, "disk")
	require.NoError(t, err)
	assert.Equal(t, "disk", disk.Kind())
}

func TestBinder_SingleCandidateIsDefault(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Implements[Store](newDisk),
	)
	c := prepareContext(t, catalog, nil, "alpha")

	s, err := unitrt.Resolve[Store](c)
	require.NoError(t, err)
	assert.Equal(t, "disk", s.Kind())

	named, err := unitrt.ResolveNamed[Store](c, "diskStore")
	require.NoError(t, err)
	assert.Same(t, s, named)
}

func TestBinder_DuplicateNameUnderInterfaceFailsBeforeDeploy(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Implements[Store](newMem, unitrt.Named("store")),
		unitrt.Implements[Store](newDisk, unitrt.Named("store")),
	)
	factory, err := unitrt.NewContextFactory(catalog, unitrt.ContextDeps{})
	require.NoError(t, err)
	err = factory.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, unitrt.ErrDuplicateBeanName))
}

type base struct{ ID string }

type derived struct {
	base
	Extra int
}

type Base struct{ ID string }

type Derived struct {
	Base
	Extra int
}

func TestBinder_ExtendsProjectsEmbeddedBase(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Component(func(unitrt.Resolver) (*Derived, error) {
			return &Derived{Base: Base{ID: "d1"}, Extra: 7}, nil
		}, unitrt.Extends[Base]()),
	)
	c := prepareContext(t, catalog, nil, "alpha")

	b, err := unitrt.Resolve[*Base](c)
	require.NoError(t, err)
	assert.Equal(t, "d1", b.ID)

	d, err := unitrt.Resolve[*Derived](c)
	require.NoError(t, err)
	assert.Same(t, &d.Base, b)
}

func TestBinder_ExtendsRejectsUnexportedBase(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Component(func(unitrt.Resolver) (*derived, error) { return &derived{}, nil }, unitrt.Extends[base]()),
	)
	_, err := bindContext(catalog, nil, "alpha")
	require.ErrorIs(t, err, unitrt.ErrNotAssignable)
}

type countingProvider struct{ made *int }

func (p *countingProvider) Get(unitrt.Resolver) (any, error) {
	*p.made++
	return &diskStore{id: *p.made}, nil
}

func TestBinder_ProviderBackedBean(t *testing.T) {
	created := 0
	made := 0
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.ProvidedBy[*diskStore](func(unitrt.Resolver) (*countingProvider, error) {
			created++
			return &countingProvider{made: &made}, nil
		}, unitrt.Prototype()),
	)
	c := prepareContext(t, catalog, nil, "alpha")

	first, err := unitrt.Resolve[*diskStore](c)
	require.NoError(t, err)
	second, err := unitrt.Resolve[*diskStore](c)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.NotEqual(t, first.id, second.id)
	assert.Equal(t, 1, created, "the provider is created once per context")
	assert.Equal(t, 2, made)
}

type serverConfig struct {
	Host    string        `yaml:"host" default:"0.0.0.0"`
	Port    int           `yaml:"port" default:"8080" validate:"gt=0"`
	Timeout time.Duration `yaml:"timeout" default:"5s"`
}

type endpoint struct{ url string }

type serverConfiguration struct {
	cfg *serverConfig
}

func TestBinder_PropertiesAndConfigurationMethods(t *testing.T) {
	tree := config.NewTree(map[string]any{
		"server": map[string]any{"host": "example.org", "port": 9090},
	})
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Properties[serverConfig]("server"),
		unitrt.Configuration(func(r unitrt.Resolver) (*serverConfiguration, error) {
			cfg, err := unitrt.Resolve[*serverConfig](r)
			if err != nil {
				return nil, err
			}
			return &serverConfiguration{cfg: cfg}, nil
		}),
		unitrt.Bean(func(o *serverConfiguration, _ unitrt.Resolver) (*endpoint, error) {
			return &endpoint{url: "http://" + o.cfg.Host}, nil
		}),
	)
	c := prepareContext(t, catalog, tree, "alpha")

	cfg, err := unitrt.Resolve[*serverConfig](c)
	require.NoError(t, err)
	assert.Equal(t, "example.org", cfg.Host)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.Timeout)

	ep, err := unitrt.Resolve[*endpoint](c)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org", ep.url)
}

func TestBinder_PropertiesValidationFailsAtResolve(t *testing.T) {
	tree := config.NewTree(map[string]any{"server": map[string]any{"port": -1}})
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Properties[serverConfig]("server"),
	)
	c := prepareContext(t, catalog, tree, "alpha")

	_, err := unitrt.Resolve[*serverConfig](c)
	require.ErrorIs(t, err, unitrt.ErrConfigLoad)
}

func TestBinder_DuplicatePropertyPrefix(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Properties[serverConfig]("server"),
		unitrt.Properties[endpoint]("server"),
	)
	_, err := bindContext(catalog, nil, "alpha")
	require.ErrorIs(t, err, unitrt.ErrDuplicatePropertyPrefix)
}

type (
	greetMode  string
	listenPort int
)

type greeterService struct {
	Greeting string
	Retries  int
	Timeout  time.Duration
	Mode     greetMode
	Port     listenPort
	ready    bool
}

func TestBinder_FieldValuesThenPostConstruct(t *testing.T) {
	tree := config.NewTree(map[string]any{
		"greeter": map[string]any{"greeting": "hello", "retries": 3},
	})
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Component[*greeterService](nil),
		unitrt.Value[*greeterService]("Greeting", "${greeter.greeting}"),
		unitrt.Value[*greeterService]("Retries", "${greeter.retries:1}"),
		unitrt.Value[*greeterService]("Timeout", "${greeter.timeout:250ms}"),
		unitrt.Value[*greeterService]("Mode", "${greeter.mode:formal}"),
		unitrt.Value[*greeterService]("Port", "${greeter.port:8080}"),
		unitrt.PostConstruct(func(g *greeterService) error {
			if g.Greeting == "" {
				return errors.New("greeting not injected")
			}
			g.ready = true
			return nil
		}),
	)
	c := prepareContext(t, catalog, tree, "alpha")

	g, err := unitrt.Resolve[*greeterService](c)
	require.NoError(t, err)
	assert.Equal(t, "hello", g.Greeting)
	assert.Equal(t, 3, g.Retries)
	assert.Equal(t, 250*time.Millisecond, g.Timeout)
	assert.Equal(t, greetMode("formal"), g.Mode)
	assert.Equal(t, listenPort(8080), g.Port)
	assert.True(t, g.ready)
}

func TestBinder_ValueRejectsComplexField(t *testing.T) {
	type holder struct{ Tags []string }
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Value[*holder]("Tags", "${tags}"),
	)
	_, err := bindContext(catalog, nil, "alpha")
	require.ErrorIs(t, err, unitrt.ErrFieldNotEligible)
}

func TestContext_BindRequiresPrepare(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
	)
	factory, err := unitrt.NewContextFactory(catalog, unitrt.ContextDeps{})
	require.NoError(t, err)
	c := factory.NewContext(factory.Units()[0])

	require.ErrorIs(t, c.Bind(), unitrt.ErrContextNotInitialized)
	require.NoError(t, c.Prepare())
	require.NoError(t, c.Bind())
	require.ErrorIs(t, c.Bind(), unitrt.ErrContextAlreadyBound)
}

func TestResolve_NameBoundToAnotherType(t *testing.T) {
	catalog := unitrt.NewCatalog(
		unitrt.DeployUnit[*alphaUnit](func(unitrt.Resolver) (*alphaUnit, error) { return &alphaUnit{}, nil }, unitrt.UnitTag("alpha")),
		unitrt.Implements[Store](newDisk, unitrt.Named("disk")),
	)
	c := prepareContext(t, catalog, nil, "alpha")

	_, err := unitrt.ResolveNamed[*memStore](c, "disk")
	require.ErrorIs(t, err, unitrt.ErrBeanNotFound)
}
