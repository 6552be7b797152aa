package unitrt_test

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/GoCodeAlone/unitrt"
	"github.com/GoCodeAlone/unitrt/config"
)

// eventLog records lifecycle steps and deliveries across goroutines.
type eventLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *eventLog) add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, entry)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.entries)
}

func (l *eventLog) count(entry string) int {
	n := 0
	for _, e := range l.snapshot() {
		if e == entry {
			n++
		}
	}
	return n
}

func (l *eventLog) index(entry string) int {
	return slices.Index(l.snapshot(), entry)
}

// recorder is a unit that records its lifecycle.
type recorder struct {
	name     string
	log      *eventLog
	startErr error
	block    <-chan struct{}
}

func (p *recorder) Start(context.Context) error {
	p.log.add("start:" + p.name)
	return p.startErr
}

func (p *recorder) Stop(context.Context) error {
	p.log.add("stop:" + p.name)
	if p.block != nil {
		<-p.block
	}
	return nil
}

type alphaUnit struct{ recorder }
type betaUnit struct{ recorder }
type gammaUnit struct{ recorder }

func deployRecorder[U unitrt.Unit](build func() U, opts ...unitrt.UnitOption) unitrt.Registration {
	return unitrt.DeployUnit[U](func(unitrt.Resolver) (U, error) { return build(), nil }, opts...)
}

func testLogger() unitrt.Logger {
	return unitrt.NewZapLogger(zap.NewNop())
}

// newTestApp builds an application reading application.yaml from a temporary
// directory holding yaml.
func newTestApp(t *testing.T, yaml string, catalog *unitrt.Catalog) *unitrt.Application {
	t.Helper()
	dir := t.TempDir()
	if yaml != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "application.yaml"), []byte(yaml), 0o600))
	}
	app, err := unitrt.NewApplication(
		unitrt.WithCatalog(catalog),
		unitrt.WithConfigLoader(config.NewLoader(config.WithSearchDirs(dir))),
		unitrt.WithLogger(testLogger()),
	)
	require.NoError(t, err)
	return app
}

func emptyLoader(t *testing.T) *config.Loader {
	t.Helper()
	return config.NewLoader(config.WithSearchDirs(t.TempDir()))
}

// startTestApp initializes and starts app and stops it when the test ends.
func startTestApp(t *testing.T, app *unitrt.Application) {
	t.Helper()
	require.NoError(t, app.Init())
	require.NoError(t, app.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Stop(ctx)
	})
}

// prepareContext builds and binds the context of the unit tagged tag without
// a bus.
func prepareContext(t *testing.T, catalog *unitrt.Catalog, tree *config.Tree, tag string) *unitrt.Context {
	t.Helper()
	c, err := bindContext(catalog, tree, tag)
	require.NoError(t, err)
	return c
}

func bindContext(catalog *unitrt.Catalog, tree *config.Tree, tag string) (*unitrt.Context, error) {
	factory, err := unitrt.NewContextFactory(catalog, unitrt.ContextDeps{Tree: tree, Logger: testLogger()})
	if err != nil {
		return nil, err
	}
	for _, def := range factory.Units() {
		if def.Tag != tag {
			continue
		}
		c := factory.NewContext(def)
		if err := c.Prepare(); err != nil {
			return nil, err
		}
		if err := c.Bind(); err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, unitrt.ErrUnitNotFound
}
