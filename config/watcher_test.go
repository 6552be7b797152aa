package config

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testLogger struct{}

func (testLogger) Info(string, ...any)  {}
func (testLogger) Error(string, ...any) {}
func (testLogger) Warn(string, ...any)  {}
func (testLogger) Debug(string, ...any) {}

type changeRecorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *changeRecorder) record(changed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, changed)
}

func (r *changeRecorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

func TestWatcher_ReloadOnlyNotifiesOnChange(t *testing.T) {
	t.Setenv(ProfileEnv, "")
	dir := t.TempDir()
	writeConfig(t, dir, "application.yaml", "greeter:\n  greeting: hello\n")

	loader := NewLoader(WithSearchDirs(dir))
	tree, err := loader.Load()
	require.NoError(t, err)

	rec := &changeRecorder{}
	w := NewWatcher(loader, tree, AutoUpdateConfig{Interval: time.Hour}, testLogger{}, rec.record)

	changed, err := w.Reload()
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Empty(t, rec.snapshot())

	writeConfig(t, dir, "application.yaml", "greeter:\n  greeting: bonjour\n")
	changed, err = w.Reload()
	require.NoError(t, err)
	assert.Equal(t, []string{"greeter.greeting"}, changed)
	assert.Equal(t, [][]string{{"greeter.greeting"}}, rec.snapshot())
	assert.Equal(t, "bonjour", tree.Lookup("greeter")["greeting"])

	writeConfig(t, dir, "application.yaml", "greeter: [broken\n")
	_, err = w.Reload()
	assert.ErrorIs(t, err, ErrLoad)
	assert.Equal(t, "bonjour", tree.Lookup("greeter")["greeting"], "a failed reload keeps the current tree")
}

func TestWatcher_FileEventsTriggerReload(t *testing.T) {
	t.Setenv(ProfileEnv, "")
	dir := t.TempDir()
	writeConfig(t, dir, "application.yaml", "value: 1\n")

	loader := NewLoader(WithSearchDirs(dir, filepath.Join(dir, "absent")))
	tree, err := loader.Load()
	require.NoError(t, err)

	rec := &changeRecorder{}
	w := NewWatcher(loader, tree, AutoUpdateConfig{Interval: time.Hour, Watch: true}, testLogger{}, rec.record)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()
	assert.ErrorIs(t, w.Start(context.Background()), ErrWatcherStarted)

	writeConfig(t, dir, "application.yaml", "value: 2\n")
	assert.Eventually(t, func() bool {
		v, _ := tree.Value("value")
		return v == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.NotEmpty(t, rec.snapshot())
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w := NewWatcher(NewLoader(), NewTree(nil), AutoUpdateConfig{}, testLogger{}, nil)
	w.Stop()
}
