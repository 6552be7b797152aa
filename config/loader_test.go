package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoader_MergesDirsAndProfile(t *testing.T) {
	t.Setenv(ProfileEnv, "")
	root := t.TempDir()
	conf := filepath.Join(root, "conf")

	writeConfig(t, root, "application.yaml", "application:\n  name: base\n  profile: dev\ngreeter:\n  greeting: hello\n  instances: 1\n")
	writeConfig(t, conf, "application.toml", "[greeter]\ninstances = 2\n")
	writeConfig(t, root, "application-dev.yml", "greeter:\n  greeting: howdy\n")

	loader := NewLoader(WithSearchDirs(root, conf))
	tree, err := loader.Load()
	require.NoError(t, err)

	greeter := tree.Lookup("greeter")
	assert.Equal(t, "howdy", greeter["greeting"], "profile files win")
	assert.EqualValues(t, 2, greeter["instances"], "later directories win")
	v, _ := tree.Value("application.profile")
	assert.Equal(t, "dev", v)
	assert.Equal(t, []string{
		filepath.Join(root, "application.yaml"),
		filepath.Join(conf, "application.toml"),
		filepath.Join(root, "application-dev.yml"),
	}, loader.Files())
}

func TestLoader_ProfilePrecedence(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "application.yaml", "application:\n  profile: fromfile\n")
	writeConfig(t, root, "application-fromfile.yaml", "pick: file\n")
	writeConfig(t, root, "application-fromenv.yaml", "pick: env\n")
	writeConfig(t, root, "application-fromflag.yaml", "pick: flag\n")
	writeConfig(t, root, "application-fromdotenv.yaml", "pick: dotenv\n")

	t.Setenv(ProfileEnv, "")
	tree, err := NewLoader(WithSearchDirs(root)).Load()
	require.NoError(t, err)
	v, _ := tree.Value("pick")
	assert.Equal(t, "file", v)

	writeConfig(t, root, ".env", "UNITRT_PROFILE=fromdotenv\n")
	tree, err = NewLoader(WithSearchDirs(root)).Load()
	require.NoError(t, err)
	v, _ = tree.Value("pick")
	assert.Equal(t, "dotenv", v)

	t.Setenv(ProfileEnv, "fromenv")
	tree, err = NewLoader(WithSearchDirs(root)).Load()
	require.NoError(t, err)
	v, _ = tree.Value("pick")
	assert.Equal(t, "env", v)

	tree, err = NewLoader(WithSearchDirs(root), WithProfile("fromflag")).Load()
	require.NoError(t, err)
	v, _ = tree.Value("pick")
	assert.Equal(t, "flag", v)
}

func TestLoader_NoFilesAndBrokenFile(t *testing.T) {
	t.Setenv(ProfileEnv, "")
	empty := t.TempDir()
	tree, err := NewLoader(WithSearchDirs(empty, filepath.Join(empty, "missing"))).Load()
	require.NoError(t, err)
	assert.Empty(t, tree.Snapshot())

	broken := t.TempDir()
	writeConfig(t, broken, "application.yaml", "greeter: [unclosed\n")
	_, err = NewLoader(WithSearchDirs(broken)).Load()
	assert.ErrorIs(t, err, ErrLoad)
}

func TestLoader_BaseName(t *testing.T) {
	t.Setenv(ProfileEnv, "")
	root := t.TempDir()
	writeConfig(t, root, "service.json", `{"service":{"port":9000}}`)
	loader := NewLoader(WithSearchDirs(root), WithBaseName("service"))
	tree, err := loader.Load()
	require.NoError(t, err)
	assert.EqualValues(t, 9000, tree.Lookup("service")["port"])
	assert.Equal(t, "service", loader.BaseName())
	assert.Equal(t, []string{root}, loader.Dirs())
}
