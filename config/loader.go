package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GoCodeAlone/unitrt/feeders"
)

// Loader reads the configuration files of a profile and merges them.
//
// For every search directory, in order, it reads <base>.yaml, <base>.yml,
// <base>.toml and <base>.json when present. Once the base files are merged,
// the profile is resolved and <base>-<profile>.* files are merged over the
// result the same way. Later files win.
type Loader struct {
	dirs     []string
	basename string
	profile  string
	files    []string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithSearchDirs replaces the directories searched for configuration files.
func WithSearchDirs(dirs ...string) LoaderOption {
	return func(l *Loader) {
		l.dirs = append([]string(nil), dirs...)
	}
}

// WithBaseName sets the file base name, "application" by default.
func WithBaseName(name string) LoaderOption {
	return func(l *Loader) {
		l.basename = name
	}
}

// WithProfile pins the profile, taking precedence over the environment and
// the files themselves.
func WithProfile(profile string) LoaderOption {
	return func(l *Loader) {
		l.profile = profile
	}
}

// NewLoader creates a loader searching "." then "conf".
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		dirs:     []string{".", "conf"},
		basename: "application",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dirs returns the search directories.
func (l *Loader) Dirs() []string {
	return append([]string(nil), l.dirs...)
}

// BaseName returns the configuration file base name.
func (l *Loader) BaseName() string {
	return l.basename
}

// Files returns the files read by the last Load, in merge order.
func (l *Loader) Files() []string {
	return append([]string(nil), l.files...)
}

// Load reads and merges every configuration file into a new Tree.
func (l *Loader) Load() (*Tree, error) {
	data, err := l.LoadMap()
	if err != nil {
		return nil, err
	}
	return NewTree(data), nil
}

// LoadMap reads and merges every configuration file.
func (l *Loader) LoadMap() (map[string]any, error) {
	l.files = nil
	merged := map[string]any{}
	if err := l.mergeAll(merged, l.basename); err != nil {
		return nil, err
	}

	profile, err := l.resolveProfile(merged)
	if err != nil {
		return nil, err
	}
	if profile != "" {
		if err := l.mergeAll(merged, l.basename+"-"+profile); err != nil {
			return nil, err
		}
		application, _ := merged[ApplicationPrefix].(map[string]any)
		if application == nil {
			application = map[string]any{}
			merged[ApplicationPrefix] = application
		}
		application["profile"] = profile
	}
	return merged, nil
}

// Profile returns the profile the loader would use for data.
func (l *Loader) Profile(data map[string]any) (string, error) {
	return l.resolveProfile(data)
}

func (l *Loader) mergeAll(into map[string]any, name string) error {
	for _, dir := range l.dirs {
		for _, ext := range feeders.Extensions {
			path := filepath.Join(dir, name+ext)
			info, err := os.Stat(path)
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
			}
			if info.IsDir() {
				continue
			}

			f, err := feeders.ForFile(path)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrLoad, err)
			}
			tree, err := f.FeedTree()
			if err != nil {
				return fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
			}
			Merge(into, tree)
			l.files = append(l.files, path)
		}
	}
	return nil
}

type profileSource struct {
	Profile string `env:"UNITRT_PROFILE"`
}

// resolveProfile picks the explicit profile, then UNITRT_PROFILE from the
// environment or a .env file in a search directory, then application.profile.
func (l *Loader) resolveProfile(data map[string]any) (string, error) {
	if l.profile != "" {
		return l.profile, nil
	}

	var src profileSource
	if err := feeders.NewEnvFeeder().Feed(&src); err != nil {
		return "", fmt.Errorf("%w: environment: %w", ErrLoad, err)
	}
	if src.Profile != "" {
		return src.Profile, nil
	}

	for _, dir := range l.dirs {
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := feeders.NewDotEnvFeeder(path).Feed(&src); err != nil {
			return "", fmt.Errorf("%w: %s: %w", ErrLoad, path, err)
		}
		if src.Profile != "" {
			return src.Profile, nil
		}
	}

	if v, ok := NewTree(data).Value(ApplicationPrefix + ".profile"); ok {
		if s, isString := v.(string); isString {
			return s, nil
		}
	}
	return "", nil
}
