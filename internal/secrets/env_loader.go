package secrets

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// EnvLoader returns a Loader that reads the named environment variables.
// Missing variables are omitted from the result map.
func EnvLoader(keys ...string) Loader {
	return func() (map[string]string, error) {
		vals := make(map[string]string, len(keys))
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				vals[k] = v
			}
		}
		return vals, nil
	}
}

// FileLoader returns a Loader that reads a flat YAML map of credential ID to
// value. A missing file yields an empty map.
func FileLoader(path string) Loader {
	return func() (map[string]string, error) {
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return map[string]string{}, nil
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		vals := map[string]string{}
		if err := yaml.Unmarshal(data, &vals); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return vals, nil
	}
}

// Chain merges loaders in order; later loaders win on duplicate IDs.
func Chain(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		vals := map[string]string{}
		for _, l := range loaders {
			m, err := l()
			if err != nil {
				return nil, err
			}
			for k, v := range m {
				vals[k] = v
			}
		}
		return vals, nil
	}
}
