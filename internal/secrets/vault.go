// Package secrets resolves credential IDs to secret values. Values are held
// in memory and can be reloaded from their source without a restart.
package secrets

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrCredentialNotFound is returned when a credential ID has no value.
var ErrCredentialNotFound = errors.New("credential not found")

// Loader retrieves credentials keyed by ID from a source (env vars, a file).
type Loader func() (map[string]string, error)

// Vault holds credential values and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial credential load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the value for id, or an empty string if not found.
func (v *Vault) Get(id string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[id]
}

// Resolve returns the value for id or ErrCredentialNotFound.
func (v *Vault) Resolve(id string) (string, error) {
	if s := v.Get(id); s != "" {
		return s, nil
	}
	return "", fmt.Errorf("%w: %s", ErrCredentialNotFound, id)
}

// Keys returns the known credential IDs in sorted order.
func (v *Vault) Keys() []string {
	v.mu.RLock()
	keys := make([]string, 0, len(v.values))
	for k := range v.values {
		keys = append(keys, k)
	}
	v.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Redacted returns a masked form of the credential suitable for logs.
func (v *Vault) Redacted(id string) string {
	s := v.Get(id)
	if s == "" {
		return ""
	}
	return mask(s)
}

// RedactString replaces every known credential value in s with its mask.
// Values shorter than four characters are left alone.
func (v *Vault) RedactString(s string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, val := range v.values {
		if len(val) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, val, mask(val))
	}
	return s
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader returns an error, existing values are preserved.
func (v *Vault) Reload() error {
	vals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload credentials: %w", err)
	}
	v.mu.Lock()
	v.values = vals
	v.mu.Unlock()
	return nil
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + "****"
}
