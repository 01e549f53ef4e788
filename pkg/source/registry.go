// Package source defines the log sources toktrack can read and how to find
// and decode their files.
package source

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pario-ai/toktrack/pkg/config"
	"github.com/pario-ai/toktrack/pkg/models"
)

var (
	// ErrNotFound is returned by Resolve for an unregistered source id.
	ErrNotFound = errors.New("source not found")
	// ErrDuplicate is returned when a source id is registered twice.
	ErrDuplicate = errors.New("source already registered")
	// ErrSealed is returned by Register once the registry is sealed.
	ErrSealed = errors.New("registry is sealed")
)

// Variant is one supported log source.
type Variant interface {
	// Descriptor returns where the source's files live and how they are framed.
	Descriptor() models.SourceDescriptor
	// NewDecoder returns a decoder for one file. Decoders are used by a
	// single goroutine and may keep state across the records of that file.
	NewDecoder(path string) Decoder
}

// Decoder turns one record into usage entries.
//
// A nil error with no entries means the record carries no usage. An error
// wrapping ErrMalformed rejects the record; the rest of the file continues.
type Decoder interface {
	Decode(record []byte) ([]models.UsageEntry, error)
}

// Registry holds the registered variants in registration order.
type Registry struct {
	mu       sync.RWMutex
	variants []Variant
	byID     map[string]Variant
	sealed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Variant)}
}

// FromConfig builds and seals a registry from configured sources. An empty
// list registers every built-in kind with its defaults. Unknown kinds are
// configuration errors.
func FromConfig(sources []config.SourceConfig) (*Registry, error) {
	if len(sources) == 0 {
		for _, name := range BuiltinKinds() {
			sources = append(sources, config.SourceConfig{ID: name})
		}
	}

	r := NewRegistry()
	for _, sc := range sources {
		if sc.Disabled {
			continue
		}
		v, err := newConfigured(sc)
		if err != nil {
			return nil, err
		}
		if err := r.Register(v); err != nil {
			return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
		}
	}
	r.Seal()
	return r, nil
}

// Register adds a variant. It fails for a duplicate id or a sealed registry.
func (r *Registry) Register(v Variant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := v.Descriptor().ID
	if r.sealed {
		return fmt.Errorf("register %q: %w", id, ErrSealed)
	}
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("register %q: %w", id, ErrDuplicate)
	}
	r.byID[id] = v
	r.variants = append(r.variants, v)
	return nil
}

// Seal makes the registry read-only.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// List returns the variants in registration order.
func (r *Registry) List() []Variant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Variant, len(r.variants))
	copy(out, r.variants)
	return out
}

// Resolve returns the variant registered under id.
func (r *Registry) Resolve(id string) (Variant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("resolve %q: %w", id, ErrNotFound)
	}
	return v, nil
}

// Filter returns the variants whose ids are in ids, in registration order.
// An empty ids returns every variant.
func (r *Registry) Filter(ids []string) ([]Variant, error) {
	if len(ids) == 0 {
		return r.List(), nil
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, err := r.Resolve(id); err != nil {
			return nil, err
		}
		want[id] = true
	}
	var out []Variant
	for _, v := range r.List() {
		if want[v.Descriptor().ID] {
			out = append(out, v)
		}
	}
	return out, nil
}
