// Package driver builds configured backends from typed JSON definitions through
// registries of per-type builders.
package driver

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Definition describes one configured backend entry.
type Definition struct {
	// Name is the stable configured instance identifier.
	Name string
	// Type identifies which builder should construct this instance.
	Type string
	// Enabled controls whether this definition is active.
	Enabled bool
	// Config stores type-specific JSON payload.
	Config []byte
}

// BuilderFunc builds one instance from one configured definition.
type BuilderFunc[T any] func(ctx context.Context, definition Definition, logger *slog.Logger) (T, error)

// Descriptor binds one type token to a builder.
type Descriptor[T any] struct {
	// Type is the type token from configuration (for example "bolt").
	Type string
	// Builder constructs one instance for this type.
	Builder BuilderFunc[T]
}

// Built is one constructed instance together with its definition identity.
type Built[T any] struct {
	Name  string
	Type  string
	Value T
}

// Registry maps type tokens to builders.
type Registry[T any] struct {
	kind     string
	builders map[string]BuilderFunc[T]
	types    []string
}

// NewRegistry creates one immutable registry from descriptors. kind names what
// the registry builds and appears in error messages.
func NewRegistry[T any](kind string, descriptors []Descriptor[T]) (*Registry[T], error) {
	builders := make(map[string]BuilderFunc[T], len(descriptors))
	types := make([]string, 0, len(descriptors))
	for _, descriptor := range descriptors {
		if descriptor.Type == "" {
			return nil, fmt.Errorf("new %s registry: empty descriptor type", kind)
		}
		if descriptor.Builder == nil {
			return nil, fmt.Errorf("new %s registry type %s: nil builder", kind, descriptor.Type)
		}
		if _, exists := builders[descriptor.Type]; exists {
			return nil, fmt.Errorf("new %s registry type %s: duplicate", kind, descriptor.Type)
		}

		builders[descriptor.Type] = descriptor.Builder
		types = append(types, descriptor.Type)
	}
	sort.Strings(types)

	return &Registry[T]{
		kind:     kind,
		builders: builders,
		types:    types,
	}, nil
}

// Types returns all registered types in deterministic sorted order.
func (r *Registry[T]) Types() []string {
	if r == nil {
		return nil
	}

	types := make([]string, len(r.types))
	copy(types, r.types)

	return types
}

// Supports reports an error when typ is not registered.
func (r *Registry[T]) Supports(typ string) error {
	if r == nil {
		return fmt.Errorf("resolve type: nil registry")
	}
	if _, exists := r.builders[typ]; !exists {
		return fmt.Errorf("unsupported type %s", typ)
	}

	return nil
}

// BuildEnabled builds all enabled definitions in configuration order.
func (r *Registry[T]) BuildEnabled(
	ctx context.Context,
	definitions []Definition,
	logger *slog.Logger,
) ([]Built[T], error) {
	if r == nil {
		return nil, fmt.Errorf("build backends: nil registry")
	}
	if logger == nil {
		logger = slog.Default()
	}

	built := make([]Built[T], 0, len(definitions))
	seenNames := make(map[string]struct{}, len(definitions))
	for _, definition := range definitions {
		if !definition.Enabled {
			continue
		}
		if definition.Name == "" {
			return nil, fmt.Errorf("build %s: empty name", r.kind)
		}
		if _, exists := seenNames[definition.Name]; exists {
			return nil, fmt.Errorf("build %s %s: duplicate name", r.kind, definition.Name)
		}
		seenNames[definition.Name] = struct{}{}
		if definition.Type == "" {
			return nil, fmt.Errorf("build %s %s: empty type", r.kind, definition.Name)
		}

		builder, exists := r.builders[definition.Type]
		if !exists {
			return nil, fmt.Errorf("build %s %s type %s: unsupported type", r.kind, definition.Name, definition.Type)
		}

		value, err := builder(ctx, definition, logger.With(r.kind, definition.Name))
		if err != nil {
			return nil, fmt.Errorf("build %s %s type %s: %w", r.kind, definition.Name, definition.Type, err)
		}

		built = append(built, Built[T]{
			Name:  definition.Name,
			Type:  definition.Type,
			Value: value,
		})
	}

	return built, nil
}
