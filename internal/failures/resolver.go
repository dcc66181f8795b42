package failures

import (
	"context"
	"errors"
	"fmt"

	"stimkit/internal/experiment"
	"stimkit/internal/ledger"
)

// ErrUnresolvable is returned when an output image name cannot be mapped
// back to its raw bank identifier.
var ErrUnresolvable = errors.New("cannot resolve raw image name")

// Resolver maps an experiment image name to the raw bank identifier it was
// rendered from.
type Resolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// MarkerResolver decodes the raw identifier from the name itself. It is the
// inverse of experiment.Name for identifiers starting with Marker.
type MarkerResolver struct {
	Marker string
}

func (r MarkerResolver) Resolve(_ context.Context, name string) (string, error) {
	raw, err := experiment.RawName(name, r.Marker)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnresolvable, err)
	}
	return raw, nil
}

// DefinitionResolver looks names up in experiment definitions.
type DefinitionResolver struct {
	index map[string]string
}

// NewDefinitionResolver indexes the trials of defs.
func NewDefinitionResolver(defs ...experiment.Definition) *DefinitionResolver {
	idx := make(map[string]string)
	for _, d := range defs {
		for full, raw := range d.ImageIndex() {
			idx[full] = raw
		}
	}
	return &DefinitionResolver{index: idx}
}

// LoadDefinitionResolver reads and indexes definition files.
func LoadDefinitionResolver(paths ...string) (*DefinitionResolver, error) {
	defs := make([]experiment.Definition, 0, len(paths))
	for _, p := range paths {
		d, err := experiment.ReadDefinition(p)
		if err != nil {
			return nil, err
		}
		defs = append(defs, d)
	}
	return NewDefinitionResolver(defs...), nil
}

func (r *DefinitionResolver) Resolve(_ context.Context, name string) (string, error) {
	raw, ok := r.index[name]
	if !ok {
		return "", fmt.Errorf("%w: %s is not in any loaded definition", ErrUnresolvable, name)
	}
	return raw, nil
}

// RawNameLookup is satisfied by the experiment ledger.
type RawNameLookup interface {
	LookupRawName(ctx context.Context, fullImageName string) (string, error)
}

// LedgerResolver looks names up in the experiment ledger. Only a missing
// name is unresolvable; ledger failures are returned as they are.
type LedgerResolver struct {
	Ledger RawNameLookup
}

func (r LedgerResolver) Resolve(ctx context.Context, name string) (string, error) {
	raw, err := r.Ledger.LookupRawName(ctx, name)
	if errors.Is(err, ledger.ErrNotFound) {
		return "", fmt.Errorf("%w: %w", ErrUnresolvable, err)
	}
	if err != nil {
		return "", fmt.Errorf("ledger: %w", err)
	}
	return raw, nil
}

// Chain tries each resolver in order and returns the first match.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, name string) (string, error) {
	var errs []error
	for _, r := range c {
		raw, err := r.Resolve(ctx, name)
		if err == nil {
			return raw, nil
		}
		if !errors.Is(err, ErrUnresolvable) {
			return "", err
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return "", fmt.Errorf("%w: no resolvers configured", ErrUnresolvable)
	}
	return "", errors.Join(errs...)
}
