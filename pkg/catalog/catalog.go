// Package catalog holds the closed, read-only registry of container kinds and
// sample kinds together with the coordinate systems that address their slots.
// A Catalog is built once at process start and injected into every component
// that validates placements.
package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnknownKind is returned when a container kind or sample kind is not registered.
var ErrUnknownKind = errors.New("unknown kind")

const defaultCoordinateCacheSize = 4096

// ContainerKind is an immutable catalog entry.
type ContainerKind struct {
	ID           string           `yaml:"id" json:"id"`
	Coordinates  CoordinateSystem `yaml:"coordinates" json:"coordinates"`
	Children     []string         `yaml:"children,omitempty" json:"children,omitempty"`
	HoldsSamples bool             `yaml:"holds_samples" json:"holds_samples"`
	SampleKinds  []string         `yaml:"sample_kinds,omitempty" json:"sample_kinds,omitempty"`
}

// ParentEligible reports whether containers of this kind may hold other containers
// and may therefore sit at the root of a hierarchy.
func (k ContainerKind) ParentEligible() bool { return len(k.Children) > 0 }

// SampleKind names a biological material class.
type SampleKind struct {
	Name                  string `yaml:"name" json:"name"`
	MoleculeOntologyCURIE string `yaml:"molecule_ontology_curie,omitempty" json:"molecule_ontology_curie,omitempty"`
}

type coordinateKey struct {
	kind string
	raw  string
}

// Catalog is safe for concurrent use; nothing in it mutates after New returns
// except the parse memo, which is internally synchronised.
type Catalog struct {
	kinds       map[string]ContainerKind
	kindOrder   []string
	parents     map[string][]string
	samples     map[string]SampleKind
	sampleOrder []string
	memo        *lru.Cache[coordinateKey, Coordinate]
}

// New validates the supplied kinds and returns a read-only catalog. Every
// problem found is reported, not just the first.
func New(kinds []ContainerKind, sampleKinds []SampleKind) (*Catalog, error) {
	c := &Catalog{
		kinds:   make(map[string]ContainerKind, len(kinds)),
		parents: make(map[string][]string),
		samples: make(map[string]SampleKind, len(sampleKinds)),
	}
	var result *multierror.Error
	for _, sk := range sampleKinds {
		name := strings.TrimSpace(sk.Name)
		if name == "" {
			result = multierror.Append(result, errors.New("sample kind with empty name"))
			continue
		}
		if _, dup := c.samples[name]; dup {
			result = multierror.Append(result, fmt.Errorf("sample kind %q declared twice", name))
			continue
		}
		sk.Name = name
		c.samples[name] = sk
		c.sampleOrder = append(c.sampleOrder, name)
	}
	for _, k := range kinds {
		if strings.TrimSpace(k.ID) == "" {
			result = multierror.Append(result, errors.New("container kind with empty id"))
			continue
		}
		if _, dup := c.kinds[k.ID]; dup {
			result = multierror.Append(result, fmt.Errorf("container kind %q declared twice", k.ID))
			continue
		}
		if err := k.Coordinates.check(); err != nil {
			result = multierror.Append(result, fmt.Errorf("container kind %q: %w", k.ID, err))
		}
		if !k.HoldsSamples && len(k.SampleKinds) > 0 {
			result = multierror.Append(result, fmt.Errorf("container kind %q restricts sample kinds but holds no samples", k.ID))
		}
		k.Children = slices.Clone(k.Children)
		k.SampleKinds = slices.Clone(k.SampleKinds)
		k.Coordinates.Axes = slices.Clone(k.Coordinates.Axes)
		c.kinds[k.ID] = k
		c.kindOrder = append(c.kindOrder, k.ID)
	}
	for _, id := range c.kindOrder {
		k := c.kinds[id]
		for _, child := range k.Children {
			if _, ok := c.kinds[child]; !ok {
				result = multierror.Append(result, fmt.Errorf("container kind %q: child %q: %w", id, child, ErrUnknownKind))
				continue
			}
			c.parents[child] = append(c.parents[child], id)
		}
		for _, sk := range k.SampleKinds {
			if _, ok := c.samples[sk]; !ok {
				result = multierror.Append(result, fmt.Errorf("container kind %q: sample kind %q: %w", id, sk, ErrUnknownKind))
			}
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	memo, err := lru.New[coordinateKey, Coordinate](defaultCoordinateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("catalog: coordinate cache: %w", err)
	}
	c.memo = memo
	return c, nil
}

// Lookup returns the kind registered under id.
func (c *Catalog) Lookup(id string) (ContainerKind, error) {
	k, ok := c.kinds[id]
	if !ok {
		return ContainerKind{}, fmt.Errorf("container kind %q: %w", id, ErrUnknownKind)
	}
	k.Children = slices.Clone(k.Children)
	k.SampleKinds = slices.Clone(k.SampleKinds)
	k.Coordinates.Axes = slices.Clone(k.Coordinates.Axes)
	return k, nil
}

// Kinds lists the container kinds in declaration order.
func (c *Catalog) Kinds() []ContainerKind {
	out := make([]ContainerKind, 0, len(c.kindOrder))
	for _, id := range c.kindOrder {
		k, _ := c.Lookup(id)
		out = append(out, k)
	}
	return out
}

// CanHoldKind reports whether a parentKind container may directly hold a childKind container.
// Unknown kinds hold nothing.
func (c *Catalog) CanHoldKind(parentKind, childKind string) bool {
	parent, ok := c.kinds[parentKind]
	if !ok {
		return false
	}
	if _, ok := c.kinds[childKind]; !ok {
		return false
	}
	return slices.Contains(parent.Children, childKind)
}

// CanHoldSampleKind reports whether a container of containerKind may hold a sample of sampleKind.
func (c *Catalog) CanHoldSampleKind(containerKind, sampleKind string) bool {
	k, ok := c.kinds[containerKind]
	if !ok || !k.HoldsSamples {
		return false
	}
	if _, ok := c.samples[sampleKind]; !ok {
		return false
	}
	return len(k.SampleKinds) == 0 || slices.Contains(k.SampleKinds, sampleKind)
}

// ParentKinds lists the kinds allowed to directly hold childKind.
func (c *Catalog) ParentKinds(childKind string) []string {
	return slices.Clone(c.parents[childKind])
}

// SampleContainerKinds lists the kinds that may directly hold samples.
func (c *Catalog) SampleContainerKinds() []string {
	var out []string
	for _, id := range c.kindOrder {
		if c.kinds[id].HoldsSamples {
			out = append(out, id)
		}
	}
	return out
}

// Validate parses raw against the coordinate system of kind.
func (c *Catalog) Validate(kind, raw string) (Coordinate, error) {
	k, ok := c.kinds[kind]
	if !ok {
		return Coordinate{}, fmt.Errorf("container kind %q: %w", kind, ErrUnknownKind)
	}
	key := coordinateKey{kind: kind, raw: raw}
	if coord, hit := c.memo.Get(key); hit {
		return coord, nil
	}
	coord, err := k.Coordinates.Parse(raw)
	if err != nil {
		return Coordinate{}, fmt.Errorf("container kind %q: %w", kind, err)
	}
	c.memo.Add(key, coord)
	return coord, nil
}

// Format renders coord in the canonical form of kind.
func (c *Catalog) Format(kind string, coord Coordinate) (string, error) {
	k, ok := c.kinds[kind]
	if !ok {
		return "", fmt.Errorf("container kind %q: %w", kind, ErrUnknownKind)
	}
	s, err := k.Coordinates.Format(coord)
	if err != nil {
		return "", fmt.Errorf("container kind %q: %w", kind, err)
	}
	return s, nil
}

// Normalize validates raw and returns its canonical spelling, e.g. "a1" -> "A01".
func (c *Catalog) Normalize(kind, raw string) (string, error) {
	coord, err := c.Validate(kind, raw)
	if err != nil {
		return "", err
	}
	return c.Format(kind, coord)
}

// Capacity returns the number of addressable slots of kind, or Unbounded.
func (c *Catalog) Capacity(kind string) (int, error) {
	k, ok := c.kinds[kind]
	if !ok {
		return 0, fmt.Errorf("container kind %q: %w", kind, ErrUnknownKind)
	}
	return k.Coordinates.Capacity(), nil
}

// SampleKind returns the sample kind registered under name.
func (c *Catalog) SampleKind(name string) (SampleKind, error) {
	sk, ok := c.samples[name]
	if !ok {
		return SampleKind{}, fmt.Errorf("sample kind %q: %w", name, ErrUnknownKind)
	}
	return sk, nil
}

// SampleKinds lists sample kinds in declaration order.
func (c *Catalog) SampleKinds() []SampleKind {
	out := make([]SampleKind, 0, len(c.sampleOrder))
	for _, name := range c.sampleOrder {
		out = append(out, c.samples[name])
	}
	return out
}
