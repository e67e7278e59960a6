package catalog

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a catalog definition.
type File struct {
	ContainerKinds []ContainerKind `yaml:"container_kinds"`
	SampleKinds    []SampleKind    `yaml:"sample_kinds"`
}

// Load decodes a YAML catalog definition. Omitting sample_kinds keeps the
// default sample kinds.
func Load(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("catalog: decode: %w", err)
	}
	if len(f.ContainerKinds) == 0 {
		return nil, fmt.Errorf("catalog: no container kinds declared")
	}
	if len(f.SampleKinds) == 0 {
		f.SampleKinds = DefaultSampleKinds()
	}
	return New(f.ContainerKinds, f.SampleKinds)
}

// LoadFile reads a catalog from path. An empty path yields the default catalog.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return Load(bytes.NewReader(data))
}

// Marshal renders c in the format accepted by Load.
func Marshal(c *Catalog) ([]byte, error) {
	return yaml.Marshal(File{ContainerKinds: c.Kinds(), SampleKinds: c.SampleKinds()})
}
