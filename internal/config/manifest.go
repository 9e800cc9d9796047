package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// KernelSpec is one kernel to build ahead of time.
type KernelSpec struct {
	Algorithm     string `yaml:"algorithm"`
	NetworkConfig string `yaml:"networkConfig"`
	Program       string `yaml:"program"`
	Entry         string `yaml:"entry"`
	Local         []int  `yaml:"local"`
	Global        []int  `yaml:"global"`
	Params        string `yaml:"params"`
}

// Manifest lists kernels for `kcache warm`.
type Manifest struct {
	Kernels []KernelSpec `yaml:"kernels"`
}

// LoadManifest reads and checks the manifest at path.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseManifest(data, path)
}

// ParseManifest decodes a manifest. Unknown fields are rejected. source
// names the manifest in errors.
func ParseManifest(data []byte, source string) (*Manifest, error) {
	var manifest Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", source, err)
	}
	for i, k := range manifest.Kernels {
		if k.Algorithm == "" || k.Program == "" || k.Entry == "" {
			return nil, fmt.Errorf("manifest %s: kernel %d needs algorithm, program and entry", source, i)
		}
	}
	return &manifest, nil
}
