package services

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PhysicianRegistry resolves a physician ID to the registered name.
type PhysicianRegistry interface {
	LookupPhysician(ctx context.Context, id string) (name string, found bool, err error)
}

// StaticRegistry is an in-memory ID -> name table.
type StaticRegistry map[string]string

// DefaultPhysicians is used when no registry source is configured.
var DefaultPhysicians = StaticRegistry{
	"12345": "Dr. Joao Silva",
	"67890": "Dra. Maria Souza",
}

func (r StaticRegistry) LookupPhysician(_ context.Context, id string) (string, bool, error) {
	name, ok := r[id]
	return name, ok, nil
}

type registryFile struct {
	Physicians []struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"physicians"`
}

// LoadRegistryFile reads a YAML registry of the form
//
//	physicians:
//	  - id: "12345"
//	    name: Dr. Joao Silva
func LoadRegistryFile(path string) (StaticRegistry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read physician registry %s: %w", path, err)
	}
	return ParseRegistry(raw)
}

// ParseRegistry decodes the YAML registry format.
func ParseRegistry(raw []byte) (StaticRegistry, error) {
	var file registryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse physician registry: %w", err)
	}
	reg := make(StaticRegistry, len(file.Physicians))
	for i, p := range file.Physicians {
		if strings.TrimSpace(p.ID) == "" || strings.TrimSpace(p.Name) == "" {
			return nil, fmt.Errorf("physician registry entry %d: id and name are required", i)
		}
		if _, dup := reg[p.ID]; dup {
			return nil, fmt.Errorf("physician registry entry %d: duplicate id %q", i, p.ID)
		}
		reg[p.ID] = p.Name
	}
	return reg, nil
}
