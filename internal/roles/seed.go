package roles

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-access/internal/permissions"
)

//go:embed roles.yaml
var defaultSeed []byte

// Seed describes one role to provision. Permissions combine All, whole
// categories and individual keys.
type Seed struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Level       Level    `yaml:"level"`
	Protected   bool     `yaml:"protected"`
	All         bool     `yaml:"all"`
	Categories  []string `yaml:"categories"`
	Permissions []string `yaml:"permissions"`
}

type seedFile struct {
	Roles []Seed `yaml:"roles"`
}

// DefaultSeeds returns the role seed embedded in the binary.
func DefaultSeeds() ([]Seed, error) {
	return LoadSeeds(bytes.NewReader(defaultSeed))
}

// LoadSeeds parses a YAML role seed.
func LoadSeeds(r io.Reader) ([]Seed, error) {
	var file seedFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("roles: decode seed: %w", err)
	}
	return file.Roles, nil
}

// Build resolves the seed into a Role against registry.
func (s Seed) Build(registry *permissions.Registry) (Role, error) {
	if s.Key == "" || s.Level <= 0 {
		return Role{}, fmt.Errorf("roles: seed %q needs a key and a positive level", s.Key)
	}
	set := permissions.NewSet(s.Permissions...)
	if s.All {
		set = set.Union(registry.All())
	}
	for _, cat := range s.Categories {
		keys, err := registry.CategoryKeys(cat)
		if err != nil {
			return Role{}, fmt.Errorf("roles: seed %q: %w", s.Key, err)
		}
		set = set.Union(keys)
	}
	if err := registry.Validate(set.Sorted()...); err != nil {
		return Role{}, fmt.Errorf("roles: seed %q: %w", s.Key, err)
	}
	name := s.Name
	if name == "" {
		name = s.Key
	}
	return Role{Key: s.Key, DisplayName: name, Level: s.Level, Permissions: set, Protected: s.Protected}, nil
}

// BuildAll resolves seeds and rejects duplicate keys or levels, since the
// hierarchy is a total order.
func BuildAll(registry *permissions.Registry, seeds []Seed) ([]Role, error) {
	keys := make(map[string]struct{}, len(seeds))
	levels := make(map[Level]string, len(seeds))
	out := make([]Role, 0, len(seeds))
	for _, seed := range seeds {
		role, err := seed.Build(registry)
		if err != nil {
			return nil, err
		}
		if _, dup := keys[role.Key]; dup {
			return nil, fmt.Errorf("roles: duplicate role %q", role.Key)
		}
		if other, dup := levels[role.Level]; dup {
			return nil, fmt.Errorf("roles: %q and %q share level %d", other, role.Key, role.Level)
		}
		keys[role.Key] = struct{}{}
		levels[role.Level] = role.Key
		out = append(out, role)
	}
	return out, nil
}
