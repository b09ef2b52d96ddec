package permissions

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

//go:embed catalog.yaml
var defaultCatalog []byte

var keyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*\.[a-z][a-z0-9_]*$`)

// Registry is the read-only permission catalog. It is safe for concurrent use.
type Registry struct {
	categories []Category
	byKey      map[string]Permission
	byCategory map[string]Set
	all        Set
}

type catalogFile struct {
	Categories []Category `yaml:"categories"`
}

// Default loads the catalog embedded in the binary.
func Default() (*Registry, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// MustDefault is Default for program initialisation and tests.
func MustDefault() *Registry {
	reg, err := Default()
	if err != nil {
		panic(err)
	}
	return reg
}

// Load parses a YAML catalog.
func Load(r io.Reader) (*Registry, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("permissions: decode catalog: %w", err)
	}
	return NewRegistry(file.Categories)
}

// NewRegistry validates categories and indexes them. Every key must match
// "<domain>.<action>" and belong to exactly one category.
func NewRegistry(categories []Category) (*Registry, error) {
	reg := &Registry{
		categories: make([]Category, 0, len(categories)),
		byKey:      make(map[string]Permission),
		byCategory: make(map[string]Set, len(categories)),
	}
	allKeys := make([]string, 0)
	for _, cat := range categories {
		if cat.Key == "" {
			return nil, fmt.Errorf("permissions: category without key")
		}
		if _, dup := reg.byCategory[cat.Key]; dup {
			return nil, fmt.Errorf("permissions: duplicate category %q", cat.Key)
		}
		if cat.Name == "" {
			cat.Name = humanize(strings.ToLower(cat.Key))
		}
		perms := make([]Permission, 0, len(cat.Permissions))
		keys := make([]string, 0, len(cat.Permissions))
		for _, p := range cat.Permissions {
			if !keyPattern.MatchString(p.Key) {
				return nil, fmt.Errorf("permissions: malformed key %q in %s", p.Key, cat.Key)
			}
			if owner, dup := reg.byKey[p.Key]; dup {
				return nil, fmt.Errorf("permissions: key %q in both %s and %s", p.Key, owner.Category, cat.Key)
			}
			if p.Name == "" {
				p.Name = displayName(p.Key)
			}
			p.Category = cat.Key
			reg.byKey[p.Key] = p
			perms = append(perms, p)
			keys = append(keys, p.Key)
		}
		cat.Permissions = perms
		reg.categories = append(reg.categories, cat)
		reg.byCategory[cat.Key] = NewSet(keys...)
		allKeys = append(allKeys, keys...)
	}
	reg.all = NewSet(allKeys...)
	return reg, nil
}

// ListCategories returns all categories with their permission lists, in catalog order.
func (r *Registry) ListCategories() []Category {
	out := make([]Category, len(r.categories))
	for i, cat := range r.categories {
		cat.Permissions = append([]Permission(nil), cat.Permissions...)
		out[i] = cat
	}
	return out
}

// ListPermissions returns every permission in catalog order.
func (r *Registry) ListPermissions() []Permission {
	out := make([]Permission, 0, len(r.byKey))
	for _, cat := range r.categories {
		out = append(out, cat.Permissions...)
	}
	return out
}

// IsValidKey reports registry membership.
func (r *Registry) IsValidKey(key string) bool {
	_, ok := r.byKey[key]
	return ok
}

// Lookup returns the permission registered under key.
func (r *Registry) Lookup(key string) (Permission, bool) {
	p, ok := r.byKey[key]
	return p, ok
}

// All returns every registered key.
func (r *Registry) All() Set { return r.all }

// CategoryKeys returns the keys owned by categoryKey.
func (r *Registry) CategoryKeys(categoryKey string) (Set, error) {
	keys, ok := r.byCategory[categoryKey]
	if !ok {
		return Set{}, shared.E(shared.KindNotFound, "permission category %q not found", categoryKey)
	}
	return keys, nil
}

// Validate rejects the first key not present in the registry.
func (r *Registry) Validate(keys ...string) error {
	for _, k := range keys {
		if !r.IsValidKey(k) {
			return shared.Wrap(shared.KindValidation, fmt.Sprintf("unknown permission key %q", k), ErrUnknownPermission)
		}
	}
	return nil
}

// displayName turns "assets.assign" into "Assign Assets".
func displayName(key string) string {
	domain, action, _ := strings.Cut(key, ".")
	return humanize(action + " " + domain)
}

func humanize(s string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(s, "_", " "))
}
