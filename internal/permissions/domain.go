// Package permissions holds the canonical catalog of permission keys.
package permissions

import "errors"

// ErrUnknownPermission indicates a key that is not part of the registry.
var ErrUnknownPermission = errors.New("permissions: unknown permission")

// Permission describes one flat "<domain>.<action>" permission key.
type Permission struct {
	Key         string `json:"key" yaml:"key"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category" yaml:"-"`
}

// Category groups permissions. Categories partition the registry.
type Category struct {
	Key         string       `json:"key" yaml:"key"`
	Name        string       `json:"categoryName" yaml:"name"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
}

// Keys returns the category's permission keys as a Set.
func (c Category) Keys() Set {
	keys := make([]string, 0, len(c.Permissions))
	for _, p := range c.Permissions {
		keys = append(keys, p.Key)
	}
	return NewSet(keys...)
}
