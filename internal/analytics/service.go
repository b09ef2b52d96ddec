// Package analytics aggregates read-only statistics over roles and the users
// holding them.
package analytics

import (
	"context"
	"fmt"

	"github.com/odyssey-erp/odyssey-access/internal/roles"
	"github.com/odyssey-erp/odyssey-access/internal/users"
)

// RoleSource lists the role catalog, highest level first.
type RoleSource interface {
	ListRoles(ctx context.Context) ([]roles.Role, error)
}

// UserCounter reports role membership.
type UserCounter interface {
	CountByRole(ctx context.Context) (map[string]users.RoleCount, error)
}

// RoleStat is the membership of one role.
type RoleStat struct {
	Role          string      `json:"role"`
	DisplayName   string      `json:"displayName"`
	Level         roles.Level `json:"hierarchy"`
	TotalUsers    int         `json:"totalUsers"`
	ActiveUsers   int         `json:"activeUsers"`
	InactiveUsers int         `json:"inactiveUsers"`
}

// Service coordinates analytics queries with the cache layer.
type Service struct {
	roles   RoleSource
	counter UserCounter
	cache   *Cache
}

// NewService wires the role and user sources with a Cache helper. cache may be nil.
func NewService(roleSource RoleSource, counter UserCounter, cache *Cache) *Service {
	return &Service{roles: roleSource, counter: counter, cache: cache}
}

// RoleDistribution returns per-role user counts ordered by hierarchy level
// descending. Roles nobody holds report zeros.
func (s *Service) RoleDistribution(ctx context.Context) ([]RoleStat, error) {
	key, err := s.cache.BuildKey(ctx, "role_distribution")
	if err != nil {
		return nil, err
	}
	return Fetch(ctx, s.cache, key, s.loadRoleDistribution)
}

func (s *Service) loadRoleDistribution(ctx context.Context) ([]RoleStat, error) {
	list, err := s.roles.ListRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: list roles: %w", err)
	}
	counts, err := s.counter.CountByRole(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: count users: %w", err)
	}
	out := make([]RoleStat, 0, len(list))
	for _, role := range list {
		c := counts[role.Key]
		out = append(out, RoleStat{
			Role:          role.Key,
			DisplayName:   role.DisplayName,
			Level:         role.Level,
			TotalUsers:    c.Total,
			ActiveUsers:   c.Active,
			InactiveUsers: c.Total - c.Active,
		})
	}
	return out, nil
}
