package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/odyssey-erp/odyssey-access/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	GetUser(ctx context.Context, id int64) (User, error)
	ListByRole(ctx context.Context, roleKey string) ([]User, error)
	CountByRole(ctx context.Context) (map[string]RoleCount, error)
}

// Service handles user lookups.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// GetUser returns the user or a not_found error.
func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := s.repo.GetUser(ctx, id)
	if errors.Is(err, shared.ErrNotFound) {
		return User{}, shared.Wrap(shared.KindNotFound, fmt.Sprintf("user %d not found", id), err)
	}
	if err != nil {
		return User{}, fmt.Errorf("users: get %d: %w", id, err)
	}
	return u, nil
}

// ListByRole returns the holders of roleKey ordered by id.
func (s *Service) ListByRole(ctx context.Context, roleKey string) ([]User, error) {
	return s.repo.ListByRole(ctx, roleKey)
}

// CountByRole returns total and active members per role key.
func (s *Service) CountByRole(ctx context.Context) (map[string]RoleCount, error) {
	return s.repo.CountByRole(ctx)
}
