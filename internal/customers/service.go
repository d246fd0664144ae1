package customers

import (
	"context"

	"github.com/odyssey-erp/odyssey-pos/internal/shared"
)

// RepositoryPort abstracts the read side used by Service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Customer, error)
	List(ctx context.Context, limit, offset int) ([]Customer, error)
}

// Service exposes customer balances.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns one customer with its cached outstanding credit.
func (s *Service) Get(ctx context.Context, id int64) (Customer, error) {
	if id <= 0 {
		return Customer{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

// List pages through customers.
func (s *Service) List(ctx context.Context, page shared.Page) ([]Customer, error) {
	items, err := s.repo.List(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []Customer{}
	}
	return items, nil
}
