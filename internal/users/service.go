package users

import "context"

// Service encapsulates user-related business logic
type Service struct {
	repo Repository
}

func NewService(r Repository) *Service {
	return &Service{repo: r}
}

// EnsureExists creates the user on first login. The user record carries no
// profile data; everything user-facing comes from Graph with the session's
// access token.
func (s *Service) EnsureExists(ctx context.Context, id string) (*User, error) {
	return s.repo.EnsureExists(ctx, id)
}

func (s *Service) GetByID(ctx context.Context, id string) (*User, error) {
	return s.repo.GetByID(ctx, id)
}
