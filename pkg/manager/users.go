package manager

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/minicloud/minicloud/pkg/types"
)

// CreateUser registers an account and mints its bearer token. Password
// auth lives outside the core; the token is the whole credential.
func (m *Manager) CreateUser(name string) (*types.User, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: username is required", types.ErrInvalidArgument)
	}

	user := &types.User{
		Username: name,
		Token:    uuid.NewString(),
	}
	if err := m.store.CreateUser(user); err != nil {
		return nil, err
	}

	m.logger.Info().Int64("user_id", user.ID).Str("username", name).Msg("user created")
	return user, nil
}

// ListUsers returns all accounts
func (m *Manager) ListUsers() ([]*types.User, error) {
	return m.store.ListUsers()
}

// Authenticate resolves a bearer token to a principal. Unknown tokens
// fail with ErrUnauthenticated.
func (m *Manager) Authenticate(token string) (*types.Principal, error) {
	if token == "" {
		return nil, types.ErrUnauthenticated
	}
	user, err := m.store.GetUserByToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: unknown token", types.ErrUnauthenticated)
	}
	return &types.Principal{ID: user.ID, Name: user.Username}, nil
}
