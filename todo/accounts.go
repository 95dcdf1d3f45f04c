package todo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"todo-api/api"
	"todo-api/store"
)

type UserStore interface {
	CreateUser(ctx context.Context, email, passwordHash string) (api.User, error)
	GetUserByEmail(ctx context.Context, email string) (api.User, error)
}

type Hasher interface {
	Hash(password string) (string, error)
	Verify(password, digest string) bool
}

type Issuer interface {
	Issue(userID int64) (string, error)
}

// Accounts registers users and logs them in. Emails are compared exactly
// as stored.
type Accounts struct {
	users  UserStore
	hasher Hasher
	tokens Issuer
	logger *slog.Logger

	dummyOnce   sync.Once
	dummyDigest string
}

func NewAccounts(users UserStore, hasher Hasher, tokens Issuer, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{users: users, hasher: hasher, tokens: tokens, logger: logger}
}

func (a *Accounts) Register(ctx context.Context, email, password string) (api.AuthResponse, error) {
	if email == "" || password == "" {
		return api.AuthResponse{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	_, err := a.users.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		return api.AuthResponse{}, ErrConflict
	case !errors.Is(err, store.ErrNotFound):
		return api.AuthResponse{}, err
	}

	hash, err := a.hasher.Hash(password)
	if err != nil {
		return api.AuthResponse{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := a.users.CreateUser(ctx, email, hash)
	if errors.Is(err, store.ErrDuplicate) {
		// Lost a race with a concurrent registration.
		return api.AuthResponse{}, ErrConflict
	}
	if err != nil {
		return api.AuthResponse{}, err
	}
	a.logger.Info("user registered", "user_id", user.ID)
	return a.session(user)
}

func (a *Accounts) Login(ctx context.Context, email, password string) (api.AuthResponse, error) {
	if email == "" || password == "" {
		return api.AuthResponse{}, fmt.Errorf("%w: email and password are required", ErrValidation)
	}

	user, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		// Compare anyway so unknown emails cost as much as wrong passwords.
		a.hasher.Verify(password, a.dummy())
		return api.AuthResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return api.AuthResponse{}, err
	}
	if !a.hasher.Verify(password, user.PasswordHash) {
		return api.AuthResponse{}, ErrInvalidCredentials
	}
	return a.session(user)
}

// dummy returns a digest of a random-looking password, hashed once with the
// configured cost.
func (a *Accounts) dummy() string {
	a.dummyOnce.Do(func() {
		digest, err := a.hasher.Hash("todo-api unknown user")
		if err != nil {
			a.logger.Warn("could not hash dummy password", "error", err)
		}
		a.dummyDigest = digest
	})
	return a.dummyDigest
}

func (a *Accounts) session(user api.User) (api.AuthResponse, error) {
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return api.AuthResponse{}, err
	}
	return api.AuthResponse{Token: token, UserID: user.ID, Email: user.Email}, nil
}
