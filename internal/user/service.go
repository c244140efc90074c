package user

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/apperr"
	"github.com/vasiliy-maslov/storefront/internal/db"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrEmptyPassword   = apperr.New(apperr.ErrBadRequest, "password cannot be empty")
	ErrPasswordTooLong = apperr.New(apperr.ErrBadRequest, "password must be at most 72 bytes")
)

// CartInitializer materializes the empty cart of a newly registered user.
type CartInitializer interface {
	EnsureCart(ctx context.Context, userID int64) error
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type Service interface {
	Register(ctx context.Context, input RegisterInput) (*User, error)
	Authenticate(ctx context.Context, email, password string) (*User, error)
	GetUserByID(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
}

type service struct {
	tx    db.Transactor
	repo  Repository
	carts CartInitializer
}

func NewService(tx db.Transactor, repo Repository, carts CartInitializer) Service {
	return &service{tx: tx, repo: repo, carts: carts}
}

func (s *service) Register(ctx context.Context, input RegisterInput) (*User, error) {
	if input.Password == "" {
		return nil, ErrEmptyPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		// bcrypt only looks at the first 72 bytes
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, ErrPasswordTooLong
		}
		log.Error().Err(err).Msg("service: failed to generate password hash")
		return nil, fmt.Errorf("internal error hashing password: %w", err)
	}

	user := &User{
		Email:        NormalizeEmail(input.Email),
		PasswordHash: string(hash),
		FirstName:    input.FirstName,
		LastName:     input.LastName,
		Role:         RoleUser,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if _, err := s.repo.Create(ctx, user); err != nil {
			return err
		}
		return s.carts.EnsureCart(ctx, user.ID)
	})
	if err != nil {
		if errors.Is(err, ErrEmailExists) {
			return nil, ErrEmailExists
		}
		log.Error().Err(err).Msg("service: failed to register user")
		return nil, fmt.Errorf("failed to save user: %w", err)
	}

	log.Info().Int64("user_id", user.ID).Msg("service: user registered")
	return user, nil
}

func (s *service) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user, err := s.repo.GetByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		log.Error().Err(err).Msg("service: failed to get user by email")
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return user, nil
}

func (s *service) GetUserByID(ctx context.Context, id int64) (*User, error) {
	user, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		log.Error().Err(err).Int64("user_id", id).Msg("service: failed to get user by id")
		return nil, fmt.Errorf("failed to get user by id '%d': %w", id, err)
	}
	return user, nil
}

func (s *service) ListUsers(ctx context.Context) ([]User, error) {
	users, err := s.repo.List(ctx)
	if err != nil {
		log.Error().Err(err).Msg("service: failed to list users")
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}
