package address

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/db"
)

type CreateInput struct {
	Street     string
	City       string
	State      string
	PostalCode string
	Country    string
	IsDefault  bool
	Type       Type
}

type Service interface {
	ListAddresses(ctx context.Context, userID int64) ([]Address, error)
	CreateAddress(ctx context.Context, userID int64, input CreateInput) (*Address, error)
	// GetOwnedAddress returns ErrNotFound for unknown ids and ErrNotOwner when
	// the address belongs to someone else.
	GetOwnedAddress(ctx context.Context, userID, id int64) (*Address, error)
}

type service struct {
	tx   db.Transactor
	repo Repository
}

func NewService(tx db.Transactor, repo Repository) Service {
	return &service{tx: tx, repo: repo}
}

func (s *service) ListAddresses(ctx context.Context, userID int64) ([]Address, error) {
	addresses, err := s.repo.ListByUserID(ctx, userID)
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("service: failed to list addresses")
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	return addresses, nil
}

func (s *service) CreateAddress(ctx context.Context, userID int64, input CreateInput) (*Address, error) {
	if input.Type == "" {
		input.Type = TypeShipping
	}
	if !input.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown address type %q", ErrInvalidAddress, input.Type)
	}

	a := &Address{
		UserID:     userID,
		Street:     strings.TrimSpace(input.Street),
		City:       strings.TrimSpace(input.City),
		State:      strings.TrimSpace(input.State),
		PostalCode: strings.TrimSpace(input.PostalCode),
		Country:    strings.TrimSpace(input.Country),
		IsDefault:  input.IsDefault,
		Type:       input.Type,
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if a.IsDefault {
			if err := s.repo.ClearDefault(ctx, userID, a.Type); err != nil {
				return err
			}
		}
		return s.repo.Create(ctx, a)
	})
	if err != nil {
		log.Error().Err(err).Int64("user_id", userID).Msg("service: failed to create address")
		return nil, fmt.Errorf("failed to create address: %w", err)
	}

	log.Info().Int64("user_id", userID).Int64("address_id", a.ID).Msg("service: address created")
	return a, nil
}

func (s *service) GetOwnedAddress(ctx context.Context, userID, id int64) (*Address, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get address: %w", err)
	}
	if a.UserID != userID {
		log.Warn().Int64("user_id", userID).Int64("address_id", id).Msg("service: address owned by another user")
		return nil, ErrNotOwner
	}
	return a, nil
}
