package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nova-wallet/nova_ledger/internal/ledger"
)

// Service manages the user directory and opens a ledger account for every
// registered user. Registration is triggered by the external identity
// collaborator when a wallet user signs up.
type Service struct {
	repo  Repository
	store ledger.Store
}

// NewService creates an identity service.
func NewService(repo Repository, store ledger.Store) *Service {
	return &Service{repo: repo, store: store}
}

// RegisterInput captures the data needed to enroll a user in the ledger.
type RegisterInput struct {
	UserID   string
	Username string
	Email    string
}

// Register records the user and opens their ledger account with a zero
// balance.
func (s *Service) Register(ctx context.Context, input RegisterInput) (User, error) {
	username := strings.TrimSpace(input.Username)
	if username == "" {
		return User{}, fmt.Errorf("%w: username is required", ledger.ErrInvalidOperation)
	}
	if input.Email != "" && !strings.Contains(input.Email, "@") {
		return User{}, fmt.Errorf("%w: invalid email address", ledger.ErrInvalidOperation)
	}

	userID := input.UserID
	if userID == "" {
		userID = uuid.NewString()
	} else if _, err := uuid.Parse(userID); err != nil {
		return User{}, fmt.Errorf("%w: malformed user id", ledger.ErrInvalidOperation)
	}

	// The repository enforces uniqueness too; checking here keeps the error
	// identical across backends.
	if _, err := s.repo.FindByUsername(ctx, username); err == nil {
		return User{}, fmt.Errorf("%w: username %s", ErrUserExists, username)
	} else if !errors.Is(err, ErrUserNotFound) {
		return User{}, err
	}

	user := User{
		ID:        userID,
		Username:  username,
		Email:     input.Email,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}

	if err := s.store.CreateAccount(ctx, ledger.Account{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Kind:      ledger.KindOrdinary,
		CreatedAt: user.CreatedAt,
	}); err != nil {
		return User{}, fmt.Errorf("open account: %w", err)
	}

	return user, nil
}

// Find fetches a user by identifier.
func (s *Service) Find(ctx context.Context, id string) (User, error) {
	return s.repo.FindByID(ctx, id)
}
