package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nova-wallet/nova_ledger/internal/ledger"
	"github.com/nova-wallet/nova_ledger/internal/notification"
)

// State is the terminal outcome of a transfer request.
type State string

const (
	StateCommitted  State = "committed"
	StateRejected   State = "rejected"
	StateRolledBack State = "rolled_back"
)

// Service validates transfer requests and drives them through the ledger
// store's atomic apply. It is the only writer to account balances and the
// movement log.
type Service struct {
	store    ledger.Store
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService constructs the transfer processor.
func NewService(store ledger.Store, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{store: store, notifier: notifier, logger: logger}
}

// Input captures a request to move funds between two users. FromUser and
// ToUser are user identifiers; the reserved bank account may be referenced
// directly by its well-known identifier.
type Input struct {
	FromUser  string
	ToUser    string
	Amount    int64
	Email     string
	RequestID string
}

// Result reports the terminal state and, when committed, the recorded
// movement.
type Result struct {
	State    State
	Movement ledger.Movement
}

// Transfer applies a peer transfer as one atomic unit, or not at all.
func (s *Service) Transfer(ctx context.Context, input Input) (Result, error) {
	return s.process(ctx, notification.KindTransfer, input)
}

// Deposit credits a user from the reserved bank account.
func (s *Service) Deposit(ctx context.Context, userID string, amount int64, email, requestID string) (Result, error) {
	return s.process(ctx, notification.KindDeposit, Input{
		FromUser:  ledger.SystemAccountID,
		ToUser:    userID,
		Amount:    amount,
		Email:     email,
		RequestID: requestID,
	})
}

// Withdraw debits a user in favor of the reserved bank account.
func (s *Service) Withdraw(ctx context.Context, userID string, amount int64, email, requestID string) (Result, error) {
	return s.process(ctx, notification.KindWithdrawal, Input{
		FromUser:  userID,
		ToUser:    ledger.SystemAccountID,
		Amount:    amount,
		Email:     email,
		RequestID: requestID,
	})
}

func (s *Service) process(ctx context.Context, kind string, input Input) (Result, error) {
	// Validate: rejections here have no side effects to undo.
	if input.Amount <= 0 {
		return Result{State: StateRejected}, fmt.Errorf("%w: amount must be positive", ledger.ErrInvalidOperation)
	}
	from, err := ledger.Resolve(ctx, s.store, input.FromUser)
	if err != nil {
		return Result{State: StateRejected}, err
	}
	to, err := ledger.Resolve(ctx, s.store, input.ToUser)
	if err != nil {
		return Result{State: StateRejected}, err
	}
	if from.ID == to.ID && !from.Reserved() {
		return Result{State: StateRejected}, fmt.Errorf("%w: cannot transfer to own account", ledger.ErrInvalidOperation)
	}

	requestID := input.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	movement, err := s.store.Apply(ctx, ledger.Movement{
		RequestID: requestID,
		From:      from.ID,
		To:        to.ID,
		Amount:    input.Amount,
		Email:     input.Email,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrRolledBack) {
			// A rollback means a debit was staged and reversed; it points at
			// storage trouble under live traffic.
			s.log().Error("transfer rolled back",
				"request_id", requestID,
				"from", from.ID,
				"to", to.ID,
				"amount", input.Amount,
				"error", err)
			return Result{State: StateRolledBack}, err
		}
		return Result{State: StateRejected}, err
	}

	s.log().Info("transfer committed",
		"kind", kind,
		"movement_id", movement.ID,
		"request_id", movement.RequestID,
		"amount", movement.Amount)

	if s.notifier != nil && input.Email != "" {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        kind,
			Destination: input.Email,
			Body:        fmt.Sprintf("Movement of %d committed at %s", movement.Amount, movement.Timestamp.Format("2006-01-02 15:04:05")),
		})
	}

	return Result{State: StateCommitted, Movement: movement}, nil
}

func (s *Service) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
