package ledger

import (
	"context"
	"errors"
	"time"
)

// SystemAccountID is the reserved bank account used as the counterparty for
// deposits and withdrawals. It is exempt from the non-negative balance floor.
const SystemAccountID = "00000000-0000-0000-0000-000000000001"

var (
	// ErrNotFound occurs when a referenced account does not exist.
	ErrNotFound = errors.New("account not found")

	// ErrInvalidOperation indicates a malformed request, e.g. a non-positive
	// amount or an ordinary user transferring to themselves.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInsufficientFunds occurs when a debit would push an ordinary account
	// below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrTimeout indicates the bounded wait for account locks expired.
	ErrTimeout = errors.New("timed out waiting for account locks")

	// ErrConflict indicates a request identifier was reused with a different
	// payload. Rejected outright instead of returning the stored outcome of
	// an unrelated request.
	ErrConflict = errors.New("request id reused with different payload")

	// ErrRolledBack indicates a storage failure after the debit was staged;
	// the debit was reversed and no movement was recorded.
	ErrRolledBack = errors.New("transfer rolled back")
)

// AccountKind distinguishes ordinary user accounts from the reserved bank
// account, which is allowed to run a negative balance.
type AccountKind string

const (
	KindOrdinary AccountKind = "ordinary"
	KindReserved AccountKind = "reserved"
)

// Account is a stored-value account owned by a single user.
type Account struct {
	ID        string
	UserID    string
	Kind      AccountKind
	Balance   int64
	CreatedAt time.Time
}

// Reserved reports whether the account is exempt from the balance floor.
func (a Account) Reserved() bool { return a.Kind == KindReserved }

// Movement is one immutable record of value moving between two accounts.
// From and To hold account identifiers; they are equal only for movements
// touching the reserved account on both sides.
type Movement struct {
	ID        string
	RequestID string
	From      string
	To        string
	Amount    int64
	Email     string
	Timestamp time.Time
}

// Store is the contract implemented by ledger backends (e.g. Postgres).
//
// Apply is the single commit point: it debits the source, credits the
// destination and appends the movement as one atomic unit, or leaves no
// trace. Credits and debits are not exposed individually because either one
// alone would break the two-sided nature of a transfer. Readers observe
// pre-commit or post-commit state, never a debit without its credit.
type Store interface {
	CreateAccount(ctx context.Context, account Account) error
	Account(ctx context.Context, id string) (Account, error)
	AccountByUser(ctx context.Context, userID string) (Account, error)

	Balance(ctx context.Context, accountID string) (int64, error)
	BalanceAsOf(ctx context.Context, accountID string, at time.Time) (int64, error)

	// Apply is idempotent by Movement.RequestID: re-applying an identical
	// request returns the stored movement as a no-op success.
	Apply(ctx context.Context, m Movement) (Movement, error)

	// Movements returns movements involving accountID as source or
	// destination within [from, to] (zero bounds are open). limit > 0 returns
	// the most recent limit movements newest first; limit == 0 returns the
	// full range oldest first. Unknown accounts yield an empty slice.
	Movements(ctx context.Context, accountID string, from, to time.Time, limit int) ([]Movement, error)
}

// EnsureSystemAccount creates the reserved bank account if it does not exist.
func EnsureSystemAccount(ctx context.Context, s Store) error {
	_, err := s.Account(ctx, SystemAccountID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	return s.CreateAccount(ctx, Account{
		ID:        SystemAccountID,
		Kind:      KindReserved,
		CreatedAt: time.Now().UTC(),
	})
}

// Resolve looks up an account by owning user identifier, falling back to a
// direct account identifier lookup. The reserved account has no owning user
// and is only reachable by its well-known identifier.
func Resolve(ctx context.Context, s Store, ref string) (Account, error) {
	if ref == SystemAccountID {
		return s.Account(ctx, ref)
	}
	account, err := s.AccountByUser(ctx, ref)
	if err == nil {
		return account, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Account{}, err
	}
	return s.Account(ctx, ref)
}
