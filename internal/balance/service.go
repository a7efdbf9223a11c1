package balance

import (
	"context"
	"time"

	"github.com/nova-wallet/nova_ledger/internal/ledger"
)

// Service answers balance queries against the committed ledger state. Reads
// are consistent with the transfer processor's commit point: a transfer is
// either fully visible or not at all.
type Service struct {
	store    ledger.Store
	currency string
}

// NewService builds a balance query service labeling amounts with currency.
func NewService(store ledger.Store, currency string) *Service {
	return &Service{store: store, currency: currency}
}

// Balance encapsulates available funds for a user at a point in time.
type Balance struct {
	UserID   string
	Amount   int64
	Currency string
	AsOf     time.Time
}

// Get returns the current committed balance for the user. When asOf is
// non-zero the balance is replayed from the movement log up to that instant.
func (s *Service) Get(ctx context.Context, userRef string, asOf time.Time) (Balance, error) {
	account, err := ledger.Resolve(ctx, s.store, userRef)
	if err != nil {
		return Balance{}, err
	}

	var amount int64
	if asOf.IsZero() {
		amount, err = s.store.Balance(ctx, account.ID)
	} else {
		amount, err = s.store.BalanceAsOf(ctx, account.ID, asOf)
	}
	if err != nil {
		return Balance{}, err
	}

	at := asOf
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return Balance{
		UserID:   userRef,
		Amount:   amount,
		Currency: s.currency,
		AsOf:     at,
	}, nil
}
